package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// ActionKind identifies a concrete browser operation the agent can apply.
type ActionKind string

const (
	ActionClick  ActionKind = "click"  // Click an element matched by a selector.
	ActionType   ActionKind = "type"   // Replace the contents of an input matched by a selector.
	ActionScroll ActionKind = "scroll" // Scroll the viewport by a fixed delta.
	ActionWait   ActionKind = "wait"   // Pause without interacting.
	ActionGoto   ActionKind = "goto"   // Navigate to a URL, or back to the start URL.
	ActionNoop   ActionKind = "noop"   // Do nothing.
)

func (k ActionKind) String() string { return string(k) }

// ErrMissingSelector is returned when an element-bound action is built without a selector.
var ErrMissingSelector = errors.New("action requires a non-empty selector")

// Action is the closed set of operations the Action Executor understands.
// Variants are built through their constructors so that element-bound
// actions always carry a selector.
type Action interface {
	Kind() ActionKind
	isAction()
}

// ClickAction clicks the first element matching Selector.
type ClickAction struct {
	selector string
}

// NewClick builds a ClickAction. The selector must not be blank.
func NewClick(selector string) (ClickAction, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return ClickAction{}, fmt.Errorf("click: %w", ErrMissingSelector)
	}
	return ClickAction{selector: selector}, nil
}

func (a ClickAction) Kind() ActionKind { return ActionClick }
func (a ClickAction) Selector() string { return a.selector }
func (ClickAction) isAction()          {}

// TypeAction sets the contents of the field matching Selector to Value.
// An empty value clears the field.
type TypeAction struct {
	selector string
	value    string
}

// NewType builds a TypeAction. The selector must not be blank.
func NewType(selector, value string) (TypeAction, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return TypeAction{}, fmt.Errorf("type: %w", ErrMissingSelector)
	}
	return TypeAction{selector: selector, value: value}, nil
}

func (a TypeAction) Kind() ActionKind { return ActionType }
func (a TypeAction) Selector() string { return a.selector }
func (a TypeAction) Value() string    { return a.value }
func (TypeAction) isAction()          {}

// ScrollAction scrolls the viewport down by the executor's configured delta.
type ScrollAction struct{}

func (ScrollAction) Kind() ActionKind { return ActionScroll }
func (ScrollAction) isAction()        {}

// WaitAction pauses for the executor's configured wait pause.
type WaitAction struct{}

func (WaitAction) Kind() ActionKind { return ActionWait }
func (WaitAction) isAction()        {}

// GotoAction navigates to URL. A zero GotoAction returns to the session's start URL.
type GotoAction struct {
	url string
}

// NewGoto builds a GotoAction. An empty url means the session's start URL.
func NewGoto(url string) GotoAction {
	return GotoAction{url: strings.TrimSpace(url)}
}

func (a GotoAction) Kind() ActionKind { return ActionGoto }
func (a GotoAction) URL() string      { return a.url }
func (GotoAction) isAction()          {}

// NoopAction applies nothing.
type NoopAction struct{}

func (NoopAction) Kind() ActionKind { return ActionNoop }
func (NoopAction) isAction()        {}

// ActionFields flattens an action into the selector and value columns of a StepRecord.
func ActionFields(a Action) (selector, value string) {
	switch act := a.(type) {
	case ClickAction:
		return act.selector, ""
	case TypeAction:
		return act.selector, act.value
	case GotoAction:
		return "", act.url
	default:
		return "", ""
	}
}

// DecisionStatus is the reasoning collaborator's verdict on the goal.
type DecisionStatus string

const (
	DecisionContinue DecisionStatus = "continue"
	DecisionSuccess  DecisionStatus = "success"
	DecisionFailed   DecisionStatus = "failed"
)

func (s DecisionStatus) String() string { return string(s) }

// IsTerminal reports whether the status ends the session.
func (s DecisionStatus) IsTerminal() bool {
	return s == DecisionSuccess || s == DecisionFailed
}

// Decision is one structured recommendation from the reasoning collaborator.
// Action is never nil; terminal decisions carry a NoopAction when no action was given.
type Decision struct {
	Thought string
	Action  Action
	Status  DecisionStatus
}
