// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/browser"
)

// ErrorCode is the structured classification stored on an errored StepRecord.
// The reasoning collaborator sees it in the history and adjusts its plan.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION"

	// -- Browser/DOM Errors --
	ErrCodeElementNotFound        ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeElementNotInteractable ErrorCode = "ELEMENT_NOT_INTERACTABLE"
	ErrCodeTimeoutError           ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError        ErrorCode = "NAVIGATION_ERROR"
	ErrCodeSessionClosed          ErrorCode = "SESSION_CLOSED"

	// -- Internal System Errors --
	ErrCodeExecutorPanic ErrorCode = "EXECUTOR_PANIC"
)

func (c ErrorCode) String() string { return string(c) }

// ErrSessionTimeout is the cancellation cause when agent.session_timeout fires.
var ErrSessionTimeout = errors.New("session wall-clock timeout exceeded")

// PanicError carries a value recovered at the loop boundary.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("agent loop panicked: %v", e.Value)
}

// ActionAbortError ends a session under the abort policy.
type ActionAbortError struct {
	StepIndex int
	Code      ErrorCode
	Err       error
}

func (e *ActionAbortError) Error() string {
	return fmt.Sprintf("step %d failed with %s, aborting: %v", e.StepIndex, e.Code, e.Err)
}

func (e *ActionAbortError) Unwrap() error { return e.Err }

// ParseBrowserError normalizes a driver error into an ErrorCode. chromedp and
// playwright report the same failures with different text, so typed errors
// are checked first and message heuristics second.
func ParseBrowserError(err error, kind schemas.ActionKind) ErrorCode {
	if err == nil {
		return ""
	}
	if errors.Is(err, browser.ErrSessionReleased) {
		return ErrCodeSessionClosed
	}
	var navErr *browser.NavigationError
	if errors.As(err, &navErr) {
		return ErrCodeNavigationError
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "target closed"), strings.Contains(errStr, "has been closed"):
		return ErrCodeSessionClosed
	case strings.Contains(errStr, "net::err"):
		return ErrCodeNavigationError
	case strings.Contains(errStr, "not interactable"), strings.Contains(errStr, "intercepts pointer events"),
		strings.Contains(errStr, "not enabled"), strings.Contains(errStr, "zero size"):
		return ErrCodeElementNotInteractable
	case strings.Contains(errStr, "no element found"), strings.Contains(errStr, "could not find node"),
		strings.Contains(errStr, "waiting for selector"), strings.Contains(errStr, "waiting for locator"):
		return ErrCodeElementNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(errStr, "timeout") {
		// An element-bound action that ran out of time never saw its selector.
		if kind == schemas.ActionClick || kind == schemas.ActionType {
			return ErrCodeElementNotFound
		}
		return ErrCodeTimeoutError
	}
	if kind == schemas.ActionGoto {
		return ErrCodeNavigationError
	}
	return ErrCodeExecutionFailure
}
