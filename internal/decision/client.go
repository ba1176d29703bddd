// Package decision asks the reasoning collaborator what to do next and turns
// its answer into a typed Decision.
package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/llmutil"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// DefaultTimeout bounds a request when the config leaves the timeout unset.
const DefaultTimeout = 30 * time.Second

// Client is the Decision Client.
type Client struct {
	llm         schemas.LLMClient
	timeout     time.Duration
	temperature float64
	maxTokens   int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewClient wraps llm. metrics may be nil.
func NewClient(llm schemas.LLMClient, cfg config.LLMModelConfig, logger *zap.Logger, metrics *observability.Metrics) *Client {
	timeout := cfg.DecisionTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		llm:         llm,
		timeout:     timeout,
		temperature: float64(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		logger:      logger.Named("decision"),
		metrics:     metrics,
	}
}

// wireDecision is the JSON shape the collaborator answers with.
type wireDecision struct {
	Thought  string `json:"thought"`
	Action   string `json:"action"`
	Selector string `json:"selector"`
	Value    string `json:"value"`
	Status   string `json:"status"`
}

// Request sends the perception, goal and history and returns the next Decision.
//
// A response that does not describe a valid Decision yields a noop Decision
// together with a *MalformedError. Timeouts yield *TimeoutError and every
// other failure *TransportError.
func (c *Client) Request(ctx context.Context, perception schemas.ImageArtifact, goal schemas.Goal, history []string) (schemas.Decision, error) {
	ctx, span := observability.StartSpan(ctx, "decision.request")
	defer span.End()

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(goal, history),
		Options: schemas.GenerationOptions{
			Temperature:     c.temperature,
			MaxTokens:       c.maxTokens,
			ForceJSONFormat: true,
		},
	}
	if len(perception.Data) > 0 {
		img := perception
		req.Image = &img
	}

	apiCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	response, err := c.llm.Generate(apiCtx, req)
	c.metrics.ObserveDecision(time.Since(start), err)
	if err != nil {
		err = c.classify(ctx, apiCtx, err)
		observability.RecordError(span, err)
		return schemas.Decision{}, err
	}

	decision, err := Parse(response)
	if err != nil {
		c.logger.Warn("Failed to parse decision.",
			zap.String("raw_response", llmutil.Truncate(response, 500)),
			zap.Error(err))
		observability.RecordError(span, err)
		return decision, err
	}

	span.SetAttributes(
		observability.AttrActionKind.String(decision.Action.Kind().String()),
		observability.AttrStatus.String(decision.Status.String()),
	)
	return decision, nil
}

// classify maps a Generate failure onto the decision error types. Only the
// request deadline counts as a decision timeout; a canceled parent is a
// transport failure carrying the cancellation cause.
func (c *Client) classify(parent, apiCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(apiCtx.Err(), context.DeadlineExceeded) {
		c.logger.Error("Decision request timed out.", zap.Duration("timeout", c.timeout))
		return &TimeoutError{Timeout: c.timeout, Err: err}
	}
	c.logger.Error("Decision request failed.", zap.Error(err))
	return &TransportError{Err: err}
}

// Parse converts a raw collaborator response into a Decision. An absent
// status means continue. A terminal status never fails on the action, since
// terminal decisions do not execute it.
func Parse(response string) (schemas.Decision, error) {
	wire, err := llmutil.ParseJSONResponse[wireDecision](response)
	if err != nil {
		return noop(""), &MalformedError{Raw: response, Err: err}
	}

	status, err := parseStatus(wire.Status)
	if err != nil {
		return noop(wire.Thought), &MalformedError{Raw: response, Err: err}
	}

	action, err := parseAction(wire)
	if err != nil {
		if status.IsTerminal() {
			return schemas.Decision{Thought: wire.Thought, Action: schemas.NoopAction{}, Status: status}, nil
		}
		return noop(wire.Thought), &MalformedError{Raw: response, Err: err}
	}

	return schemas.Decision{Thought: wire.Thought, Action: action, Status: status}, nil
}

func parseStatus(raw string) (schemas.DecisionStatus, error) {
	switch schemas.DecisionStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case "", schemas.DecisionContinue:
		return schemas.DecisionContinue, nil
	case schemas.DecisionSuccess:
		return schemas.DecisionSuccess, nil
	case schemas.DecisionFailed:
		return schemas.DecisionFailed, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

func parseAction(wire *wireDecision) (schemas.Action, error) {
	kind := schemas.ActionKind(strings.ToLower(strings.TrimSpace(wire.Action)))
	switch kind {
	case schemas.ActionClick:
		a, err := schemas.NewClick(wire.Selector)
		if err != nil {
			return nil, fmt.Errorf("click: %w", err)
		}
		return a, nil
	case schemas.ActionType:
		a, err := schemas.NewType(wire.Selector, wire.Value)
		if err != nil {
			return nil, fmt.Errorf("type: %w", err)
		}
		return a, nil
	case schemas.ActionScroll:
		return schemas.ScrollAction{}, nil
	case schemas.ActionWait:
		return schemas.WaitAction{}, nil
	case schemas.ActionGoto:
		return schemas.NewGoto(wire.Value), nil
	case schemas.ActionNoop:
		return schemas.NoopAction{}, nil
	case "":
		return nil, fmt.Errorf("%w: action is missing", ErrUnknownAction)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, wire.Action)
	}
}

func noop(thought string) schemas.Decision {
	return schemas.Decision{Thought: thought, Action: schemas.NoopAction{}, Status: schemas.DecisionContinue}
}
