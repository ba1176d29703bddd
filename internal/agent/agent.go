// Package agent runs the observe, decide, act loop that drives a browser
// toward a goal.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/browser"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/decision"
	"github.com/xkilldash9x/navigator/internal/observability"
	"github.com/xkilldash9x/navigator/internal/perception"
)

// DefaultMaxSteps is the step budget when the config leaves it unset.
const DefaultMaxSteps = 15

// SessionRunner provides scoped browser sessions. *browser.Manager implements it.
type SessionRunner interface {
	WithSession(ctx context.Context, startURL string, fn func(ctx context.Context, s *browser.Session) error) error
}

// DecisionMaker is the loop's view of the Decision Client.
type DecisionMaker interface {
	Request(ctx context.Context, perception schemas.ImageArtifact, goal schemas.Goal, history []string) (schemas.Decision, error)
}

// Agent is the Agent Loop Controller. An Agent holds no per-run state, so
// concurrent Run calls each get their own browser and session.
type Agent struct {
	browsers   SessionRunner
	capturer   *perception.Capturer
	decider    DecisionMaker
	cfg        config.AgentConfig
	navTimeout time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics

	newID func() string
	now   func() time.Time
}

// New wires the loop controller. metrics may be nil.
func New(cfg *config.Config, browsers SessionRunner, capturer *perception.Capturer, decider DecisionMaker, logger *zap.Logger, metrics *observability.Metrics) *Agent {
	agentCfg := cfg.Agent
	if agentCfg.MaxSteps <= 0 {
		agentCfg.MaxSteps = DefaultMaxSteps
	}
	return &Agent{
		browsers:   browsers,
		capturer:   capturer,
		decider:    decider,
		cfg:        agentCfg,
		navTimeout: cfg.Browser.NavigationTimeout,
		logger:     logger.Named("agent"),
		metrics:    metrics,
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// run is the per-session state shared by the steps of one Run.
type run struct {
	session  *schemas.AgentSession
	page     schemas.Page
	executor *Executor
	logger   *zap.Logger
}

// Run drives a fresh browser from startURL toward goal until the collaborator
// reports success or failure, the step budget runs out, or a fatal error
// occurs. The browser is released exactly once on every path.
//
// The returned result is never nil. The error is non-nil only when the
// session ended with ERROR, and is then the same value as result.Err. A
// wall-clock TIMEOUT returns a nil error but sets result.Err to
// ErrSessionTimeout.
func (a *Agent) Run(ctx context.Context, startURL string, goal schemas.Goal) (*schemas.AgentResult, error) {
	session := schemas.NewAgentSession(a.newID(), goal, startURL, a.now())
	logger := a.logger.With(zap.String("session_id", session.ID))

	ctx, span := observability.StartSpan(ctx, "agent.run",
		observability.AttrSessionID.String(session.ID),
		observability.AttrURL.String(startURL),
	)
	defer span.End()

	if a.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, a.cfg.SessionTimeout, ErrSessionTimeout)
		defer cancel()
	}

	logger.Info("Agent session starting.", zap.String("goal", goal.String()), zap.String("url", startURL), zap.Int("max_steps", a.cfg.MaxSteps))
	a.metrics.SessionStarted()

	status, err := a.guardedRun(ctx, session, logger)

	if ferr := session.Finish(status, a.now()); ferr != nil {
		logger.Error("Failed to finish session.", zap.Error(ferr))
	}
	a.metrics.SessionFinished(status.String())
	span.SetAttributes(observability.AttrStatus.String(status.String()))

	fields := []zap.Field{zap.String("status", status.String()), zap.Int("steps", len(session.StepLog))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status == schemas.StatusError {
		observability.RecordError(span, err)
		logger.Error("Agent session ended.", fields...)
		return session.Result(err), err
	}
	logger.Info("Agent session ended.", fields...)
	return session.Result(err), nil
}

// guardedRun is the outer boundary: a panic anywhere in the session becomes
// ERROR. The browser has already been released by WithSession by the time
// the panic reaches here.
func (a *Agent) guardedRun(ctx context.Context, session *schemas.AgentSession, logger *zap.Logger) (status schemas.SessionStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error("Recovered from panic in agent loop.", zap.Any("panic_value", r), zap.String("stack", string(stack)))
			status, err = schemas.StatusError, &PanicError{Value: r, Stack: stack}
		}
	}()

	status = schemas.StatusError
	werr := a.browsers.WithSession(ctx, session.StartURL, func(ctx context.Context, s *browser.Session) error {
		r := &run{
			session:  session,
			page:     s,
			executor: NewExecutor(s, session.StartURL, a.cfg, a.navTimeout, logger, a.metrics),
			logger:   logger,
		}
		var loopErr error
		status, loopErr = a.loop(ctx, r)
		return loopErr
	})
	if werr == nil {
		return status, nil
	}

	// Acquire failures never reach the loop; classify them here.
	var launchErr *browser.LaunchError
	var navErr *browser.NavigationError
	if errors.As(werr, &launchErr) || errors.As(werr, &navErr) {
		if ctx.Err() != nil {
			return a.interrupted(ctx, logger)
		}
		return schemas.StatusError, werr
	}
	return status, werr
}

// loop runs the step cycles. A nil error with a terminal status is a normal end.
func (a *Agent) loop(ctx context.Context, r *run) (schemas.SessionStatus, error) {
	for idx := 1; idx <= a.cfg.MaxSteps; idx++ {
		if ctx.Err() != nil {
			return a.interrupted(ctx, r.logger)
		}
		status, done, err := a.step(ctx, r, idx)
		if done {
			return status, err
		}
	}

	r.logger.Info("Step budget exhausted.", zap.Int("max_steps", a.cfg.MaxSteps))
	return schemas.StatusTimeout, nil
}

// step runs one observe, decide, act cycle. done reports whether the session ended.
func (a *Agent) step(ctx context.Context, r *run, idx int) (status schemas.SessionStatus, done bool, err error) {
	ctx, span := observability.StartSpan(ctx, "agent.step",
		observability.AttrSessionID.String(r.session.ID),
		observability.AttrStepIndex.Int(idx),
	)
	defer span.End()
	logger := r.logger.With(zap.Int("step", idx))
	logger.Debug("Step starting.")

	// 1. Observe.
	frame, err := a.capturer.Snapshot(r.page, perception.FrameLabel{SessionID: r.session.ID, Step: idx}).Take(ctx)
	if err != nil {
		observability.RecordError(span, err)
		if ctx.Err() != nil {
			status, err = a.interrupted(ctx, logger)
			return status, true, err
		}
		logger.Error("Perception failed.", zap.Error(err))
		return schemas.StatusError, true, err
	}

	// 2. Decide.
	d, err := a.decider.Request(ctx, frame, r.session.Goal, r.session.History(a.cfg.HistoryWindow))
	if err != nil && decision.IsFatal(err) {
		observability.RecordError(span, err)
		if ctx.Err() != nil {
			status, err = a.interrupted(ctx, logger)
			return status, true, err
		}
		logger.Error("Decision failed.", zap.Error(err))
		return schemas.StatusError, true, err
	}
	if d.Action == nil {
		d.Action = schemas.NoopAction{}
	}
	if d.Status == "" {
		d.Status = schemas.DecisionContinue
	}
	if err != nil {
		// Malformed: record an errored noop so the collaborator sees its mistake.
		rec := a.newRecord(idx, d)
		rec.ActionKind = schemas.ActionNoop
		rec.Outcome = schemas.OutcomeErrored
		rec.ErrorCode = ErrCodeInvalidParameters.String()
		rec.ErrorDetail = err.Error()
		if aerr := r.session.AppendStep(rec); aerr != nil {
			return schemas.StatusError, true, aerr
		}
		a.metrics.StepRecorded(rec.ActionKind.String(), rec.Outcome.String())
		logger.Warn("Decision was malformed; recorded as a failed step.", zap.Error(err))
		return a.settle(ctx, logger)
	}

	span.SetAttributes(observability.AttrActionKind.String(d.Action.Kind().String()))
	logger.Info("Decision received.",
		zap.String("thought", d.Thought),
		zap.String("action", d.Action.Kind().String()),
		zap.String("status", d.Status.String()))

	// 3. Record before acting.
	if aerr := r.session.AppendStep(a.newRecord(idx, d)); aerr != nil {
		return schemas.StatusError, true, aerr
	}
	rec := r.session.LastStep()

	// 4. Terminal check. The action of a terminal decision is never applied.
	if d.Status.IsTerminal() {
		rec.Outcome = schemas.OutcomeSkipped
		a.metrics.StepRecorded(rec.ActionKind.String(), rec.Outcome.String())
		status = schemas.StatusSuccess
		if d.Status == schemas.DecisionFailed {
			status = schemas.StatusFailed
		}
		logger.Info("Collaborator reported a terminal status.", zap.String("status", status.String()))
		return status, true, nil
	}

	// 5. Act.
	res := r.executor.Execute(ctx, d.Action)
	rec.Outcome = res.Outcome
	rec.ErrorCode = res.ErrorCode.String()
	rec.ErrorDetail = res.ErrorDetail
	a.metrics.StepRecorded(rec.ActionKind.String(), rec.Outcome.String())

	if res.Outcome == schemas.OutcomeErrored {
		if ctx.Err() != nil {
			status, err = a.interrupted(ctx, logger)
			return status, true, err
		}
		if a.cfg.OnActionError == config.PolicyAbort {
			abortErr := &ActionAbortError{StepIndex: idx, Code: res.ErrorCode, Err: res.Err}
			logger.Error("Action failed under abort policy.", zap.Error(abortErr))
			return schemas.StatusError, true, abortErr
		}
	} else {
		logger.Info("Action applied.", zap.String("action", rec.ActionKind.String()), zap.Duration("duration", res.Duration))
	}

	// 6. Settle.
	return a.settle(ctx, logger)
}

func (a *Agent) settle(ctx context.Context, logger *zap.Logger) (schemas.SessionStatus, bool, error) {
	if err := sleepContext(ctx, a.cfg.SettleDelay); err != nil {
		status, ierr := a.interrupted(ctx, logger)
		return status, true, ierr
	}
	return schemas.StatusRunning, false, nil
}

func (a *Agent) newRecord(idx int, d schemas.Decision) schemas.StepRecord {
	selector, value := schemas.ActionFields(d.Action)
	return schemas.StepRecord{
		StepIndex:  idx,
		Thought:    d.Thought,
		ActionKind: d.Action.Kind(),
		Selector:   selector,
		Value:      value,
		Status:     d.Status,
		Outcome:    schemas.OutcomePending,
		RecordedAt: a.now(),
	}
}

// interrupted resolves a done context. The session wall-clock timeout is a
// budget exhaustion and ends TIMEOUT; any other cancellation ends ERROR.
func (a *Agent) interrupted(ctx context.Context, logger *zap.Logger) (schemas.SessionStatus, error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrSessionTimeout) {
		logger.Warn("Session wall-clock timeout reached.", zap.Duration("session_timeout", a.cfg.SessionTimeout))
		return schemas.StatusTimeout, cause
	}
	logger.Warn("Agent session canceled.", zap.Error(cause))
	return schemas.StatusError, fmt.Errorf("agent session canceled: %w", cause)
}
