package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// ActionHandler applies one kind of action to the page.
type ActionHandler func(ctx context.Context, action schemas.Action) error

// ExecutionResult is the outcome of applying one action.
type ExecutionResult struct {
	Outcome     schemas.StepOutcome
	ErrorCode   ErrorCode
	ErrorDetail string
	Err         error
	Duration    time.Duration
}

// Executor is the Action Executor. It never ends a session by itself: every
// failure comes back as an errored ExecutionResult.
type Executor struct {
	page       schemas.Page
	startURL   string
	cfg        config.AgentConfig
	navTimeout time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	handlers   map[schemas.ActionKind]ActionHandler
}

// NewExecutor creates an executor bound to page. goto without a URL returns to startURL.
func NewExecutor(page schemas.Page, startURL string, cfg config.AgentConfig, navTimeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Executor {
	e := &Executor{
		page:       page,
		startURL:   startURL,
		cfg:        cfg,
		navTimeout: navTimeout,
		logger:     logger.Named("executor"),
		metrics:    metrics,
		handlers:   make(map[schemas.ActionKind]ActionHandler),
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[schemas.ActionClick] = e.handleClick
	e.handlers[schemas.ActionType] = e.handleType
	e.handlers[schemas.ActionScroll] = e.handleScroll
	e.handlers[schemas.ActionWait] = e.handleWait
	e.handlers[schemas.ActionGoto] = e.handleGoto
	e.handlers[schemas.ActionNoop] = e.handleNoop
}

// Execute applies action and reports the outcome. Panics inside a handler are
// recovered and reported as EXECUTOR_PANIC.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) (result ExecutionResult) {
	start := time.Now()
	kind := schemas.ActionNoop
	if action != nil {
		kind = action.Kind()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic while applying action.",
				zap.String("action", kind.String()),
				zap.Any("panic_value", r),
				zap.String("stack", string(debug.Stack())))
			result = ExecutionResult{
				Outcome:     schemas.OutcomeErrored,
				ErrorCode:   ErrCodeExecutorPanic,
				ErrorDetail: fmt.Sprintf("panic: %v", r),
				Err:         fmt.Errorf("executor panic: %v", r),
			}
		}
		result.Duration = time.Since(start)
		e.metrics.ObserveAction(kind.String(), result.Duration)
	}()

	if action == nil {
		err := fmt.Errorf("no action to apply")
		return e.failed(kind, ErrCodeInvalidParameters, err)
	}

	handler, ok := e.handlers[kind]
	if !ok {
		err := fmt.Errorf("no handler registered for action: %s", kind)
		return e.failed(kind, ErrCodeUnknownAction, err)
	}

	if err := handler(ctx, action); err != nil {
		return e.failed(kind, ParseBrowserError(err, kind), err)
	}
	return ExecutionResult{Outcome: schemas.OutcomeApplied}
}

func (e *Executor) failed(kind schemas.ActionKind, code ErrorCode, err error) ExecutionResult {
	e.logger.Warn("Browser action execution failed",
		zap.String("action", kind.String()),
		zap.String("error_code", code.String()),
		zap.Error(err))
	return ExecutionResult{
		Outcome:     schemas.OutcomeErrored,
		ErrorCode:   code,
		ErrorDetail: err.Error(),
		Err:         err,
	}
}

// -- Action Handlers --

func (e *Executor) handleClick(ctx context.Context, action schemas.Action) error {
	click, ok := action.(schemas.ClickAction)
	if !ok {
		return fmt.Errorf("click handler received %T", action)
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionWait)
	defer cancel()

	if err := e.page.WaitVisible(waitCtx, click.Selector()); err != nil {
		return fmt.Errorf("selector %q not visible within %s: %w", click.Selector(), e.cfg.ActionWait, err)
	}
	return e.page.Click(waitCtx, click.Selector())
}

func (e *Executor) handleType(ctx context.Context, action schemas.Action) error {
	typed, ok := action.(schemas.TypeAction)
	if !ok {
		return fmt.Errorf("type handler received %T", action)
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionWait)
	defer cancel()

	if err := e.page.WaitVisible(waitCtx, typed.Selector()); err != nil {
		return fmt.Errorf("selector %q not visible within %s: %w", typed.Selector(), e.cfg.ActionWait, err)
	}
	return e.page.Fill(waitCtx, typed.Selector(), typed.Value())
}

func (e *Executor) handleScroll(ctx context.Context, _ schemas.Action) error {
	return e.page.ScrollBy(ctx, 0, e.cfg.ScrollDelta)
}

func (e *Executor) handleWait(ctx context.Context, _ schemas.Action) error {
	return sleepContext(ctx, e.cfg.WaitPause)
}

func (e *Executor) handleGoto(ctx context.Context, action schemas.Action) error {
	target := e.startURL
	if g, ok := action.(schemas.GotoAction); ok && g.URL() != "" {
		target = g.URL()
	}

	navCtx := ctx
	if e.navTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, e.navTimeout)
		defer cancel()
	}
	if err := e.page.Navigate(navCtx, target, schemas.WaitLoad); err != nil {
		return fmt.Errorf("navigation to %q failed: %w", target, err)
	}
	return nil
}

func (e *Executor) handleNoop(context.Context, schemas.Action) error { return nil }

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
