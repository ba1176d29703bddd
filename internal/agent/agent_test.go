package agent_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/browser"
	"github.com/xkilldash9x/navigator/internal/browser/browsertest"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/decision"
	"github.com/xkilldash9x/navigator/internal/mocks"
	"github.com/xkilldash9x/navigator/internal/perception"
)

func TestRun_LoginScenario(t *testing.T) {
	defer goleak.VerifyNone(t)

	driver := browsertest.NewFakeDriver("#user", "#pass", "#submit")
	decider := newScriptedDecider(
		decide(schemas.Decision{Thought: "enter the user name", Action: mustType(t, "#user", "demo"), Status: schemas.DecisionContinue}),
		decide(schemas.Decision{Thought: "enter the password", Action: mustType(t, "#pass", "demo"), Status: schemas.DecisionContinue}),
		decide(schemas.Decision{Thought: "submit", Action: mustClick(t, "#submit"), Status: schemas.DecisionContinue}),
		decide(schemas.Decision{Thought: "logged in", Action: schemas.NoopAction{}, Status: schemas.DecisionSuccess}),
	)
	h := newHarness(t, testConfig(), driver, decider)

	result, err := h.agent.Run(context.Background(), testStartURL, "log in as demo")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, schemas.StatusSuccess, result.Status)
	require.Len(t, result.StepLog, 4)
	for i, rec := range result.StepLog {
		assert.Equal(t, i+1, rec.StepIndex)
	}
	assert.Equal(t, schemas.ActionType, result.StepLog[0].ActionKind)
	assert.Equal(t, "#user", result.StepLog[0].Selector)
	assert.Equal(t, "demo", result.StepLog[0].Value)
	assert.Equal(t, schemas.OutcomeApplied, result.StepLog[2].Outcome)
	assert.Equal(t, schemas.OutcomeSkipped, result.StepLog[3].Outcome)
	assert.Equal(t, schemas.DecisionSuccess, result.StepLog[3].Status)

	assert.Equal(t, "demo", driver.Fields["#user"])
	assert.Equal(t, "demo", driver.Fields["#pass"])
	assert.Len(t, driver.CallsOf("click"), 1)
	navs := driver.CallsOf("navigate")
	require.Len(t, navs, 1)
	assert.Equal(t, testStartURL, navs[0].URL)
	assert.Len(t, driver.CallsOf("screenshot"), 4, "one perception per step")

	assert.Len(t, decider.History(3), 3, "the fourth decision sees three prior steps")
	assert.Contains(t, decider.History(3)[2], "click #submit -> applied")

	assert.Equal(t, 1, driver.CloseCount())
	assert.False(t, result.EndedAt.IsZero())
	assert.NotEmpty(t, result.SessionID)
}

func TestRun_StepBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.MaxSteps = 3
	driver := browsertest.NewFakeDriver()
	wait := decide(schemas.Decision{Action: schemas.WaitAction{}, Status: schemas.DecisionContinue})
	h := newHarness(t, cfg, driver, newScriptedDecider(wait, wait, wait, wait, wait))

	result, err := h.agent.Run(context.Background(), testStartURL, "never finishes")
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusTimeout, result.Status)
	assert.NoError(t, result.Err, "running out of steps carries no error")
	assert.Len(t, result.StepLog, 3)
	for _, rec := range result.StepLog {
		assert.Equal(t, schemas.ActionWait, rec.ActionKind)
		assert.Equal(t, schemas.OutcomeApplied, rec.Outcome)
	}
	assert.Equal(t, 3, h.decider.Calls())
	assert.Equal(t, 1, driver.CloseCount())
}

func TestRun_ActionFailureDoesNotAbort(t *testing.T) {
	driver := browsertest.NewFakeDriver("#real")
	decider := newScriptedDecider(
		decide(schemas.Decision{Action: mustClick(t, "#missing"), Status: schemas.DecisionContinue}),
		decide(schemas.Decision{Action: mustClick(t, "#real"), Status: schemas.DecisionContinue}),
		decide(schemas.Decision{Status: schemas.DecisionSuccess}),
	)
	h := newHarness(t, testConfig(), driver, decider)

	result, err := h.agent.Run(context.Background(), testStartURL, "click the real button")
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusSuccess, result.Status)
	require.Len(t, result.StepLog, 3)
	first := result.StepLog[0]
	assert.Equal(t, schemas.OutcomeErrored, first.Outcome)
	assert.Equal(t, string(agent.ErrCodeElementNotFound), first.ErrorCode)
	assert.NotEmpty(t, first.ErrorDetail)
	assert.Equal(t, schemas.OutcomeApplied, result.StepLog[1].Outcome)

	assert.Contains(t, decider.History(1)[0], "ELEMENT_NOT_FOUND", "the failure is reported to the collaborator")
	assert.Equal(t, 1, driver.CloseCount())
}

func TestRun_AbortPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.OnActionError = config.PolicyAbort
	driver := browsertest.NewFakeDriver()
	h := newHarness(t, cfg, driver, newScriptedDecider(
		decide(schemas.Decision{Action: mustClick(t, "#missing"), Status: schemas.DecisionContinue}),
	))

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")

	var abortErr *agent.ActionAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, 1, abortErr.StepIndex)
	assert.Equal(t, agent.ErrCodeElementNotFound, abortErr.Code)
	assert.Equal(t, schemas.StatusError, result.Status)
	require.Len(t, result.StepLog, 1, "the failed step is still recorded")
	assert.Equal(t, schemas.OutcomeErrored, result.StepLog[0].Outcome)
	assert.Equal(t, 1, driver.CloseCount())
}

func TestRun_TerminalDecisionSkipsAction(t *testing.T) {
	tests := []struct {
		name   string
		status schemas.DecisionStatus
		want   schemas.SessionStatus
	}{
		{"success", schemas.DecisionSuccess, schemas.StatusSuccess},
		{"failed", schemas.DecisionFailed, schemas.StatusFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			driver := browsertest.NewFakeDriver("#submit")
			h := newHarness(t, testConfig(), driver, newScriptedDecider(
				decide(schemas.Decision{Thought: "done", Action: mustClick(t, "#submit"), Status: tt.status}),
			))

			result, err := h.agent.Run(context.Background(), testStartURL, "goal")
			require.NoError(t, err)

			assert.Equal(t, tt.want, result.Status)
			require.Len(t, result.StepLog, 1)
			assert.Equal(t, schemas.OutcomeSkipped, result.StepLog[0].Outcome)
			assert.Equal(t, "#submit", result.StepLog[0].Selector, "the decision is recorded before the check")
			assert.Empty(t, driver.CallsOf("click"))
			assert.Empty(t, driver.CallsOf("wait_visible"))
			assert.Equal(t, 1, driver.CloseCount())
		})
	}
}

func TestRun_DecisionTimeoutIsFatal(t *testing.T) {
	driver := browsertest.NewFakeDriver()
	timeout := &decision.TimeoutError{Timeout: 30 * time.Second, Err: context.DeadlineExceeded}
	h := newHarness(t, testConfig(), driver, newScriptedDecider(
		decide(schemas.Decision{Action: schemas.ScrollAction{}, Status: schemas.DecisionContinue}),
		fail(timeout),
	))

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")

	var timeoutErr *decision.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Len(t, result.StepLog, 1, "nothing is recorded for the failed decision")
	assert.Contains(t, result.Error, "timed out")
	assert.Equal(t, 1, driver.CloseCount())
}

func TestRun_MalformedDecisionIsRecorded(t *testing.T) {
	driver := browsertest.NewFakeDriver()
	_, parseErr := decision.Parse(`{"action":"click"}`)
	require.Error(t, parseErr)

	h := newHarness(t, testConfig(), driver, newScriptedDecider(
		func(context.Context) (schemas.Decision, error) {
			return schemas.Decision{Thought: "click it", Action: schemas.NoopAction{}, Status: schemas.DecisionContinue}, parseErr
		},
		decide(schemas.Decision{Status: schemas.DecisionSuccess}),
	))

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusSuccess, result.Status)
	require.Len(t, result.StepLog, 2)
	rec := result.StepLog[0]
	assert.Equal(t, schemas.ActionNoop, rec.ActionKind)
	assert.Equal(t, schemas.OutcomeErrored, rec.Outcome)
	assert.Equal(t, string(agent.ErrCodeInvalidParameters), rec.ErrorCode)
	assert.Equal(t, "click it", rec.Thought)
	assert.Contains(t, h.decider.History(1)[0], "INVALID_PARAMETERS")
}

func TestRun_LaunchError(t *testing.T) {
	driver := browsertest.NewFakeDriver()
	h := newHarness(t, testConfig(), driver, newScriptedDecider())
	h.launcher.LaunchErr = errors.New("chrome not found")

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")

	var launchErr *browser.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Empty(t, result.StepLog)
	assert.Equal(t, 0, h.decider.Calls())
	assert.Equal(t, 0, driver.CloseCount(), "no browser was started")
}

func TestRun_NavigationError(t *testing.T) {
	driver := browsertest.NewFakeDriver()
	driver.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	h := newHarness(t, testConfig(), driver, newScriptedDecider())

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")

	var navErr *browser.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, testStartURL, navErr.URL)
	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Equal(t, 1, driver.CloseCount())
}

func TestRun_CaptureErrorIsFatal(t *testing.T) {
	driver := browsertest.NewFakeDriver()
	driver.ScreenshotErr = errors.New("target crashed")
	h := newHarness(t, testConfig(), driver, newScriptedDecider())

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")

	var captureErr *perception.CaptureError
	require.ErrorAs(t, err, &captureErr)
	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Equal(t, 0, h.decider.Calls())
	assert.Equal(t, 1, driver.CloseCount())
}

func TestRun_BlankFrameReachesDecision(t *testing.T) {
	driver := browsertest.NewFakeDriver()
	driver.Frame = nil
	decider := newScriptedDecider(decide(schemas.Decision{Action: schemas.NoopAction{}, Status: schemas.DecisionSuccess}))
	h := newHarness(t, testConfig(), driver, decider)

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusSuccess, result.Status)
	require.Equal(t, 1, decider.Calls())
	assert.Empty(t, decider.frames[0].Data)
}

func TestRun_PanicBecomesError(t *testing.T) {
	defer goleak.VerifyNone(t)

	driver := browsertest.NewFakeDriver()
	h := newHarness(t, testConfig(), driver, newScriptedDecider(
		func(context.Context) (schemas.Decision, error) { panic("collaborator exploded") },
	))

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")

	var panicErr *agent.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "collaborator exploded", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Equal(t, 1, driver.CloseCount())
	assert.Equal(t, 1, h.logs.FilterMessage("Recovered from panic in agent loop.").Len())
}

func TestRun_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := browsertest.NewFakeDriver()
	h := newHarness(t, testConfig(), driver, newScriptedDecider(
		decide(schemas.Decision{Action: schemas.WaitAction{}, Status: schemas.DecisionContinue}),
		func(ctx context.Context) (schemas.Decision, error) {
			cancel()
			return schemas.Decision{}, &decision.TransportError{Err: ctx.Err()}
		},
	))

	result, err := h.agent.Run(ctx, testStartURL, "goal")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Len(t, result.StepLog, 1)
	assert.Equal(t, 1, driver.CloseCount())
}

func TestRun_SessionTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Agent.MaxSteps = 10000
	cfg.Agent.WaitPause = 10 * time.Millisecond
	cfg.Agent.SessionTimeout = 60 * time.Millisecond
	driver := browsertest.NewFakeDriver()
	h := newHarness(t, cfg, driver, newScriptedDecider())

	result, err := h.agent.Run(context.Background(), testStartURL, "goal")
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusTimeout, result.Status)
	assert.ErrorIs(t, result.Err, agent.ErrSessionTimeout)
	assert.Less(t, len(result.StepLog), cfg.Agent.MaxSteps)
	assert.Equal(t, 1, driver.CloseCount())
}

// Every terminal path releases the browser exactly once.
func TestRun_ReleasesExactlyOnce(t *testing.T) {
	tests := []struct {
		name    string
		maxStep int
		script  []reply
		want    schemas.SessionStatus
	}{
		{"success", 5, []reply{decide(schemas.Decision{Status: schemas.DecisionSuccess})}, schemas.StatusSuccess},
		{"failed", 5, []reply{decide(schemas.Decision{Status: schemas.DecisionFailed})}, schemas.StatusFailed},
		{"timeout", 2, nil, schemas.StatusTimeout},
		{"error", 5, []reply{fail(&decision.TransportError{Err: errors.New("connection reset")})}, schemas.StatusError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Agent.MaxSteps = tt.maxStep
			driver := browsertest.NewFakeDriver()
			h := newHarness(t, cfg, driver, newScriptedDecider(tt.script...))

			result, _ := h.agent.Run(context.Background(), testStartURL, "goal")

			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, 1, driver.CloseCount())
			assert.Equal(t, 1, h.launcher.Launches())
			assert.LessOrEqual(t, len(result.StepLog), tt.maxStep)
		})
	}
}

func TestRun_RecordsMetricsAndLogs(t *testing.T) {
	driver := browsertest.NewFakeDriver()
	h := newHarness(t, testConfig(), driver, newScriptedDecider(
		decide(schemas.Decision{Action: schemas.ScrollAction{}, Status: schemas.DecisionContinue}),
		decide(schemas.Decision{Status: schemas.DecisionSuccess}),
	))

	_, err := h.agent.Run(context.Background(), testStartURL, "goal")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `navigator_agent_sessions_total{status="SUCCESS"} 1`)
	assert.Contains(t, body, `navigator_agent_steps_total{action="scroll",outcome="applied"} 1`)
	assert.Contains(t, body, `navigator_agent_steps_total{action="noop",outcome="skipped"} 1`)
	assert.Contains(t, body, "navigator_agent_sessions_active 0")

	ended := h.logs.FilterMessage("Agent session ended.")
	require.Equal(t, 1, ended.Len())
	assert.Equal(t, "SUCCESS", ended.All()[0].ContextMap()["status"])
	assert.NotEmpty(t, ended.All()[0].ContextMap()["session_id"])

	scrolls := driver.CallsOf("scroll")
	require.Len(t, scrolls, 1)
	assert.Equal(t, 600, scrolls[0].DY)
}

func TestRun_HistoryWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.HistoryWindow = 2
	cfg.Agent.MaxSteps = 5
	h := newHarness(t, cfg, browsertest.NewFakeDriver(), newScriptedDecider())

	_, err := h.agent.Run(context.Background(), testStartURL, "goal")
	require.NoError(t, err)

	require.Equal(t, 5, h.decider.Calls())
	last := h.decider.History(4)
	require.Len(t, last, 2)
	assert.True(t, strings.HasPrefix(last[0], "step 3:"), last[0])
	assert.True(t, strings.HasPrefix(last[1], "step 4:"), last[1])
}

func TestRun_PassesGoalFrameAndHistory(t *testing.T) {
	driver := browsertest.NewFakeDriver()
	driver.Frame = []byte("frame-bytes")

	decider := new(mocks.MockDecisionMaker)
	decider.On("Request", mock.Anything, mock.MatchedBy(func(f schemas.ImageArtifact) bool {
		return string(f.Data) == "frame-bytes" && f.MIMEType == "image/png"
	}), schemas.Goal("find the pricing page"), []string{}).
		Return(schemas.Decision{Action: schemas.ScrollAction{}, Status: schemas.DecisionContinue}, nil).Once()
	decider.On("Request", mock.Anything, mock.Anything, schemas.Goal("find the pricing page"), mock.MatchedBy(func(h []string) bool {
		return len(h) == 1 && strings.HasPrefix(h[0], "step 1: scroll -> applied")
	})).
		Return(schemas.Decision{Thought: "found it", Action: schemas.NoopAction{}, Status: schemas.DecisionSuccess}, nil).Once()

	cfg := testConfig()
	core, _ := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	manager := browser.NewManager(browsertest.NewFakeLauncher(driver), cfg.Browser, logger)
	a := agent.New(cfg, manager, perception.NewCapturer(cfg.Perception, logger), decider, logger, nil)

	result, err := a.Run(context.Background(), testStartURL, "find the pricing page")
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusSuccess, result.Status)
	decider.AssertExpectations(t)
}
