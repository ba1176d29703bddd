package agent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/browser"
	"github.com/xkilldash9x/navigator/internal/browser/browsertest"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
	"github.com/xkilldash9x/navigator/internal/perception"
)

const testStartURL = "http://test.local/login"

// reply is one scripted answer from the decision collaborator.
type reply func(ctx context.Context) (schemas.Decision, error)

func decide(d schemas.Decision) reply {
	return func(context.Context) (schemas.Decision, error) { return d, nil }
}

func fail(err error) reply {
	return func(context.Context) (schemas.Decision, error) { return schemas.Decision{}, err }
}

// scriptedDecider answers from a script and falls back to continue/wait
// once the script is exhausted.
type scriptedDecider struct {
	mu        sync.Mutex
	script    []reply
	histories [][]string
	frames    []schemas.ImageArtifact
}

func newScriptedDecider(script ...reply) *scriptedDecider {
	return &scriptedDecider{script: script}
}

func (s *scriptedDecider) Request(ctx context.Context, frame schemas.ImageArtifact, _ schemas.Goal, history []string) (schemas.Decision, error) {
	s.mu.Lock()
	call := len(s.histories)
	s.histories = append(s.histories, append([]string(nil), history...))
	s.frames = append(s.frames, frame)
	var next reply
	if call < len(s.script) {
		next = s.script[call]
	}
	s.mu.Unlock()

	if next == nil {
		return schemas.Decision{Action: schemas.WaitAction{}, Status: schemas.DecisionContinue}, nil
	}
	return next(ctx)
}

func (s *scriptedDecider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}

func (s *scriptedDecider) History(call int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histories[call]
}

func mustClick(t *testing.T, selector string) schemas.ClickAction {
	t.Helper()
	a, err := schemas.NewClick(selector)
	if err != nil {
		t.Fatalf("NewClick(%q): %v", selector, err)
	}
	return a
}

func mustType(t *testing.T, selector, value string) schemas.TypeAction {
	t.Helper()
	a, err := schemas.NewType(selector, value)
	if err != nil {
		t.Fatalf("NewType(%q): %v", selector, err)
	}
	return a
}

// testConfig shrinks every delay so a full run takes milliseconds.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agent.ActionWait = 30 * time.Millisecond
	cfg.Agent.SettleDelay = time.Millisecond
	cfg.Agent.WaitPause = time.Millisecond
	cfg.Browser.LaunchTimeout = time.Second
	cfg.Browser.NavigationTimeout = time.Second
	return cfg
}

type harness struct {
	agent    *agent.Agent
	driver   *browsertest.FakeDriver
	launcher *browsertest.FakeLauncher
	decider  *scriptedDecider
	metrics  *observability.Metrics
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg *config.Config, driver *browsertest.FakeDriver, decider *scriptedDecider) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	launcher := browsertest.NewFakeLauncher(driver)
	manager := browser.NewManager(launcher, cfg.Browser, logger)
	capturer := perception.NewCapturer(cfg.Perception, logger)
	metrics := observability.NewMetrics()

	return &harness{
		agent:    agent.New(cfg, manager, capturer, decider, logger, metrics),
		driver:   driver,
		launcher: launcher,
		decider:  decider,
		metrics:  metrics,
		logs:     logs,
	}
}
