// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/browser"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/decision"
	"github.com/xkilldash9x/navigator/internal/llmclient"
	"github.com/xkilldash9x/navigator/internal/llmutil"
	"github.com/xkilldash9x/navigator/internal/observability"
	"github.com/xkilldash9x/navigator/internal/perception"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Process exit codes for a finished run.
const (
	ExitCodeSuccess    = 0
	ExitCodeError      = 1
	ExitCodeIncomplete = 2
)

// ExitError carries a non-zero exit code for a run that finished without
// succeeding. The outcome has already been printed when it is returned.
type ExitError struct {
	Code   int
	Status schemas.SessionStatus
	Err    error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent session ended with %s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("agent session ended with %s", e.Status)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCodeError
}

// sessionRunner is the part of *agent.Agent the command needs.
type sessionRunner interface {
	Run(ctx context.Context, startURL string, goal schemas.Goal) (*schemas.AgentResult, error)
}

// agentBuilder wires a runner from config. cleanup is always safe to call.
type agentBuilder func(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (runner sessionRunner, cleanup func(), err error)

type runOptions struct {
	URL        string
	Goal       string
	ReportPath string
}

func newRunCmd(build agentBuilder) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one agent session from a start URL toward a goal",
		Long: `Launches a browser at --url and repeatedly captures the page, asks the
reasoning model for the next action and applies it, until the model reports
success or failure or the step budget runs out.

Exit status is 0 on SUCCESS, 2 on FAILED or TIMEOUT and 1 on ERROR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg, opts, build, cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	runCmd.Flags().StringVar(&opts.URL, "url", "", "Start URL for the session (required)")
	runCmd.Flags().StringVar(&opts.Goal, "goal", "", "Natural-language goal (required)")
	runCmd.Flags().StringVarP(&opts.ReportPath, "report", "r", "", "Write the session result as JSON to this file")
	runCmd.Flags().Int("max-steps", 0, "Step budget. (Overrides config/env)")
	runCmd.Flags().String("driver", "", "Browser driver: chromedp or playwright. (Overrides config/env)")
	_ = runCmd.MarkFlagRequired("url")
	_ = runCmd.MarkFlagRequired("goal")

	return runCmd
}

// runAgent executes one session and reports it. It returns an *ExitError for
// any terminal status other than SUCCESS.
func runAgent(ctx context.Context, cfg *config.Config, opts runOptions, build agentBuilder, out io.Writer, logger *zap.Logger) error {
	if strings.TrimSpace(opts.URL) == "" || strings.TrimSpace(opts.Goal) == "" {
		return fmt.Errorf("both --url and --goal are required")
	}

	metrics := observability.NewMetrics()
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		stop := serveMetrics(addr, metrics, logger)
		defer stop()
	}

	if cfg.Observability.TracingEnabled {
		tp, err := observability.NewTracerProvider(ctx, cfg.Logger.ServiceName, Version, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to flush traces.", zap.Error(err))
			}
		}()
	}

	runner, cleanup, err := build(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer cleanup()

	result, runErr := runner.Run(ctx, opts.URL, schemas.Goal(opts.Goal))
	if result == nil {
		// Run always returns a result; guard against a misbehaving runner.
		return fmt.Errorf("agent returned no result: %w", runErr)
	}

	if opts.ReportPath != "" {
		if err := writeReport(opts.ReportPath, result); err != nil {
			return err
		}
		logger.Info("Run report written.", zap.String("path", opts.ReportPath))
	}

	printSummary(out, result)

	switch result.Status {
	case schemas.StatusSuccess:
		return nil
	case schemas.StatusFailed, schemas.StatusTimeout:
		return &ExitError{Code: ExitCodeIncomplete, Status: result.Status, Err: result.Err}
	default:
		return &ExitError{Code: ExitCodeError, Status: result.Status, Err: runErr}
	}
}

// buildAgent wires the production collaborators.
func buildAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (sessionRunner, func(), error) {
	noop := func() {}

	llm, err := llmclient.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create LLM client: %w", err)
	}
	cleanup := func() {
		if err := llm.Close(); err != nil {
			logger.Warn("Failed to close LLM client.", zap.Error(err))
		}
	}

	launcher, err := browser.NewLauncher(cfg.Browser, logger)
	if err != nil {
		cleanup()
		return nil, noop, err
	}

	a := agent.New(
		cfg,
		browser.NewManager(launcher, cfg.Browser, logger),
		perception.NewCapturer(cfg.Perception, logger),
		decision.NewClient(llm, cfg.LLM, logger, metrics),
		logger,
		metrics,
	)
	return a, cleanup, nil
}

// serveMetrics exposes /metrics on addr until the returned stop func is called.
func serveMetrics(addr string, metrics *observability.Metrics, logger *zap.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed.", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("Serving metrics.", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown failed.", zap.Error(err))
		}
	}
}

func writeReport(path string, result *schemas.AgentResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run report to %s: %w", path, err)
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	statusStyle = map[schemas.SessionStatus]lipgloss.Style{
		schemas.StatusSuccess: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		schemas.StatusFailed:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		schemas.StatusTimeout: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		schemas.StatusError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
	}
)

// printSummary renders the step log as a table followed by the final status.
func printSummary(out io.Writer, result *schemas.AgentResult) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STEP", "ACTION", "TARGET", "OUTCOME", "ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, rec := range result.StepLog {
		target := rec.Selector
		if rec.Value != "" {
			target = strings.TrimSpace(target + " " + fmt.Sprintf("%q", rec.Value))
		}
		t.Row(
			fmt.Sprintf("%d", rec.StepIndex),
			rec.ActionKind.String(),
			llmutil.Truncate(target, 40),
			rec.Outcome.String(),
			rec.ErrorCode,
		)
	}

	fmt.Fprintln(out, t.String())
	status := statusStyle[result.Status].Render(result.Status.String())
	fmt.Fprintf(out, "Session %s finished: %s after %d step(s).\n", result.SessionID, status, len(result.StepLog))
	if result.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", result.Error)
	}
}
