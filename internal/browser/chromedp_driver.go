// internal/browser/chromedp_driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/config"
)

// ChromedpLauncher starts a dedicated Chrome process per Launch call.
type ChromedpLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewChromedpLauncher creates the default launcher.
func NewChromedpLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromedpLauncher {
	return &ChromedpLauncher{cfg: cfg, logger: logger.Named("chromedp")}
}

func (l *ChromedpLauncher) Name() string { return string(config.DriverChromedp) }

// Launch allocates the browser and its first tab. The process is bound to
// an internal context so that ctx, which usually carries the launch
// timeout, does not kill the browser once start-up completes.
func (l *ChromedpLauncher) Launch(ctx context.Context) (Driver, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(l.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Errorf),
	)

	started := make(chan error, 1)
	go func() {
		// The first Run on tabCtx spawns the process and opens the tab.
		started <- chromedp.Run(tabCtx)
	}()

	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("browser failed to start or respond: %w", err)
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		<-started
		return nil, fmt.Errorf("browser did not start in time: %w", context.Cause(ctx))
	}

	l.logger.Debug("Chrome process started.", zap.Bool("headless", l.cfg.Headless))
	return &chromedpDriver{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		viewport:    l.cfg.Viewport,
		logger:      l.logger,
	}, nil
}

// DefaultAllocatorOptions assembles the Chrome flags for cfg on top of the
// chromedp defaults. Later flags override earlier ones and a false flag is
// omitted from the command line, which is how the automation banner and, for
// headed runs, headless mode are switched off.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// Custom arguments use the command-line form, e.g. "--lang=en-US".
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// chromedpDriver runs every operation on the tab context combined with the
// caller's context, so a caller deadline aborts the operation without
// closing the tab.
type chromedpDriver struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	viewport    config.ViewportConfig
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Driver = (*chromedpDriver)(nil)

func (d *chromedpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(d.tabCtx, ctx)
	defer cancel()
	return runErr(runCtx, chromedp.Run(runCtx, actions...))
}

func (d *chromedpDriver) Navigate(ctx context.Context, url string, until schemas.WaitCondition) error {
	actions := []chromedp.Action{chromedp.Navigate(url)}
	if until == schemas.WaitLoad {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	return d.run(ctx, actions...)
}

func (d *chromedpDriver) Screenshot(ctx context.Context, format schemas.ImageFormat, quality int) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)
		if format == schemas.FormatJPEG {
			params = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(int64(quality))
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *chromedpDriver) WaitVisible(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *chromedpDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Fill clears the field and then types value so that input listeners fire.
func (d *chromedpDriver) Fill(ctx context.Context, selector, value string) error {
	actions := []chromedp.Action{chromedp.Clear(selector, chromedp.ByQuery)}
	if value != "" {
		actions = append(actions, chromedp.SendKeys(selector, value, chromedp.ByQuery))
	}
	return d.run(ctx, actions...)
}

// ScrollBy dispatches a wheel event at the centre of the viewport.
func (d *chromedpDriver) ScrollBy(ctx context.Context, dx, dy int) error {
	x := float64(d.viewport.Width) / 2
	y := float64(d.viewport.Height) / 2
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(float64(dx)).
			WithDeltaY(float64(dy)).
			Do(ctx)
	}))
}

// Close shuts the browser down gracefully and falls back to killing the
// process once ctx expires.
func (d *chromedpDriver) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(d.tabCtx) }()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				d.closeErr = fmt.Errorf("failed to close browser gracefully: %w", err)
			}
		case <-ctx.Done():
			d.logger.Warn("Deadline exceeded waiting for browser to close.", zap.Error(ctx.Err()))
		}
		d.tabCancel()
		d.allocCancel()
	})
	return d.closeErr
}
