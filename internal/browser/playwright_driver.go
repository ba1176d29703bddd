// internal/browser/playwright_driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/config"
)

// defaultPlaywrightTimeout applies to calls made without a context deadline.
const defaultPlaywrightTimeout = 30 * time.Second

// PlaywrightLauncher starts Chromium through the Playwright driver.
type PlaywrightLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	installOnce sync.Once
	installErr  error
}

// NewPlaywrightLauncher creates the alternate launcher.
func NewPlaywrightLauncher(cfg config.BrowserConfig, logger *zap.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{cfg: cfg, logger: logger.Named("playwright")}
}

func (l *PlaywrightLauncher) Name() string { return string(config.DriverPlaywright) }

func (l *PlaywrightLauncher) runOptions() *playwright.RunOptions {
	return &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
}

// Launch installs the driver on first use, then starts a browser, a context
// and a page. Playwright calls are not cancellable, so when ctx expires the
// start-up finishes in the background and is torn down immediately.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Driver, error) {
	l.installOnce.Do(func() {
		if err := playwright.Install(l.runOptions()); err != nil {
			l.installErr = fmt.Errorf("failed to install playwright: %w", err)
		}
	})
	if l.installErr != nil {
		return nil, l.installErr
	}

	type result struct {
		driver *playwrightDriver
		err    error
	}
	started := make(chan result, 1)
	go func() {
		d, err := l.start()
		started <- result{driver: d, err: err}
	}()

	select {
	case res := <-started:
		return res.driver, res.err
	case <-ctx.Done():
		go func() {
			if res := <-started; res.driver != nil {
				_ = res.driver.Close(context.Background())
			}
		}()
		return nil, fmt.Errorf("browser did not start in time: %w", context.Cause(ctx))
	}
}

func (l *PlaywrightLauncher) start() (*playwrightDriver, error) {
	pw, err := playwright.Run(l.runOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	headless := l.cfg.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     l.cfg.Args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	ignoreTLS := l.cfg.IgnoreTLSErrors
	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  l.cfg.Viewport.Width,
			Height: l.cfg.Viewport.Height,
		},
		IgnoreHttpsErrors: &ignoreTLS,
	}
	if l.cfg.UserAgent != "" {
		ua := l.cfg.UserAgent
		ctxOpts.UserAgent = &ua
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	l.logger.Debug("Playwright browser started.", zap.Bool("headless", headless))
	return &playwrightDriver{pw: pw, browser: browser, context: bctx, page: pg}, nil
}

type playwrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	closeOnce sync.Once
	closeErr  error
}

var _ Driver = (*playwrightDriver)(nil)

// timeoutMillis converts the remaining time on ctx into a Playwright timeout.
func timeoutMillis(ctx context.Context) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	d := defaultPlaywrightTimeout
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
	}
	ms := float64(d.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return &ms, nil
}

func (d *playwrightDriver) Navigate(ctx context.Context, url string, until schemas.WaitCondition) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	state := playwright.WaitUntilState(until)
	if _, err := d.page.Goto(url, playwright.PageGotoOptions{WaitUntil: &state, Timeout: timeout}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Screenshot(ctx context.Context, format schemas.ImageFormat, quality int) ([]byte, error) {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return nil, err
	}
	opts := playwright.PageScreenshotOptions{Timeout: timeout}
	kind := playwright.ScreenshotType(format)
	opts.Type = &kind
	if format == schemas.FormatJPEG {
		q := quality
		opts.Quality = &q
	}
	return d.page.Screenshot(opts)
}

func (d *playwrightDriver) WaitVisible(ctx context.Context, selector string) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	state := playwright.WaitForSelectorState("visible")
	_, err = d.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{State: &state, Timeout: timeout})
	return err
}

func (d *playwrightDriver) Click(ctx context.Context, selector string) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	return d.page.Click(selector, playwright.PageClickOptions{Timeout: timeout})
}

func (d *playwrightDriver) Fill(ctx context.Context, selector, value string) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	return d.page.Fill(selector, value, playwright.PageFillOptions{Timeout: timeout})
}

func (d *playwrightDriver) ScrollBy(ctx context.Context, dx, dy int) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	return d.page.Mouse().Wheel(float64(dx), float64(dy))
}

// Close tears down page, context, browser and driver in that order and
// reports every failure.
func (d *playwrightDriver) Close(_ context.Context) error {
	d.closeOnce.Do(func() {
		var errs []error
		if err := d.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("page: %w", err))
		}
		if err := d.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("context: %w", err))
		}
		if err := d.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser: %w", err))
		}
		if err := d.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("driver: %w", err))
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
