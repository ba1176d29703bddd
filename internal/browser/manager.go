// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/config"
	"github.com/xkilldash9x/navigator/internal/observability"
)

// closeTimeout bounds how long Release waits for the browser to exit.
const closeTimeout = 10 * time.Second

// Manager hands out browser sessions. It holds no per-session state, so one
// Manager may serve concurrent runs, each with its own browser process.
type Manager struct {
	launcher Launcher
	cfg      config.BrowserConfig
	logger   *zap.Logger
}

// NewLauncher returns the Launcher selected by cfg.Driver.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) (Launcher, error) {
	switch cfg.Driver {
	case config.DriverChromedp, "":
		return NewChromedpLauncher(cfg, logger), nil
	case config.DriverPlaywright:
		return NewPlaywrightLauncher(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// NewManager creates a Manager around launcher.
func NewManager(launcher Launcher, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		launcher: launcher,
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
	}
}

// Acquire starts a browser and navigates it to startURL. It returns a
// *LaunchError if the process does not start and a *NavigationError if the
// page does not settle within the navigation timeout. On any error nothing
// is left running.
func (m *Manager) Acquire(ctx context.Context, startURL string) (*Session, error) {
	ctx, span := observability.StartSpan(ctx, "browser.acquire", observability.AttrURL.String(startURL))
	defer span.End()

	launchCtx, cancelLaunch := context.WithTimeout(ctx, m.cfg.LaunchTimeout)
	defer cancelLaunch()

	start := time.Now()
	driver, err := m.launcher.Launch(launchCtx)
	if err != nil {
		lerr := &LaunchError{Driver: m.launcher.Name(), Err: err}
		observability.RecordError(span, lerr)
		return nil, lerr
	}
	m.logger.Debug("Browser launched.", zap.String("driver", m.launcher.Name()), zap.Duration("duration", time.Since(start)))

	session := newSession(driver, m.logger)

	navCtx, cancelNav := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancelNav()

	if err := driver.Navigate(navCtx, startURL, schemas.WaitLoad); err != nil {
		nerr := &NavigationError{URL: startURL, Err: err}
		observability.RecordError(span, nerr)
		if rerr := session.Release(context.Background()); rerr != nil {
			m.logger.Warn("Failed to release browser after navigation failure.", zap.Error(rerr))
		}
		return nil, nerr
	}

	m.logger.Info("Browser session acquired.", zap.String("url", startURL))
	return session, nil
}

// WithSession acquires a session, runs fn and releases the session on every
// return path, including a panic inside fn.
func (m *Manager) WithSession(ctx context.Context, startURL string, fn func(ctx context.Context, s *Session) error) error {
	session, err := m.Acquire(ctx, startURL)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := session.Release(context.Background()); rerr != nil {
			m.logger.Warn("Failed to release browser session.", zap.Error(rerr))
		}
	}()
	return fn(ctx, session)
}

// Session is the exclusive handle on one browser page. It implements
// schemas.Page until Release is called, after which every operation fails
// with ErrSessionReleased.
type Session struct {
	driver   Driver
	logger   *zap.Logger
	released atomic.Bool

	once       sync.Once
	releaseErr error
}

var _ schemas.Page = (*Session)(nil)

func newSession(driver Driver, logger *zap.Logger) *Session {
	return &Session{driver: driver, logger: logger}
}

// Release closes the browser. Only the first call does any work; later calls
// return the first call's result.
func (s *Session) Release(ctx context.Context) error {
	s.once.Do(func() {
		s.released.Store(true)
		closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
		defer cancel()
		s.releaseErr = s.driver.Close(closeCtx)
		s.logger.Debug("Browser session released.", zap.Error(s.releaseErr))
	})
	return s.releaseErr
}

// Released reports whether Release has been called.
func (s *Session) Released() bool {
	return s.released.Load()
}

func (s *Session) Navigate(ctx context.Context, url string, until schemas.WaitCondition) error {
	if s.Released() {
		return ErrSessionReleased
	}
	return s.driver.Navigate(ctx, url, until)
}

func (s *Session) Screenshot(ctx context.Context, format schemas.ImageFormat, quality int) ([]byte, error) {
	if s.Released() {
		return nil, ErrSessionReleased
	}
	return s.driver.Screenshot(ctx, format, quality)
}

func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	if s.Released() {
		return ErrSessionReleased
	}
	return s.driver.WaitVisible(ctx, selector)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if s.Released() {
		return ErrSessionReleased
	}
	return s.driver.Click(ctx, selector)
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	if s.Released() {
		return ErrSessionReleased
	}
	return s.driver.Fill(ctx, selector, value)
}

func (s *Session) ScrollBy(ctx context.Context, dx, dy int) error {
	if s.Released() {
		return ErrSessionReleased
	}
	return s.driver.ScrollBy(ctx, dx, dy)
}
