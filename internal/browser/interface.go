package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/navigator/api/schemas"
)

// Driver is one live browser process with a single page.
type Driver interface {
	schemas.Page
	// Close terminates the page and the browser process behind it.
	Close(ctx context.Context) error
}

// Launcher starts browser processes. ctx bounds the start-up only; the
// returned Driver lives until Close.
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
	Name() string
}

// ErrSessionReleased is returned by page operations after Release.
var ErrSessionReleased = errors.New("browser session already released")

// LaunchError reports that the browser process could not be started.
type LaunchError struct {
	Driver string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch browser (%s): %v", e.Driver, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// NavigationError reports that the initial navigation did not settle.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("initial navigation to %q failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }
