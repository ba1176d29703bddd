// Package browsertest provides in-memory browser drivers for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/browser"
)

// ErrNoElement is what FakeDriver returns for selectors it does not know.
var ErrNoElement = errors.New("waiting for selector: no element found")

// Call is one recorded driver operation.
type Call struct {
	Op       string
	Selector string
	Value    string
	URL      string
	DX, DY   int
}

// FakeDriver is a scriptable browser.Driver. Selectors listed in Visible
// succeed; every other element operation blocks until ctx is done and then
// fails, the way a real driver waits for an element that never appears.
type FakeDriver struct {
	mu sync.Mutex

	Visible       map[string]bool
	Frame         []byte
	NavigateErr   error
	ScreenshotErr error
	CloseErr      error
	// Fields records the last value filled per selector.
	Fields map[string]string

	calls      []Call
	closeCount atomic.Int32
}

var _ browser.Driver = (*FakeDriver)(nil)

// NewFakeDriver returns a driver where the given selectors are visible.
func NewFakeDriver(visible ...string) *FakeDriver {
	d := &FakeDriver{
		Visible: make(map[string]bool),
		Frame:   []byte("\x89PNG fake frame"),
		Fields:  make(map[string]string),
	}
	for _, sel := range visible {
		d.Visible[sel] = true
	}
	return d
}

func (d *FakeDriver) record(c Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

// Calls returns a copy of the recorded operations.
func (d *FakeDriver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsOf returns the recorded operations named op.
func (d *FakeDriver) CallsOf(op string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CloseCount reports how many times Close was called.
func (d *FakeDriver) CloseCount() int {
	return int(d.closeCount.Load())
}

func (d *FakeDriver) isVisible(selector string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Visible[selector]
}

func (d *FakeDriver) awaitElement(ctx context.Context, selector string) error {
	if d.isVisible(selector) {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("%w %q: %w", ErrNoElement, selector, context.Cause(ctx))
}

func (d *FakeDriver) Navigate(ctx context.Context, url string, _ schemas.WaitCondition) error {
	d.record(Call{Op: "navigate", URL: url})
	if d.NavigateErr != nil {
		return d.NavigateErr
	}
	return ctx.Err()
}

func (d *FakeDriver) Screenshot(ctx context.Context, _ schemas.ImageFormat, _ int) ([]byte, error) {
	d.record(Call{Op: "screenshot"})
	if d.ScreenshotErr != nil {
		return nil, d.ScreenshotErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]byte(nil), d.Frame...), nil
}

func (d *FakeDriver) WaitVisible(ctx context.Context, selector string) error {
	d.record(Call{Op: "wait_visible", Selector: selector})
	return d.awaitElement(ctx, selector)
}

func (d *FakeDriver) Click(ctx context.Context, selector string) error {
	d.record(Call{Op: "click", Selector: selector})
	return d.awaitElement(ctx, selector)
}

func (d *FakeDriver) Fill(ctx context.Context, selector, value string) error {
	d.record(Call{Op: "fill", Selector: selector, Value: value})
	if err := d.awaitElement(ctx, selector); err != nil {
		return err
	}
	d.mu.Lock()
	d.Fields[selector] = value
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) ScrollBy(_ context.Context, dx, dy int) error {
	d.record(Call{Op: "scroll", DX: dx, DY: dy})
	return nil
}

func (d *FakeDriver) Close(context.Context) error {
	d.closeCount.Add(1)
	return d.CloseErr
}

// FakeLauncher hands out a single prepared FakeDriver.
type FakeLauncher struct {
	Driver    *FakeDriver
	LaunchErr error

	launches atomic.Int32
}

var _ browser.Launcher = (*FakeLauncher)(nil)

// NewFakeLauncher wraps driver.
func NewFakeLauncher(driver *FakeDriver) *FakeLauncher {
	return &FakeLauncher{Driver: driver}
}

func (l *FakeLauncher) Name() string { return "fake" }

func (l *FakeLauncher) Launch(ctx context.Context) (browser.Driver, error) {
	l.launches.Add(1)
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Driver, nil
}

// Launches reports how many times Launch was called.
func (l *FakeLauncher) Launches() int {
	return int(l.launches.Load())
}
