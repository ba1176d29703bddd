// Package perception turns the current page into an image the reasoning
// collaborator can look at.
package perception

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/config"
)

// CaptureError means the page could not be photographed. It ends the session.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("failed to capture page: %v", e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// FrameLabel identifies a frame for archival.
type FrameLabel struct {
	SessionID string
	Step      int
}

// Capturer produces snapshots of a page.
type Capturer struct {
	format  schemas.ImageFormat
	quality int
	dir     string
	logger  *zap.Logger
	now     func() time.Time
}

// NewCapturer creates a Capturer from cfg. Unknown formats fall back to PNG.
func NewCapturer(cfg config.PerceptionConfig, logger *zap.Logger) *Capturer {
	format := schemas.FormatPNG
	if cfg.Format == string(schemas.FormatJPEG) {
		format = schemas.FormatJPEG
	}
	return &Capturer{
		format:  format,
		quality: cfg.Quality,
		dir:     cfg.ScreenshotDir,
		logger:  logger.Named("perception"),
		now:     time.Now,
	}
}

// Snapshot prepares a capture of page without touching the browser.
func (c *Capturer) Snapshot(page schemas.Page, label FrameLabel) *Snapshot {
	return &Snapshot{capturer: c, page: page, label: label}
}

// Capture takes a snapshot immediately.
func (c *Capturer) Capture(ctx context.Context, page schemas.Page, label FrameLabel) (schemas.ImageArtifact, error) {
	return c.Snapshot(page, label).Take(ctx)
}

// Snapshot is a lazy, single-shot capture. The first Take talks to the
// browser; later calls return the same artifact or the same error and never
// capture again.
type Snapshot struct {
	capturer *Capturer
	page     schemas.Page
	label    FrameLabel

	once     sync.Once
	artifact schemas.ImageArtifact
	err      error
}

// Take performs the capture on first use.
func (s *Snapshot) Take(ctx context.Context) (schemas.ImageArtifact, error) {
	s.once.Do(func() {
		s.artifact, s.err = s.capturer.shoot(ctx, s.page, s.label)
	})
	return s.artifact, s.err
}

func (c *Capturer) shoot(ctx context.Context, page schemas.Page, label FrameLabel) (schemas.ImageArtifact, error) {
	data, err := page.Screenshot(ctx, c.format, c.quality)
	if err != nil {
		return schemas.ImageArtifact{}, &CaptureError{Err: err}
	}

	artifact := schemas.ImageArtifact{
		Data:       data,
		MIMEType:   c.format.MIMEType(),
		CapturedAt: c.now(),
	}
	if len(data) == 0 {
		// A blank frame still reaches the decision step, which copes with it.
		c.logger.Warn("Screenshot returned no data.",
			zap.String("session_id", label.SessionID),
			zap.Int("step", label.Step),
		)
		return artifact, nil
	}
	c.logger.Debug("Frame captured.",
		zap.String("session_id", label.SessionID),
		zap.Int("step", label.Step),
		zap.Int("bytes", len(data)),
	)

	if c.dir != "" {
		if path, err := c.archive(artifact, label); err != nil {
			// Archival is best effort; the frame is still usable.
			c.logger.Warn("Failed to archive frame.", zap.Error(err))
		} else {
			c.logger.Debug("Frame archived.", zap.String("path", path))
		}
	}
	return artifact, nil
}

// archive writes the frame to <dir>/<session>/step-NNN.<ext>.
func (c *Capturer) archive(artifact schemas.ImageArtifact, label FrameLabel) (string, error) {
	sessionDir := filepath.Join(c.dir, label.SessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	path := filepath.Join(sessionDir, fmt.Sprintf("step-%03d.%s", label.Step, c.format))
	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write frame: %w", err)
	}
	return path, nil
}
