package schemas

import (
	"context"
	"time"
)

// -- Browser Driver Contract --

// WaitCondition selects the page lifecycle event a navigation waits for.
type WaitCondition string

const (
	WaitLoad             WaitCondition = "load"
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
)

// ImageFormat is the encoding of a captured frame.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// MIMEType returns the media type for the format.
func (f ImageFormat) MIMEType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Page is the set of operations the agent performs on a live browser tab.
// Implementations normalize nothing; driver errors surface as-is and are
// classified by the caller.
type Page interface {
	// Navigate loads url and blocks until the wait condition is reached.
	Navigate(ctx context.Context, url string, until WaitCondition) error
	// Screenshot captures the current viewport.
	Screenshot(ctx context.Context, format ImageFormat, quality int) ([]byte, error)
	// WaitVisible blocks until an element matching selector is visible.
	WaitVisible(ctx context.Context, selector string) error
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// Fill replaces the contents of the field matching selector.
	Fill(ctx context.Context, selector, value string) error
	// ScrollBy scrolls the viewport by the given pixel deltas.
	ScrollBy(ctx context.Context, dx, dy int) error
}

// ImageArtifact is a captured frame ready for transmission.
type ImageArtifact struct {
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mime_type"`
	CapturedAt time.Time `json:"captured_at"`
}

// -- Reasoning Collaborator Contract --

// GenerationOptions tunes a single generation.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens"`
	ForceJSONFormat bool    `json:"force_json_format"` // Ask the provider for a JSON-only response.
}

// GenerationRequest is a provider-neutral prompt with an optional image attachment.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Image        *ImageArtifact    `json:"image,omitempty"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the model provider behind the Decision Client.
type LLMClient interface {
	// Generate returns the raw text completion for req.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any provider resources.
	Close() error
}
