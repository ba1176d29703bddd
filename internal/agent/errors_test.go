package agent_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/navigator/api/schemas"
	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/browser"
)

func TestParseBrowserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind schemas.ActionKind
		want agent.ErrorCode
	}{
		{"nil", nil, schemas.ActionClick, ""},
		{"released session", fmt.Errorf("click: %w", browser.ErrSessionReleased), schemas.ActionClick, agent.ErrCodeSessionClosed},
		{"target closed", errors.New("Target closed"), schemas.ActionScroll, agent.ErrCodeSessionClosed},
		{"playwright closed", errors.New("page has been closed"), schemas.ActionClick, agent.ErrCodeSessionClosed},
		{"navigation error type", &browser.NavigationError{URL: "http://x", Err: errors.New("boom")}, schemas.ActionGoto, agent.ErrCodeNavigationError},
		{"net error text", errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), schemas.ActionGoto, agent.ErrCodeNavigationError},
		{"covered element", errors.New("<div> intercepts pointer events"), schemas.ActionClick, agent.ErrCodeElementNotInteractable},
		{"disabled element", errors.New("element is not enabled"), schemas.ActionType, agent.ErrCodeElementNotInteractable},
		{"chromedp missing node", errors.New("could not find node with given id"), schemas.ActionClick, agent.ErrCodeElementNotFound},
		{"playwright locator", errors.New("Timeout 5000ms exceeded while waiting for locator('#x')"), schemas.ActionClick, agent.ErrCodeElementNotFound},
		{"click deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), schemas.ActionClick, agent.ErrCodeElementNotFound},
		{"type deadline", context.DeadlineExceeded, schemas.ActionType, agent.ErrCodeElementNotFound},
		{"goto deadline", context.DeadlineExceeded, schemas.ActionScroll, agent.ErrCodeTimeoutError},
		{"timeout text", errors.New("operation timeout"), schemas.ActionWait, agent.ErrCodeTimeoutError},
		{"goto with unknown failure", errors.New(`navigation to "http://x" failed: boom`), schemas.ActionGoto, agent.ErrCodeNavigationError},
		{"anything else", errors.New("something odd"), schemas.ActionScroll, agent.ErrCodeExecutionFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, agent.ParseBrowserError(tt.err, tt.kind))
		})
	}
}

func TestActionAbortError(t *testing.T) {
	cause := errors.New("no element found")
	err := &agent.ActionAbortError{StepIndex: 4, Code: agent.ErrCodeElementNotFound, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "step 4")
	assert.Contains(t, err.Error(), "ELEMENT_NOT_FOUND")
}

func TestPanicError(t *testing.T) {
	err := &agent.PanicError{Value: "boom"}
	assert.Equal(t, "agent loop panicked: boom", err.Error())
}
