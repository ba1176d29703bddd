// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/navigator/api/schemas"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls. A canceled context wins
// over the configured return values, like a real transport.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Decision Maker Mock --

// MockDecisionMaker mocks the loop controller's view of the Decision Client.
type MockDecisionMaker struct {
	mock.Mock
}

func (m *MockDecisionMaker) Request(ctx context.Context, perception schemas.ImageArtifact, goal schemas.Goal, history []string) (schemas.Decision, error) {
	args := m.Called(ctx, perception, goal, history)
	return args.Get(0).(schemas.Decision), args.Error(1)
}
