package mock

import (
	"context"

	"github.com/brandscope/brandscope/pkg/models"
)

// MockProvider satisfies models.AssistantProvider for testing.
type MockProvider struct {
	Name_   string
	AskFunc func(ctx context.Context, prompt string) (models.Answer, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Ask(ctx context.Context, prompt string) (models.Answer, error) {
	if m.AskFunc != nil {
		return m.AskFunc(ctx, prompt)
	}
	return models.Answer{}, nil
}

// NewMockProvider returns a MockProvider with a sensible default answer.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		Name_: name,
		AskFunc: func(_ context.Context, prompt string) (models.Answer, error) {
			return models.Answer{
				Text:      "Mock answer mentioning Acme for: " + prompt,
				Model:     "mock-v1",
				TokensIn:  len(prompt) / 4,
				TokensOut: 16,
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(name string, err error) *MockProvider {
	return &MockProvider{
		Name_: name,
		AskFunc: func(_ context.Context, _ string) (models.Answer, error) {
			return models.Answer{}, err
		},
	}
}

// NewBlockingProvider returns a MockProvider that blocks until context cancellation.
func NewBlockingProvider(name string) *MockProvider {
	return &MockProvider{
		Name_: name,
		AskFunc: func(ctx context.Context, _ string) (models.Answer, error) {
			<-ctx.Done()
			return models.Answer{}, ctx.Err()
		},
	}
}

// Compile-time check that MockProvider implements AssistantProvider.
var _ models.AssistantProvider = (*MockProvider)(nil)
