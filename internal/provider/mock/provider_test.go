package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandscope/brandscope/internal/provider/mock"
	"github.com/brandscope/brandscope/pkg/models"
)

// --- NewMockProvider ---

func TestNewMockProvider_Name(t *testing.T) {
	p := mock.NewMockProvider(models.ProviderOpenAI)
	assert.Equal(t, models.ProviderOpenAI, p.Name())
}

func TestNewMockProvider_Ask(t *testing.T) {
	p := mock.NewMockProvider(models.ProviderOpenAI)
	answer, err := p.Ask(context.Background(), "best crm software")

	require.NoError(t, err)
	assert.Contains(t, answer.Text, "Acme")
	assert.Contains(t, answer.Text, "best crm software")
	assert.Equal(t, "mock-v1", answer.Model)
	assert.Positive(t, answer.TokensOut)
}

func TestMockProvider_NilAskFunc(t *testing.T) {
	p := &mock.MockProvider{Name_: "bare"}
	answer, err := p.Ask(context.Background(), "q")

	require.NoError(t, err)
	assert.Empty(t, answer.Text)
}

// --- NewFailingProvider ---

func TestNewFailingProvider(t *testing.T) {
	boom := errors.New("provider unavailable")
	p := mock.NewFailingProvider("flaky", boom)

	assert.Equal(t, "flaky", p.Name())
	_, err := p.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
}

// --- NewBlockingProvider ---

func TestNewBlockingProvider(t *testing.T) {
	p := mock.NewBlockingProvider("slow")
	assert.Equal(t, "slow", p.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Ask(ctx, "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "blocks until the context ends")
}
