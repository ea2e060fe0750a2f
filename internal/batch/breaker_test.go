package batch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := newPromptBreaker(3, nil)
	id := uuid.New()

	assert.False(t, b.Open(id))
	assert.False(t, b.Failure(id))
	assert.False(t, b.Failure(id))
	assert.True(t, b.Failure(id), "third consecutive failure trips the breaker")
	assert.True(t, b.Open(id))

	// Tripping reports true exactly once.
	assert.False(t, b.Failure(id))
	assert.True(t, b.Open(id))
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := newPromptBreaker(3, nil)
	id := uuid.New()

	b.Failure(id)
	b.Failure(id)
	b.Success(id)
	assert.False(t, b.Failure(id), "count restarts after a success")
	assert.False(t, b.Open(id))
}

func TestBreakerSeededFromMetadata(t *testing.T) {
	id := uuid.New()
	b := newPromptBreaker(3, map[string]int{id.String(): 3})

	assert.True(t, b.Open(id))
	assert.False(t, b.Open(uuid.New()))
}

func TestBreakerCountsAreIndependentPerPrompt(t *testing.T) {
	b := newPromptBreaker(2, nil)
	a, c := uuid.New(), uuid.New()

	b.Failure(a)
	assert.False(t, b.Open(a))
	assert.False(t, b.Open(c))

	b.Failure(c)
	b.Failure(c)
	assert.True(t, b.Open(c))
	assert.False(t, b.Open(a))

	counts := b.Counts()
	assert.Equal(t, 1, counts[a.String()])
	assert.Equal(t, 2, counts[c.String()])
}
