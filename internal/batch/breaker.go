package batch

import (
	"sync"

	"github.com/google/uuid"
)

// promptBreaker tracks consecutive provider failures per prompt within a
// job. Once a prompt crosses the threshold, its remaining tasks are failed
// without an outbound call. Counts are seeded from job metadata and written
// back with every progress update, so the breaker state survives across
// invocations.
type promptBreaker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
}

func newPromptBreaker(threshold int, seed map[string]int) *promptBreaker {
	counts := make(map[string]int, len(seed))
	for k, v := range seed {
		counts[k] = v
	}
	return &promptBreaker{threshold: threshold, counts: counts}
}

// Open reports whether the breaker has tripped for a prompt.
func (b *promptBreaker) Open(promptID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[promptID.String()] >= b.threshold
}

// Failure records one more consecutive failure and reports whether this
// failure tripped the breaker.
func (b *promptBreaker) Failure(promptID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := promptID.String()
	b.counts[key]++
	return b.counts[key] == b.threshold
}

// Success resets the consecutive-failure count for a prompt.
func (b *promptBreaker) Success(promptID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, promptID.String())
}

// Counts returns a copy of the current counters for persistence.
func (b *promptBreaker) Counts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}
