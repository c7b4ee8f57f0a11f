package outbox

import (
	"sync"
	"time"
)

// DefaultStages is the retry delay sequence used when none is configured.
var DefaultStages = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Backoff hands out escalating retry delays that saturate at the last stage.
type Backoff struct {
	mu     sync.Mutex
	stages []time.Duration
	stage  int
}

// NewBackoff creates a backoff over stages, or DefaultStages if empty.
func NewBackoff(stages []time.Duration) *Backoff {
	if len(stages) == 0 {
		stages = DefaultStages
	}
	return &Backoff{stages: append([]time.Duration(nil), stages...)}
}

// Next returns the delay for the current stage and advances to the next one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.stages[b.stage]
	if b.stage < len(b.stages)-1 {
		b.stage++
	}
	return d
}

// Reset returns to the first stage.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.stage = 0
	b.mu.Unlock()
}

// Stage returns the index of the delay Next will hand out.
func (b *Backoff) Stage() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stage
}

// Ceiling is the largest delay Next can return.
func (b *Backoff) Ceiling() time.Duration {
	return b.stages[len(b.stages)-1]
}
