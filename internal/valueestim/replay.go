package valueestim

import (
	"math/rand"
	"sync"

	"github.com/akulov/exit-engine/pkg/models"
)

// ReplayBuffer is a bounded FIFO of past transitions. When full, the oldest
// experience is evicted to make room.
type ReplayBuffer struct {
	mu       sync.Mutex
	items    []models.Experience
	capacity int
}

// NewReplayBuffer creates a buffer holding at most capacity experiences
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReplayBuffer{
		items:    make([]models.Experience, 0, capacity),
		capacity: capacity,
	}
}

// Add appends an experience, evicting the oldest when at capacity
func (b *ReplayBuffer) Add(exp models.Experience) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == b.capacity {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, exp)
}

// Len returns the current number of stored experiences
func (b *ReplayBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Sample draws n experiences uniformly without replacement. When fewer than
// n are stored, every stored experience is returned once.
func (b *ReplayBuffer) Sample(n int, rng *rand.Rand) []models.Experience {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 || n < 1 {
		return nil
	}
	if n >= len(b.items) {
		out := make([]models.Experience, len(b.items))
		copy(out, b.items)
		return out
	}

	out := make([]models.Experience, 0, n)
	for _, idx := range rng.Perm(len(b.items))[:n] {
		out = append(out, b.items[idx])
	}
	return out
}
