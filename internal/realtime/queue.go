package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Entry is one locally-queued action awaiting delivery.
type Entry struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// QueueStore is the injected persistence behind the offline queue, so the
// medium (memory, Redis, disk) is swappable and testable.
type QueueStore interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context) ([]Entry, error)
	Remove(ctx context.Context, id string) error
}

type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]Entry)}
}

func (q *MemoryQueue) Append(ctx context.Context, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	q.entries[e.ID] = e
	return nil
}

func (q *MemoryQueue) List(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	return nil
}
