package events

import (
	"context"
	"sync"

	"github.com/example/job-dispatch/internal/models"
)

type Handler func(models.RealtimeEvent)

// Bus is a small in-process pub/sub. Publish calls handlers synchronously in
// subscription order; handlers that need to block should hand off themselves.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Bus) Publish(ctx context.Context, ev models.RealtimeEvent) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}
