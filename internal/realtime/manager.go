// Package realtime delivers entity-change events to subscribers, tracks
// connectivity, and reconciles missed changes after a gap so no state change
// is permanently lost.
package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/retry"
)

type Handler func(models.RealtimeEvent)

type Filter func(models.RealtimeEvent) bool

type Handle int

// Reconciler fetches everything modified after the watermark, as synthetic
// events, for replay after a reconnect.
type Reconciler interface {
	ModifiedSince(ctx context.Context, since time.Time) ([]models.RealtimeEvent, error)
}

// Sender delivers a queued offline action once connectivity returns.
type Sender func(ctx context.Context, e Entry) error

type subscription struct {
	entityTypes map[models.EntityType]bool
	filter      Filter
	handler     Handler
}

func (s *subscription) wants(ev models.RealtimeEvent) bool {
	if len(s.entityTypes) > 0 && !s.entityTypes[ev.EntityType] {
		return false
	}
	if s.filter != nil && !s.filter(ev) {
		return false
	}
	return true
}

type Manager struct {
	mu            sync.Mutex
	subs          map[Handle]*subscription
	nextHandle    Handle
	connected     bool
	lastProcessed time.Time
	connHandlers  []func(bool)

	// debounce coalesces per-entity bursts; 0 delivers synchronously.
	debounce   time.Duration
	pending    map[string]models.RealtimeEvent
	flushTimer *time.Timer

	reconciler Reconciler
	queue      QueueStore
	sender     Sender
	logger     *slog.Logger
}

type Option func(*Manager)

func WithDebounce(d time.Duration) Option {
	return func(m *Manager) { m.debounce = d }
}

func WithQueue(q QueueStore, s Sender) Option {
	return func(m *Manager) { m.queue = q; m.sender = s }
}

func NewManager(reconciler Reconciler, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		subs:       make(map[Handle]*subscription),
		connected:  true,
		debounce:   300 * time.Millisecond,
		pending:    make(map[string]models.RealtimeEvent),
		reconciler: reconciler,
		logger:     logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe registers a handler for events of the given entity types
// (empty means all) passing the optional filter.
func (m *Manager) Subscribe(entityTypes []models.EntityType, filter Filter, h Handler) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[models.EntityType]bool, len(entityTypes))
	for _, t := range entityTypes {
		set[t] = true
	}
	m.nextHandle++
	handle := m.nextHandle
	m.subs[handle] = &subscription{entityTypes: set, filter: filter, handler: h}
	return handle
}

func (m *Manager) Unsubscribe(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, h)
}

func (m *Manager) OnConnectivityChange(f func(connected bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connHandlers = append(m.connHandlers, f)
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Publish feeds a live event in; it satisfies events.Publisher so the
// manager can sit directly on the coordinator's fanout.
func (m *Manager) Publish(ctx context.Context, ev models.RealtimeEvent) error {
	m.HandleEvent(ev)
	return nil
}

// HandleEvent ingests one live event. While disconnected the event is
// dropped here: the reconnect replay recovers it from the store, which is
// the source of truth.
func (m *Manager) HandleEvent(ev models.RealtimeEvent) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	if m.debounce <= 0 {
		m.advanceWatermarkLocked(ev.Timestamp)
		targets := m.targetsLocked(ev)
		m.mu.Unlock()
		deliver(ev, targets)
		return
	}

	key := string(ev.EntityType) + "/" + ev.EntityID
	if prev, ok := m.pending[key]; !ok || !ev.Timestamp.Before(prev.Timestamp) {
		m.pending[key] = ev
	}
	if m.flushTimer == nil {
		m.flushTimer = time.AfterFunc(m.debounce, m.flush)
	}
	m.mu.Unlock()
}

// flush delivers the coalesced window in timestamp order, so a subscriber
// never sees a given entity move backwards.
func (m *Manager) flush() {
	m.mu.Lock()
	batch := make([]models.RealtimeEvent, 0, len(m.pending))
	for _, ev := range m.pending {
		batch = append(batch, ev)
	}
	m.pending = make(map[string]models.RealtimeEvent)
	m.flushTimer = nil
	sort.Slice(batch, func(i, j int) bool { return batch[i].Timestamp.Before(batch[j].Timestamp) })
	type delivery struct {
		ev      models.RealtimeEvent
		targets []Handler
	}
	deliveries := make([]delivery, 0, len(batch))
	for _, ev := range batch {
		m.advanceWatermarkLocked(ev.Timestamp)
		deliveries = append(deliveries, delivery{ev, m.targetsLocked(ev)})
	}
	m.mu.Unlock()

	for _, d := range deliveries {
		deliver(d.ev, d.targets)
	}
}

// SetConnected flips connectivity. On reconnect the manager first replays
// everything modified since the last processed event, then flushes the
// offline action queue, then resumes live delivery.
func (m *Manager) SetConnected(ctx context.Context, connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	if !connected {
		m.connected = false
		handlers := append([]func(bool){}, m.connHandlers...)
		m.mu.Unlock()
		m.logger.Info("realtime disconnected")
		for _, f := range handlers {
			f(false)
		}
		return
	}
	since := m.lastProcessed
	m.mu.Unlock()

	m.replay(ctx, since)

	m.mu.Lock()
	m.connected = true
	handlers := append([]func(bool){}, m.connHandlers...)
	m.mu.Unlock()

	m.flushQueue(ctx)
	m.logger.Info("realtime reconnected", "replayed_since", since)
	for _, f := range handlers {
		f(true)
	}
}

func (m *Manager) replay(ctx context.Context, since time.Time) {
	if m.reconciler == nil {
		return
	}
	evs, err := m.reconciler.ModifiedSince(ctx, since)
	if err != nil {
		m.logger.Error("reconcile fetch", "error", err)
		return
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
	for _, ev := range evs {
		m.mu.Lock()
		m.advanceWatermarkLocked(ev.Timestamp)
		targets := m.targetsLocked(ev)
		m.mu.Unlock()
		deliver(ev, targets)
		observability.EventsReplayed.Inc()
	}
}

// EnqueueAction records an action attempted while offline; it is delivered
// with bounded retries once connectivity returns.
func (m *Manager) EnqueueAction(ctx context.Context, e Entry) error {
	if m.queue == nil {
		return nil
	}
	return m.queue.Append(ctx, e)
}

func (m *Manager) flushQueue(ctx context.Context) {
	if m.queue == nil || m.sender == nil {
		return
	}
	entries, err := m.queue.List(ctx)
	if err != nil {
		m.logger.Error("offline queue list", "error", err)
		return
	}
	for _, e := range entries {
		entry := e
		err := retry.DoWith(ctx, retry.Options{Attempts: 3, InitialInterval: 50 * time.Millisecond}, func() error {
			return m.sender(ctx, entry)
		})
		if err != nil {
			m.logger.Error("offline action dropped after retries", "entry_id", entry.ID, "kind", entry.Kind, "error", err)
			observability.QueueDropsTotal.Inc()
		}
		if rerr := m.queue.Remove(ctx, entry.ID); rerr != nil {
			m.logger.Error("offline queue remove", "entry_id", entry.ID, "error", rerr)
		}
	}
}

func (m *Manager) targetsLocked(ev models.RealtimeEvent) []Handler {
	out := make([]Handler, 0, len(m.subs))
	for _, s := range m.subs {
		if s.wants(ev) {
			out = append(out, s.handler)
		}
	}
	return out
}

func (m *Manager) advanceWatermarkLocked(ts time.Time) {
	if ts.After(m.lastProcessed) {
		m.lastProcessed = ts
	}
}

func deliver(ev models.RealtimeEvent, targets []Handler) {
	for _, h := range targets {
		h(ev)
	}
}
