// Package events carries immutable RealtimeEvent records from state mutators
// to subscribers, in process via Bus and across services via Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/example/job-dispatch/internal/models"
)

// Publisher is implemented by every event sink (bus, kafka, sync manager).
type Publisher interface {
	Publish(ctx context.Context, ev models.RealtimeEvent) error
}

// NewJobEvent snapshots the job into an immutable event.
func NewJobEvent(kind models.ChangeKind, j models.Job) models.RealtimeEvent {
	payload, _ := json.Marshal(j)
	return models.RealtimeEvent{
		ID:         uuid.NewString(),
		EntityType: models.EntityJob,
		EntityID:   j.ID,
		ChangeKind: kind,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
}

// NewProviderEvent snapshots the provider into an immutable event.
func NewProviderEvent(kind models.ChangeKind, p models.Provider) models.RealtimeEvent {
	payload, _ := json.Marshal(p)
	return models.RealtimeEvent{
		ID:         uuid.NewString(),
		EntityType: models.EntityProvider,
		EntityID:   p.ID,
		ChangeKind: kind,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
}

// Fanout publishes to several sinks; the first error wins but every sink is
// still attempted.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev models.RealtimeEvent) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
