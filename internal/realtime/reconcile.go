package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/storage"
)

// StoreReconciler rebuilds missed changes from the durable store. Synthetic
// replay events carry the entity's UpdatedAt so the watermark stays honest.
type StoreReconciler struct {
	Store storage.Store
}

func (r *StoreReconciler) ModifiedSince(ctx context.Context, since time.Time) ([]models.RealtimeEvent, error) {
	jobs, err := r.Store.ListJobsModifiedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	providers, err := r.Store.ListProvidersModifiedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]models.RealtimeEvent, 0, len(jobs)+len(providers))
	for _, j := range jobs {
		payload, _ := json.Marshal(j)
		out = append(out, models.RealtimeEvent{
			ID:         uuid.NewString(),
			EntityType: models.EntityJob,
			EntityID:   j.ID,
			ChangeKind: models.ChangeUpdated,
			Payload:    payload,
			Timestamp:  j.UpdatedAt,
		})
	}
	for _, p := range providers {
		payload, _ := json.Marshal(p)
		out = append(out, models.RealtimeEvent{
			ID:         uuid.NewString(),
			EntityType: models.EntityProvider,
			EntityID:   p.ID,
			ChangeKind: models.ChangeUpdated,
			Payload:    payload,
			Timestamp:  p.UpdatedAt,
		})
	}
	return out, nil
}
