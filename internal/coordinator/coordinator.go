// Package coordinator owns every Job/Provider mutation. Acceptance is
// first-committer-wins at the granularity of one job id; later transitions
// are single-writer by the claiming provider.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/job-dispatch/internal/events"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/storage"
)

// AcceptStatus is a typed result, not an error: losing the claim race and
// already holding a job are routine outcomes.
type AcceptStatus int

const (
	Accepted AcceptStatus = iota
	JobNotAvailable
	ProviderHasActiveJob
)

func (s AcceptStatus) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case JobNotAvailable:
		return "JOB_NOT_AVAILABLE"
	case ProviderHasActiveJob:
		return "PROVIDER_HAS_ACTIVE_JOB"
	}
	return "unknown"
}

type AcceptResult struct {
	Status AcceptStatus
	Job    models.Job
}

var (
	// ErrInvalidTransition rejects out-of-order lifecycle moves before any write.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotOwner rejects progression attempts by anyone but the claimer.
	ErrNotOwner = errors.New("job not owned by provider")
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type Coordinator struct {
	store    storage.Store
	events   events.Publisher
	notifier Notifier // optional
	logger   *slog.Logger
}

func New(store storage.Store, pub events.Publisher, notifier Notifier, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, events: pub, notifier: notifier, logger: logger}
}

// Accept atomically claims jobID for providerID. The conditional update in
// the store is the linearization point; reading then writing in two steps
// here would reintroduce the double-booking bug.
func (c *Coordinator) Accept(ctx context.Context, jobID, providerID string) (AcceptResult, error) {
	outcome, job, err := c.store.ClaimJob(ctx, jobID, providerID)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	observability.ClaimsTotal.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case storage.ClaimProviderBusy:
		return AcceptResult{Status: ProviderHasActiveJob}, nil
	case storage.ClaimJobTaken:
		return AcceptResult{Status: JobNotAvailable}, nil
	}

	provider, err := c.store.GetProvider(ctx, providerID)
	if err != nil {
		return AcceptResult{}, err
	}

	c.publish(ctx, events.NewJobEvent(models.ChangeUpdated, job))
	c.publish(ctx, events.NewProviderEvent(models.ChangeUpdated, provider))
	c.notify(ctx, models.Notification{
		RecipientID: providerID,
		Type:        "job_matched",
		Title:       "Job assigned",
		Body:        fmt.Sprintf("You are matched to %s job %s", job.ServiceType, job.ID),
		Data:        map[string]string{"job_id": job.ID},
	})

	c.logger.Info("job claimed", "job_id", jobID, "provider_id", providerID)
	return AcceptResult{Status: Accepted, Job: job}, nil
}

// Advance moves a claimed job one step along matched->pickup->in_progress->
// completed. Only the claiming provider may advance, and out-of-order moves
// are rejected before any write.
func (c *Coordinator) Advance(ctx context.Context, jobID, providerID string, next models.JobStatus) (models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.ClaimedBy != providerID {
		return models.Job{}, ErrNotOwner
	}
	if !job.Status.CanTransition(next) || next == models.StatusCancelled {
		return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
	}

	updated, ok, err := c.store.UpdateJobStatusIf(ctx, jobID, job.Status, next)
	if err != nil {
		return models.Job{}, err
	}
	if !ok {
		return models.Job{}, fmt.Errorf("%w: job no longer in %s", ErrInvalidTransition, job.Status)
	}

	c.publish(ctx, events.NewJobEvent(models.ChangeUpdated, updated))

	if next == models.StatusCompleted {
		if err := c.store.ReleaseProvider(ctx, providerID, jobID); err != nil {
			c.logger.Error("release provider after completion", "provider_id", providerID, "error", err)
		} else if p, err := c.store.GetProvider(ctx, providerID); err == nil {
			c.publish(ctx, events.NewProviderEvent(models.ChangeUpdated, p))
		}
		c.notify(ctx, models.Notification{
			RecipientID: providerID,
			Type:        "job_completed",
			Title:       "Job completed",
			Body:        fmt.Sprintf("Job %s is complete", jobID),
			Data:        map[string]string{"job_id": jobID},
		})
	}
	return updated, nil
}

// Cancel is reachable from pending (anyone) or matched (releases the
// claiming provider).
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if !job.Status.CanTransition(models.StatusCancelled) {
		return models.Job{}, fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, job.Status)
	}

	updated, ok, err := c.store.UpdateJobStatusIf(ctx, jobID, job.Status, models.StatusCancelled)
	if err != nil {
		return models.Job{}, err
	}
	if !ok {
		return models.Job{}, fmt.Errorf("%w: job no longer in %s", ErrInvalidTransition, job.Status)
	}

	if job.Status == models.StatusMatched && job.ClaimedBy != "" {
		if err := c.store.ReleaseProvider(ctx, job.ClaimedBy, jobID); err != nil {
			c.logger.Error("release provider after cancel", "provider_id", job.ClaimedBy, "error", err)
		} else if p, err := c.store.GetProvider(ctx, job.ClaimedBy); err == nil {
			c.publish(ctx, events.NewProviderEvent(models.ChangeUpdated, p))
		}
	}
	c.publish(ctx, events.NewJobEvent(models.ChangeUpdated, updated))
	return updated, nil
}

// CreateJob registers a pending job from the intake boundary and announces it.
func (c *Coordinator) CreateJob(ctx context.Context, job models.Job) (models.Job, error) {
	if job.Status == "" {
		job.Status = models.StatusPending
	}
	if job.Status != models.StatusPending {
		return models.Job{}, fmt.Errorf("%w: jobs enter as pending", ErrInvalidTransition)
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return models.Job{}, err
	}
	created, err := c.store.GetJob(ctx, job.ID)
	if err != nil {
		return models.Job{}, err
	}
	c.publish(ctx, events.NewJobEvent(models.ChangeCreated, created))
	return created, nil
}

func (c *Coordinator) publish(ctx context.Context, ev models.RealtimeEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, ev); err != nil {
		c.logger.Error("publish event", "event_id", ev.ID, "entity_id", ev.EntityID, "error", err)
	} else {
		observability.EventsPublished.WithLabelValues(string(ev.EntityType)).Inc()
	}
}

func (c *Coordinator) notify(ctx context.Context, n models.Notification) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Error("notify", "recipient", n.RecipientID, "type", n.Type, "error", err)
	}
}
