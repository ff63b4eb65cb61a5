// Package storage persists jobs and providers. The claim operation is the
// concurrency-critical primitive: it must be a single conditional update so
// two racing providers can never both own a job.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// ClaimOutcome is the typed result of an atomic claim attempt. Losing a race
// is an expected outcome, not an error.
type ClaimOutcome int

const (
	ClaimOK ClaimOutcome = iota
	ClaimJobTaken
	ClaimProviderBusy
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimOK:
		return "ok"
	case ClaimJobTaken:
		return "job_taken"
	case ClaimProviderBusy:
		return "provider_busy"
	}
	return "unknown"
}

type Store interface {
	CreateJob(ctx context.Context, j models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	GetProvider(ctx context.Context, id string) (models.Provider, error)
	UpsertProvider(ctx context.Context, p models.Provider) error

	// ClaimJob conditionally moves the job pending->matched and marks the
	// provider busy, both under the same guard. Exactly one concurrent
	// caller per job observes ClaimOK.
	ClaimJob(ctx context.Context, jobID, providerID string) (ClaimOutcome, models.Job, error)

	// UpdateJobStatusIf is a compare-and-swap on job status. Returns the
	// updated job and false when the job was not in `from`.
	UpdateJobStatusIf(ctx context.Context, jobID string, from, to models.JobStatus) (models.Job, bool, error)

	// ReleaseProvider clears the provider's active job if it matches jobID
	// and marks it available again.
	ReleaseProvider(ctx context.Context, providerID, jobID string) error

	// Modified-since listings back the reconnect replay path.
	ListJobsModifiedSince(ctx context.Context, since time.Time) ([]models.Job, error)
	ListProvidersModifiedSince(ctx context.Context, since time.Time) ([]models.Provider, error)
}
