package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

// MemoryStore keeps jobs and providers in process. The claim check-and-write
// happens under one lock, which gives the same exactly-one-winner guarantee
// the Postgres conditional update provides across instances.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]models.Job
	providers map[string]models.Provider
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]models.Job),
		providers: make(map[string]models.Provider),
		now:       time.Now,
	}
}

func (m *MemoryStore) CreateJob(ctx context.Context, j models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = m.now()
	}
	j.UpdatedAt = m.now()
	m.jobs[j.ID] = j
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *MemoryStore) GetProvider(ctx context.Context, id string) (models.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return models.Provider{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) UpsertProvider(ctx context.Context, p models.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Availability == "" {
		p.Availability = models.Available
	}
	p.UpdatedAt = m.now()
	m.providers[p.ID] = p
	return nil
}

func (m *MemoryStore) ClaimJob(ctx context.Context, jobID, providerID string) (ClaimOutcome, models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[providerID]
	if !ok {
		return 0, models.Job{}, ErrNotFound
	}
	if p.ActiveJobID != "" {
		return ClaimProviderBusy, models.Job{}, nil
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return 0, models.Job{}, ErrNotFound
	}
	if j.Status != models.StatusPending || j.ClaimedBy != "" {
		return ClaimJobTaken, models.Job{}, nil
	}

	j.Status = models.StatusMatched
	j.ClaimedBy = providerID
	j.Version++
	j.UpdatedAt = m.now()
	m.jobs[jobID] = j

	p.ActiveJobID = jobID
	p.Availability = models.Busy
	p.UpdatedAt = m.now()
	m.providers[providerID] = p

	return ClaimOK, j, nil
}

func (m *MemoryStore) UpdateJobStatusIf(ctx context.Context, jobID string, from, to models.JobStatus) (models.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return models.Job{}, false, ErrNotFound
	}
	if j.Status != from {
		return j, false, nil
	}
	j.Status = to
	if to == models.StatusCancelled {
		// cancelled jobs carry no claim
		j.ClaimedBy = ""
	}
	j.Version++
	j.UpdatedAt = m.now()
	m.jobs[jobID] = j
	return j, true, nil
}

func (m *MemoryStore) ReleaseProvider(ctx context.Context, providerID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[providerID]
	if !ok {
		return ErrNotFound
	}
	if p.ActiveJobID != jobID {
		return nil
	}
	p.ActiveJobID = ""
	p.Availability = models.Available
	p.UpdatedAt = m.now()
	m.providers[providerID] = p
	return nil
}

func (m *MemoryStore) ListJobsModifiedSince(ctx context.Context, since time.Time) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Job, 0)
	for _, j := range m.jobs {
		if j.UpdatedAt.After(since) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListProvidersModifiedSince(ctx context.Context, since time.Time) ([]models.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Provider, 0)
	for _, p := range m.providers {
		if p.UpdatedAt.After(since) {
			out = append(out, p)
		}
	}
	return out, nil
}
