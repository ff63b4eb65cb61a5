package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/job-dispatch/internal/models"
)

func seed(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, models.Job{ID: "j1", ServiceType: models.ServiceRide, Status: models.StatusPending, Fare: 100}))
	require.NoError(t, s.UpsertProvider(ctx, models.Provider{ID: "p1", Online: true, Approved: true}))
	require.NoError(t, s.UpsertProvider(ctx, models.Provider{ID: "p2", Online: true, Approved: true}))
}

func TestClaimJobHappyPath(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	outcome, job, err := s.ClaimJob(ctx, "j1", "p1")
	require.NoError(t, err)
	require.Equal(t, ClaimOK, outcome)
	assert.Equal(t, models.StatusMatched, job.Status)
	assert.Equal(t, "p1", job.ClaimedBy)
	assert.Equal(t, int64(2), job.Version)

	p, err := s.GetProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "j1", p.ActiveJobID)
	assert.Equal(t, models.Busy, p.Availability)
}

func TestClaimJobSecondClaimerLoses(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	outcome, _, err := s.ClaimJob(ctx, "j1", "p1")
	require.NoError(t, err)
	require.Equal(t, ClaimOK, outcome)

	outcome, _, err = s.ClaimJob(ctx, "j1", "p2")
	require.NoError(t, err)
	assert.Equal(t, ClaimJobTaken, outcome)
}

func TestClaimJobBusyProvider(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, models.Job{ID: "j2", Status: models.StatusPending}))

	_, _, err := s.ClaimJob(ctx, "j1", "p1")
	require.NoError(t, err)

	outcome, _, err := s.ClaimJob(ctx, "j2", "p1")
	require.NoError(t, err)
	assert.Equal(t, ClaimProviderBusy, outcome)
}

func TestClaimJobConcurrentExactlyOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, models.Job{ID: "j1", Status: models.StatusPending}))

	const racers = 16
	for i := 0; i < racers; i++ {
		require.NoError(t, s.UpsertProvider(ctx, models.Provider{ID: providerID(i), Online: true, Approved: true}))
	}

	outcomes := make(chan ClaimOutcome, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			o, _, err := s.ClaimJob(ctx, "j1", id)
			require.NoError(t, err)
			outcomes <- o
		}(providerID(i))
	}
	wg.Wait()
	close(outcomes)

	wins, losses := 0, 0
	for o := range outcomes {
		switch o {
		case ClaimOK:
			wins++
		case ClaimJobTaken:
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, losses)

	j, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, j.Status)
	assert.NotEmpty(t, j.ClaimedBy)
}

func TestUpdateJobStatusIfCAS(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	_, _, err := s.ClaimJob(ctx, "j1", "p1")
	require.NoError(t, err)

	j, ok, err := s.UpdateJobStatusIf(ctx, "j1", models.StatusMatched, models.StatusPickup)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusPickup, j.Status)

	// stale transition: job is no longer matched
	_, ok, err = s.UpdateJobStatusIf(ctx, "j1", models.StatusMatched, models.StatusPickup)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseProvider(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()
	_, _, err := s.ClaimJob(ctx, "j1", "p1")
	require.NoError(t, err)

	// wrong job id: no-op
	require.NoError(t, s.ReleaseProvider(ctx, "p1", "other"))
	p, _ := s.GetProvider(ctx, "p1")
	assert.Equal(t, "j1", p.ActiveJobID)

	require.NoError(t, s.ReleaseProvider(ctx, "p1", "j1"))
	p, _ = s.GetProvider(ctx, "p1")
	assert.Empty(t, p.ActiveJobID)
	assert.Equal(t, models.Available, p.Availability)
}

func providerID(i int) string {
	return string(rune('a'+i%26)) + "provider"
}
