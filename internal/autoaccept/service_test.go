package autoaccept

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/job-dispatch/internal/coordinator"
	"github.com/example/job-dispatch/internal/geo"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/storage"
)

func TestOfferClaimsForFirstMatchingProvider(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertProvider(ctx, models.Provider{ID: "near", Online: true, Approved: true}))
	require.NoError(t, store.UpsertProvider(ctx, models.Provider{ID: "far", Online: true, Approved: true}))

	job := models.Job{ID: "J1", ServiceType: models.ServiceDelivery, Status: models.StatusPending, Fare: 90, Pickup: models.Coord{Lat: 0, Lng: 0}}
	require.NoError(t, store.CreateJob(ctx, job))

	idx := geo.NewMemoryProviderIndex()
	idx.Upsert(context.Background(), models.Provider{ID: "near", Online: true, Location: models.Coord{Lat: 0, Lng: 0.01}})
	idx.Upsert(context.Background(), models.Provider{ID: "far", Online: true, Location: models.Coord{Lat: 0, Lng: 0.05}})

	rules := NewMemoryRuleStore()
	minFare := 50.0
	require.NoError(t, rules.PutRule(ctx, models.AutoAcceptRule{ID: "r1", ProviderID: "far", Enabled: true, Priority: 1, MinFare: &minFare}))

	coord := coordinator.New(store, nil, nil, nil)
	svc := NewService(idx, rules, coord, nil)

	winner, err := svc.Offer(ctx, job)
	require.NoError(t, err)
	// "near" has no rules; "far" auto-accepts
	assert.Equal(t, "far", winner)

	got, err := store.GetJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, got.Status)
	assert.Equal(t, "far", got.ClaimedBy)
}

func TestOfferNoMatchLeavesJobPending(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertProvider(ctx, models.Provider{ID: "p1", Online: true, Approved: true}))
	job := models.Job{ID: "J1", Status: models.StatusPending, Fare: 10}
	require.NoError(t, store.CreateJob(ctx, job))

	idx := geo.NewMemoryProviderIndex()
	idx.Upsert(context.Background(), models.Provider{ID: "p1", Online: true, Location: models.Coord{Lat: 0, Lng: 0.01}})

	rules := NewMemoryRuleStore()
	minFare := 500.0
	require.NoError(t, rules.PutRule(ctx, models.AutoAcceptRule{ID: "r1", ProviderID: "p1", Enabled: true, MinFare: &minFare}))

	svc := NewService(idx, rules, coordinator.New(store, nil, nil, nil), nil)
	winner, err := svc.Offer(ctx, job)
	require.NoError(t, err)
	assert.Empty(t, winner)

	got, _ := store.GetJob(ctx, "J1")
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestOfferSkipsBusyProvider(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertProvider(ctx, models.Provider{ID: "busy", Online: true, Approved: true}))
	require.NoError(t, store.UpsertProvider(ctx, models.Provider{ID: "idle", Online: true, Approved: true}))
	require.NoError(t, store.CreateJob(ctx, models.Job{ID: "J0", Status: models.StatusPending}))
	require.NoError(t, store.CreateJob(ctx, models.Job{ID: "J1", Status: models.StatusPending, Fare: 90}))

	coord := coordinator.New(store, nil, nil, nil)
	res, err := coord.Accept(ctx, "J0", "busy")
	require.NoError(t, err)
	require.Equal(t, coordinator.Accepted, res.Status)

	idx := geo.NewMemoryProviderIndex()
	idx.Upsert(context.Background(), models.Provider{ID: "busy", Online: true, Location: models.Coord{Lat: 0, Lng: 0.005}})
	idx.Upsert(context.Background(), models.Provider{ID: "idle", Online: true, Location: models.Coord{Lat: 0, Lng: 0.01}})

	rules := NewMemoryRuleStore()
	require.NoError(t, rules.PutRule(ctx, models.AutoAcceptRule{ID: "rb", ProviderID: "busy", Enabled: true}))
	require.NoError(t, rules.PutRule(ctx, models.AutoAcceptRule{ID: "ri", ProviderID: "idle", Enabled: true}))

	svc := NewService(idx, rules, coord, nil)
	winner, err := svc.Offer(ctx, models.Job{ID: "J1", Status: models.StatusPending, Fare: 90})
	require.NoError(t, err)
	assert.Equal(t, "idle", winner)
}
