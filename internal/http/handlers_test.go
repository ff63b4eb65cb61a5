package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/job-dispatch/internal/autoaccept"
	"github.com/example/job-dispatch/internal/breaker"
	"github.com/example/job-dispatch/internal/coordinator"
	"github.com/example/job-dispatch/internal/dispatch"
	"github.com/example/job-dispatch/internal/eta"
	"github.com/example/job-dispatch/internal/geo"
	"github.com/example/job-dispatch/internal/matcher"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/storage"
)

type fixture struct {
	server *httptest.Server
	store  *storage.MemoryStore
	jobs   *geo.MemoryJobIndex
	rules  *autoaccept.MemoryRuleStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	jobIdx := geo.NewMemoryJobIndex()
	provIdx := geo.NewMemoryProviderIndex()
	rules := autoaccept.NewMemoryRuleStore()

	coord := coordinator.New(store, nil, nil, nil)
	estimator := eta.NewEstimator(nil, nil, nil)
	m := matcher.New(store, jobIdx, estimator, breaker.New("jobquery", breaker.Config{}, nil))
	aa := autoaccept.NewService(provIdx, rules, coord, nil)

	srv := NewServer(Deps{
		Store:         store,
		Coordinator:   coord,
		Matcher:       m,
		AutoAccept:    aa,
		Rules:         rules,
		JobIndex:      jobIdx,
		ProviderIndex: provIdx,
		Estimator:     estimator,
		WSReg:         dispatch.NewWSRegistry(),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &fixture{server: ts, store: store, jobs: jobIdx, rules: rules}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) addProvider(t *testing.T, p models.Provider) {
	t.Helper()
	resp := f.post(t, "/api/v1/providers", p)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateJobReturnsPendingJob(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/v1/jobs", createJobRequest{ServiceType: models.ServiceDelivery, Pickup: models.Coord{Lat: 1, Lng: 1}, Fare: 42})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[models.Job](t, resp)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, 42.0, job.Fare)
}

func TestCreateJobRejectsUnknownServiceType(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/v1/jobs", map[string]any{"service_type": "teleport", "fare": 10})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestFindJobsReturnsRankedPage(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, models.Provider{ID: "p1", Online: true, Approved: true})

	resp := f.post(t, "/api/v1/jobs", createJobRequest{ServiceType: models.ServiceRide, Pickup: models.Coord{Lat: 0, Lng: 0.01}, Fare: 80})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/jobs/find", findJobsRequest{ProviderID: "p1", Location: models.Coord{}, MaxDistanceKm: 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Jobs []matcher.RankedJob `json:"jobs"`
	}](t, resp)
	require.Len(t, body.Jobs, 1)
	assert.Greater(t, body.Jobs[0].Score, 0.0)
	assert.Greater(t, body.Jobs[0].EtaMinutes, 0)
}

func TestFindJobsOfflineProviderConflict(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, models.Provider{ID: "p1", Online: false, Approved: true})

	resp := f.post(t, "/api/v1/jobs/find", findJobsRequest{ProviderID: "p1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, matcher.ReasonOffline, body["error"])
}

func TestAcceptJobFirstWinsSecondConflicts(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, models.Provider{ID: "p1", Online: true, Approved: true})
	f.addProvider(t, models.Provider{ID: "p2", Online: true, Approved: true})

	resp := f.post(t, "/api/v1/jobs", createJobRequest{ServiceType: models.ServiceRide, Fare: 50})
	job := decode[models.Job](t, resp)

	resp = f.post(t, "/api/v1/jobs/accept", acceptJobRequest{JobID: job.ID, ProviderID: "p1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok := decode[struct {
		Success bool       `json:"success"`
		Job     models.Job `json:"job"`
	}](t, resp)
	assert.True(t, ok.Success)
	assert.Equal(t, models.StatusMatched, ok.Job.Status)
	assert.Equal(t, "p1", ok.Job.ClaimedBy)

	resp = f.post(t, "/api/v1/jobs/accept", acceptJobRequest{JobID: job.ID, ProviderID: "p2"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	lost := decode[map[string]any](t, resp)
	assert.Equal(t, false, lost["success"])
	assert.Equal(t, "JOB_NOT_AVAILABLE", lost["error"])
}

func TestAcceptUnknownJobNotFound(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, models.Provider{ID: "p1", Online: true, Approved: true})
	resp := f.post(t, "/api/v1/jobs/accept", acceptJobRequest{JobID: "nope", ProviderID: "p1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStatusProgressionAndOwnership(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, models.Provider{ID: "p1", Online: true, Approved: true})

	resp := f.post(t, "/api/v1/jobs", createJobRequest{ServiceType: models.ServiceMoving, Fare: 120})
	job := decode[models.Job](t, resp)
	f.post(t, "/api/v1/jobs/accept", acceptJobRequest{JobID: job.ID, ProviderID: "p1"}).Body.Close()

	// stranger cannot advance
	resp = f.post(t, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), jobStatusRequest{ProviderID: "intruder", Status: models.StatusPickup})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// skipping a step is rejected
	resp = f.post(t, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), jobStatusRequest{ProviderID: "p1", Status: models.StatusCompleted})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	for _, next := range []models.JobStatus{models.StatusPickup, models.StatusInProgress, models.StatusCompleted} {
		resp = f.post(t, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), jobStatusRequest{ProviderID: "p1", Status: next})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[models.Job](t, resp)
		assert.Equal(t, next, got.Status)
	}

	// completion releases the provider for new work
	p, err := f.store.GetProvider(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, p.ActiveJobID)
}

func TestCancelPendingJob(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/v1/jobs", createJobRequest{ServiceType: models.ServiceRide, Fare: 10})
	job := decode[models.Job](t, resp)

	resp = f.post(t, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.Job](t, resp)
	assert.Equal(t, models.StatusCancelled, got.Status)

	// cancelled twice is a conflict
	resp = f.post(t, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestRulesCRUD(t *testing.T) {
	f := newFixture(t)
	minFare := 25.0
	resp := f.do(t, http.MethodPut, "/api/v1/providers/p1/rules", models.AutoAcceptRule{Enabled: true, Priority: 5, MinFare: &minFare})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rule := decode[models.AutoAcceptRule](t, resp)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, "p1", rule.ProviderID)

	resp = f.do(t, http.MethodGet, "/api/v1/providers/p1/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Rules []models.AutoAcceptRule `json:"rules"`
	}](t, resp)
	require.Len(t, list.Rules, 1)

	resp = f.do(t, http.MethodDelete, "/api/v1/providers/p1/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/api/v1/providers/p1/rules", nil)
	list = decode[struct {
		Rules []models.AutoAcceptRule `json:"rules"`
	}](t, resp)
	assert.Empty(t, list.Rules)
}

func TestCreateJobAutoAcceptsForMatchingRule(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, models.Provider{ID: "p1", Online: true, Approved: true, Location: models.Coord{Lat: 0, Lng: 0.01}})
	resp := f.do(t, http.MethodPut, "/api/v1/providers/p1/rules", models.AutoAcceptRule{Enabled: true, Priority: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/v1/jobs", createJobRequest{ServiceType: models.ServiceRide, Pickup: models.Coord{}, Fare: 75})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[models.Job](t, resp)
	assert.Equal(t, models.StatusMatched, job.Status)
	assert.Equal(t, "p1", job.ClaimedBy)
}

func TestEtaEndpointFallback(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/v1/eta", etaRequest{From: models.Coord{}, To: models.Coord{Lat: 0, Lng: 0.05}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	est := decode[eta.Estimate](t, resp)
	assert.Greater(t, est.Minutes, 0)
	assert.Greater(t, est.DistanceKm, 0.0)
}

func TestProviderLocationUpdatesStore(t *testing.T) {
	f := newFixture(t)
	f.addProvider(t, models.Provider{ID: "p1", Online: true, Approved: true})

	resp := f.post(t, "/internal/provider/locations", models.LocationUpdate{ProviderID: "p1", Location: models.Coord{Lat: 2, Lng: 3}, Online: true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	p, err := f.store.GetProvider(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Location.Lat)
	assert.Equal(t, 3.0, p.Location.Lng)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
