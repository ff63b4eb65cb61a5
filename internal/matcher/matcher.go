// Package matcher ranks nearby pending jobs for an eligible provider.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/job-dispatch/internal/breaker"
	"github.com/example/job-dispatch/internal/eta"
	"github.com/example/job-dispatch/internal/geo"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/storage"
)

// QueryBreakerName keys the geospatial-query breaker in the registry.
const QueryBreakerName = "jobquery"

const DefaultPageSize = 10

// NotEligibleError tells the caller "you cannot search right now" as opposed
// to "nothing nearby". Routine, not alarming.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("provider not eligible: %s", e.Reason)
}

const (
	ReasonOffline     = "provider_offline"
	ReasonNotApproved = "provider_not_approved"
	ReasonActiveJob   = "provider_has_active_job"
)

type ProviderGetter interface {
	GetProvider(ctx context.Context, id string) (models.Provider, error)
}

type RankedJob struct {
	Job        models.Job `json:"job"`
	DistanceKm float64    `json:"distance_km"`
	Score      float64    `json:"score"`
	EtaMinutes int        `json:"eta_minutes,omitempty"`
}

type Service struct {
	Providers    ProviderGetter
	Jobs         geo.JobQuerier
	Scorer       geo.Scorer
	Estimator    *eta.Estimator   // optional ETA enrichment for the ranked page
	QueryBreaker *breaker.Breaker // guards the geospatial query
	QueryTimeout time.Duration
	PageSize     int
	Now          func() time.Time
}

func New(providers ProviderGetter, jobs geo.JobQuerier, estimator *eta.Estimator, qb *breaker.Breaker) *Service {
	return &Service{
		Providers:    providers,
		Jobs:         jobs,
		Estimator:    estimator,
		QueryBreaker: qb,
		QueryTimeout: 10 * time.Second,
		PageSize:     DefaultPageSize,
		Now:          time.Now,
	}
}

// FindJobs returns at most PageSize jobs ranked by composite score, ties
// broken by earlier creation. A provider that is offline, unapproved, or
// already working gets NotEligibleError instead of a silent empty list.
func (s *Service) FindJobs(ctx context.Context, providerID string, loc models.Coord, serviceTypes []models.ServiceType, maxDistanceKm float64) ([]RankedJob, error) {
	start := s.Now()
	p, err := s.Providers.GetProvider(ctx, providerID)
	if err == storage.ErrNotFound {
		return nil, &NotEligibleError{Reason: ReasonNotApproved}
	}
	if err != nil {
		return nil, err
	}
	if !p.Online {
		return nil, &NotEligibleError{Reason: ReasonOffline}
	}
	if !p.Approved {
		return nil, &NotEligibleError{Reason: ReasonNotApproved}
	}
	if p.ActiveJobID != "" {
		return nil, &NotEligibleError{Reason: ReasonActiveJob}
	}

	candidates, err := s.query(ctx, loc, maxDistanceKm, serviceTypes)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	ranked := make([]RankedJob, 0, len(candidates))
	for _, j := range candidates {
		res := s.Scorer.Score(loc, j, now)
		j.DistanceKm = res.DistanceKm
		ranked = append(ranked, RankedJob{Job: j, DistanceKm: res.DistanceKm, Score: res.Score})
	}
	sort.SliceStable(ranked, func(i, k int) bool {
		if ranked[i].Score != ranked[k].Score {
			return ranked[i].Score > ranked[k].Score
		}
		return ranked[i].Job.CreatedAt.Before(ranked[k].Job.CreatedAt)
	})

	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if len(ranked) > pageSize {
		ranked = ranked[:pageSize]
	}

	if s.Estimator != nil {
		for i := range ranked {
			ranked[i].EtaMinutes = s.Estimator.Estimate(ctx, loc, ranked[i].Job.Pickup).Minutes
		}
	}

	observability.JobSearchesTotal.Inc()
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	return ranked, nil
}

func (s *Service) query(ctx context.Context, loc models.Coord, radiusKm float64, types []models.ServiceType) ([]models.Job, error) {
	timeout := s.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var out []models.Job
	call := func() error {
		qctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var err error
		out, err = s.Jobs.QueryPendingJobs(qctx, loc, radiusKm, types)
		return err
	}
	if s.QueryBreaker != nil {
		if err := s.QueryBreaker.Execute(call); err != nil {
			return nil, err
		}
		return out, nil
	}
	return out, call()
}
