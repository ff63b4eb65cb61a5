// Package eta estimates travel time between two points. The primary path is
// an external routing service; every failure mode degrades to a
// deterministic straight-line estimate so callers always get an answer.
package eta

import (
	"context"
	"math"
	"time"

	"github.com/example/job-dispatch/internal/breaker"
	"github.com/example/job-dispatch/internal/geo"
	"github.com/example/job-dispatch/internal/models"
)

// BreakerName keys the shared routing-service breaker in the registry.
const BreakerName = "routing"

type Estimate struct {
	Minutes    int     `json:"minutes"`
	DistanceKm float64 `json:"distance_km"`
}

// RoutingClient is the outbound routing dependency.
type RoutingClient interface {
	Route(ctx context.Context, from, to models.Coord) (RouteResult, error)
}

type RouteResult struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
}

type Estimator struct {
	Routing RoutingClient    // optional; fallback-only when nil
	Breaker *breaker.Breaker // guards the routing call
	Cache   *Cache           // optional
	Timeout time.Duration    // per-call routing budget
}

func NewEstimator(routing RoutingClient, b *breaker.Breaker, cache *Cache) *Estimator {
	return &Estimator{Routing: routing, Breaker: b, Cache: cache, Timeout: 3 * time.Second}
}

// Estimate returns routed minutes/distance when the routing service answers
// inside the budget, otherwise the straight-line fallback. It never fails:
// the fallback is always computable.
func (e *Estimator) Estimate(ctx context.Context, from, to models.Coord) Estimate {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	if e.Routing != nil {
		if est, err := e.routed(ctx, from, to); err == nil {
			if e.Cache != nil {
				e.Cache.Set(from, to, est)
			}
			return est
		}
	}
	return Fallback(from, to)
}

func (e *Estimator) routed(ctx context.Context, from, to models.Coord) (Estimate, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	var res RouteResult
	call := func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var err error
		res, err = e.Routing.Route(cctx, from, to)
		return err
	}
	var err error
	if e.Breaker != nil {
		err = e.Breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{
		Minutes:    int(math.Ceil(res.DurationSeconds / 60.0)),
		DistanceKm: res.DistanceMeters / 1000.0,
	}, nil
}

// Fallback computes a straight-line estimate with a tiered speed heuristic:
// longer hops assume faster roads.
func Fallback(from, to models.Coord) Estimate {
	distKm := geo.HaversineKm(from, to)
	speedKmh := fallbackSpeedKmh(distKm)
	minutes := int(math.Ceil(distKm / speedKmh * 60.0))
	return Estimate{Minutes: minutes, DistanceKm: distKm}
}

func fallbackSpeedKmh(distKm float64) float64 {
	switch {
	case distKm > 10:
		return 80 // highway
	case distKm > 3:
		return 40 // urban
	case distKm > 0.5:
		return 20 // congested
	default:
		return 35
	}
}
