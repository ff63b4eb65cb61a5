package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

// JobQuerier is the geospatial lookup the matcher delegates to: pending,
// unclaimed jobs of the requested service types within radiusKm of center.
type JobQuerier interface {
	QueryPendingJobs(ctx context.Context, center models.Coord, radiusKm float64, types []models.ServiceType) ([]models.Job, error)
}

// ProviderQuerier finds online providers near a point, used by the
// auto-accept offer loop when a new job arrives.
type ProviderQuerier interface {
	NearbyProviders(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]models.Provider, error)
}

// JobIndexWriter maintains the searchable job set as jobs enter and leave
// pending. Implemented by both the memory and Redis indexes.
type JobIndexWriter interface {
	Upsert(ctx context.Context, j models.Job) error
	Remove(ctx context.Context, id string) error
}

// ProviderIndexWriter records provider positions as location reports arrive.
type ProviderIndexWriter interface {
	Upsert(ctx context.Context, p models.Provider) error
}

// MemoryJobIndex is a naive scan over an in-process job set. Good enough for
// tests and single-node runs; the Redis GEO index is the production path.
type MemoryJobIndex struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

func NewMemoryJobIndex() *MemoryJobIndex {
	return &MemoryJobIndex{jobs: make(map[string]models.Job)}
}

func (m *MemoryJobIndex) Upsert(ctx context.Context, j models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *MemoryJobIndex) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *MemoryJobIndex) QueryPendingJobs(ctx context.Context, center models.Coord, radiusKm float64, types []models.ServiceType) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[models.ServiceType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	out := make([]models.Job, 0)
	for _, j := range m.jobs {
		if j.Status != models.StatusPending || j.ClaimedBy != "" {
			continue
		}
		if len(wanted) > 0 && !wanted[j.ServiceType] {
			continue
		}
		d := HaversineKm(center, j.Pickup)
		if d > radiusKm {
			continue
		}
		j.DistanceKm = d
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].DistanceKm < out[k].DistanceKm })
	return out, nil
}

// HaversineKm is the great-circle distance between two points in kilometers.
func HaversineKm(a, b models.Coord) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// MemoryProviderIndex mirrors MemoryJobIndex for provider lookups.
type MemoryProviderIndex struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
}

func NewMemoryProviderIndex() *MemoryProviderIndex {
	return &MemoryProviderIndex{providers: make(map[string]models.Provider)}
}

func (m *MemoryProviderIndex) Upsert(ctx context.Context, p models.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = time.Now()
	m.providers[p.ID] = p
	return nil
}

func (m *MemoryProviderIndex) NearbyProviders(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]models.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type pair struct {
		p    models.Provider
		dist float64
	}
	arr := make([]pair, 0, len(m.providers))
	for _, p := range m.providers {
		if !p.Online {
			continue
		}
		d := HaversineKm(center, p.Location)
		if d > radiusKm {
			continue
		}
		arr = append(arr, pair{p, d})
	}
	sort.Slice(arr, func(i, k int) bool { return arr[i].dist < arr[k].dist })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.Provider, 0, len(arr))
	for _, e := range arr {
		out = append(out, e.p)
	}
	return out, nil
}
