package geo

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/job-dispatch/internal/models"
)

// RedisJobIndex implements JobQuerier over Redis GEO commands. Each pending
// job is a member of the geo set keyed by pickup location, with the full job
// snapshot stored as JSON alongside it.
type RedisJobIndex struct {
	client *redis.Client
	key    string
}

func NewRedisJobIndex(client *redis.Client, key string) *RedisJobIndex {
	return &RedisJobIndex{client: client, key: key}
}

func (r *RedisJobIndex) Upsert(ctx context.Context, j models.Job) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: j.Pickup.Lng, Latitude: j.Pickup.Lat, Name: j.ID,
	}).Result(); err != nil {
		return err
	}
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, jobKey(j.ID), b, 0).Err()
}

// Remove drops a job from the index, typically once it leaves pending.
func (r *RedisJobIndex) Remove(ctx context.Context, id string) error {
	if err := r.client.ZRem(ctx, r.key, id).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, jobKey(id)).Err()
}

func (r *RedisJobIndex) QueryPendingJobs(ctx context.Context, center models.Coord, radiusKm float64, types []models.ServiceType) ([]models.Job, error) {
	locs, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	wanted := make(map[models.ServiceType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	out := make([]models.Job, 0, len(locs))
	for _, loc := range locs {
		raw, err := r.client.Get(ctx, jobKey(loc.Name)).Result()
		if err == redis.Nil {
			// index entry outlived the snapshot; treat as gone
			continue
		}
		if err != nil {
			return nil, err
		}
		var j models.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			continue
		}
		if j.Status != models.StatusPending || j.ClaimedBy != "" {
			continue
		}
		if len(wanted) > 0 && !wanted[j.ServiceType] {
			continue
		}
		j.DistanceKm = loc.Dist
		out = append(out, j)
	}
	return out, nil
}

func jobKey(id string) string { return "job:" + id }

// RedisProviderIndex holds provider positions in a geo set plus a metadata
// hash per provider, fed by the location consumer.
type RedisProviderIndex struct {
	client *redis.Client
	key    string
}

func NewRedisProviderIndex(client *redis.Client, key string) *RedisProviderIndex {
	return &RedisProviderIndex{client: client, key: key}
}

func (r *RedisProviderIndex) Upsert(ctx context.Context, p models.Provider) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: p.Location.Lng, Latitude: p.Location.Lat, Name: p.ID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, providerMetaKey(p.ID), map[string]interface{}{
		"online":  strconv.FormatBool(p.Online),
		"updated": time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

func (r *RedisProviderIndex) NearbyProviders(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]models.Provider, error) {
	locs, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Provider, 0, len(locs))
	for _, loc := range locs {
		p := models.Provider{ID: loc.Name}
		p.Location.Lat = loc.Latitude
		p.Location.Lng = loc.Longitude
		if m, err := r.client.HGetAll(ctx, providerMetaKey(loc.Name)).Result(); err == nil {
			p.Online = m["online"] == "true"
		}
		if !p.Online {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return HaversineKm(center, out[i].Location) < HaversineKm(center, out[j].Location)
	})
	return out, nil
}

func providerMetaKey(id string) string { return "provider:meta:" + id }
