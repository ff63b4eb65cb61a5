package realtime

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the durable offline-queue implementation: one hash keyed by
// entry id so removal stays O(1); ordering is restored from EnqueuedAt.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Append(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.client.HSet(ctx, q.key, e.ID, b).Err()
}

func (q *RedisQueue) List(ctx context.Context) ([]Entry, error) {
	m, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(m))
	for _, raw := range m {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (q *RedisQueue) Remove(ctx context.Context, id string) error {
	return q.client.HDel(ctx, q.key, id).Err()
}
