package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores the checkpoint as a single JSON value. SET replaces the
// value atomically, which gives the same crash guarantee as the file rename.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(addr, key string) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
}

func (r *RedisBackend) Load(ctx context.Context) (*State, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return NewState(), nil
	}
	if err != nil {
		return nil, err
	}

	state := NewState()
	if err := json.Unmarshal([]byte(val), state); err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrCorrupt, r.key, err)
	}

	return state, nil
}

func (r *RedisBackend) Persist(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, 0).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
