package desk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxUpdateAttempts = 16

// RedisStore keeps desk state as JSON in Redis. Keys expire after the configured TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore. A non-positive ttl keeps keys without expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (State, error) {
	return s.read(ctx, s.client, s.key(id))
}

// Update implements Store using WATCH/MULTI and retries when the key changes concurrently.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*State) error) (State, error) {
	key := s.key(id)
	var result State
	txf := func(tx *redis.Tx) error {
		st, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("desk: encode state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.expiry())
			return nil
		})
		if err == nil {
			result = st
		}
		return err
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, err
	}
	return State{}, ErrStoreContention
}

func (s *RedisStore) read(ctx context.Context, getter redis.StringCmdable, key string) (State, error) {
	payload, err := getter.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return NewState(), nil
		}
		return State{}, err
	}
	st := NewState()
	if err := json.Unmarshal(payload, &st); err != nil {
		return State{}, fmt.Errorf("desk: decode state: %w", err)
	}
	if st.Rows == nil {
		st.Rows = []Row{}
	}
	return st, nil
}

func (s *RedisStore) expiry() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	return s.ttl
}

func (s *RedisStore) key(id string) string {
	return "desk:" + id
}
