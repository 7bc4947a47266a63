package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
)

// RedisStore backs the local cache with a redis instance, for shared-cache
// deployments (lab/kiosk machines where several views talk to one local
// daemon). Each attempt's state is a single JSON blob; credentials live
// under a separate key with a TTL so they age out before the record does.
type RedisStore struct {
	rdb      *redis.Client
	tokenTTL time.Duration
	log      zerolog.Logger
}

// NewRedisStore connects and validates a redis client for the cache.
func NewRedisStore(ctx context.Context, redisURL string, tokenTTL time.Duration, log zerolog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("addr", opt.Addr).Int("db", opt.DB).Msg("Cache redis connected")

	return &RedisStore{
		rdb:      rdb,
		tokenTTL: tokenTTL,
		log:      log.With().Str("component", "localstore_redis").Logger(),
	}, nil
}

func (s *RedisStore) SaveLocal(ctx context.Context, attemptID string, partial model.PersistedPartial) error {
	key := CacheKey.AttemptStateKey(attemptID)

	state := &model.PersistedState{}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get existing record: %w", err)
	}
	if err == nil {
		// A corrupt record is replaced rather than kept poisoned.
		_ = json.Unmarshal(raw, state)
	}

	partial.ApplyTo(state)
	state.LastSavedAt = time.Now()

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.rdb.Set(ctx, key, blob, 0).Err(); err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	return nil
}

func (s *RedisStore) GetLocal(ctx context.Context, attemptID string) (*model.PersistedState, error) {
	raw, err := s.rdb.Get(ctx, CacheKey.AttemptStateKey(attemptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	state := &model.PersistedState{}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, nil
	}
	return state, nil
}

func (s *RedisStore) ClearLocal(ctx context.Context, attemptID string) error {
	return s.rdb.Del(ctx,
		CacheKey.AttemptStateKey(attemptID),
		CacheKey.SessionTokenKey(attemptID),
	).Err()
}

func (s *RedisStore) SaveSessionToken(ctx context.Context, attemptID, token string) error {
	return s.rdb.Set(ctx, CacheKey.SessionTokenKey(attemptID), token, s.tokenTTL).Err()
}

func (s *RedisStore) GetSessionToken(ctx context.Context, attemptID string) (string, error) {
	token, err := s.rdb.Get(ctx, CacheKey.SessionTokenKey(attemptID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) ClearStaleData(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	cleared := 0

	ids, err := s.ListAttemptIDs(ctx)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, CacheKey.AttemptStateKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return cleared, fmt.Errorf("get record %s: %w", id, err)
		}

		state := &model.PersistedState{}
		if err := json.Unmarshal(raw, state); err != nil || state.LastSavedAt.Before(cutoff) {
			if err := s.ClearLocal(ctx, id); err != nil {
				return cleared, err
			}
			cleared++
		}
	}
	return cleared, nil
}

func (s *RedisStore) ValidateAndCleanup(ctx context.Context, keepAttemptID string) (int, error) {
	ids, err := s.ListAttemptIDs(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, id := range ids {
		if keepAttemptID != "" && id == keepAttemptID {
			continue
		}
		if err := s.ClearLocal(ctx, id); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

func (s *RedisStore) ClearAllLocal(ctx context.Context) error {
	_, err := s.ValidateAndCleanup(ctx, "")
	return err
}

func (s *RedisStore) ListAttemptIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, CacheKey.AttemptStatePattern(), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, "attempt:"), ":cache")
		if id != "" && id != key {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan cache keys: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
