package tracing

import (
	"context"
	"time"

	"github.com/hiydavid/dbx-agent-on-app/internal/cache"
)

// JSONCache is the subset of cache.Manager the Redis store needs.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

const redisKeyPrefix = "agent_server:trace:"

// RedisStore shares finished traces between server replicas. Documents
// expire after ttl.
type RedisStore struct {
	cache JSONCache
	ttl   time.Duration
}

// NewRedisStore creates a RedisStore. The cache is owned by the caller.
func NewRedisStore(c JSONCache, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, doc *TraceDocument) error {
	return s.cache.SetJSON(ctx, redisKeyPrefix+doc.Info.TraceID, doc, s.ttl)
}

func (s *RedisStore) Load(ctx context.Context, traceID string) (*TraceDocument, error) {
	var doc TraceDocument
	if err := s.cache.GetJSON(ctx, redisKeyPrefix+traceID, &doc); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, ErrTraceNotFound(traceID)
		}
		return nil, err
	}
	return &doc, nil
}

func (s *RedisStore) Close() error { return nil }
