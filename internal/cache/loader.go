package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"hawker-score/internal/metrics"
)

// Loader fronts a Cache with singleflight so concurrent misses on the same
// key run the fill function once
type Loader struct {
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewLoader creates a Loader storing entries for ttl
func NewLoader(c Cache, ttl time.Duration, logger *zap.Logger) *Loader {
	return &Loader{cache: c, ttl: ttl, logger: logger}
}

// GetOrLoad returns the cached value for key, calling fill on a miss.
// Cache backend errors are logged and treated as misses.
func (l *Loader) GetOrLoad(ctx context.Context, key, metric string, fill func(context.Context) ([]byte, error)) ([]byte, error) {
	data, err := l.cache.Get(ctx, key)
	if err == nil {
		metrics.CacheHitsTotal.WithLabelValues(metric).Inc()
		return data, nil
	}
	if !errors.Is(err, ErrMiss) {
		l.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	metrics.CacheMissesTotal.WithLabelValues(metric).Inc()

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		data, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(ctx, key, data, l.ttl); err != nil {
			l.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops every entry under prefix
func (l *Loader) Invalidate(ctx context.Context, prefix string) error {
	return l.cache.DeletePrefix(ctx, prefix)
}
