package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// invalidationChannel is the pub/sub channel cross-process cache
// invalidation hints are published on.
const invalidationChannel = "anima:embedding_cache:invalidate"

// HintBus is the optional L2 backing for the embedding cache: a
// process-local LRU has no way to learn that another process just merged
// a memory out from under a fingerprint it cached, so a merge publishes
// an invalidation hint here and every process subscribed evicts the
// stale entry.
type HintBus struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewHintBus creates a HintBus from a Redis connection URL. Returns an
// error if the URL cannot be parsed; a failed Redis connection itself
// only surfaces once Publish/Subscribe are used, since the cache must
// keep working with the hint bus absent entirely.
func NewHintBus(redisURL string, logger zerolog.Logger) (*HintBus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &HintBus{
		client: redis.NewClient(opt),
		logger: logger.With().Str("component", "embedding_cache_hintbus").Logger(),
	}, nil
}

// Ping checks Redis connectivity.
func (h *HintBus) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.client.Ping(ctx).Err()
}

// Publish announces that fingerprint should be evicted from every
// subscriber's local cache.
func (h *HintBus) Publish(ctx context.Context, fingerprint string) error {
	return h.client.Publish(ctx, invalidationChannel, fingerprint).Err()
}

// Subscribe starts a background goroutine that invalidates entries in
// cache as hints arrive, until ctx is canceled or the subscription's
// message channel closes. Subscription errors are neither returned nor
// logged, and the goroutine does not re-subscribe; once it exits, the
// cache runs without cross-process invalidation.
func (h *HintBus) Subscribe(ctx context.Context, cache *Cache) {
	sub := h.client.Subscribe(ctx, invalidationChannel)
	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				cache.Invalidate(msg.Payload)
			}
		}
	}()
}

// Close releases the underlying Redis connection.
func (h *HintBus) Close() error {
	return h.client.Close()
}
