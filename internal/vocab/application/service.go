package application

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"eqas-cloud/internal/audit"
	"eqas-cloud/internal/observability/metrics"
	vocab "eqas-cloud/internal/vocab/domain"
)

// Cache regions and key prefixes signalled after mutations.
const (
	RegionMappings     = "mappings"
	RegionMappingStats = "mapping-stats"
)

// VocabularyKey is the cache key of one vocabulary's mapping reads.
func VocabularyKey(id int64) string { return "vocab:" + strconv.FormatInt(id, 10) }

// TopicKey is the cache key of one topic's mapping reads.
func TopicKey(id int64) string { return "topic:" + strconv.FormatInt(id, 10) }

// PrimaryKey is the cache key of one vocabulary's primary mapping.
func PrimaryKey(id int64) string { return "primary:" + strconv.FormatInt(id, 10) }

// CacheInvalidator drops cached reads touched by a committed mutation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// NoopInvalidator ignores invalidation signals.
type NoopInvalidator struct{}

func (NoopInvalidator) Invalidate(context.Context, ...string) error { return nil }

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Option configures a service.
type Option func(*core)

// WithCache sets the cache invalidation hook.
func WithCache(cache CacheInvalidator) Option {
	return func(c *core) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithAuditLogger records every committed mutation.
func WithAuditLogger(logger audit.Logger) Option {
	return func(c *core) {
		c.audit = logger
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(c *core) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// core holds what both services share.
type core struct {
	store  vocab.Store
	cache  CacheInvalidator
	audit  audit.Logger
	logger *zap.Logger
	clock  Clock
}

func newCore(store vocab.Store, opts []Option) core {
	c := core{
		store:  store,
		cache:  NoopInvalidator{},
		logger: zap.NewNop(),
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// now is truncated to what Postgres timestamps keep.
func (c *core) now() time.Time {
	return c.clock.Now().UTC().Truncate(time.Microsecond)
}

// finish classifies err, logs storage failures and records the operation.
func (c *core) finish(op string, start time.Time, err error) error {
	metrics.ObserveOperation(op, metrics.Result(err), time.Since(start))
	if err == nil {
		return nil
	}
	err = vocab.Storage(op, err)
	if errors.Is(err, vocab.ErrStorage) {
		c.logger.Error("vocab operation failed", zap.String("operation", op), zap.Error(err))
	} else {
		c.logger.Debug("vocab operation rejected", zap.String("operation", op), zap.Error(err))
	}
	return err
}

// invalidate signals the cache after commit. Failures do not fail the
// operation.
func (c *core) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	err := c.cache.Invalidate(ctx, keys...)
	metrics.IncCacheInvalidation(metrics.Result(err))
	if err != nil {
		c.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (c *core) record(ctx context.Context, action, resourceType string, resourceID int64, metadata any) {
	if c.audit == nil {
		return
	}
	entry := audit.NewEntry(ctx, action, resourceType, strconv.FormatInt(resourceID, 10), metadata)
	if err := c.audit.Log(ctx, entry); err != nil {
		c.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

// mappingKeys lists the cache keys touched when mappings change.
func mappingKeys(mappings ...vocab.Mapping) []string {
	keys := []string{RegionMappings, RegionMappingStats}
	seen := make(map[string]struct{})
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, m := range mappings {
		add(VocabularyKey(m.VocabularyID))
		add(PrimaryKey(m.VocabularyID))
		add(TopicKey(m.TopicID))
	}
	return keys
}

// pairKeys is mappingKeys for pairs that may not exist as records.
func pairKeys(vocabIDs, topicIDs []int64) []string {
	var pairs []vocab.Mapping
	for _, v := range vocabIDs {
		for _, t := range topicIDs {
			pairs = append(pairs, vocab.Mapping{VocabularyID: v, TopicID: t})
		}
	}
	return mappingKeys(pairs...)
}

func orEmpty(mappings []vocab.Mapping) []vocab.Mapping {
	if mappings == nil {
		return []vocab.Mapping{}
	}
	return mappings
}
