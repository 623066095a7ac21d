package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eqas-cloud/internal/audit"
	vocab "eqas-cloud/internal/vocab/domain"
	"eqas-cloud/internal/vocab/infrastructure/memory"
)

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type recordingCache struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (c *recordingCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, keys...)
	return c.err
}

func (c *recordingCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (c *recordingCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
}

type fixture struct {
	store    vocab.Store
	mappings *MappingService
	catalog  *CatalogService
	cache    *recordingCache
	audit    *audit.MemoryLog
	clock    *stepClock
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, memory.NewStore(), time.Second)
}

func newFixtureWithStore(t *testing.T, store vocab.Store, step time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store: store,
		cache: &recordingCache{},
		audit: audit.NewMemoryLog(0),
		clock: &stepClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), step: step},
	}
	opts := []Option{
		WithCache(f.cache),
		WithAuditLogger(f.audit),
		WithLogger(zap.NewNop()),
		WithClock(f.clock),
	}
	var err error
	f.mappings, err = NewMappingService(store, opts...)
	require.NoError(t, err)
	f.catalog, err = NewCatalogService(store, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) vocabulary(t *testing.T, headword string) int64 {
	t.Helper()
	entry, err := f.catalog.CreateVocabulary(context.Background(), vocab.Vocabulary{Headword: headword, CEFRLevel: "B1"})
	require.NoError(t, err)
	return entry.ID
}

func (f *fixture) topic(t *testing.T, code string) int64 {
	t.Helper()
	topic, err := f.catalog.CreateTopic(context.Background(), vocab.Topic{Code: code, NameZh: code})
	require.NoError(t, err)
	return topic.ID
}

// assertInvariants checks pair uniqueness, at most one primary per
// vocabulary and that every mapping references existing rows.
func assertInvariants(t *testing.T, store vocab.Store) {
	t.Helper()
	ctx := context.Background()
	vocabIDs, err := store.Vocabularies().IDs(ctx)
	require.NoError(t, err)
	topicIDs, err := store.Topics().IDs(ctx)
	require.NoError(t, err)
	topics := make(map[int64]bool, len(topicIDs))
	for _, id := range topicIDs {
		topics[id] = true
	}

	seen := 0
	for _, vocabID := range vocabIDs {
		mappings, err := store.Mappings().ListByVocabulary(ctx, vocabID)
		require.NoError(t, err)
		pairs := make(map[int64]bool)
		primaries := 0
		for _, m := range mappings {
			require.False(t, pairs[m.TopicID], "duplicate pair (%d, %d)", vocabID, m.TopicID)
			pairs[m.TopicID] = true
			require.True(t, topics[m.TopicID], "mapping %d references missing topic %d", m.ID, m.TopicID)
			if m.IsPrimary {
				primaries++
			}
		}
		require.LessOrEqual(t, primaries, 1, "vocabulary %d has %d primaries", vocabID, primaries)
		seen += len(mappings)
	}
	counts, err := store.Mappings().Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(seen), counts.Total, "mappings reference missing vocabularies")
}

// failingStore fails SetPrimary for one vocabulary.
type failingStore struct {
	*memory.Store
	failVocab int64
}

func (s failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos vocab.Repositories) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		return fn(ctx, failingRepos{Repositories: repos, failVocab: s.failVocab})
	})
}

type failingRepos struct {
	vocab.Repositories
	failVocab int64
}

func (r failingRepos) Mappings() vocab.MappingRepository {
	return failingMappings{MappingRepository: r.Repositories.Mappings(), failVocab: r.failVocab}
}

type failingMappings struct {
	vocab.MappingRepository
	failVocab int64
}

var errDiskFull = errors.New("disk full")

func (m failingMappings) SetPrimary(ctx context.Context, id int64, primary bool, at time.Time) error {
	current, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if current != nil && current.VocabularyID == m.failVocab {
		return errDiskFull
	}
	return m.MappingRepository.SetPrimary(ctx, id, primary, at)
}
