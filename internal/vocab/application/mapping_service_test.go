package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vocab "eqas-cloud/internal/vocab/domain"
	"eqas-cloud/internal/vocab/infrastructure/memory"
)

func TestNewMappingService_NilStore(t *testing.T) {
	_, err := NewMappingService(nil)
	require.Error(t, err)
}

func TestCreateMapping_UnknownReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "runway")
	topic := f.topic(t, "AIRPORT")

	_, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v + 100, TopicID: topic})
	require.ErrorIs(t, err, vocab.ErrNotFound)
	var nf *vocab.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, vocab.ResourceVocabulary, nf.Resource)

	_, err = f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: topic + 100})
	require.ErrorIs(t, err, vocab.ErrNotFound)
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, vocab.ResourceTopic, nf.Resource)

	_, err = f.mappings.CreateMapping(ctx, MappingInput{TopicID: topic})
	require.ErrorIs(t, err, vocab.ErrValidation)
}

func TestCreateMapping_PrimaryDemotesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "taxiway")
	t1 := f.topic(t, "GROUND")
	t2 := f.topic(t, "AIRPORT")

	first, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: t1, IsPrimary: true})
	require.NoError(t, err)
	f.cache.reset()
	second, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: t2, IsPrimary: true})
	require.NoError(t, err)

	primary, err := f.mappings.PrimaryMapping(ctx, v)
	require.NoError(t, err)
	require.NotNil(t, primary)
	assert.Equal(t, second.ID, primary.ID)

	old, err := f.mappings.GetMapping(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsPrimary)
	assert.True(t, f.cache.has(TopicKey(t1)), "demoted mapping's topic must be invalidated")
	assert.True(t, f.cache.has(PrimaryKey(v)))
	assertInvariants(t, f.store)
}

func TestCreateMapping_DuplicatePairConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "squawk")
	topic := f.topic(t, "RADIO")

	_, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: topic, IsPrimary: true})
	require.NoError(t, err)
	_, err = f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: topic, IsPrimary: true})
	require.ErrorIs(t, err, vocab.ErrConflict)

	mappings, err := f.mappings.MappingsByVocabulary(ctx, v)
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
	assert.True(t, mappings[0].IsPrimary)
}

func TestGetMapping_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.mappings.GetMapping(context.Background(), 42)
	require.ErrorIs(t, err, vocab.ErrNotFound)
}

func TestUpdateMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "clearance")
	t1 := f.topic(t, "ATC")
	t2 := f.topic(t, "DEPARTURE")
	t3 := f.topic(t, "ARRIVAL")

	m1, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: t1, IsPrimary: true})
	require.NoError(t, err)
	m2, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: t2})
	require.NoError(t, err)

	primary := true
	updated, err := f.mappings.UpdateMapping(ctx, m2.ID, MappingUpdate{IsPrimary: &primary})
	require.NoError(t, err)
	assert.True(t, updated.IsPrimary)
	assert.Equal(t, m2.CreatedAt, updated.CreatedAt)

	old, err := f.mappings.GetMapping(ctx, m1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsPrimary)

	moveTo := t1
	_, err = f.mappings.UpdateMapping(ctx, m2.ID, MappingUpdate{TopicID: &moveTo})
	require.ErrorIs(t, err, vocab.ErrConflict)

	moveTo = t3
	moved, err := f.mappings.UpdateMapping(ctx, m2.ID, MappingUpdate{TopicID: &moveTo})
	require.NoError(t, err)
	assert.Equal(t, t3, moved.TopicID)
	assert.True(t, moved.IsPrimary)

	missing := int64(999)
	_, err = f.mappings.UpdateMapping(ctx, m2.ID, MappingUpdate{TopicID: &missing})
	require.ErrorIs(t, err, vocab.ErrNotFound)

	_, err = f.mappings.UpdateMapping(ctx, 999, MappingUpdate{IsPrimary: &primary})
	require.ErrorIs(t, err, vocab.ErrNotFound)

	negative := int64(-1)
	_, err = f.mappings.UpdateMapping(ctx, m2.ID, MappingUpdate{VocabularyID: &negative})
	require.ErrorIs(t, err, vocab.ErrValidation)
	assertInvariants(t, f.store)
}

func TestUpdateMapping_MovingPrimaryToAnotherVocabulary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.vocabulary(t, "flap")
	v2 := f.vocabulary(t, "slat")
	t1 := f.topic(t, "AIRFRAME")
	t2 := f.topic(t, "CONTROLS")

	moving, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v1, TopicID: t1, IsPrimary: true})
	require.NoError(t, err)
	resident, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v2, TopicID: t2, IsPrimary: true})
	require.NoError(t, err)

	_, err = f.mappings.UpdateMapping(ctx, moving.ID, MappingUpdate{VocabularyID: &v2})
	require.NoError(t, err)

	primary, err := f.mappings.PrimaryMapping(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, moving.ID, primary.ID)
	demoted, err := f.mappings.GetMapping(ctx, resident.ID)
	require.NoError(t, err)
	assert.False(t, demoted.IsPrimary)
	assertInvariants(t, f.store)
}

func TestDeleteMapping_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "holding")
	topic := f.topic(t, "PROCEDURES")
	m, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: topic, IsPrimary: true})
	require.NoError(t, err)

	require.NoError(t, f.mappings.DeleteMapping(ctx, m.ID))
	require.NoError(t, f.mappings.DeleteMapping(ctx, m.ID))

	primary, err := f.mappings.PrimaryMapping(ctx, v)
	require.NoError(t, err)
	assert.Nil(t, primary)

	var deletes int
	for _, entry := range f.audit.Entries() {
		if entry.Action == "mapping.delete" {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)
}

func TestMappingsByVocabulary_InsertionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "altimeter")
	t1 := f.topic(t, "INSTRUMENTS")
	t2 := f.topic(t, "WEATHER")

	_, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: t2})
	require.NoError(t, err)
	_, err = f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: t1})
	require.NoError(t, err)

	mappings, err := f.mappings.MappingsByVocabulary(ctx, v)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, t2, mappings[0].TopicID)
	assert.Equal(t, t1, mappings[1].TopicID)

	byTopic, err := f.mappings.MappingsByTopic(ctx, t1)
	require.NoError(t, err)
	require.Len(t, byTopic, 1)

	empty, err := f.mappings.MappingsByVocabulary(ctx, 9999)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestListMappings_Paged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := f.topic(t, "NAVIGATION")
	for _, word := range []string{"heading", "bearing", "radial"} {
		v := f.vocabulary(t, word)
		_, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: topic})
		require.NoError(t, err)
	}

	page, err := f.mappings.ListMappings(ctx, vocab.PageRequest{Page: 0, Size: 2, Sort: "id"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Content, 2)
	assert.Greater(t, page.Content[0].ID, page.Content[1].ID)

	page, err = f.mappings.ListMappings(ctx, vocab.PageRequest{Page: 1, Size: 2, Sort: "id", Ascending: true})
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	assert.Equal(t, int64(3), page.Content[0].ID)
}

func TestSetPrimaryTopic_SwitchesAndPromotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.vocabulary(t, "mayday")
	t1 := f.topic(t, "EMERGENCY")
	t2 := f.topic(t, "RADIO")

	primaryTopic := t1
	_, err := f.mappings.AddTopicsToVocabulary(ctx, v1, []int64{t1, t2}, &primaryTopic)
	require.NoError(t, err)

	mappings, err := f.mappings.MappingsByVocabulary(ctx, v1)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	var primaries []vocab.Mapping
	for _, m := range mappings {
		if m.IsPrimary {
			primaries = append(primaries, m)
		}
	}
	require.Len(t, primaries, 1)
	assert.Equal(t, t1, primaries[0].TopicID)

	promoted, err := f.mappings.SetPrimaryTopic(ctx, v1, t2)
	require.NoError(t, err)
	assert.Equal(t, t2, promoted.TopicID)
	assert.True(t, promoted.IsPrimary)

	mappings, err = f.mappings.MappingsByVocabulary(ctx, v1)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	for _, m := range mappings {
		assert.Equal(t, m.TopicID == t2, m.IsPrimary, "topic %d", m.TopicID)
	}
	assertInvariants(t, f.store)
}

func TestSetPrimaryTopic_CreatesMissingPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "go-around")
	t1 := f.topic(t, "LANDING")
	t2 := f.topic(t, "MISSED_APPROACH")

	_, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: t1, IsPrimary: true})
	require.NoError(t, err)
	created, err := f.mappings.SetPrimaryTopic(ctx, v, t2)
	require.NoError(t, err)
	assert.True(t, created.IsPrimary)
	assert.NotZero(t, created.ID)

	_, err = f.mappings.SetPrimaryTopic(ctx, v, 999)
	require.ErrorIs(t, err, vocab.ErrNotFound)
	_, err = f.mappings.SetPrimaryTopic(ctx, 999, t1)
	require.ErrorIs(t, err, vocab.ErrNotFound)

	primary, err := f.mappings.PrimaryMapping(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, created.ID, primary.ID)
	assertInvariants(t, f.store)
}

func TestSetPrimaryTopic_ConcurrentWritersKeepOnePrimary(t *testing.T) {
	f := newFixtureWithStore(t, memory.NewStore(), time.Millisecond)
	ctx := context.Background()
	v := f.vocabulary(t, "wind shear")
	var topics []int64
	for _, code := range []string{"WEATHER", "HAZARDS", "APPROACH", "TAKEOFF", "PERFORMANCE"} {
		topics = append(topics, f.topic(t, code))
	}

	stop := make(chan struct{})
	var readerErr error
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			primaries, err := f.store.Mappings().ListPrimaries(ctx, v)
			if err != nil || len(primaries) > 1 {
				readerErr = errors.New("reader observed a broken primary state")
				return
			}
		}
	}()

	var writers sync.WaitGroup
	for i := 0; i < 40; i++ {
		writers.Add(1)
		go func(topicID int64) {
			defer writers.Done()
			_, err := f.mappings.SetPrimaryTopic(ctx, v, topicID)
			assert.NoError(t, err)
		}(topics[i%len(topics)])
	}
	writers.Wait()
	close(stop)
	readers.Wait()
	require.NoError(t, readerErr)

	primaries, err := f.store.Mappings().ListPrimaries(ctx, v)
	require.NoError(t, err)
	assert.Len(t, primaries, 1)
	assertInvariants(t, f.store)
}

func TestCacheFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.cache.err = errors.New("redis down")
	ctx := context.Background()
	v := f.vocabulary(t, "ceiling")
	topic := f.topic(t, "WEATHER")

	m, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: topic, IsPrimary: true})
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.True(t, f.cache.has(RegionMappings))
}

func TestMutationsAreAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "transponder")
	topic := f.topic(t, "AVIONICS")

	m, err := f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: v, TopicID: topic})
	require.NoError(t, err)

	var found bool
	for _, entry := range f.audit.Entries() {
		if entry.Action == "mapping.create" {
			found = true
			assert.Equal(t, vocab.ResourceMapping, entry.ResourceType)
			assert.NotEmpty(t, entry.PayloadDigest)
			assert.Contains(t, string(entry.Metadata), `"vocabId"`)
		}
	}
	assert.True(t, found)
	assert.NotZero(t, m.ID)
}
