package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vocab "eqas-cloud/internal/vocab/domain"
)

func TestCreateVocabulary_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.CreateVocabulary(ctx, vocab.Vocabulary{})
	require.ErrorIs(t, err, vocab.ErrValidation)

	_, err = f.catalog.CreateVocabulary(ctx, vocab.Vocabulary{Headword: "yaw", CEFRLevel: "D1"})
	require.ErrorIs(t, err, vocab.ErrValidation)
	assert.Contains(t, err.Error(), "cefrLevel")

	created, err := f.catalog.CreateVocabulary(ctx, vocab.Vocabulary{Headword: "yaw", POS: "noun", DifficultyLevel: 2})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	loaded, err := f.catalog.GetVocabulary(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "yaw", loaded.Headword)

	_, err = f.catalog.GetVocabulary(ctx, created.ID+1)
	require.ErrorIs(t, err, vocab.ErrNotFound)
}

func TestUpdateVocabulary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.vocabulary(t, "pitch")

	updated, err := f.catalog.UpdateVocabulary(ctx, id, vocab.Vocabulary{Headword: "pitch", DefinitionEn: "nose up or down"})
	require.NoError(t, err)
	assert.Equal(t, id, updated.ID)

	_, err = f.catalog.UpdateVocabulary(ctx, id+10, vocab.Vocabulary{Headword: "roll"})
	require.ErrorIs(t, err, vocab.ErrNotFound)
}

func TestDeleteVocabulary_CascadesMappings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.vocabulary(t, "aileron")
	keep := f.vocabulary(t, "rudder")
	t1 := f.topic(t, "CONTROLS")
	t2 := f.topic(t, "AIRFRAME")
	_, err := f.mappings.AddTopicsToVocabulary(ctx, v, []int64{t1, t2}, &t1)
	require.NoError(t, err)
	_, err = f.mappings.CreateMapping(ctx, MappingInput{VocabularyID: keep, TopicID: t1, IsPrimary: true})
	require.NoError(t, err)

	f.cache.reset()
	require.NoError(t, f.catalog.DeleteVocabulary(ctx, v))
	assert.True(t, f.cache.has(VocabularyKey(v)))
	assert.True(t, f.cache.has(TopicKey(t2)))

	left, err := f.mappings.MappingsByVocabulary(ctx, v)
	require.NoError(t, err)
	assert.Empty(t, left)
	byTopic, err := f.mappings.MappingsByTopic(ctx, t1)
	require.NoError(t, err)
	require.Len(t, byTopic, 1)
	assert.Equal(t, keep, byTopic[0].VocabularyID)

	require.ErrorIs(t, f.catalog.DeleteVocabulary(ctx, v), vocab.ErrNotFound)
	assertInvariants(t, f.store)
}

func TestDeleteVocabularies_Batch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v1 := f.vocabulary(t, "v1")
	v2 := f.vocabulary(t, "v2")
	topic := f.topic(t, "BATCH")
	_, err := f.mappings.AddVocabulariesToTopic(ctx, topic, []int64{v1, v2}, true)
	require.NoError(t, err)

	count, err := f.catalog.DeleteVocabularies(ctx, []int64{v1, v2, 999, v1})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	counts, err := f.store.Mappings().Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)

	_, err = f.catalog.DeleteVocabularies(ctx, nil)
	require.ErrorIs(t, err, vocab.ErrValidation)
}

func TestTopicCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.catalog.CreateTopic(ctx, vocab.Topic{Code: "ATC", NameZh: "空管", DisplayOrder: 2})
	require.NoError(t, err)
	_, err = f.catalog.CreateTopic(ctx, vocab.Topic{Code: "ATC", NameZh: "重复"})
	require.ErrorIs(t, err, vocab.ErrConflict)

	missingParent := int64(404)
	_, err = f.catalog.CreateTopic(ctx, vocab.Topic{Code: "ORPHAN", NameZh: "孤儿", ParentID: &missingParent})
	require.ErrorIs(t, err, vocab.ErrValidation)

	child, err := f.catalog.CreateTopic(ctx, vocab.Topic{Code: "TOWER", NameZh: "塔台", ParentID: &root.ID})
	require.NoError(t, err)
	grandchild, err := f.catalog.CreateTopic(ctx, vocab.Topic{Code: "TAXI", NameZh: "滑行", ParentID: &child.ID})
	require.NoError(t, err)
	other, err := f.catalog.CreateTopic(ctx, vocab.Topic{Code: "WX", NameZh: "天气", DisplayOrder: 1})
	require.NoError(t, err)

	loaded, err := f.catalog.GetTopic(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "TOWER", loaded.Code)

	// root -> child -> grandchild; making root a child of grandchild closes a loop.
	_, err = f.catalog.UpdateTopic(ctx, root.ID, vocab.Topic{Code: "ATC", NameZh: "空管", ParentID: &grandchild.ID})
	require.ErrorIs(t, err, vocab.ErrValidation)
	_, err = f.catalog.UpdateTopic(ctx, root.ID, vocab.Topic{Code: "ATC", NameZh: "空管", ParentID: &root.ID})
	require.ErrorIs(t, err, vocab.ErrValidation)

	roots, err := f.catalog.RootTopics(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, other.ID, roots[0].ID, "roots follow display order")

	children, err := f.catalog.TopicChildren(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	tree, err := f.catalog.TopicHierarchy(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	require.Len(t, tree[1].Children, 1)
	assert.Equal(t, grandchild.ID, tree[1].Children[0].Children[0].ID)

	updated, err := f.catalog.UpdateTopic(ctx, other.ID, vocab.Topic{Code: "WX", NameZh: "天气", ParentID: &root.ID})
	require.NoError(t, err)
	assert.Equal(t, root.ID, *updated.ParentID)

	_, err = f.catalog.UpdateTopic(ctx, 999, vocab.Topic{Code: "NONE", NameZh: "无"})
	require.ErrorIs(t, err, vocab.ErrNotFound)
}

func TestDeleteTopic_CascadesAndDetachesChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent, err := f.catalog.CreateTopic(ctx, vocab.Topic{Code: "PARENT", NameZh: "父"})
	require.NoError(t, err)
	child, err := f.catalog.CreateTopic(ctx, vocab.Topic{Code: "CHILD", NameZh: "子", ParentID: &parent.ID})
	require.NoError(t, err)
	v := f.vocabulary(t, "beacon")
	_, err = f.mappings.AddTopicsToVocabulary(ctx, v, []int64{parent.ID, child.ID}, &parent.ID)
	require.NoError(t, err)

	require.NoError(t, f.catalog.DeleteTopic(ctx, parent.ID))

	mappings, err := f.mappings.MappingsByVocabulary(ctx, v)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, child.ID, mappings[0].TopicID)

	report, err := f.mappings.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.VocabulariesWithoutPrimary, v)

	orphan, err := f.catalog.GetTopic(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan.ParentID)

	require.ErrorIs(t, f.catalog.DeleteTopic(ctx, parent.ID), vocab.ErrNotFound)

	count, err := f.catalog.DeleteTopics(ctx, []int64{child.ID, 12345})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assertInvariants(t, f.store)
}

func TestCreateVocabularies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.CreateVocabularies(ctx, nil)
	require.ErrorIs(t, err, vocab.ErrValidation)

	_, err = f.catalog.CreateVocabularies(ctx, []vocab.Vocabulary{{Headword: "flare"}, {}})
	var verr *vocab.ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotEmpty(t, verr.Problems)
	for _, problem := range verr.Problems {
		assert.Contains(t, problem, "[1]")
	}
	ids, err := f.store.Vocabularies().IDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "nothing is written when one entry is invalid")

	created, err := f.catalog.CreateVocabularies(ctx, []vocab.Vocabulary{
		{ID: 77, Headword: "flare", CEFRLevel: "B2"},
		{Headword: "touchdown"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.NotEqual(t, int64(77), created[0].ID)
	assert.NotEqual(t, created[0].ID, created[1].ID)

	loaded, err := f.catalog.GetVocabulary(ctx, created[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "touchdown", loaded.Headword)
}

func TestCreateTopics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.topic(t, "WX")

	created, err := f.catalog.CreateTopics(ctx, []vocab.Topic{
		{Code: "WX.WIND", NameZh: "wind", ParentID: &parent},
		{Code: "WX.VIS", NameZh: "visibility", ParentID: &parent},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	children, err := f.catalog.TopicChildren(ctx, parent)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	missing := int64(404)
	_, err = f.catalog.CreateTopics(ctx, []vocab.Topic{
		{Code: "WX.CLOUD", NameZh: "cloud", ParentID: &parent},
		{Code: "WX.ICE", NameZh: "icing", ParentID: &missing},
	})
	var verr *vocab.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []int64{missing}, verr.InvalidTopicIDs)

	_, err = f.catalog.CreateTopics(ctx, []vocab.Topic{
		{Code: "WX.CLOUD", NameZh: "cloud"},
		{Code: "WX.WIND", NameZh: "duplicate"},
	})
	require.ErrorIs(t, err, vocab.ErrConflict)
	_, err = f.catalog.TopicByCode(ctx, "WX.CLOUD")
	assert.ErrorIs(t, err, vocab.ErrNotFound, "the batch rolls back as a whole")

	_, err = f.catalog.CreateTopics(ctx, nil)
	assert.ErrorIs(t, err, vocab.ErrValidation)
}

func TestTopicByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.topic(t, "RWY")

	topic, err := f.catalog.TopicByCode(ctx, "RWY")
	require.NoError(t, err)
	assert.Equal(t, id, topic.ID)

	_, err = f.catalog.TopicByCode(ctx, "TWY")
	require.ErrorIs(t, err, vocab.ErrNotFound)
	assert.Contains(t, err.Error(), `"TWY"`)

	_, err = f.catalog.TopicByCode(ctx, "")
	assert.ErrorIs(t, err, vocab.ErrValidation)
}
