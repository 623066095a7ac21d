package application

import (
	"context"
	"errors"
	"time"

	vocab "eqas-cloud/internal/vocab/domain"
)

const (
	opCreateVocabulary   = "create_vocabulary"
	opGetVocabulary      = "get_vocabulary"
	opUpdateVocabulary   = "update_vocabulary"
	opDeleteVocabulary   = "delete_vocabulary"
	opDeleteVocabularies = "delete_vocabularies"
	opCreateVocabularies = "create_vocabularies"
	opCreateTopic        = "create_topic"
	opCreateTopics       = "create_topics"
	opGetTopic           = "get_topic"
	opTopicByCode        = "topic_by_code"
	opUpdateTopic        = "update_topic"
	opDeleteTopic        = "delete_topic"
	opDeleteTopics       = "delete_topics"
	opTopicChildren      = "topic_children"
	opRootTopics         = "root_topics"
	opTopicHierarchy     = "topic_hierarchy"
)

// CatalogService owns vocabulary entries and topics. Deleting either removes
// its mappings in the same transaction.
type CatalogService struct {
	core
}

// NewCatalogService constructs the service.
func NewCatalogService(store vocab.Store, opts ...Option) (*CatalogService, error) {
	if store == nil {
		return nil, errors.New("catalog service: nil store")
	}
	return &CatalogService{core: newCore(store, opts)}, nil
}

// CreateVocabulary stores a new vocabulary entry.
func (s *CatalogService) CreateVocabulary(ctx context.Context, in vocab.Vocabulary) (result *vocab.Vocabulary, err error) {
	start := time.Now()
	defer func() { err = s.finish(opCreateVocabulary, start, err) }()

	in.ID = 0
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	in.CreatedAt, in.UpdatedAt = now, now
	if err := s.store.Vocabularies().Create(ctx, &in); err != nil {
		return nil, err
	}
	s.invalidate(ctx, RegionMappingStats)
	s.record(ctx, "vocabulary.create", vocab.ResourceVocabulary, in.ID, in)
	return &in, nil
}

// CreateVocabularies stores entries in one transaction and returns them in
// input order. Every invalid entry is reported, prefixed by its index.
func (s *CatalogService) CreateVocabularies(ctx context.Context, in []vocab.Vocabulary) (result []vocab.Vocabulary, err error) {
	start := time.Now()
	defer func() { err = s.finish(opCreateVocabularies, start, err) }()

	if len(in) == 0 {
		return nil, vocab.NewValidationError("vocabularies must not be empty")
	}
	verr := &vocab.ValidationError{}
	entries := make([]vocab.Vocabulary, len(in))
	for i, entry := range in {
		entry.ID = 0
		collectProblems(verr, i, entry.Validate())
		entries[i] = entry
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	now := s.now()
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		for i := range entries {
			entries[i].ID = 0
			entries[i].CreatedAt, entries[i].UpdatedAt = now, now
			if err := repos.Vocabularies().Create(ctx, &entries[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, RegionMappingStats)
	s.record(ctx, "vocabulary.create_batch", vocab.ResourceVocabulary, 0, map[string]any{"count": len(entries)})
	return entries, nil
}

// collectProblems copies the problems of one batch element into verr.
func collectProblems(verr *vocab.ValidationError, index int, err error) {
	if err == nil {
		return
	}
	var item *vocab.ValidationError
	if !errors.As(err, &item) {
		verr.Add("[%d] %v", index, err)
		return
	}
	for _, problem := range item.Problems {
		verr.Add("[%d] %s", index, problem)
	}
}

// GetVocabulary loads a vocabulary entry.
func (s *CatalogService) GetVocabulary(ctx context.Context, id int64) (result *vocab.Vocabulary, err error) {
	start := time.Now()
	defer func() { err = s.finish(opGetVocabulary, start, err) }()

	entry, err := s.store.Vocabularies().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &vocab.NotFoundError{Resource: vocab.ResourceVocabulary, ID: id}
	}
	return entry, nil
}

// UpdateVocabulary overwrites the content fields of an entry.
func (s *CatalogService) UpdateVocabulary(ctx context.Context, id int64, in vocab.Vocabulary) (result *vocab.Vocabulary, err error) {
	start := time.Now()
	defer func() { err = s.finish(opUpdateVocabulary, start, err) }()

	in.ID = id
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.UpdatedAt = s.now()
	if err := s.store.Vocabularies().Update(ctx, &in); err != nil {
		return nil, err
	}
	s.record(ctx, "vocabulary.update", vocab.ResourceVocabulary, id, in)
	return &in, nil
}

// DeleteVocabulary removes an entry and its mappings.
func (s *CatalogService) DeleteVocabulary(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { err = s.finish(opDeleteVocabulary, start, err) }()

	removed, deleted, err := s.deleteVocabularies(ctx, []int64{id})
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return &vocab.NotFoundError{Resource: vocab.ResourceVocabulary, ID: id}
	}
	s.afterVocabularyDelete(ctx, deleted, removed)
	s.record(ctx, "vocabulary.delete", vocab.ResourceVocabulary, id, map[string]any{"mappingsRemoved": len(removed)})
	return nil
}

// DeleteVocabularies removes entries and their mappings in one transaction.
// Unknown ids are ignored; the number of deleted entries is returned.
func (s *CatalogService) DeleteVocabularies(ctx context.Context, ids []int64) (count int, err error) {
	start := time.Now()
	defer func() { err = s.finish(opDeleteVocabularies, start, err) }()

	verr := &vocab.ValidationError{}
	unique := batchIDs(ids, "ids", verr, &verr.InvalidVocabularyIDs)
	if !verr.Empty() {
		return 0, verr
	}
	removed, deleted, err := s.deleteVocabularies(ctx, unique)
	if err != nil {
		return 0, err
	}
	s.afterVocabularyDelete(ctx, deleted, removed)
	if len(deleted) > 0 {
		s.record(ctx, "vocabulary.delete_batch", vocab.ResourceVocabulary, 0, map[string]any{
			"ids":             deleted,
			"mappingsRemoved": len(removed),
		})
	}
	return len(deleted), nil
}

func (s *CatalogService) deleteVocabularies(ctx context.Context, ids []int64) (removed []vocab.Mapping, deleted []int64, err error) {
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		removed, deleted = nil, nil
		missing, err := repos.Vocabularies().Lock(ctx, vocab.SortedIDs(ids))
		if err != nil {
			return err
		}
		absent := make(map[int64]struct{}, len(missing))
		for _, id := range missing {
			absent[id] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := absent[id]; ok {
				continue
			}
			mappings, err := repos.Mappings().ListByVocabulary(ctx, id)
			if err != nil {
				return err
			}
			if _, err := repos.Mappings().DeleteByVocabulary(ctx, id); err != nil {
				return err
			}
			ok, err := repos.Vocabularies().Delete(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				removed = append(removed, mappings...)
				deleted = append(deleted, id)
			}
		}
		return nil
	})
	return removed, deleted, err
}

func (s *CatalogService) afterVocabularyDelete(ctx context.Context, deleted []int64, removed []vocab.Mapping) {
	if len(deleted) == 0 {
		return
	}
	keys := mappingKeys(removed...)
	for _, id := range deleted {
		keys = append(keys, VocabularyKey(id), PrimaryKey(id))
	}
	s.invalidate(ctx, keys...)
}

// CreateTopic stores a new topic. The parent, when set, must exist.
func (s *CatalogService) CreateTopic(ctx context.Context, in vocab.Topic) (result *vocab.Topic, err error) {
	start := time.Now()
	defer func() { err = s.finish(opCreateTopic, start, err) }()

	in.ID = 0
	if err := in.Validate(); err != nil {
		return nil, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		if err := checkParent(ctx, repos, in.ParentID); err != nil {
			return err
		}
		now := s.now()
		in.CreatedAt, in.UpdatedAt = now, now
		return repos.Topics().Create(ctx, &in)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, RegionMappingStats)
	s.record(ctx, "topic.create", vocab.ResourceTopic, in.ID, in)
	return &in, nil
}

func checkParent(ctx context.Context, repos vocab.Repositories, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	missing, err := repos.Topics().Share(ctx, []int64{*parentID})
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		verr := vocab.NewValidationError("parentId does not reference an existing topic")
		verr.InvalidTopicIDs = missing
		return verr
	}
	return nil
}

// CreateTopics stores topics in one transaction and returns them in input
// order. Parents must already exist; a repeated code is a conflict.
func (s *CatalogService) CreateTopics(ctx context.Context, in []vocab.Topic) (result []vocab.Topic, err error) {
	start := time.Now()
	defer func() { err = s.finish(opCreateTopics, start, err) }()

	if len(in) == 0 {
		return nil, vocab.NewValidationError("topics must not be empty")
	}
	verr := &vocab.ValidationError{}
	topics := make([]vocab.Topic, len(in))
	var parents []int64
	seen := make(map[int64]bool)
	for i, topic := range in {
		topic.ID = 0
		collectProblems(verr, i, topic.Validate())
		if topic.ParentID != nil && !seen[*topic.ParentID] {
			seen[*topic.ParentID] = true
			parents = append(parents, *topic.ParentID)
		}
		topics[i] = topic
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	now := s.now()
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		missing, err := repos.Topics().Share(ctx, parents)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			perr := vocab.NewValidationError("parentId does not reference an existing topic")
			perr.InvalidTopicIDs = missing
			return perr
		}
		for i := range topics {
			topics[i].ID = 0
			topics[i].CreatedAt, topics[i].UpdatedAt = now, now
			if err := repos.Topics().Create(ctx, &topics[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, RegionMappingStats)
	s.record(ctx, "topic.create_batch", vocab.ResourceTopic, 0, map[string]any{"count": len(topics)})
	return topics, nil
}

// TopicByCode loads a topic by its unique code.
func (s *CatalogService) TopicByCode(ctx context.Context, code string) (result *vocab.Topic, err error) {
	start := time.Now()
	defer func() { err = s.finish(opTopicByCode, start, err) }()

	if code == "" {
		return nil, vocab.NewValidationError("code is required")
	}
	topic, err := s.store.Topics().GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, &vocab.NotFoundError{Resource: vocab.ResourceTopic, Key: code}
	}
	return topic, nil
}

// GetTopic loads a topic.
func (s *CatalogService) GetTopic(ctx context.Context, id int64) (result *vocab.Topic, err error) {
	start := time.Now()
	defer func() { err = s.finish(opGetTopic, start, err) }()

	topic, err := s.store.Topics().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: id}
	}
	return topic, nil
}

// UpdateTopic overwrites a topic. A parent that would close a loop in the
// tree is rejected. Parent changes hold the hierarchy lock, so concurrent
// moves are checked one after another.
func (s *CatalogService) UpdateTopic(ctx context.Context, id int64, in vocab.Topic) (result *vocab.Topic, err error) {
	start := time.Now()
	defer func() { err = s.finish(opUpdateTopic, start, err) }()

	in.ID = id
	if err := in.Validate(); err != nil {
		return nil, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		ids := []int64{id}
		if in.ParentID != nil {
			if err := repos.Topics().LockHierarchy(ctx); err != nil {
				return err
			}
			ids = append(ids, *in.ParentID)
		}
		missing, err := repos.Topics().Lock(ctx, ids, false)
		if err != nil {
			return err
		}
		for _, m := range missing {
			if m == id {
				return &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: id}
			}
		}
		if len(missing) > 0 {
			verr := vocab.NewValidationError("parentId does not reference an existing topic")
			verr.InvalidTopicIDs = missing
			return verr
		}
		if in.ParentID != nil {
			topics, err := repos.Topics().List(ctx)
			if err != nil {
				return err
			}
			if vocab.CreatesCycle(topics, id, *in.ParentID) {
				return vocab.NewValidationError("parentId would make the topic its own ancestor")
			}
		}
		in.UpdatedAt = s.now()
		return repos.Topics().Update(ctx, &in)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "topic.update", vocab.ResourceTopic, id, in)
	return &in, nil
}

// DeleteTopic removes a topic and its mappings. Child topics become roots.
func (s *CatalogService) DeleteTopic(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { err = s.finish(opDeleteTopic, start, err) }()

	removed, deleted, err := s.deleteTopics(ctx, []int64{id})
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: id}
	}
	s.afterTopicDelete(ctx, deleted, removed)
	s.record(ctx, "topic.delete", vocab.ResourceTopic, id, map[string]any{"mappingsRemoved": len(removed)})
	return nil
}

// DeleteTopics removes topics and their mappings in one transaction.
// Unknown ids are ignored; the number of deleted topics is returned.
func (s *CatalogService) DeleteTopics(ctx context.Context, ids []int64) (count int, err error) {
	start := time.Now()
	defer func() { err = s.finish(opDeleteTopics, start, err) }()

	verr := &vocab.ValidationError{}
	unique := batchIDs(ids, "ids", verr, &verr.InvalidTopicIDs)
	if !verr.Empty() {
		return 0, verr
	}
	removed, deleted, err := s.deleteTopics(ctx, unique)
	if err != nil {
		return 0, err
	}
	s.afterTopicDelete(ctx, deleted, removed)
	if len(deleted) > 0 {
		s.record(ctx, "topic.delete_batch", vocab.ResourceTopic, 0, map[string]any{
			"ids":             deleted,
			"mappingsRemoved": len(removed),
		})
	}
	return len(deleted), nil
}

func (s *CatalogService) deleteTopics(ctx context.Context, ids []int64) (removed []vocab.Mapping, deleted []int64, err error) {
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		removed, deleted = nil, nil
		// Lock the topics and the children whose parent is cleared before
		// touching any mapping. Writers holding a share lock on one of them
		// finish first, and later ones find the topic gone.
		missing, err := repos.Topics().Lock(ctx, ids, true)
		if err != nil {
			return err
		}
		gone := make(map[int64]bool, len(missing))
		for _, id := range missing {
			gone[id] = true
		}
		for _, id := range vocab.SortedIDs(ids) {
			if gone[id] {
				continue
			}
			mappings, err := repos.Mappings().ListByTopic(ctx, id)
			if err != nil {
				return err
			}
			if _, err := repos.Mappings().DeleteByTopic(ctx, id); err != nil {
				return err
			}
			ok, err := repos.Topics().Delete(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				removed = append(removed, mappings...)
				deleted = append(deleted, id)
			}
		}
		return nil
	})
	return removed, deleted, err
}

func (s *CatalogService) afterTopicDelete(ctx context.Context, deleted []int64, removed []vocab.Mapping) {
	if len(deleted) == 0 {
		return
	}
	keys := mappingKeys(removed...)
	for _, id := range deleted {
		keys = append(keys, TopicKey(id))
	}
	s.invalidate(ctx, keys...)
}

// TopicChildren lists the direct children of parentID.
func (s *CatalogService) TopicChildren(ctx context.Context, parentID int64) (result []vocab.Topic, err error) {
	start := time.Now()
	defer func() { err = s.finish(opTopicChildren, start, err) }()

	topics, err := s.store.Topics().List(ctx)
	if err != nil {
		return nil, err
	}
	result = []vocab.Topic{}
	for _, t := range topics {
		if t.ParentID != nil && *t.ParentID == parentID {
			result = append(result, t)
		}
	}
	return result, nil
}

// RootTopics lists topics without an existing parent.
func (s *CatalogService) RootTopics(ctx context.Context) (result []vocab.Topic, err error) {
	start := time.Now()
	defer func() { err = s.finish(opRootTopics, start, err) }()

	topics, err := s.store.Topics().List(ctx)
	if err != nil {
		return nil, err
	}
	result = []vocab.Topic{}
	for _, node := range vocab.BuildHierarchy(topics) {
		result = append(result, node.Topic)
	}
	return result, nil
}

// TopicHierarchy returns the topic forest.
func (s *CatalogService) TopicHierarchy(ctx context.Context) (result []*vocab.TopicNode, err error) {
	start := time.Now()
	defer func() { err = s.finish(opTopicHierarchy, start, err) }()

	topics, err := s.store.Topics().List(ctx)
	if err != nil {
		return nil, err
	}
	result = vocab.BuildHierarchy(topics)
	if result == nil {
		result = []*vocab.TopicNode{}
	}
	return result, nil
}
