package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	vocab "eqas-cloud/internal/vocab/domain"
)

const (
	opCreateMapping               = "create_mapping"
	opGetMapping                  = "get_mapping"
	opListMappings                = "list_mappings"
	opUpdateMapping               = "update_mapping"
	opDeleteMapping               = "delete_mapping"
	opMappingsByVocabulary        = "mappings_by_vocabulary"
	opMappingsByTopic             = "mappings_by_topic"
	opPrimaryMapping              = "primary_mapping"
	opSetPrimaryTopic             = "set_primary_topic"
	opAddVocabulariesToTopic      = "add_vocabularies_to_topic"
	opRemoveVocabulariesFromTopic = "remove_vocabularies_from_topic"
	opAddTopicsToVocabulary       = "add_topics_to_vocabulary"
	opRemoveTopicsFromVocabulary  = "remove_topics_from_vocabulary"
	opCheckIntegrity              = "check_integrity"
	opRepairIntegrity             = "repair_integrity"
	opStatistics                  = "mapping_statistics"
)

// MappingInput creates a mapping.
type MappingInput struct {
	VocabularyID int64 `json:"vocabId" validate:"required,gt=0"`
	TopicID      int64 `json:"topicId" validate:"required,gt=0"`
	IsPrimary    bool  `json:"isPrimary"`
}

// MappingUpdate changes a mapping. Nil fields are left unchanged.
type MappingUpdate struct {
	VocabularyID *int64 `json:"vocabId,omitempty" validate:"omitempty,gt=0"`
	TopicID      *int64 `json:"topicId,omitempty" validate:"omitempty,gt=0"`
	IsPrimary    *bool  `json:"isPrimary,omitempty"`
}

func (u MappingUpdate) apply(m vocab.Mapping) vocab.Mapping {
	if u.VocabularyID != nil {
		m.VocabularyID = *u.VocabularyID
	}
	if u.TopicID != nil {
		m.TopicID = *u.TopicID
	}
	if u.IsPrimary != nil {
		m.IsPrimary = *u.IsPrimary
	}
	return m
}

// MappingService is the only writer of mapping records. It keeps each
// (vocabulary, topic) pair unique and each vocabulary at one primary topic
// at most.
type MappingService struct {
	core
}

// NewMappingService constructs the service.
func NewMappingService(store vocab.Store, opts ...Option) (*MappingService, error) {
	if store == nil {
		return nil, errors.New("mapping service: nil store")
	}
	return &MappingService{core: newCore(store, opts)}, nil
}

// lockPair locks the vocabulary row and shares the topic row, failing with
// NotFound when either is absent.
func lockPair(ctx context.Context, repos vocab.Repositories, vocabID, topicID int64) error {
	missing, err := repos.Vocabularies().Lock(ctx, []int64{vocabID})
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &vocab.NotFoundError{Resource: vocab.ResourceVocabulary, ID: vocabID}
	}
	missing, err = repos.Topics().Share(ctx, []int64{topicID})
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: topicID}
	}
	return nil
}

// demote clears every primary of vocabID other than keepID and returns the
// mappings it demoted. The vocabulary row must already be locked.
func demote(ctx context.Context, repos vocab.Repositories, vocabID, keepID int64, at time.Time) ([]vocab.Mapping, error) {
	primaries, err := repos.Mappings().ListPrimaries(ctx, vocabID)
	if err != nil {
		return nil, err
	}
	var demoted []vocab.Mapping
	for _, m := range primaries {
		if m.ID != keepID {
			demoted = append(demoted, m)
		}
	}
	if len(demoted) == 0 {
		return nil, nil
	}
	if _, err := repos.Mappings().DemotePrimaries(ctx, vocabID, keepID, at); err != nil {
		return nil, err
	}
	return demoted, nil
}

// CreateMapping links a vocabulary to a topic. A primary mapping demotes the
// vocabulary's current primary in the same transaction.
func (s *MappingService) CreateMapping(ctx context.Context, in MappingInput) (result *vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opCreateMapping, start, err) }()

	if err := vocab.ValidateStruct(in); err != nil {
		return nil, err
	}
	var created vocab.Mapping
	var demoted []vocab.Mapping
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		if err := lockPair(ctx, repos, in.VocabularyID, in.TopicID); err != nil {
			return err
		}
		existing, err := repos.Mappings().FindPair(ctx, in.VocabularyID, in.TopicID)
		if err != nil {
			return err
		}
		if existing != nil {
			return vocab.PairConflict(in.VocabularyID, in.TopicID)
		}
		now := s.now()
		if in.IsPrimary {
			if demoted, err = demote(ctx, repos, in.VocabularyID, 0, now); err != nil {
				return err
			}
		}
		created = vocab.Mapping{
			VocabularyID: in.VocabularyID,
			TopicID:      in.TopicID,
			IsPrimary:    in.IsPrimary,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return repos.Mappings().Insert(ctx, &created)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, mappingKeys(append(demoted, created)...)...)
	s.record(ctx, "mapping.create", vocab.ResourceMapping, created.ID, created)
	return &created, nil
}

// GetMapping loads a mapping by id.
func (s *MappingService) GetMapping(ctx context.Context, id int64) (result *vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opGetMapping, start, err) }()

	m, err := s.store.Mappings().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &vocab.NotFoundError{Resource: vocab.ResourceMapping, ID: id}
	}
	return m, nil
}

// ListMappings returns one page of mappings.
func (s *MappingService) ListMappings(ctx context.Context, req vocab.PageRequest) (result vocab.Page[vocab.Mapping], err error) {
	start := time.Now()
	defer func() { err = s.finish(opListMappings, start, err) }()

	return s.store.Mappings().Page(ctx, req.Normalize())
}

// UpdateMapping moves a mapping to another pair or flips its primary flag.
func (s *MappingService) UpdateMapping(ctx context.Context, id int64, in MappingUpdate) (result *vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opUpdateMapping, start, err) }()

	if err := vocab.ValidateStruct(in); err != nil {
		return nil, err
	}
	var before, after vocab.Mapping
	var demoted []vocab.Mapping
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		current, err := repos.Mappings().Get(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return &vocab.NotFoundError{Resource: vocab.ResourceMapping, ID: id}
		}
		target := in.apply(*current)

		locked, _ := vocab.UniqueIDs([]int64{current.VocabularyID, target.VocabularyID})
		missing, err := repos.Vocabularies().Lock(ctx, vocab.SortedIDs(locked))
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &vocab.NotFoundError{Resource: vocab.ResourceVocabulary, ID: missing[0]}
		}
		if missing, err = repos.Topics().Share(ctx, []int64{target.TopicID}); err != nil {
			return err
		}
		if len(missing) > 0 {
			return &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: target.TopicID}
		}

		// Re-read under the lock; a concurrent writer may have moved it.
		current, err = repos.Mappings().Get(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return &vocab.NotFoundError{Resource: vocab.ResourceMapping, ID: id}
		}
		if !containsID(locked, current.VocabularyID) {
			return &vocab.ConflictError{Detail: "mapping was modified concurrently"}
		}
		before = *current
		target = in.apply(*current)

		if target.VocabularyID != current.VocabularyID || target.TopicID != current.TopicID {
			other, err := repos.Mappings().FindPair(ctx, target.VocabularyID, target.TopicID)
			if err != nil {
				return err
			}
			if other != nil && other.ID != id {
				return vocab.PairConflict(target.VocabularyID, target.TopicID)
			}
		}

		now := s.now()
		if target.IsPrimary {
			if demoted, err = demote(ctx, repos, target.VocabularyID, id, now); err != nil {
				return err
			}
		}
		target.UpdatedAt = now
		if err := repos.Mappings().Update(ctx, &target); err != nil {
			return err
		}
		after = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, mappingKeys(append(demoted, before, after)...)...)
	s.record(ctx, "mapping.update", vocab.ResourceMapping, id, map[string]any{"before": before, "after": after})
	return &after, nil
}

// DeleteMapping removes a mapping. Deleting an absent mapping succeeds.
// A deleted primary is not replaced; integrity repair restores one.
func (s *MappingService) DeleteMapping(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { err = s.finish(opDeleteMapping, start, err) }()

	var removed *vocab.Mapping
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		current, err := repos.Mappings().Get(ctx, id)
		if err != nil || current == nil {
			return err
		}
		deleted, err := repos.Mappings().Delete(ctx, id)
		if err != nil {
			return err
		}
		if deleted {
			removed = current
		}
		return nil
	})
	if err != nil {
		return err
	}
	if removed != nil {
		s.invalidate(ctx, mappingKeys(*removed)...)
		s.record(ctx, "mapping.delete", vocab.ResourceMapping, id, removed)
	}
	return nil
}

// MappingsByVocabulary lists a vocabulary's mappings in insertion order.
func (s *MappingService) MappingsByVocabulary(ctx context.Context, vocabID int64) (result []vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opMappingsByVocabulary, start, err) }()

	mappings, err := s.store.Mappings().ListByVocabulary(ctx, vocabID)
	if err != nil {
		return nil, err
	}
	return orEmpty(mappings), nil
}

// MappingsByTopic lists a topic's mappings in insertion order.
func (s *MappingService) MappingsByTopic(ctx context.Context, topicID int64) (result []vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opMappingsByTopic, start, err) }()

	mappings, err := s.store.Mappings().ListByTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	return orEmpty(mappings), nil
}

// PrimaryMapping returns the vocabulary's primary mapping, or nil when it
// has none.
func (s *MappingService) PrimaryMapping(ctx context.Context, vocabID int64) (result *vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opPrimaryMapping, start, err) }()

	primaries, err := s.store.Mappings().ListPrimaries(ctx, vocabID)
	if err != nil {
		return nil, err
	}
	if len(primaries) == 0 {
		return nil, nil
	}
	if len(primaries) > 1 {
		s.logger.Warn("vocabulary has several primary mappings",
			zap.Int64("vocab_id", vocabID), zap.Int("count", len(primaries)))
	}
	return &primaries[0], nil
}

// SetPrimaryTopic makes topicID the vocabulary's primary topic, creating the
// mapping when the pair does not exist yet.
func (s *MappingService) SetPrimaryTopic(ctx context.Context, vocabID, topicID int64) (result *vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opSetPrimaryTopic, start, err) }()

	if vocabID <= 0 || topicID <= 0 {
		return nil, vocab.NewValidationError("vocabId and topicId must be positive")
	}
	var primary vocab.Mapping
	var demoted []vocab.Mapping
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		if err := lockPair(ctx, repos, vocabID, topicID); err != nil {
			return err
		}
		existing, err := repos.Mappings().FindPair(ctx, vocabID, topicID)
		if err != nil {
			return err
		}
		var keepID int64
		if existing != nil {
			keepID = existing.ID
		}
		now := s.now()
		if demoted, err = demote(ctx, repos, vocabID, keepID, now); err != nil {
			return err
		}
		if existing == nil {
			primary = vocab.Mapping{
				VocabularyID: vocabID,
				TopicID:      topicID,
				IsPrimary:    true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			return repos.Mappings().Insert(ctx, &primary)
		}
		primary = *existing
		if !existing.IsPrimary {
			if err := repos.Mappings().SetPrimary(ctx, existing.ID, true, now); err != nil {
				return err
			}
			primary.IsPrimary = true
			primary.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, mappingKeys(append(demoted, primary)...)...)
	s.record(ctx, "mapping.set_primary", vocab.ResourceVocabulary, vocabID, map[string]any{
		"topicId":   topicID,
		"mappingId": primary.ID,
		"demoted":   mappingIDs(demoted),
	})
	return &primary, nil
}

func mappingIDs(mappings []vocab.Mapping) []int64 {
	ids := make([]int64, 0, len(mappings))
	for _, m := range mappings {
		ids = append(ids, m.ID)
	}
	return ids
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
