package application

import (
	"context"
	"time"

	vocab "eqas-cloud/internal/vocab/domain"
)

// batchIDs rejects empty lists and collects non-positive ids.
func batchIDs(ids []int64, field string, verr *vocab.ValidationError, invalid *[]int64) []int64 {
	if len(ids) == 0 {
		verr.Add("%s must not be empty", field)
		return nil
	}
	unique, bad := vocab.UniqueIDs(ids)
	*invalid = append(*invalid, bad...)
	return unique
}

// AddVocabulariesToTopic maps every vocabulary to topicID. Pairs that already
// carry the requested primary flag are left alone, pairs with the other flag
// are flipped. All unknown vocabulary ids are reported in one
// ValidationError. The result holds the mapping of every requested pair.
func (s *MappingService) AddVocabulariesToTopic(ctx context.Context, topicID int64, vocabIDs []int64, isPrimary bool) (result []vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opAddVocabulariesToTopic, start, err) }()

	verr := &vocab.ValidationError{}
	if topicID <= 0 {
		verr.Add("topicId must be positive")
	}
	ids := batchIDs(vocabIDs, "vocabIds", verr, &verr.InvalidVocabularyIDs)
	if len(verr.Problems) > 0 {
		return nil, verr
	}

	var changed []vocab.Mapping
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		// Vocabulary rows are always locked before topic rows are shared.
		missingVocabs, err := repos.Vocabularies().Lock(ctx, vocab.SortedIDs(ids))
		if err != nil {
			return err
		}
		missingTopics, err := repos.Topics().Share(ctx, []int64{topicID})
		if err != nil {
			return err
		}
		if len(missingTopics) > 0 {
			return &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: topicID}
		}
		verr.InvalidVocabularyIDs = append(verr.InvalidVocabularyIDs, missingVocabs...)
		if !verr.Empty() {
			return verr
		}

		now := s.now()
		for _, vocabID := range ids {
			existing, err := repos.Mappings().FindPair(ctx, vocabID, topicID)
			if err != nil {
				return err
			}
			if existing != nil && existing.IsPrimary == isPrimary {
				continue
			}
			if isPrimary {
				var keepID int64
				if existing != nil {
					keepID = existing.ID
				}
				demoted, err := demote(ctx, repos, vocabID, keepID, now)
				if err != nil {
					return err
				}
				changed = append(changed, demoted...)
			}
			if existing != nil {
				if err := repos.Mappings().SetPrimary(ctx, existing.ID, isPrimary, now); err != nil {
					return err
				}
				changed = append(changed, *existing)
				continue
			}
			created := vocab.Mapping{
				VocabularyID: vocabID,
				TopicID:      topicID,
				IsPrimary:    isPrimary,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := repos.Mappings().Insert(ctx, &created); err != nil {
				return err
			}
			changed = append(changed, created)
		}

		all, err := repos.Mappings().ListByTopic(ctx, topicID)
		if err != nil {
			return err
		}
		result = pick(all, ids, func(m vocab.Mapping) int64 { return m.VocabularyID })
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.invalidate(ctx, mappingKeys(changed...)...)
		s.record(ctx, "mapping.add_vocabs_to_topic", vocab.ResourceTopic, topicID, map[string]any{
			"vocabIds":  ids,
			"isPrimary": isPrimary,
			"changed":   len(changed),
		})
	}
	return result, nil
}

// RemoveVocabulariesFromTopic deletes the listed pairs. Absent pairs are
// ignored.
func (s *MappingService) RemoveVocabulariesFromTopic(ctx context.Context, topicID int64, vocabIDs []int64) (removed int64, err error) {
	start := time.Now()
	defer func() { err = s.finish(opRemoveVocabulariesFromTopic, start, err) }()

	verr := &vocab.ValidationError{}
	if topicID <= 0 {
		verr.Add("topicId must be positive")
	}
	ids := batchIDs(vocabIDs, "vocabIds", verr, &verr.InvalidVocabularyIDs)
	if !verr.Empty() {
		return 0, verr
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		n, err := repos.Mappings().DeleteByTopicVocabularies(ctx, topicID, ids)
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.invalidate(ctx, pairKeys(ids, []int64{topicID})...)
		s.record(ctx, "mapping.remove_vocabs_from_topic", vocab.ResourceTopic, topicID, map[string]any{
			"vocabIds": ids,
			"removed":  removed,
		})
	}
	return removed, nil
}

// AddTopicsToVocabulary maps vocabID to every topic. When primaryTopicID is
// set it must be one of topicIDs; that pair becomes the only primary of the
// vocabulary. The result holds the mapping of every requested pair.
func (s *MappingService) AddTopicsToVocabulary(ctx context.Context, vocabID int64, topicIDs []int64, primaryTopicID *int64) (result []vocab.Mapping, err error) {
	start := time.Now()
	defer func() { err = s.finish(opAddTopicsToVocabulary, start, err) }()

	verr := &vocab.ValidationError{}
	if vocabID <= 0 {
		verr.Add("vocabId must be positive")
	}
	ids := batchIDs(topicIDs, "topicIds", verr, &verr.InvalidTopicIDs)
	if primaryTopicID != nil && len(ids) > 0 && !containsID(ids, *primaryTopicID) {
		verr.Add("primaryTopicId %d must be one of topicIds", *primaryTopicID)
	}
	if len(verr.Problems) > 0 {
		return nil, verr
	}

	var changed []vocab.Mapping
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		missing, err := repos.Vocabularies().Lock(ctx, []int64{vocabID})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &vocab.NotFoundError{Resource: vocab.ResourceVocabulary, ID: vocabID}
		}
		if missing, err = repos.Topics().Share(ctx, ids); err != nil {
			return err
		}
		verr.InvalidTopicIDs = append(verr.InvalidTopicIDs, missing...)
		if !verr.Empty() {
			return verr
		}

		now := s.now()
		if primaryTopicID != nil {
			existing, err := repos.Mappings().FindPair(ctx, vocabID, *primaryTopicID)
			if err != nil {
				return err
			}
			var keepID int64
			if existing != nil {
				keepID = existing.ID
			}
			demoted, err := demote(ctx, repos, vocabID, keepID, now)
			if err != nil {
				return err
			}
			changed = append(changed, demoted...)
		}

		for _, topicID := range ids {
			primary := primaryTopicID != nil && *primaryTopicID == topicID
			existing, err := repos.Mappings().FindPair(ctx, vocabID, topicID)
			if err != nil {
				return err
			}
			if existing != nil {
				if primary && !existing.IsPrimary {
					if err := repos.Mappings().SetPrimary(ctx, existing.ID, true, now); err != nil {
						return err
					}
					changed = append(changed, *existing)
				}
				continue
			}
			created := vocab.Mapping{
				VocabularyID: vocabID,
				TopicID:      topicID,
				IsPrimary:    primary,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := repos.Mappings().Insert(ctx, &created); err != nil {
				return err
			}
			changed = append(changed, created)
		}

		all, err := repos.Mappings().ListByVocabulary(ctx, vocabID)
		if err != nil {
			return err
		}
		result = pick(all, ids, func(m vocab.Mapping) int64 { return m.TopicID })
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.invalidate(ctx, mappingKeys(changed...)...)
		s.record(ctx, "mapping.add_topics_to_vocab", vocab.ResourceVocabulary, vocabID, map[string]any{
			"topicIds":       ids,
			"primaryTopicId": primaryTopicID,
			"changed":        len(changed),
		})
	}
	return result, nil
}

// RemoveTopicsFromVocabulary deletes the listed pairs. Absent pairs are
// ignored.
func (s *MappingService) RemoveTopicsFromVocabulary(ctx context.Context, vocabID int64, topicIDs []int64) (removed int64, err error) {
	start := time.Now()
	defer func() { err = s.finish(opRemoveTopicsFromVocabulary, start, err) }()

	verr := &vocab.ValidationError{}
	if vocabID <= 0 {
		verr.Add("vocabId must be positive")
	}
	ids := batchIDs(topicIDs, "topicIds", verr, &verr.InvalidTopicIDs)
	if !verr.Empty() {
		return 0, verr
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos vocab.Repositories) error {
		n, err := repos.Mappings().DeleteByVocabularyTopics(ctx, vocabID, ids)
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.invalidate(ctx, pairKeys([]int64{vocabID}, ids)...)
		s.record(ctx, "mapping.remove_topics_from_vocab", vocab.ResourceVocabulary, vocabID, map[string]any{
			"topicIds": ids,
			"removed":  removed,
		})
	}
	return removed, nil
}

// pick orders mappings by the position of key(m) in ids and drops the rest.
func pick(mappings []vocab.Mapping, ids []int64, key func(vocab.Mapping) int64) []vocab.Mapping {
	byKey := make(map[int64]vocab.Mapping, len(mappings))
	for _, m := range mappings {
		byKey[key(m)] = m
	}
	out := make([]vocab.Mapping, 0, len(ids))
	for _, id := range ids {
		if m, ok := byKey[id]; ok {
			out = append(out, m)
		}
	}
	return out
}
