package memory

import (
	"context"
	"sort"
	"time"

	vocab "eqas-cloud/internal/vocab/domain"
)

type mappingRepo struct{ v view }

func (r mappingRepo) Get(_ context.Context, id int64) (*vocab.Mapping, error) {
	m, ok := r.v.read().mappings[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func findPair(st *state, vocabID, topicID int64) (vocab.Mapping, bool) {
	for _, m := range st.mappings {
		if m.VocabularyID == vocabID && m.TopicID == topicID {
			return m, true
		}
	}
	return vocab.Mapping{}, false
}

func (r mappingRepo) FindPair(_ context.Context, vocabID, topicID int64) (*vocab.Mapping, error) {
	m, ok := findPair(r.v.read(), vocabID, topicID)
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r mappingRepo) filter(keep func(vocab.Mapping) bool) []vocab.Mapping {
	st := r.v.read()
	var out []vocab.Mapping
	for _, id := range sortedKeys(st.mappings) {
		if m := st.mappings[id]; keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func (r mappingRepo) Page(_ context.Context, req vocab.PageRequest) (vocab.Page[vocab.Mapping], error) {
	req = req.Normalize()
	all := r.filter(func(vocab.Mapping) bool { return true })
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		less, equal := compareMappings(a, b, req.Sort)
		if equal {
			return a.ID < b.ID
		}
		if req.Ascending {
			return less
		}
		return !less
	})
	total := int64(len(all))
	start := req.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + req.Size
	if end > len(all) {
		end = len(all)
	}
	return vocab.NewPage(all[start:end], req, total), nil
}

func compareMappings(a, b vocab.Mapping, field string) (less bool, equal bool) {
	switch field {
	case vocab.SortByVocabularyID:
		return a.VocabularyID < b.VocabularyID, a.VocabularyID == b.VocabularyID
	case vocab.SortByTopicID:
		return a.TopicID < b.TopicID, a.TopicID == b.TopicID
	case vocab.SortByPrimary:
		return !a.IsPrimary && b.IsPrimary, a.IsPrimary == b.IsPrimary
	case vocab.SortByCreatedAt:
		return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
	default:
		return a.ID < b.ID, a.ID == b.ID
	}
}

func (r mappingRepo) ListByVocabulary(_ context.Context, vocabID int64) ([]vocab.Mapping, error) {
	return r.filter(func(m vocab.Mapping) bool { return m.VocabularyID == vocabID }), nil
}

func (r mappingRepo) ListByTopic(_ context.Context, topicID int64) ([]vocab.Mapping, error) {
	return r.filter(func(m vocab.Mapping) bool { return m.TopicID == topicID }), nil
}

func (r mappingRepo) ListPrimaries(_ context.Context, vocabID int64) ([]vocab.Mapping, error) {
	return r.filter(func(m vocab.Mapping) bool { return m.VocabularyID == vocabID && m.IsPrimary }), nil
}

func checkReferences(st *state, m *vocab.Mapping) error {
	if _, ok := st.vocabs[m.VocabularyID]; !ok {
		return &vocab.NotFoundError{Resource: vocab.ResourceVocabulary, ID: m.VocabularyID}
	}
	if _, ok := st.topics[m.TopicID]; !ok {
		return &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: m.TopicID}
	}
	return nil
}

func (r mappingRepo) Insert(_ context.Context, m *vocab.Mapping) error {
	return r.v.write(func(st *state) error {
		if err := checkReferences(st, m); err != nil {
			return err
		}
		if _, ok := findPair(st, m.VocabularyID, m.TopicID); ok {
			return vocab.PairConflict(m.VocabularyID, m.TopicID)
		}
		st.nextMapping++
		m.ID = st.nextMapping
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = m.CreatedAt
		}
		st.mappings[m.ID] = *m
		return nil
	})
}

func (r mappingRepo) Update(_ context.Context, m *vocab.Mapping) error {
	return r.v.write(func(st *state) error {
		existing, ok := st.mappings[m.ID]
		if !ok {
			return &vocab.NotFoundError{Resource: vocab.ResourceMapping, ID: m.ID}
		}
		if err := checkReferences(st, m); err != nil {
			return err
		}
		if other, ok := findPair(st, m.VocabularyID, m.TopicID); ok && other.ID != m.ID {
			return vocab.PairConflict(m.VocabularyID, m.TopicID)
		}
		m.CreatedAt = existing.CreatedAt
		st.mappings[m.ID] = *m
		return nil
	})
}

func (r mappingRepo) SetPrimary(_ context.Context, id int64, primary bool, at time.Time) error {
	return r.v.write(func(st *state) error {
		m, ok := st.mappings[id]
		if !ok {
			return &vocab.NotFoundError{Resource: vocab.ResourceMapping, ID: id}
		}
		m.IsPrimary = primary
		m.UpdatedAt = at
		st.mappings[id] = m
		return nil
	})
}

func (r mappingRepo) DemotePrimaries(_ context.Context, vocabID, keepID int64, at time.Time) (int64, error) {
	var changed int64
	err := r.v.write(func(st *state) error {
		for id, m := range st.mappings {
			if m.VocabularyID == vocabID && m.IsPrimary && id != keepID {
				m.IsPrimary = false
				m.UpdatedAt = at
				st.mappings[id] = m
				changed++
			}
		}
		return nil
	})
	return changed, err
}

func (r mappingRepo) deleteWhere(match func(vocab.Mapping) bool) (int64, error) {
	var deleted int64
	err := r.v.write(func(st *state) error {
		for id, m := range st.mappings {
			if match(m) {
				delete(st.mappings, id)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func (r mappingRepo) Delete(_ context.Context, id int64) (bool, error) {
	n, err := r.deleteWhere(func(m vocab.Mapping) bool { return m.ID == id })
	return n > 0, err
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (r mappingRepo) DeleteByVocabularyTopics(_ context.Context, vocabID int64, topicIDs []int64) (int64, error) {
	set := idSet(topicIDs)
	return r.deleteWhere(func(m vocab.Mapping) bool {
		_, ok := set[m.TopicID]
		return m.VocabularyID == vocabID && ok
	})
}

func (r mappingRepo) DeleteByTopicVocabularies(_ context.Context, topicID int64, vocabIDs []int64) (int64, error) {
	set := idSet(vocabIDs)
	return r.deleteWhere(func(m vocab.Mapping) bool {
		_, ok := set[m.VocabularyID]
		return m.TopicID == topicID && ok
	})
}

func (r mappingRepo) DeleteByVocabulary(_ context.Context, vocabID int64) (int64, error) {
	return r.deleteWhere(func(m vocab.Mapping) bool { return m.VocabularyID == vocabID })
}

func (r mappingRepo) DeleteByTopic(_ context.Context, topicID int64) (int64, error) {
	return r.deleteWhere(func(m vocab.Mapping) bool { return m.TopicID == topicID })
}

func (r mappingRepo) Counts(_ context.Context) (vocab.MappingCounts, error) {
	var counts vocab.MappingCounts
	for _, m := range r.v.read().mappings {
		counts.Total++
		if m.IsPrimary {
			counts.Primary++
		}
	}
	counts.Secondary = counts.Total - counts.Primary
	return counts, nil
}

func (r mappingRepo) VocabulariesWithoutPrimary(_ context.Context) ([]int64, error) {
	st := r.v.read()
	hasPrimary := make(map[int64]bool)
	for _, m := range st.mappings {
		hasPrimary[m.VocabularyID] = hasPrimary[m.VocabularyID] || m.IsPrimary
	}
	var out []int64
	for _, id := range sortedKeys(hasPrimary) {
		if !hasPrimary[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r mappingRepo) VocabulariesWithoutMappings(_ context.Context) ([]int64, error) {
	st := r.v.read()
	mapped := make(map[int64]struct{})
	for _, m := range st.mappings {
		mapped[m.VocabularyID] = struct{}{}
	}
	var out []int64
	for _, id := range sortedKeys(st.vocabs) {
		if _, ok := mapped[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r mappingRepo) TopicsWithoutMappings(_ context.Context) ([]int64, error) {
	st := r.v.read()
	mapped := make(map[int64]struct{})
	for _, m := range st.mappings {
		mapped[m.TopicID] = struct{}{}
	}
	var out []int64
	for _, id := range sortedKeys(st.topics) {
		if _, ok := mapped[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}
