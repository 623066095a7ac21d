package vocab

import (
	"context"
	"sort"
	"time"
)

// Mapping associates a vocabulary entry with a topic.
type Mapping struct {
	ID           int64     `json:"id"`
	VocabularyID int64     `json:"vocabId"`
	TopicID      int64     `json:"topicId"`
	IsPrimary    bool      `json:"isPrimary"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Validate checks mapping invariants.
func (m Mapping) Validate() error {
	verr := &ValidationError{}
	if m.VocabularyID <= 0 {
		verr.Add("vocabId is required")
	}
	if m.TopicID <= 0 {
		verr.Add("topicId is required")
	}
	return verr.OrNil()
}

// MappingCounts aggregates primary/secondary totals.
type MappingCounts struct {
	Total     int64 `json:"totalMappingCount"`
	Primary   int64 `json:"primaryMappingCount"`
	Secondary int64 `json:"secondaryMappingCount"`
}

// MappingRepository manages mapping persistence.
//
// Lookups return nil, nil when nothing matches. Insert and Update return a
// ConflictError when the (vocabulary, topic) pair is already taken.
type MappingRepository interface {
	Get(ctx context.Context, id int64) (*Mapping, error)
	FindPair(ctx context.Context, vocabID, topicID int64) (*Mapping, error)
	Page(ctx context.Context, req PageRequest) (Page[Mapping], error)
	ListByVocabulary(ctx context.Context, vocabID int64) ([]Mapping, error)
	ListByTopic(ctx context.Context, topicID int64) ([]Mapping, error)
	// ListPrimaries returns every primary mapping of a vocabulary. More than
	// one element means the single-primary rule is broken.
	ListPrimaries(ctx context.Context, vocabID int64) ([]Mapping, error)

	Insert(ctx context.Context, m *Mapping) error
	Update(ctx context.Context, m *Mapping) error
	// SetPrimary flips the primary flag of one mapping.
	SetPrimary(ctx context.Context, id int64, primary bool, at time.Time) error
	// DemotePrimaries clears the primary flag of every mapping of vocabID
	// except keepID and returns how many rows changed.
	DemotePrimaries(ctx context.Context, vocabID, keepID int64, at time.Time) (int64, error)

	Delete(ctx context.Context, id int64) (bool, error)
	DeleteByVocabularyTopics(ctx context.Context, vocabID int64, topicIDs []int64) (int64, error)
	DeleteByTopicVocabularies(ctx context.Context, topicID int64, vocabIDs []int64) (int64, error)
	DeleteByVocabulary(ctx context.Context, vocabID int64) (int64, error)
	DeleteByTopic(ctx context.Context, topicID int64) (int64, error)

	Counts(ctx context.Context) (MappingCounts, error)
	// VocabulariesWithoutPrimary lists vocabularies with mappings but no primary.
	VocabulariesWithoutPrimary(ctx context.Context) ([]int64, error)
	// VocabulariesWithoutMappings lists existing vocabularies with no mapping.
	VocabulariesWithoutMappings(ctx context.Context) ([]int64, error)
	// TopicsWithoutMappings lists existing topics with no mapping.
	TopicsWithoutMappings(ctx context.Context) ([]int64, error)
}

// Repositories groups the stores that make up the vocabulary context.
type Repositories interface {
	Vocabularies() VocabularyRepository
	Topics() TopicRepository
	Mappings() MappingRepository
}

// Store exposes committed reads plus a transactional unit of work.
//
// fn runs inside a single transaction. Returning an error rolls back every
// write made through repos.
//
// ReadSnapshot runs fn against one consistent, read-only view of committed
// data: every read made through repos observes the same point in time.
// Writes through repos fail.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// SelectRepairCandidate picks the mapping to promote when a vocabulary has
// no primary: earliest CreatedAt, then lowest TopicID, then lowest ID.
func SelectRepairCandidate(mappings []Mapping) (Mapping, bool) {
	if len(mappings) == 0 {
		return Mapping{}, false
	}
	sorted := append([]Mapping(nil), mappings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.TopicID != b.TopicID {
			return a.TopicID < b.TopicID
		}
		return a.ID < b.ID
	})
	return sorted[0], true
}

// UniqueIDs drops duplicates and non-positive ids while keeping input order.
// Non-positive ids are returned separately.
func UniqueIDs(ids []int64) (unique []int64, invalid []int64) {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			invalid = append(invalid, id)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique, invalid
}

// SortedIDs returns an ascending copy of ids.
func SortedIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
