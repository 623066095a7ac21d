package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	vocab "eqas-cloud/internal/vocab/domain"
)

const (
	defaultMappingTable = "av_vocab_topic_map"

	mappingColumns = "id, vocab_id, topic_id, is_primary, created_at, updated_at"
)

var mappingSortColumns = map[string]string{
	vocab.SortByID:           "id",
	vocab.SortByVocabularyID: "vocab_id",
	vocab.SortByTopicID:      "topic_id",
	vocab.SortByPrimary:      "is_primary",
	vocab.SortByCreatedAt:    "created_at",
}

// MappingRepository is a Postgres implementation for vocabulary-topic mappings.
type MappingRepository struct {
	db          DBTX
	table       string
	vocabTable  string
	topicsTable string
}

// NewMappingRepository constructs a repository.
func NewMappingRepository(db DBTX, opts ...MappingOption) *MappingRepository {
	repo := &MappingRepository{
		db:          db,
		table:       defaultMappingTable,
		vocabTable:  defaultVocabTable,
		topicsTable: defaultTopicTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// MappingOption configures the repository.
type MappingOption func(*MappingRepository)

// WithMappingTable overrides the mapping table name.
func WithMappingTable(table string) MappingOption {
	return func(repo *MappingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

func scanMapping(row rowScanner) (vocab.Mapping, error) {
	var m vocab.Mapping
	if err := row.Scan(&m.ID, &m.VocabularyID, &m.TopicID, &m.IsPrimary, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return m, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func (r *MappingRepository) one(ctx context.Context, query string, args ...any) (*vocab.Mapping, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("mapping repo: nil db")
	}
	m, err := scanMapping(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MappingRepository) list(ctx context.Context, query string, args ...any) ([]vocab.Mapping, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("mapping repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []vocab.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *MappingRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("mapping repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

// Get loads a mapping by id.
func (r *MappingRepository) Get(ctx context.Context, id int64) (*vocab.Mapping, error) {
	return r.one(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, mappingColumns, r.table), id)
}

// FindPair loads the mapping for a (vocabulary, topic) pair.
func (r *MappingRepository) FindPair(ctx context.Context, vocabID, topicID int64) (*vocab.Mapping, error) {
	return r.one(ctx, fmt.Sprintf(`
SELECT %s FROM %s
WHERE vocab_id = $1 AND topic_id = $2`, mappingColumns, r.table), vocabID, topicID)
}

// Page returns one sorted page of mappings.
func (r *MappingRepository) Page(ctx context.Context, req vocab.PageRequest) (vocab.Page[vocab.Mapping], error) {
	req = req.Normalize()
	if r == nil || r.db == nil {
		return vocab.Page[vocab.Mapping]{}, errors.New("mapping repo: nil db")
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)).Scan(&total); err != nil {
		return vocab.Page[vocab.Mapping]{}, err
	}
	direction := "DESC"
	if req.Ascending {
		direction = "ASC"
	}
	column := mappingSortColumns[req.Sort]
	if column == "" {
		column = "id"
	}
	content, err := r.list(ctx, fmt.Sprintf(`
SELECT %s FROM %s
ORDER BY %s %s, id ASC
LIMIT $1 OFFSET $2`, mappingColumns, r.table, column, direction), req.Size, req.Offset())
	if err != nil {
		return vocab.Page[vocab.Mapping]{}, err
	}
	return vocab.NewPage(content, req, total), nil
}

// ListByVocabulary returns mappings of a vocabulary in insertion order.
func (r *MappingRepository) ListByVocabulary(ctx context.Context, vocabID int64) ([]vocab.Mapping, error) {
	return r.list(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE vocab_id = $1 ORDER BY id`, mappingColumns, r.table), vocabID)
}

// ListByTopic returns mappings of a topic in insertion order.
func (r *MappingRepository) ListByTopic(ctx context.Context, topicID int64) ([]vocab.Mapping, error) {
	return r.list(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE topic_id = $1 ORDER BY id`, mappingColumns, r.table), topicID)
}

// ListPrimaries returns the primary mappings of a vocabulary.
func (r *MappingRepository) ListPrimaries(ctx context.Context, vocabID int64) ([]vocab.Mapping, error) {
	return r.list(ctx, fmt.Sprintf(`
SELECT %s FROM %s
WHERE vocab_id = $1 AND is_primary = TRUE
ORDER BY id`, mappingColumns, r.table), vocabID)
}

// Insert creates a mapping and assigns its id.
func (r *MappingRepository) Insert(ctx context.Context, m *vocab.Mapping) error {
	if r == nil || r.db == nil {
		return errors.New("mapping repo: nil db")
	}
	if m == nil {
		return errors.New("mapping repo: nil mapping")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (vocab_id, topic_id, is_primary, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, r.table)
	err := r.db.QueryRowContext(ctx, query, m.VocabularyID, m.TopicID, m.IsPrimary, m.CreatedAt, m.UpdatedAt).Scan(&m.ID)
	if err != nil {
		return translate(err, func(string) error { return vocab.PairConflict(m.VocabularyID, m.TopicID) })
	}
	return nil
}

// Update rewrites the pair and flag of a mapping; created_at is immutable.
func (r *MappingRepository) Update(ctx context.Context, m *vocab.Mapping) error {
	if r == nil || r.db == nil {
		return errors.New("mapping repo: nil db")
	}
	if m == nil {
		return errors.New("mapping repo: nil mapping")
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	vocab_id = $2,
	topic_id = $3,
	is_primary = $4,
	updated_at = $5
WHERE id = $1
RETURNING created_at`, r.table)
	err := r.db.QueryRowContext(ctx, query, m.ID, m.VocabularyID, m.TopicID, m.IsPrimary, m.UpdatedAt).Scan(&m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &vocab.NotFoundError{Resource: vocab.ResourceMapping, ID: m.ID}
		}
		return translate(err, func(string) error { return vocab.PairConflict(m.VocabularyID, m.TopicID) })
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return nil
}

// SetPrimary flips the primary flag of one mapping.
func (r *MappingRepository) SetPrimary(ctx context.Context, id int64, primary bool, at time.Time) error {
	n, err := r.exec(ctx, fmt.Sprintf(`UPDATE %s SET is_primary = $2, updated_at = $3 WHERE id = $1`, r.table), id, primary, at)
	if err != nil {
		return err
	}
	if n == 0 {
		return &vocab.NotFoundError{Resource: vocab.ResourceMapping, ID: id}
	}
	return nil
}

// DemotePrimaries clears the primary flag on every other mapping of vocabID.
func (r *MappingRepository) DemotePrimaries(ctx context.Context, vocabID, keepID int64, at time.Time) (int64, error) {
	return r.exec(ctx, fmt.Sprintf(`
UPDATE %s SET is_primary = FALSE, updated_at = $3
WHERE vocab_id = $1 AND is_primary = TRUE AND id <> $2`, r.table), vocabID, keepID, at)
}

// Delete removes one mapping.
func (r *MappingRepository) Delete(ctx context.Context, id int64) (bool, error) {
	n, err := r.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table), id)
	return n > 0, err
}

// DeleteByVocabularyTopics removes the listed topics from a vocabulary.
func (r *MappingRepository) DeleteByVocabularyTopics(ctx context.Context, vocabID int64, topicIDs []int64) (int64, error) {
	if len(topicIDs) == 0 {
		return 0, nil
	}
	return r.exec(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE vocab_id = $1 AND topic_id = ANY($2::bigint[])`, r.table), vocabID, int64Array(topicIDs))
}

// DeleteByTopicVocabularies removes the listed vocabularies from a topic.
func (r *MappingRepository) DeleteByTopicVocabularies(ctx context.Context, topicID int64, vocabIDs []int64) (int64, error) {
	if len(vocabIDs) == 0 {
		return 0, nil
	}
	return r.exec(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE topic_id = $1 AND vocab_id = ANY($2::bigint[])`, r.table), topicID, int64Array(vocabIDs))
}

// DeleteByVocabulary removes every mapping of a vocabulary.
func (r *MappingRepository) DeleteByVocabulary(ctx context.Context, vocabID int64) (int64, error) {
	return r.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE vocab_id = $1`, r.table), vocabID)
}

// DeleteByTopic removes every mapping of a topic.
func (r *MappingRepository) DeleteByTopic(ctx context.Context, topicID int64) (int64, error) {
	return r.exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE topic_id = $1`, r.table), topicID)
}

// Counts aggregates total and primary mapping counts.
func (r *MappingRepository) Counts(ctx context.Context) (vocab.MappingCounts, error) {
	var counts vocab.MappingCounts
	if r == nil || r.db == nil {
		return counts, errors.New("mapping repo: nil db")
	}
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT COUNT(*), COUNT(*) FILTER (WHERE is_primary)
FROM %s`, r.table)).Scan(&counts.Total, &counts.Primary)
	if err != nil {
		return counts, err
	}
	counts.Secondary = counts.Total - counts.Primary
	return counts, nil
}

// VocabulariesWithoutPrimary lists vocabularies that have mappings but no primary.
func (r *MappingRepository) VocabulariesWithoutPrimary(ctx context.Context) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("mapping repo: nil db")
	}
	return queryIDs(ctx, r.db, fmt.Sprintf(`
SELECT vocab_id FROM %s
GROUP BY vocab_id
HAVING NOT BOOL_OR(is_primary)
ORDER BY vocab_id`, r.table))
}

// VocabulariesWithoutMappings lists vocabularies with no mapping.
func (r *MappingRepository) VocabulariesWithoutMappings(ctx context.Context) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("mapping repo: nil db")
	}
	return queryIDs(ctx, r.db, fmt.Sprintf(`
SELECT v.id FROM %s v
WHERE NOT EXISTS (SELECT 1 FROM %s m WHERE m.vocab_id = v.id)
ORDER BY v.id`, r.vocabTable, r.table))
}

// TopicsWithoutMappings lists topics with no mapping.
func (r *MappingRepository) TopicsWithoutMappings(ctx context.Context) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("mapping repo: nil db")
	}
	return queryIDs(ctx, r.db, fmt.Sprintf(`
SELECT t.id FROM %s t
WHERE NOT EXISTS (SELECT 1 FROM %s m WHERE m.topic_id = t.id)
ORDER BY t.id`, r.topicsTable, r.table))
}
