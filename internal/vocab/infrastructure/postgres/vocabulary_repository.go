package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	vocab "eqas-cloud/internal/vocab/domain"
)

const defaultVocabTable = "av_vocab"

// VocabularyRepository is a Postgres implementation for vocabulary entries.
type VocabularyRepository struct {
	db    DBTX
	table string
}

// NewVocabularyRepository constructs a repository.
func NewVocabularyRepository(db DBTX, opts ...VocabularyOption) *VocabularyRepository {
	repo := &VocabularyRepository{db: db, table: defaultVocabTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// VocabularyOption configures the repository.
type VocabularyOption func(*VocabularyRepository)

// WithVocabularyTable overrides the table name.
func WithVocabularyTable(table string) VocabularyOption {
	return func(repo *VocabularyRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a vocabulary entry by id.
func (r *VocabularyRepository) Get(ctx context.Context, id int64) (*vocab.Vocabulary, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vocab repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, headword, pos, definition_zh, definition_en, example_en, cefr_level,
	difficulty_level, frequency_level, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var v vocab.Vocabulary
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID,
		&v.Headword,
		&v.POS,
		&v.DefinitionZh,
		&v.DefinitionEn,
		&v.ExampleEn,
		&v.CEFRLevel,
		&v.DifficultyLevel,
		&v.FrequencyLevel,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	return &v, nil
}

// Missing returns ids that have no row.
func (r *VocabularyRepository) Missing(ctx context.Context, ids []int64) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vocab repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := queryIDs(ctx, r.db, fmt.Sprintf(`SELECT id FROM %s WHERE id = ANY($1::bigint[])`, r.table), int64Array(ids))
	if err != nil {
		return nil, err
	}
	return subtract(ids, found), nil
}

// Lock takes FOR UPDATE row locks in ascending id order.
func (r *VocabularyRepository) Lock(ctx context.Context, ids []int64) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vocab repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := vocab.SortedIDs(ids)
	found, err := queryIDs(ctx, r.db, fmt.Sprintf(`
SELECT id FROM %s
WHERE id = ANY($1::bigint[])
ORDER BY id
FOR UPDATE`, r.table), int64Array(sorted))
	if err != nil {
		return nil, err
	}
	return subtract(sorted, found), nil
}

// Create inserts an entry and assigns its id.
func (r *VocabularyRepository) Create(ctx context.Context, v *vocab.Vocabulary) error {
	if r == nil || r.db == nil {
		return errors.New("vocab repo: nil db")
	}
	if v == nil {
		return errors.New("vocab repo: nil vocabulary")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.CreatedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	headword, pos, definition_zh, definition_en, example_en, cefr_level,
	difficulty_level, frequency_level, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
RETURNING id`, r.table)
	err := r.db.QueryRowContext(ctx, query,
		v.Headword, v.POS, v.DefinitionZh, v.DefinitionEn, v.ExampleEn, v.CEFRLevel,
		v.DifficultyLevel, v.FrequencyLevel, v.CreatedAt, v.UpdatedAt,
	).Scan(&v.ID)
	if err != nil {
		return translate(err, nil)
	}
	return nil
}

// Update overwrites the content fields of an entry.
func (r *VocabularyRepository) Update(ctx context.Context, v *vocab.Vocabulary) error {
	if r == nil || r.db == nil {
		return errors.New("vocab repo: nil db")
	}
	if v == nil {
		return errors.New("vocab repo: nil vocabulary")
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	headword = $2,
	pos = $3,
	definition_zh = $4,
	definition_en = $5,
	example_en = $6,
	cefr_level = $7,
	difficulty_level = $8,
	frequency_level = $9,
	updated_at = $10
WHERE id = $1
RETURNING created_at`, r.table)
	err := r.db.QueryRowContext(ctx, query,
		v.ID, v.Headword, v.POS, v.DefinitionZh, v.DefinitionEn, v.ExampleEn, v.CEFRLevel,
		v.DifficultyLevel, v.FrequencyLevel, v.UpdatedAt,
	).Scan(&v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &vocab.NotFoundError{Resource: vocab.ResourceVocabulary, ID: v.ID}
		}
		return translate(err, nil)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return nil
}

// Delete removes an entry; its mappings go with it through the FK cascade.
func (r *VocabularyRepository) Delete(ctx context.Context, id int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("vocab repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table), id)
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

// IDs lists every id in ascending order.
func (r *VocabularyRepository) IDs(ctx context.Context) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("vocab repo: nil db")
	}
	return queryIDs(ctx, r.db, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, r.table))
}
