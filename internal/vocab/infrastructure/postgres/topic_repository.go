package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	vocab "eqas-cloud/internal/vocab/domain"
)

const defaultTopicTable = "av_vocab_topic"

// TopicRepository is a Postgres implementation for topics.
type TopicRepository struct {
	db    DBTX
	table string
}

// NewTopicRepository constructs a repository.
func NewTopicRepository(db DBTX, opts ...TopicOption) *TopicRepository {
	repo := &TopicRepository{db: db, table: defaultTopicTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// TopicOption configures the repository.
type TopicOption func(*TopicRepository)

// WithTopicTable overrides the table name.
func WithTopicTable(table string) TopicOption {
	return func(repo *TopicRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (vocab.Topic, error) {
	var t vocab.Topic
	var parentID sql.NullInt64
	if err := row.Scan(
		&t.ID,
		&t.Code,
		&t.NameZh,
		&t.NameEn,
		&t.Description,
		&parentID,
		&t.DisplayOrder,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return t, err
	}
	if parentID.Valid {
		parent := parentID.Int64
		t.ParentID = &parent
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func nullableParent(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func topicConflict(detail string) error {
	return &vocab.ConflictError{Detail: "topic code already exists: " + detail}
}

// Get loads a topic by id.
func (r *TopicRepository) Get(ctx context.Context, id int64) (*vocab.Topic, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topic repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, code, name_zh, name_en, description, parent_id, display_order, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)
	t, err := scanTopic(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetByCode loads a topic by its unique code.
func (r *TopicRepository) GetByCode(ctx context.Context, code string) (*vocab.Topic, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topic repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, code, name_zh, name_en, description, parent_id, display_order, created_at, updated_at
FROM %s
WHERE code = $1
LIMIT 1`, r.table)
	t, err := scanTopic(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Missing returns ids that have no row.
func (r *TopicRepository) Missing(ctx context.Context, ids []int64) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topic repo: nil db")
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

// Share takes FOR SHARE row locks in ascending id order.
func (r *TopicRepository) Share(ctx context.Context, ids []int64) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topic repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := vocab.SortedIDs(ids)
	found, err := queryIDs(ctx, r.db, fmt.Sprintf(`
SELECT id FROM %s
WHERE id = ANY($1::bigint[])
ORDER BY id
FOR SHARE`, r.table), int64Array(sorted))
	if err != nil {
		return nil, err
	}
	return subtract(sorted, found), nil
}

// Lock takes FOR UPDATE row locks in ascending id order, including the
// direct children of ids when withChildren is set.
func (r *TopicRepository) Lock(ctx context.Context, ids []int64, withChildren bool) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topic repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := vocab.SortedIDs(ids)
	where := "id = ANY($1::bigint[])"
	if withChildren {
		where += " OR parent_id = ANY($1::bigint[])"
	}
	locked, err := queryIDs(ctx, r.db, fmt.Sprintf(`
SELECT id FROM %s
WHERE %s
ORDER BY id
FOR UPDATE`, r.table, where), int64Array(sorted))
	if err != nil {
		return nil, err
	}
	return subtract(sorted, locked), nil
}

// topicTreeLockKey identifies the advisory lock guarding parent changes.
const topicTreeLockKey int64 = 0x65716173_74726565

// LockHierarchy takes a transaction-scoped advisory lock.
func (r *TopicRepository) LockHierarchy(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("topic repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, topicTreeLockKey)
	return err
}

// Create inserts a topic and assigns its id.
func (r *TopicRepository) Create(ctx context.Context, t *vocab.Topic) error {
	if r == nil || r.db == nil {
		return errors.New("topic repo: nil db")
	}
	if t == nil {
		return errors.New("topic repo: nil topic")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	code, name_zh, name_en, description, parent_id, display_order, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING id`, r.table)
	err := r.db.QueryRowContext(ctx, query,
		t.Code, t.NameZh, t.NameEn, t.Description, nullableParent(t.ParentID), t.DisplayOrder, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return translate(err, topicConflict)
	}
	return nil
}

// Update overwrites a topic.
func (r *TopicRepository) Update(ctx context.Context, t *vocab.Topic) error {
	if r == nil || r.db == nil {
		return errors.New("topic repo: nil db")
	}
	if t == nil {
		return errors.New("topic repo: nil topic")
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	code = $2,
	name_zh = $3,
	name_en = $4,
	description = $5,
	parent_id = $6,
	display_order = $7,
	updated_at = $8
WHERE id = $1
RETURNING created_at`, r.table)
	err := r.db.QueryRowContext(ctx, query,
		t.ID, t.Code, t.NameZh, t.NameEn, t.Description, nullableParent(t.ParentID), t.DisplayOrder, t.UpdatedAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: t.ID}
		}
		return translate(err, topicConflict)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return nil
}

// Delete removes a topic. Mappings cascade; children are detached.
func (r *TopicRepository) Delete(ctx context.Context, id int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("topic repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table), id)
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

// List returns every topic ordered by display order then id.
func (r *TopicRepository) List(ctx context.Context) ([]vocab.Topic, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topic repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, code, name_zh, name_en, description, parent_id, display_order, created_at, updated_at
FROM %s
ORDER BY display_order ASC, id ASC`, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []vocab.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// IDs lists every id in ascending order.
func (r *TopicRepository) IDs(ctx context.Context) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topic repo: nil db")
	}
	return queryIDs(ctx, r.db, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, r.table))
}
