package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	vocab "eqas-cloud/internal/vocab/domain"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres implementation of vocab.Store.
type Store struct {
	db *sql.DB
	repos
}

// NewStore constructs a store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, repos: bind(db)}
}

// WithinTx runs fn inside one read-committed transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos vocab.Repositories) error) error {
	if s == nil || s.db == nil {
		return errors.New("vocab store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	if err := fn(ctx, bind(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ReadSnapshot runs fn inside one read-only repeatable-read transaction so
// every statement sees the same snapshot.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, repos vocab.Repositories) error) error {
	if s == nil || s.db == nil {
		return errors.New("vocab store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	if err := fn(ctx, bind(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type repos struct {
	vocabs   *VocabularyRepository
	topics   *TopicRepository
	mappings *MappingRepository
}

func bind(db DBTX) repos {
	return repos{
		vocabs:   NewVocabularyRepository(db),
		topics:   NewTopicRepository(db),
		mappings: NewMappingRepository(db),
	}
}

func (r repos) Vocabularies() vocab.VocabularyRepository { return r.vocabs }
func (r repos) Topics() vocab.TopicRepository             { return r.topics }
func (r repos) Mappings() vocab.MappingRepository         { return r.mappings }

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translate maps Postgres constraint violations onto domain errors.
func translate(err error, conflict func(detail string) error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		if conflict != nil {
			return conflict(pgErr.Detail)
		}
		return &vocab.ConflictError{Detail: pgErr.Detail}
	case pgForeignKeyViolation:
		return errors.Join(vocab.ErrNotFound, errors.New(pgErr.Detail))
	}
	return err
}

// int64Array encodes ids as a Postgres array literal for $n::bigint[].
func int64Array(ids []int64) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	b.WriteByte('}')
	return b.String()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func queryIDs(ctx context.Context, db DBTX, query string, args ...any) ([]int64, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func subtract(want, have []int64) []int64 {
	present := make(map[int64]struct{}, len(have))
	for _, id := range have {
		present[id] = struct{}{}
	}
	var out []int64
	for _, id := range want {
		if _, ok := present[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
