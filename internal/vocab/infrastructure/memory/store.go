package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	vocab "eqas-cloud/internal/vocab/domain"
)

// Store is an in-memory vocabulary store for demo/testing.
// Transactions are serialized and work on a private copy of the state that
// replaces the committed state on success, so readers only ever observe
// committed data.
type Store struct {
	txMu      sync.Mutex
	mu        sync.RWMutex
	committed *state
}

type state struct {
	vocabs      map[int64]vocab.Vocabulary
	topics      map[int64]vocab.Topic
	mappings    map[int64]vocab.Mapping
	nextVocab   int64
	nextTopic   int64
	nextMapping int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{committed: &state{
		vocabs:   make(map[int64]vocab.Vocabulary),
		topics:   make(map[int64]vocab.Topic),
		mappings: make(map[int64]vocab.Mapping),
	}}
}

func (s *state) clone() *state {
	out := &state{
		vocabs:      make(map[int64]vocab.Vocabulary, len(s.vocabs)),
		topics:      make(map[int64]vocab.Topic, len(s.topics)),
		mappings:    make(map[int64]vocab.Mapping, len(s.mappings)),
		nextVocab:   s.nextVocab,
		nextTopic:   s.nextTopic,
		nextMapping: s.nextMapping,
	}
	for k, v := range s.vocabs {
		out.vocabs[k] = v
	}
	for k, v := range s.topics {
		if v.ParentID != nil {
			parent := *v.ParentID
			v.ParentID = &parent
		}
		out.topics[k] = v
	}
	for k, v := range s.mappings {
		out.mappings[k] = v
	}
	return out
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

// WithinTx runs fn against a private copy and publishes it when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos vocab.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.snapshot().clone()
	if err := fn(ctx, view{tx: work}); err != nil {
		return err
	}
	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

// ReadSnapshot runs fn against the committed state as of the call. Later
// commits replace the committed state rather than mutating it, so the view
// stays consistent for the whole of fn.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context, repos vocab.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, view{frozen: s.snapshot()})
}

func (s *Store) apply(fn func(st *state) error) error {
	return s.WithinTx(context.Background(), func(_ context.Context, repos vocab.Repositories) error {
		return fn(repos.(view).tx)
	})
}

// Vocabularies returns a committed-state vocabulary repository.
func (s *Store) Vocabularies() vocab.VocabularyRepository { return view{store: s}.Vocabularies() }

// Topics returns a committed-state topic repository.
func (s *Store) Topics() vocab.TopicRepository { return view{store: s}.Topics() }

// Mappings returns a committed-state mapping repository.
func (s *Store) Mappings() vocab.MappingRepository { return view{store: s}.Mappings() }

// view binds repositories to a transaction's working copy, to a frozen
// read-only snapshot or to the committed state of a store.
type view struct {
	store  *Store
	tx     *state
	frozen *state
}

var errReadOnly = errors.New("vocab store: write in read-only snapshot")

func (v view) Vocabularies() vocab.VocabularyRepository { return vocabRepo{v} }
func (v view) Topics() vocab.TopicRepository             { return topicRepo{v} }
func (v view) Mappings() vocab.MappingRepository         { return mappingRepo{v} }

func (v view) read() *state {
	switch {
	case v.tx != nil:
		return v.tx
	case v.frozen != nil:
		return v.frozen
	}
	return v.store.snapshot()
}

func (v view) write(fn func(st *state) error) error {
	switch {
	case v.tx != nil:
		return fn(v.tx)
	case v.frozen != nil:
		return errReadOnly
	}
	return v.store.apply(fn)
}

func missing[T any](m map[int64]T, ids []int64) []int64 {
	var out []int64
	for _, id := range ids {
		if _, ok := m[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func sortedKeys[T any](m map[int64]T) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type vocabRepo struct{ v view }

func (r vocabRepo) Get(_ context.Context, id int64) (*vocab.Vocabulary, error) {
	entry, ok := r.v.read().vocabs[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (r vocabRepo) Missing(_ context.Context, ids []int64) ([]int64, error) {
	return missing(r.v.read().vocabs, ids), nil
}

// Lock needs no row locks: transactions are already serialized.
func (r vocabRepo) Lock(ctx context.Context, ids []int64) ([]int64, error) {
	return r.Missing(ctx, vocab.SortedIDs(ids))
}

func (r vocabRepo) Create(_ context.Context, entry *vocab.Vocabulary) error {
	return r.v.write(func(st *state) error {
		st.nextVocab++
		entry.ID = st.nextVocab
		now := time.Now().UTC()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.UpdatedAt = entry.CreatedAt
		st.vocabs[entry.ID] = *entry
		return nil
	})
}

func (r vocabRepo) Update(_ context.Context, entry *vocab.Vocabulary) error {
	return r.v.write(func(st *state) error {
		existing, ok := st.vocabs[entry.ID]
		if !ok {
			return &vocab.NotFoundError{Resource: vocab.ResourceVocabulary, ID: entry.ID}
		}
		entry.CreatedAt = existing.CreatedAt
		if entry.UpdatedAt.IsZero() {
			entry.UpdatedAt = time.Now().UTC()
		}
		st.vocabs[entry.ID] = *entry
		return nil
	})
}

func (r vocabRepo) Delete(_ context.Context, id int64) (bool, error) {
	var deleted bool
	err := r.v.write(func(st *state) error {
		if _, ok := st.vocabs[id]; !ok {
			return nil
		}
		delete(st.vocabs, id)
		for mid, m := range st.mappings {
			if m.VocabularyID == id {
				delete(st.mappings, mid)
			}
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (r vocabRepo) IDs(_ context.Context) ([]int64, error) {
	return sortedKeys(r.v.read().vocabs), nil
}

type topicRepo struct{ v view }

func (r topicRepo) Get(_ context.Context, id int64) (*vocab.Topic, error) {
	topic, ok := r.v.read().topics[id]
	if !ok {
		return nil, nil
	}
	return &topic, nil
}

func (r topicRepo) GetByCode(_ context.Context, code string) (*vocab.Topic, error) {
	for _, topic := range r.v.read().topics {
		if topic.Code == code {
			return &topic, nil
		}
	}
	return nil, nil
}

func (r topicRepo) Missing(_ context.Context, ids []int64) ([]int64, error) {
	return missing(r.v.read().topics, ids), nil
}

func (r topicRepo) Share(ctx context.Context, ids []int64) ([]int64, error) {
	return r.Missing(ctx, vocab.SortedIDs(ids))
}

func (r topicRepo) Lock(ctx context.Context, ids []int64, _ bool) ([]int64, error) {
	return r.Missing(ctx, vocab.SortedIDs(ids))
}

// LockHierarchy is a no-op: transactions are already serialized.
func (r topicRepo) LockHierarchy(context.Context) error { return nil }

func codeTaken(st *state, code string, except int64) bool {
	for id, t := range st.topics {
		if id != except && t.Code == code {
			return true
		}
	}
	return false
}

func (r topicRepo) Create(_ context.Context, topic *vocab.Topic) error {
	return r.v.write(func(st *state) error {
		if codeTaken(st, topic.Code, 0) {
			return &vocab.ConflictError{Detail: "topic code " + topic.Code + " already exists"}
		}
		st.nextTopic++
		topic.ID = st.nextTopic
		if topic.CreatedAt.IsZero() {
			topic.CreatedAt = time.Now().UTC()
		}
		topic.UpdatedAt = topic.CreatedAt
		st.topics[topic.ID] = *topic
		return nil
	})
}

func (r topicRepo) Update(_ context.Context, topic *vocab.Topic) error {
	return r.v.write(func(st *state) error {
		existing, ok := st.topics[topic.ID]
		if !ok {
			return &vocab.NotFoundError{Resource: vocab.ResourceTopic, ID: topic.ID}
		}
		if codeTaken(st, topic.Code, topic.ID) {
			return &vocab.ConflictError{Detail: "topic code " + topic.Code + " already exists"}
		}
		topic.CreatedAt = existing.CreatedAt
		if topic.UpdatedAt.IsZero() {
			topic.UpdatedAt = time.Now().UTC()
		}
		st.topics[topic.ID] = *topic
		return nil
	})
}

func (r topicRepo) Delete(_ context.Context, id int64) (bool, error) {
	var deleted bool
	err := r.v.write(func(st *state) error {
		if _, ok := st.topics[id]; !ok {
			return nil
		}
		delete(st.topics, id)
		for mid, m := range st.mappings {
			if m.TopicID == id {
				delete(st.mappings, mid)
			}
		}
		for tid, t := range st.topics {
			if t.ParentID != nil && *t.ParentID == id {
				t.ParentID = nil
				st.topics[tid] = t
			}
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (r topicRepo) List(_ context.Context) ([]vocab.Topic, error) {
	st := r.v.read()
	out := make([]vocab.Topic, 0, len(st.topics))
	for _, t := range st.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r topicRepo) IDs(_ context.Context) ([]int64, error) {
	return sortedKeys(r.v.read().topics), nil
}
