package vocab

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("vocab: validation failed")
	// ErrNotFound marks a missing vocabulary, topic or mapping.
	ErrNotFound = errors.New("vocab: not found")
	// ErrConflict marks a uniqueness violation.
	ErrConflict = errors.New("vocab: conflict")
	// ErrStorage marks a persistence failure.
	ErrStorage = errors.New("vocab: storage failure")
)

// ValidationError collects every problem found in a request.
type ValidationError struct {
	Problems             []string
	InvalidVocabularyIDs []int64
	InvalidTopicIDs      []int64
}

// NewValidationError builds a validation error from problem messages.
func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// Add appends a problem message.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Empty reports whether nothing was collected.
func (e *ValidationError) Empty() bool {
	return e == nil || (len(e.Problems) == 0 && len(e.InvalidVocabularyIDs) == 0 && len(e.InvalidTopicIDs) == 0)
}

// OrNil returns nil when no problem was collected.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := append([]string(nil), e.Problems...)
	if len(e.InvalidVocabularyIDs) > 0 {
		parts = append(parts, fmt.Sprintf("unknown vocabulary ids %v", e.InvalidVocabularyIDs))
	}
	if len(e.InvalidTopicIDs) > 0 {
		parts = append(parts, fmt.Sprintf("unknown topic ids %v", e.InvalidTopicIDs))
	}
	if len(parts) == 0 {
		return ErrValidation.Error()
	}
	return "vocab: validation failed: " + strings.Join(parts, "; ")
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Resource names used in NotFoundError.
const (
	ResourceVocabulary = "vocabulary"
	ResourceTopic      = "topic"
	ResourceMapping    = "mapping"
)

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       int64
	// Key replaces ID for lookups by a natural key such as a topic code.
	Key string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("vocab: %s %q not found", e.Resource, e.Key)
	}
	return fmt.Sprintf("vocab: %s %d not found", e.Resource, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError describes a duplicate record.
type ConflictError struct {
	Detail string
}

// PairConflict reports a duplicate (vocabulary, topic) pair.
func PairConflict(vocabID, topicID int64) *ConflictError {
	return &ConflictError{Detail: fmt.Sprintf("mapping for vocabulary %d and topic %d already exists", vocabID, topicID)}
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return ErrConflict.Error()
	}
	return "vocab: conflict: " + e.Detail
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageError wraps a persistence failure.
type StorageError struct {
	Op  string
	Err error
}

// Storage wraps err unless it already carries a domain classification.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("vocab: storage failure in %s: %v", e.Op, e.Err)
}

// Is matches ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
