package vocab

import (
	"context"
	"time"
)

// Vocabulary is an aviation vocabulary entry.
type Vocabulary struct {
	ID              int64     `json:"id"`
	Headword        string    `json:"headword" validate:"required,max=255"`
	POS             string    `json:"pos,omitempty" validate:"omitempty,oneof=noun verb adjective adverb pronoun preposition conjunction interjection article phrase"`
	DefinitionZh    string    `json:"definitionZh,omitempty"`
	DefinitionEn    string    `json:"definitionEn,omitempty"`
	ExampleEn       string    `json:"exampleEn,omitempty"`
	CEFRLevel       string    `json:"cefrLevel,omitempty" validate:"omitempty,oneof=A1 A2 B1 B2 C1 C2"`
	DifficultyLevel int       `json:"difficultyLevel,omitempty" validate:"omitempty,min=1,max=5"`
	FrequencyLevel  int       `json:"frequencyLevel,omitempty" validate:"omitempty,min=1,max=3"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Validate checks vocabulary invariants.
func (v Vocabulary) Validate() error {
	return ValidateStruct(v)
}

// VocabularyRepository manages vocabulary persistence.
//
// Get returns nil, nil when the entry does not exist.
type VocabularyRepository interface {
	Get(ctx context.Context, id int64) (*Vocabulary, error)
	// Missing returns the subset of ids that do not exist.
	Missing(ctx context.Context, ids []int64) ([]int64, error)
	// Lock takes a row lock on each existing id, in ascending order, for the
	// rest of the enclosing transaction and returns the ids that do not exist.
	Lock(ctx context.Context, ids []int64) ([]int64, error)
	Create(ctx context.Context, v *Vocabulary) error
	Update(ctx context.Context, v *Vocabulary) error
	Delete(ctx context.Context, id int64) (bool, error)
	// IDs lists every vocabulary id in ascending order.
	IDs(ctx context.Context) ([]int64, error)
}
