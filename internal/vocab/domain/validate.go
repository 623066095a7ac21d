package vocab

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// CEFRLevels lists the accepted CEFR levels.
var CEFRLevels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

// POSOptions lists the accepted parts of speech.
var POSOptions = []string{
	"noun", "verb", "adjective", "adverb",
	"pronoun", "preposition", "conjunction",
	"interjection", "article", "phrase",
}

// LevelOption labels one frequency or difficulty level.
type LevelOption struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// FrequencyLevels lists the accepted frequency levels, most frequent first.
var FrequencyLevels = []LevelOption{
	{Value: 1, Label: "高频"},
	{Value: 2, Label: "中频"},
	{Value: 3, Label: "低频"},
}

// DifficultyLevels lists the accepted difficulty levels, easiest first.
var DifficultyLevels = []LevelOption{
	{Value: 1, Label: "非常简单"},
	{Value: 2, Label: "简单"},
	{Value: 3, Label: "中等"},
	{Value: 4, Label: "困难"},
	{Value: 5, Label: "非常困难"},
}

// ValidateStruct checks validator tags and converts failures into a ValidationError.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewValidationError(err.Error())
	}
	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.Problems = append(verr.Problems, formatFieldError(fe))
	}
	return verr
}

func formatFieldError(e validator.FieldError) string {
	field := lowerFirst(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
