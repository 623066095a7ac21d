package vocab

import "strings"

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Sort fields accepted for mapping pages.
const (
	SortByID           = "id"
	SortByVocabularyID = "vocabId"
	SortByTopicID      = "topicId"
	SortByPrimary      = "isPrimary"
	SortByCreatedAt    = "createdAt"
)

// PageRequest describes a zero-based page with one sort key.
type PageRequest struct {
	Page      int
	Size      int
	Sort      string
	Ascending bool
}

// Normalize clamps sizes and maps unknown sort keys to id.
func (r PageRequest) Normalize() PageRequest {
	if r.Page < 0 {
		r.Page = 0
	}
	if r.Size <= 0 {
		r.Size = defaultPageSize
	}
	if r.Size > maxPageSize {
		r.Size = maxPageSize
	}
	r.Sort = normalizeSort(r.Sort)
	return r
}

// Offset returns the row offset of the page.
func (r PageRequest) Offset() int {
	return r.Page * r.Size
}

func normalizeSort(field string) string {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "vocabid", "vocab_id", "vocabularyid":
		return SortByVocabularyID
	case "topicid", "topic_id":
		return SortByTopicID
	case "isprimary", "is_primary", "primary":
		return SortByPrimary
	case "createdat", "created_at":
		return SortByCreatedAt
	default:
		return SortByID
	}
}

// Page is one page of results.
type Page[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
}

// NewPage computes the page metadata.
func NewPage[T any](content []T, req PageRequest, total int64) Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if req.Size > 0 {
		pages = int((total + int64(req.Size) - 1) / int64(req.Size))
	}
	return Page[T]{
		Content:       content,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    pages,
	}
}
