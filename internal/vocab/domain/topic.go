package vocab

import (
	"context"
	"time"
)

// Topic is a node of the vocabulary topic tree.
type Topic struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code" validate:"required,max=64"`
	NameZh       string    `json:"nameZh" validate:"required,max=255"`
	NameEn       string    `json:"nameEn,omitempty" validate:"max=255"`
	Description  string    `json:"description,omitempty"`
	ParentID     *int64    `json:"parentId,omitempty"`
	DisplayOrder int       `json:"displayOrder"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Validate checks topic invariants.
func (t Topic) Validate() error {
	if err := ValidateStruct(t); err != nil {
		return err
	}
	if t.ParentID != nil && t.ID != 0 && *t.ParentID == t.ID {
		return NewValidationError("parentId must not reference the topic itself")
	}
	return nil
}

// TopicNode is a topic with its children, used for hierarchy reads.
type TopicNode struct {
	Topic
	Children []*TopicNode `json:"children,omitempty"`
}

// TopicRepository manages topic persistence.
//
// Get returns nil, nil when the topic does not exist.
type TopicRepository interface {
	Get(ctx context.Context, id int64) (*Topic, error)
	GetByCode(ctx context.Context, code string) (*Topic, error)
	Missing(ctx context.Context, ids []int64) ([]int64, error)
	// Share takes a shared row lock on each existing id so the topics cannot
	// be deleted before the enclosing transaction ends, and returns the ids
	// that do not exist.
	Share(ctx context.Context, ids []int64) ([]int64, error)
	// Lock takes exclusive row locks, in ascending id order, on each existing
	// id and, when withChildren is set, on their direct children. It returns
	// the ids that do not exist.
	Lock(ctx context.Context, ids []int64, withChildren bool) ([]int64, error)
	// LockHierarchy serializes parent changes across the whole tree until the
	// enclosing transaction ends.
	LockHierarchy(ctx context.Context) error
	Create(ctx context.Context, t *Topic) error
	Update(ctx context.Context, t *Topic) error
	Delete(ctx context.Context, id int64) (bool, error)
	// List returns every topic ordered by display order then id.
	List(ctx context.Context) ([]Topic, error)
	IDs(ctx context.Context) ([]int64, error)
}

// BuildHierarchy arranges topics into a forest ordered by display order.
// Topics whose parent is absent are treated as roots.
func BuildHierarchy(topics []Topic) []*TopicNode {
	nodes := make(map[int64]*TopicNode, len(topics))
	for _, t := range topics {
		nodes[t.ID] = &TopicNode{Topic: t}
	}
	var roots []*TopicNode
	for _, t := range topics {
		node := nodes[t.ID]
		if t.ParentID != nil {
			if parent, ok := nodes[*t.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// CreatesCycle reports whether giving topic id the parent parentID would
// close a loop in the tree described by topics.
func CreatesCycle(topics []Topic, id, parentID int64) bool {
	parents := make(map[int64]int64, len(topics))
	for _, t := range topics {
		if t.ParentID != nil {
			parents[t.ID] = *t.ParentID
		}
	}
	seen := make(map[int64]struct{})
	for cur := parentID; ; {
		if cur == id {
			return true
		}
		if _, ok := seen[cur]; ok {
			return true
		}
		seen[cur] = struct{}{}
		next, ok := parents[cur]
		if !ok {
			return false
		}
		cur = next
	}
}
