package audit

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryLogLimit = 1000

// MemoryLog keeps the most recent entries in process.
type MemoryLog struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// NewMemoryLog constructs a log bounded to limit entries.
func NewMemoryLog(limit int) *MemoryLog {
	if limit <= 0 {
		limit = defaultMemoryLogLimit
	}
	return &MemoryLog{limit: limit}
}

// Log appends an entry, dropping the oldest when full.
func (l *MemoryLog) Log(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
	return nil
}

// Entries returns a copy of the retained entries, oldest first.
func (l *MemoryLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
