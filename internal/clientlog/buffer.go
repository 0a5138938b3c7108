// Package clientlog keeps the most recent log entries posted by browsers.
package clientlog

import (
	"encoding/json"
	"sync"
	"time"
)

// DefaultSize is the buffer capacity used when none is configured.
const DefaultSize = 500

// Entry is one client-submitted log record.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId,omitempty"`
	Body      json.RawMessage `json:"body"`
}

// Buffer is a thread-safe ring buffer that stores the last N entries.
type Buffer struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// NewBuffer creates a buffer that retains up to maxEntries entries.
func NewBuffer(maxEntries int) *Buffer {
	if maxEntries <= 0 {
		maxEntries = DefaultSize
	}
	return &Buffer{
		entries:    make([]Entry, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

// Write appends an entry, dropping the oldest when full.
func (b *Buffer) Write(sessionID string, body json.RawMessage) Entry {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Body:      append(json.RawMessage(nil), body...),
	}

	b.mu.Lock()
	if len(b.entries) >= b.maxEntries {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, entry)
	b.mu.Unlock()
	return entry
}

// Recent returns the last n entries, oldest first. n <= 0 returns everything.
func (b *Buffer) Recent(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := len(b.entries)
	if n <= 0 || n > total {
		n = total
	}
	result := make([]Entry, n)
	copy(result, b.entries[total-n:])
	return result
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
