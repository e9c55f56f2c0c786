package quota

import (
	"context"
	"sync"
	"time"
)

// NewMemoryLog returns an in-memory RequestLog for tests.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// MemoryLog is an in-memory RequestLog fake shared by package tests. The
// server always tracks quota through the Postgres request log.
type MemoryLog struct {
	mu      sync.Mutex
	entries []memoryEntry
}

type memoryEntry struct {
	userID string
	at     time.Time
	reset  bool
}

// CountRequestsInWindow counts non-reset entries inside [start, end).
func (l *MemoryLog) CountRequestsInWindow(_ context.Context, userID string, start, end time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, e := range l.entries {
		if e.userID != userID || e.reset {
			continue
		}
		if !e.at.Before(start) && e.at.Before(end) {
			count++
		}
	}
	return count, nil
}

// InsertRequestLogEntries appends count entries stamped at.
func (l *MemoryLog) InsertRequestLogEntries(_ context.Context, userID string, at time.Time, count int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := 0; i < count; i++ {
		l.entries = append(l.entries, memoryEntry{userID: userID, at: at})
	}
	return nil
}

// MarkEntriesReset flags entries of userID stamped before the cutoff.
func (l *MemoryLog) MarkEntriesReset(_ context.Context, userID string, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var changed int64
	for i := range l.entries {
		e := &l.entries[i]
		if e.userID == userID && !e.reset && !e.at.After(before) {
			e.reset = true
			changed++
		}
	}
	return changed, nil
}

// Len returns the number of stored entries, reset or not. Useful for tests.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
