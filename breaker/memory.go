package breaker

import (
	"context"
	"sync"
	"time"
)

// gcThreshold is the entry count above which expired entries are swept on
// the next failure.
const gcThreshold = 1024

type memoryEntry struct {
	failures  int
	windowEnd time.Time
	openUntil time.Time
}

// Memory is an in-process Backend.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memoryEntry
}

// NewMemory creates a Memory backend. A nil now defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}

	return &Memory{
		now:     now,
		entries: make(map[string]*memoryEntry),
	}
}

func (m *Memory) IsOpen(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}

	if now.Before(entry.openUntil) {
		return true, nil
	}

	if now.After(entry.windowEnd) {
		delete(m.entries, key)
	}

	return false, nil
}

func (m *Memory) RecordFailure(_ context.Context, key string, threshold int, coolOff time.Duration) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= gcThreshold {
		m.gc(now)
	}

	entry, ok := m.entries[key]
	if !ok || now.After(entry.windowEnd) {
		entry = &memoryEntry{windowEnd: now.Add(coolOff)}
		m.entries[key] = entry
	}

	entry.failures++
	if entry.failures < threshold {
		return false, nil
	}

	entry.failures = 0
	entry.openUntil = now.Add(coolOff)
	entry.windowEnd = entry.openUntil

	return true, nil
}

func (m *Memory) RecordSuccess(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}

func (m *Memory) gc(now time.Time) {
	for key, entry := range m.entries {
		if now.After(entry.windowEnd) && !now.Before(entry.openUntil) {
			delete(m.entries, key)
		}
	}
}

var _ Backend = (*Memory)(nil)
