package forensic

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

// InteractionStore is the sliding-window counter behind collusion detection.
// Implementations reset a key's count once the window has fully lapsed since
// the last interaction.
type InteractionStore interface {
	// Bump records one interaction for key at now and returns the count
	// within the current window, including this one.
	Bump(key string, now time.Time) int
	// EvictStale drops every entry whose window lapsed before now.
	EvictStale(now time.Time) int
}

type windowEntry struct {
	count int
	last  time.Time
}

// MemStore is the in-process InteractionStore.
type MemStore struct {
	mu      deadlock.Mutex
	entries map[string]*windowEntry
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*windowEntry)}
}

func (m *MemStore) Bump(key string, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	if e == nil || now.Sub(e.last) > Window {
		e = &windowEntry{}
		m.entries[key] = e
	}
	e.count++
	e.last = now
	return e.count
}

func (m *MemStore) EvictStale(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if now.Sub(e.last) > Window {
			delete(m.entries, k)
			n++
		}
	}
	return n
}
