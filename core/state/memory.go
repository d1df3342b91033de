package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Read returns the stored session or Idle.
func (m *MemoryStore) Read(ctx context.Context, userID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Idle(), wrapUnavailable("read", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[userID]; ok {
		return s.Clone(), nil
	}
	return Idle(), nil
}

// Commit replaces the stored session, deleting it when s is Idle.
func (m *MemoryStore) Commit(ctx context.Context, userID string, s Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return wrapUnavailable("commit", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.IsIdle() {
		delete(m.sessions, userID)
		return nil
	}
	m.sessions[userID] = s.Clone()
	return nil
}

// Len returns the number of active sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// MemoryDeduper keeps event ids for a bounded time.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper returns a deduper that forgets ids after ttl.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

// Seen reports whether eventID was marked within the retention window.
func (d *MemoryDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gcLocked()
	_, ok := d.seen[eventID]
	return ok, nil
}

// Mark records eventID.
func (d *MemoryDeduper) Mark(_ context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gcLocked()
	d.seen[eventID] = d.now()
	return nil
}

func (d *MemoryDeduper) gcLocked() {
	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) > d.ttl {
			delete(d.seen, id)
		}
	}
}
