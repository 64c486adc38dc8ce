package liveness

import (
	"context"
	"sync"
)

// Store abstrahiert die Ablage lebender Sessions. Der Engine ist dadurch
// ohne konkretes Backend testbar und kann später auf einen verteilten Cache
// wechseln, ohne dass sich die Zustandsmaschine ändert.
type Store interface {
	// Put legt eine neue Session an oder ersetzt sie vollständig
	Put(ctx context.Context, session *Session) error

	// Get liefert eine Kopie der Session oder ErrNotFound
	Get(ctx context.Context, id string) (*Session, error)

	// CompareAndSwap schreibt die Session nur, wenn die gespeicherte Version
	// der erwarteten entspricht; sonst ErrVersionConflict
	CompareAndSwap(ctx context.Context, session *Session, expectedVersion int64) error

	// List liefert Kopien aller gespeicherten Sessions (für den Sweeper)
	List(ctx context.Context) ([]*Session, error)

	// Delete entfernt eine Session endgültig
	Delete(ctx context.Context, id string) error
}

// ErrVersionConflict signalisiert einen verlorenen CompareAndSwap
var ErrVersionConflict = versionConflictError{}

type versionConflictError struct{}

func (versionConflictError) Error() string { return "session version conflict" }

// MemoryStore ist das Standard-Backend: eine prozesslokale Map. Ersetzt die
// ad-hoc Session-Dictionaries des Altsystems durch eine einzige, gesperrte
// Ablage hinter der Store-Schnittstelle.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore erstellt einen leeren In-Memory-Store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Put legt eine neue Session an oder ersetzt sie vollständig
func (m *MemoryStore) Put(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := session.Clone()
	stored.Version++
	m.sessions[session.ID] = stored
	session.Version = stored.Version
	return nil
}

// Get liefert eine Kopie der Session oder ErrNotFound
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

// CompareAndSwap schreibt nur bei passender Version
func (m *MemoryStore) CompareAndSwap(_ context.Context, session *Session, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	stored := session.Clone()
	stored.Version = expectedVersion + 1
	m.sessions[session.ID] = stored
	session.Version = stored.Version
	return nil
}

// List liefert Kopien aller gespeicherten Sessions
func (m *MemoryStore) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session.Clone())
	}
	return sessions, nil
}

// Delete entfernt eine Session endgültig
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}
