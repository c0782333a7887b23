package session

import (
	"context"
	"sync"

	"donorlink.org/internal/auth"
	"donorlink.org/internal/domain"
)

// Snapshot is the durable part of a session. A snapshot without a token is
// treated as no session at all.
type Snapshot struct {
	Token string
	Role  auth.Role
	User  *domain.User
}

// Empty reports whether the snapshot holds no session.
func (s Snapshot) Empty() bool {
	return s.Token == ""
}

func (s Snapshot) clone() Snapshot {
	s.User = s.User.Clone()
	return s
}

// Persister stores the session snapshot between process runs.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
}

// MemoryPersister keeps the snapshot in process memory.
type MemoryPersister struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (m *MemoryPersister) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone(), nil
}

func (m *MemoryPersister) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.clone()
	return nil
}

func (m *MemoryPersister) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = Snapshot{}
	return nil
}
