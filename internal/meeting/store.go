package meeting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
)

var (
	ErrSessionNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "meeting session not found"}
	ErrSessionExists   = &apperr.Error{Kind: apperr.KindConflict, Message: "meeting session already exists"}
	// ErrVersionConflict is returned by Update when the stored version no
	// longer matches the session being written.
	ErrVersionConflict = &apperr.Error{Kind: apperr.KindConflict, Message: "meeting session modified concurrently"}
)

// Store persists sessions. Records past ExpiresAt are treated as gone.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	// Update writes s if the stored version equals s.Version and bumps the
	// version on success.
	Update(ctx context.Context, s *Session) error
	// ListOpen returns sessions in created or active status.
	ListOpen(ctx context.Context) ([]Session, error)
}

// MemoryStore keeps sessions in process. It backs local development when no
// DynamoDB table is configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[uuid.UUID]*Session{}, now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	s.Version = 1
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveLocked(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.liveLocked(s.ID)
	if !ok {
		return ErrSessionNotFound
	}
	if cur.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *MemoryStore) ListOpen(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0)
	for id := range m.sessions {
		s, ok := m.liveLocked(id)
		if ok && !s.Status.Terminal() {
			out = append(out, *s.clone())
		}
	}
	return out, nil
}

// liveLocked drops the record once its retention has passed.
func (m *MemoryStore) liveLocked(id uuid.UUID) (*Session, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if !s.ExpiresAt.IsZero() && !m.now().Before(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil, false
	}
	return s, true
}
