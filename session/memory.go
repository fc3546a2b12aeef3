package session

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// InMemoryRegistry keeps sessions in process memory. A bridge using it only
// ever lists its own session.
type InMemoryRegistry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

var _ Registry = (*InMemoryRegistry)(nil)

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{sessions: make(map[string]*Session)}
}

func (r *InMemoryRegistry) Register(ctx context.Context, name string, port int) (*Session, error) {
	s := newSession(name, port)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	out := *s
	return &out, nil
}

func (r *InMemoryRegistry) Unregister(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false, nil
	}
	delete(r.sessions, id)
	return true, nil
}

func (r *InMemoryRegistry) List(ctx context.Context) ([]Session, error) {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()
	sortSessions(out)
	return out, nil
}

func (r *InMemoryRegistry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	out := *s
	return &out, nil
}

func (r *InMemoryRegistry) SetConnected(ctx context.Context, id string, connected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	s.IsConnected = connected
	return nil
}

func (r *InMemoryRegistry) Close() error {
	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	return nil
}
