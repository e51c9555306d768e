package review

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
)

// SessionStore persists sessions for the Manager. Implementations return
// ErrSessionNotFound from Get when the id is unknown or expired, and must
// not retain the pointer passed to Put.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SessionLocker is implemented by stores that several processes share. The
// Manager holds the returned lock for every read-modify-write of a session,
// in addition to its in-process lock.
type SessionLocker interface {
	LockSession(ctx context.Context, id string) (release func(), err error)
}

// MemoryStore keeps sessions in process memory with a sliding TTL. Expired
// sessions are purged by a janitor every sweep interval.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates a store whose sessions expire ttl after their last
// write.
func NewMemoryStore(ttl, sweep time.Duration) *MemoryStore {
	return &MemoryStore{cache: cache.New(ttl, sweep)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	if x, found := m.cache.Get(id); found {
		return x.(*Session).clone(), nil
	}
	return nil, eris.Wrapf(ErrSessionNotFound, "session %s", id)
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.cache.Set(s.ID, s.clone(), cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Count returns the number of unexpired sessions.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	return len(m.cache.Items()), nil
}
