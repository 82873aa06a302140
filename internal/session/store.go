// Package session keeps one conversation state machine per user. Turns for
// the same user are serialized with a per-key lock; idle sessions expire.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/capitalize-ai/prompt-engine/internal/flow"
	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/pkg/metrics"
)

// Session is the live conversation of one user.
type Session struct {
	Key            string
	ConversationID string
	State          flow.State
	// Language is the language replies are localized into.
	Language  model.Language
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is an expiring arena of sessions guarded by per-key locks.
type Store struct {
	sessions *cache.Cache

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewStore creates a store whose sessions expire after ttl without activity.
func NewStore(ttl time.Duration) *Store {
	cleanup := ttl / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}

	s := &Store{
		sessions: cache.New(ttl, cleanup),
		locks:    make(map[string]*keyLock),
	}
	s.sessions.OnEvicted(func(string, interface{}) {
		s.reportActive()
	})
	return s
}

// Acquire blocks until the caller holds the lock for key or ctx is done.
// The returned release func must be called exactly once.
func (s *Store) Acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.unref(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.unref(key, l)
		})
	}, nil
}

func (s *Store) unref(key string, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// Get returns the live session for key. Callers should hold the key lock.
func (s *Store) Get(key string) (Session, bool) {
	v, ok := s.sessions.Get(key)
	if !ok {
		return Session{}, false
	}
	return *(v.(*Session)), true
}

// GetOrCreate returns the live session for key, starting a new one in the
// initial state when none exists.
func (s *Store) GetOrCreate(key string, language model.Language) Session {
	if sess, ok := s.Get(key); ok {
		return sess
	}
	now := time.Now()
	return Session{
		Key:       key,
		State:     flow.NewState(),
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Save stores sess and resets its idle timer. Terminal sessions are deleted.
func (s *Store) Save(sess Session) {
	if sess.State.Terminal() {
		s.Delete(sess.Key)
		return
	}
	sess.UpdatedAt = time.Now()
	s.sessions.SetDefault(sess.Key, &sess)
	s.reportActive()
}

// Delete removes the session for key.
func (s *Store) Delete(key string) {
	s.sessions.Delete(key)
	s.reportActive()
}

// Len returns the number of live sessions, including expired ones not yet
// swept.
func (s *Store) Len() int {
	return s.sessions.ItemCount()
}

func (s *Store) reportActive() {
	metrics.SessionsActive.Set(float64(s.sessions.ItemCount()))
}
