// Package session holds the identity resolved by the cross-window handshake.
//
// A Store has exactly one writer (the handshake listener) and any number of
// readers. Readers get immutable snapshots and may subscribe to changes.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoIdentity is returned by identity-gated operations while the session is anonymous.
var ErrNoIdentity = errors.New("session: identity not resolved")

// Identity is an immutable snapshot of the session.
type Identity struct {
	Email         string    `json:"email"`
	FromHandshake bool      `json:"is_from_post_message"`
	Origin        string    `json:"origin,omitempty"`
	AppSessionID  string    `json:"app_session_id,omitempty"`
	ResolvedAt    time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the snapshot carries an identity.
func (i Identity) Resolved() bool {
	return i.Email != ""
}

// Reader is the read side of a Store, handed to identity-gated components.
type Reader interface {
	Snapshot() Identity
	Require() (Identity, error)
}

// Store is the single identity container for one embedded page session.
type Store struct {
	mu          sync.RWMutex
	current     Identity
	version     uint64
	subscribers map[uint64]func(Identity)
	nextSubID   uint64
	changed     chan struct{}
}

// NewStore returns an anonymous store.
func NewStore() *Store {
	return &Store{
		subscribers: make(map[uint64]func(Identity)),
		changed:     make(chan struct{}),
	}
}

// Snapshot returns the current identity; the zero Identity when anonymous.
func (s *Store) Snapshot() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Identity returns the resolved email, or "".
func (s *Store) Identity() string {
	return s.Snapshot().Email
}

// FromHandshake reports whether the identity came from the cross-window handshake.
func (s *Store) FromHandshake() bool {
	return s.Snapshot().FromHandshake
}

// Resolved reports whether an identity is present.
func (s *Store) Resolved() bool {
	return s.Snapshot().Resolved()
}

// Version increments on every successful Resolve.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Require returns the identity or ErrNoIdentity.
func (s *Store) Require() (Identity, error) {
	id := s.Snapshot()
	if !id.Resolved() {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// Resolve replaces the current identity and notifies subscribers.
// Only the handshake listener calls this; an empty email is rejected so that
// the store can never hold an unverified blank identity.
func (s *Store) Resolve(id Identity) error {
	if id.Email == "" {
		return errors.New("session: refusing to resolve an empty identity")
	}
	if id.ResolvedAt.IsZero() {
		id.ResolvedAt = time.Now()
	}

	s.mu.Lock()
	s.current = id
	s.version++
	subs := make([]func(Identity), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	for _, fn := range subs {
		fn(id)
	}
	return nil
}

// Subscribe registers fn to be called after every Resolve. The returned
// cancel func is idempotent.
func (s *Store) Subscribe(fn func(Identity)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Wait blocks until an identity is resolved or ctx is done. There is no
// built-in deadline: an unanswered handshake leaves the session anonymous.
func (s *Store) Wait(ctx context.Context) (Identity, error) {
	for {
		s.mu.RLock()
		current, changed := s.current, s.changed
		s.mu.RUnlock()

		if current.Resolved() {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return Identity{}, ctx.Err()
		case <-changed:
		}
	}
}

type contextKey struct{}

// WithIdentity stores an identity snapshot in ctx for explicit propagation.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.Resolved()
}
