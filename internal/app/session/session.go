// Package session holds the authenticated identity of one caller. The auth
// layer is the only writer; entitlement reconcilers and the subscription
// collection read it and react to identity changes.
package session

import (
	"context"
	"sync"

	"github.com/fatflowers/subtrack/pkg/types"
)

type Identity struct {
	UserID string     `json:"user_id"`
	Email  string     `json:"email"`
	Name   string     `json:"name"`
	Role   types.Role `json:"role"`
}

// State mirrors how far auth resolution got.
type State int

const (
	StateLoading State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Listener receives the previous and the new identity; either may be nil.
type Listener func(prev, next *Identity)

type Session struct {
	mu        sync.RWMutex
	resolved  bool
	identity  *Identity
	listeners map[int]Listener
	nextID    int
	disposed  bool
}

func New() *Session {
	return &Session{listeners: map[int]Listener{}}
}

// Init resolves the session. A nil identity means unauthenticated.
func (s *Session) Init(id *Identity) {
	s.mu.Lock()
	if !s.disposed {
		s.resolved = true
	}
	s.mu.Unlock()
	s.SetIdentity(id)
}

// SetIdentity replaces the identity. Listeners fire only when the user
// changes; profile or role updates for the same user are applied silently.
func (s *Session) SetIdentity(id *Identity) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	prev := s.identity
	var next *Identity
	if id != nil && id.UserID != "" {
		cp := *id
		next = &cp
	}
	s.identity = next
	if userOf(prev) == userOf(next) {
		s.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
}

// Identity returns a copy of the current identity.
func (s *Session) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case !s.resolved:
		return StateLoading
	case s.identity == nil:
		return StateUnauthenticated
	default:
		return StateAuthenticated
	}
}

// OnIdentityChange registers fn and returns a func that unregisters it.
// Listeners run in registration order on the goroutine calling SetIdentity.
func (s *Session) OnIdentityChange(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Dispose drops all listeners; later SetIdentity calls are ignored.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.listeners = map[int]Listener{}
}

func userOf(id *Identity) string {
	if id == nil {
		return ""
	}
	return id.UserID
}

const ctxKey = "session"

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(ctxKey).(*Session)
	return s, ok && s != nil
}
