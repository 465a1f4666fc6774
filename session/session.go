// Package session owns the identity of the signed-in actor. A Session is the
// single writer of that identity; other components read it through
// access.Resolver and learn about changes through Subscribe.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"librarydesk/access"
	"librarydesk/library"
)

// State is the authentication state of a Session.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Authenticator is the account backend a Session signs in against.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (library.AuthSession, error)
	SignUp(ctx context.Context, email, password string, profile library.Profile) (library.AuthSession, error)
	SignOut(ctx context.Context, token string) error
}

// Event is published on every state transition. Actor is nil unless State
// is Authenticated.
type Event struct {
	State State
	Actor *access.Actor
}

// Session tracks one actor at a time.
type Session struct {
	auth   Authenticator
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	actor     *access.Actor
	token     string
	expiresAt time.Time

	// epoch is bumped by SignOut. An identity call that started in an
	// earlier epoch must not install its result.
	epoch   uint64
	subs    map[int]func(Event)
	nextSub int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New returns an unauthenticated session backed by auth.
func New(auth Authenticator, opts ...Option) *Session {
	s := &Session{
		auth:   auth,
		logger: slog.Default(),
		now:    time.Now,
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignIn authenticates with email and password. While one identity call is
// in flight, any other fails with library.ErrAuthInProgress. On failure the
// previous state is kept.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, func(ctx context.Context) (library.AuthSession, error) {
		return s.auth.SignIn(ctx, email, password)
	})
}

// SignUp creates an account with the given full name and role and signs in
// as it.
func (s *Session) SignUp(ctx context.Context, email, password string, profile library.Profile) error {
	return s.authenticate(ctx, func(ctx context.Context) (library.AuthSession, error) {
		return s.auth.SignUp(ctx, email, password, profile)
	})
}

func (s *Session) authenticate(ctx context.Context, call func(context.Context) (library.AuthSession, error)) error {
	s.mu.Lock()
	if s.state == Authenticating {
		s.mu.Unlock()
		return library.ErrAuthInProgress
	}
	prevState, prevActor := s.state, s.actor
	epoch := s.epoch
	s.state = Authenticating
	s.mu.Unlock()
	s.publish(Event{State: Authenticating})

	as, err := call(ctx)

	s.mu.Lock()
	if s.epoch != epoch {
		// Signed out while the call was running.
		s.clearLocked()
		s.mu.Unlock()
		if err == nil {
			if rerr := s.auth.SignOut(context.WithoutCancel(ctx), as.Token); rerr != nil {
				s.logger.Warn("revoke cancelled session", "error", rerr)
			}
		}
		s.publish(Event{State: Unauthenticated})
		return library.ErrAuthCancelled
	}
	if err != nil {
		s.state, s.actor = prevState, prevActor
		s.mu.Unlock()
		s.publish(Event{State: prevState, Actor: prevActor})
		return err
	}
	prevToken := s.token
	// The role is fixed here for the whole session.
	s.state = Authenticated
	s.actor = as.Profile.Actor()
	s.token = as.Token
	s.expiresAt = as.ExpiresAt
	actor := s.actor
	s.mu.Unlock()

	if prevToken != "" {
		if err := s.auth.SignOut(ctx, prevToken); err != nil {
			s.logger.Warn("revoke replaced session", "error", err)
		}
	}
	s.logger.Info("signed in", "actor", actor.ID, "role", actor.Role)
	s.publish(Event{State: Authenticated, Actor: actor})
	return nil
}

// SignOut drops the local identity first and then revokes the session at
// the backend. A backend failure is returned but the local identity is
// already gone. During a pending SignIn or SignUp the state stays
// Authenticating and that call returns library.ErrAuthCancelled when its
// backend call completes.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	wasAuthenticated := s.state == Authenticated
	s.epoch++
	if s.state == Authenticating {
		s.actor = nil
		s.token = ""
		s.expiresAt = time.Time{}
	} else {
		s.clearLocked()
	}
	s.mu.Unlock()

	if wasAuthenticated {
		s.publish(Event{State: Unauthenticated})
	}
	if token == "" {
		return nil
	}
	if err := s.auth.SignOut(ctx, token); err != nil {
		s.logger.Warn("sign out at backend failed", "error", err)
		return err
	}
	return nil
}

// CurrentActor returns the signed-in actor, or nil. An expired session is
// torn down on the first read after its expiry.
func (s *Session) CurrentActor() *access.Actor {
	s.mu.Lock()
	if s.state != Authenticated {
		s.mu.Unlock()
		return nil
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		actorID := s.actor.ID
		s.clearLocked()
		s.mu.Unlock()
		s.logger.Info("session expired", "actor", actorID)
		s.publish(Event{State: Unauthenticated})
		return nil
	}
	a := *s.actor
	s.mu.Unlock()
	return &a
}

// State returns the current state without checking expiry.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every later transition. The returned func
// removes it.
func (s *Session) Subscribe(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Session) clearLocked() {
	s.state = Unauthenticated
	s.actor = nil
	s.token = ""
	s.expiresAt = time.Time{}
}

// publish runs outside the lock so subscribers may call back into s.
func (s *Session) publish(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
