package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/persona-chat/internal/completion"
	"github.com/tbourn/persona-chat/internal/domain"
	"github.com/tbourn/persona-chat/internal/repo"
)

// Session is the live state behind one login token: its user, the
// orchestrator serving it and the queue its notifications land in.
type Session struct {
	Token         string
	User          domain.User
	ExpiresAt     int64
	Orchestrator  *Orchestrator
	Notifications *NotificationQueue
	// Store is the user's gateway, also used for the API key slot.
	Store *repo.UserStore
}

// SessionBuilder creates the (unopened) session state for user.
type SessionBuilder func(user *domain.User) (*Session, error)

// NewSessionBuilder wires each session to the user's slice of store and to
// llm, with the stored API key taking precedence over the configured one.
func NewSessionBuilder(store *repo.Store, llm *completion.Client, buffer int, logger zerolog.Logger) SessionBuilder {
	return func(user *domain.User) (*Session, error) {
		us := store.ForUser(user.ID)
		queue := NewNotificationQueue(buffer)
		orch, err := NewOrchestrator(user, us, llm.WithKeySource(us),
			WithNotifier(queue),
			WithLogger(logger.With().Str("user_id", user.ID).Logger()),
		)
		if err != nil {
			return nil, err
		}
		return &Session{User: *user, Orchestrator: orch, Notifications: queue, Store: us}, nil
	}
}

// SessionRegistry keeps one Orchestrator per session token, created and
// opened on first use and closed on logout or expiry.
type SessionRegistry struct {
	build SessionBuilder

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionRegistry returns an empty registry using build.
func NewSessionRegistry(build SessionBuilder) *SessionRegistry {
	return &SessionRegistry{build: build, sessions: map[string]*Session{}}
}

// Acquire returns the session for token, building and opening it for user
// the first time the token is seen.
func (r *SessionRegistry) Acquire(ctx context.Context, token string, user *domain.User, expiresAt int64) (*Session, error) {
	if user == nil {
		return nil, ErrNoSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[token]; ok {
		return s, nil
	}
	s, err := r.build(user)
	if err != nil {
		return nil, err
	}
	if err := s.Orchestrator.Open(ctx); err != nil {
		_ = s.Orchestrator.Close()
		return nil, err
	}
	s.Token = token
	s.ExpiresAt = expiresAt
	r.sessions[token] = s
	return s, nil
}

// Release closes and forgets the session for token.
func (r *SessionRegistry) Release(token string) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	delete(r.sessions, token)
	r.mu.Unlock()
	if ok {
		_ = s.Orchestrator.Close()
	}
}

// ReleaseExpired closes every session whose token expired at or before now
// and returns how many were released.
func (r *SessionRegistry) ReleaseExpired(now time.Time) int {
	ms := now.UnixMilli()
	r.mu.Lock()
	var expired []*Session
	for tok, s := range r.sessions {
		if s.ExpiresAt > 0 && s.ExpiresAt <= ms {
			expired = append(expired, s)
			delete(r.sessions, tok)
		}
	}
	r.mu.Unlock()
	for _, s := range expired {
		_ = s.Orchestrator.Close()
	}
	return len(expired)
}

// CloseAll releases every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = map[string]*Session{}
	r.mu.Unlock()
	for _, s := range all {
		_ = s.Orchestrator.Close()
	}
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
