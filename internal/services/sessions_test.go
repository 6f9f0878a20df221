package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/persona-chat/internal/completion"
	"github.com/tbourn/persona-chat/internal/domain"
	"github.com/tbourn/persona-chat/internal/repo"
)

func TestSessionRegistry_AcquireReuseRelease(t *testing.T) {
	ctx := context.Background()
	db := newServicesDB(t)
	u := &domain.User{ID: "u1", Username: "sam", UsernameKey: "sam", PasswordHash: "h", CreatedAt: 1}
	if err := repo.CreateUser(ctx, db, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	build := NewSessionBuilder(repo.NewStore(db), completion.New(completion.Options{Model: "m"}), 5, zerolog.Nop())
	reg := NewSessionRegistry(build)

	s1, err := reg.Acquire(ctx, "tok", u, time.Now().Add(time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s2, _ := reg.Acquire(ctx, "tok", u, 0)
	if s1 != s2 || reg.Len() != 1 {
		t.Fatalf("same token must reuse the session")
	}

	// The orchestrator writes through to the user's store.
	p, err := s1.Orchestrator.CreateProfile(ctx, ProfileInput{Name: "Alex", Role: "mentor"})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if n := s1.Notifications.Len(); n != 1 {
		t.Fatalf("want one queued notification, got %d", n)
	}
	profiles, _, err := s1.Store.Load(ctx)
	if err != nil || len(profiles) != 1 || profiles[0].ID != p.ID {
		t.Fatalf("profile not persisted: %+v err=%v", profiles, err)
	}

	reg.Release("tok")
	if reg.Len() != 0 {
		t.Fatalf("release should forget the session")
	}
	if _, err := s1.Orchestrator.CreateProfile(ctx, ProfileInput{Name: "B", Role: "friend"}); !errors.Is(err, ErrOrchestratorClosed) {
		t.Fatalf("released orchestrator should be closed, got %v", err)
	}

	// A fresh session sees the durable state.
	s3, err := reg.Acquire(ctx, "tok2", u, 0)
	if err != nil {
		t.Fatalf("Acquire tok2: %v", err)
	}
	if ps := s3.Orchestrator.Profiles(); len(ps) != 1 || ps[0].ID != p.ID {
		t.Fatalf("new session should load stored profiles, got %+v", ps)
	}
}

func TestSessionRegistry_ReleaseExpiredAndCloseAll(t *testing.T) {
	ctx := context.Background()
	build := func(user *domain.User) (*Session, error) {
		o, err := NewOrchestrator(user, newMemGateway(), &stubCompleter{})
		if err != nil {
			return nil, err
		}
		return &Session{User: *user, Orchestrator: o, Notifications: NewNotificationQueue(1)}, nil
	}
	reg := NewSessionRegistry(build)
	now := time.Unix(1_700_000_000, 0)

	if _, err := reg.Acquire(ctx, "old", testUser, now.Add(-time.Minute).UnixMilli()); err != nil {
		t.Fatalf("Acquire old: %v", err)
	}
	if _, err := reg.Acquire(ctx, "new", testUser, now.Add(time.Hour).UnixMilli()); err != nil {
		t.Fatalf("Acquire new: %v", err)
	}
	if n := reg.ReleaseExpired(now); n != 1 || reg.Len() != 1 {
		t.Fatalf("ReleaseExpired: released=%d len=%d", n, reg.Len())
	}
	reg.CloseAll()
	if reg.Len() != 0 {
		t.Fatalf("CloseAll should empty the registry")
	}
	if _, err := reg.Acquire(ctx, "x", nil, 0); !errors.Is(err, ErrNoSession) {
		t.Fatalf("nil user: want ErrNoSession, got %v", err)
	}
}

func TestSessionRegistry_OpenFailure(t *testing.T) {
	g := newMemGateway()
	g.loadErr = errors.New("disk")
	reg := NewSessionRegistry(func(user *domain.User) (*Session, error) {
		o, _ := NewOrchestrator(user, g, &stubCompleter{})
		return &Session{Orchestrator: o, Notifications: NewNotificationQueue(1)}, nil
	})
	if _, err := reg.Acquire(context.Background(), "t", testUser, 0); !domain.IsStorage(err) {
		t.Fatalf("want storage error, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("failed sessions must not be registered")
	}
}
