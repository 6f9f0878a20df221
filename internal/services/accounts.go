// Package services – Accounts
//
// Accounts registers users, checks passwords and issues session tokens.
// Usernames are compared case-insensitively (Unicode case folding after NFC
// normalization); passwords are stored as bcrypt hashes.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/persona-chat/internal/domain"
	"github.com/tbourn/persona-chat/internal/repo"
)

// MaxUsernameRunes caps the username length.
const MaxUsernameRunes = 64

// Accounts manages users and their login sessions.
type Accounts struct {
	DB *gorm.DB

	// TTL is the lifetime of an issued session token.
	TTL time.Duration
	// Cost is the bcrypt work factor.
	Cost int
	// Now is the time source.
	Now func() time.Time
}

// NewAccounts returns an Accounts service with bcrypt.DefaultCost.
func NewAccounts(db *gorm.DB, ttl time.Duration) *Accounts {
	return &Accounts{DB: db, TTL: ttl, Cost: bcrypt.DefaultCost, Now: time.Now}
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// Register creates a user. Username and password are required; usernames
// are unique under case folding.
func (a *Accounts) Register(ctx context.Context, username, password string) (*domain.User, error) {
	tr := otel.Tracer("services/Accounts")
	ctx, span := tr.Start(ctx, "Register")
	defer span.End()

	display := norm.NFC.String(strings.TrimSpace(username))
	if display == "" {
		return nil, domain.NewValidationError("username", "username is required")
	}
	if utf8.RuneCountInString(display) > MaxUsernameRunes {
		return nil, domain.NewValidationError("username", "username is too long")
	}
	if strings.TrimSpace(password) == "" {
		return nil, domain.NewValidationError("password", "password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.Cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, domain.NewValidationError("password", "password is too long")
		}
		return nil, err
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     display,
		UsernameKey:  usernameKey(display),
		PasswordHash: string(hash),
		CreatedAt:    a.Now().UnixMilli(),
	}
	if err := repo.CreateUser(ctx, a.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, nil
}

// Login checks the credentials and issues a session token.
func (a *Accounts) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	tr := otel.Tracer("services/Accounts")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	u, err := repo.FindUserByUsername(ctx, a.DB, usernameKey(username))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	now := a.Now()
	s := &domain.Session{
		Token:     newToken(),
		UserID:    u.ID,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(a.TTL).UnixMilli(),
	}
	if err := repo.CreateSession(ctx, a.DB, s); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return &LoginResult{Token: s.Token, ExpiresAt: s.ExpiresAt, User: u}, nil
}

// Logout revokes token. Unknown tokens are ignored.
func (a *Accounts) Logout(ctx context.Context, token string) error {
	return repo.DeleteSession(ctx, a.DB, token)
}

// Resolve returns the user and session behind a live token.
func (a *Accounts) Resolve(ctx context.Context, token string) (*domain.User, *domain.Session, error) {
	tr := otel.Tracer("services/Accounts")
	ctx, span := tr.Start(ctx, "Resolve")
	defer span.End()

	if token == "" {
		return nil, nil, ErrSessionNotFound
	}
	s, err := repo.GetSession(ctx, a.DB, token, a.Now().UnixMilli())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	u, err := repo.GetUser(ctx, a.DB, s.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, s, nil
}

// PurgeExpired deletes expired sessions and returns how many were removed.
func (a *Accounts) PurgeExpired(ctx context.Context) (int64, error) {
	return repo.DeleteExpiredSessions(ctx, a.DB, a.Now().UnixMilli())
}

func usernameKey(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// newToken returns 64 hex characters drawn from two random UUIDs.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
