// HTTP handlers.
//
// Each authenticated endpoint is an intent issued to the Orchestrator of the
// caller's session (resolved by middleware.RequireSession). Handlers are
// transport-thin: they decode input, call the orchestrator or the account
// service, and translate results and errors into HTTP responses.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/persona-chat/internal/domain"
	"github.com/tbourn/persona-chat/internal/http/middleware"
	"github.com/tbourn/persona-chat/internal/services"
)

//
// Service contracts (context-aware)
//

// AccountService registers users and issues or revokes session tokens.
// services.Accounts implements it.
type AccountService interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*services.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// SessionReleaser tears down the live state of a session token.
// services.SessionRegistry implements it.
type SessionReleaser interface {
	Release(token string)
}

// CredentialSlot is the per-user completion API key store.
// repo.UserStore implements it.
type CredentialSlot interface {
	APIKey(ctx context.Context) (string, error)
	SaveAPIKey(ctx context.Context, key string) error
	ClearAPIKey(ctx context.Context) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. Session-scoped state is read from the
// Gin context; only account-level services are injected.
type Handlers struct {
	accounts AccountService
	sessions SessionReleaser
}

// New constructs a Handlers instance bound to the given services.
func New(accounts AccountService, sessions SessionReleaser) *Handlers {
	return &Handlers{accounts: accounts, sessions: sessions}
}

// session returns the caller's live session. It writes a 401 and returns
// false when RequireSession did not run or stored something else.
func session(c *gin.Context) (*services.Session, bool) {
	v, ok := middleware.SessionFrom(c)
	if ok {
		if s, ok := v.(*services.Session); ok && s != nil && s.Orchestrator != nil {
			return s, true
		}
	}
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing session")
	return nil, false
}
