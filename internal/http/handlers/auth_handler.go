// Account HTTP handlers.
//
// This file exposes the login surface:
//   - POST /auth/register  (create an account)
//   - POST /auth/login     (issue a session token)
//   - POST /auth/logout    (revoke the token and close its orchestrator)
//   - GET  /auth/me        (current user)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/persona-chat/internal/http/middleware"
)

// CredentialsRequest is the JSON payload for register and login.
type CredentialsRequest struct {
	Username string `json:"username" binding:"required" example:"sam"`
	Password string `json:"password" binding:"required" example:"correct horse battery staple"`
}

// Register godoc
// @ID          register
// @Summary     Create an account
// @Description Registers a user. Usernames are unique case-insensitively.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     201   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409   {object}  handlers.ErrorResponse  "Username taken"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password are required")
		return
	}
	u, err := h.accounts.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, u)
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Checks the credentials and returns a session token for the Authorization (Bearer) or X-Session-Token header.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     200   {object}  services.LoginResult
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password are required")
		return
	}
	res, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// Logout godoc
// @ID          logout
// @Summary     Log out
// @Description Revokes the session token and discards its in-memory conversation state.
// @Tags        Auth
// @Security    SessionToken
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	token := middleware.SessionToken(c)
	if err := h.accounts.Logout(c.Request.Context(), token); err != nil {
		failErr(c, err)
		return
	}
	if h.sessions != nil {
		h.sessions.Release(token)
	}
	noContent(c)
}

// Me godoc
// @ID          me
// @Summary     Current user
// @Tags        Auth
// @Produce     json
// @Security    SessionToken
// @Success     200  {object}  domain.User
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, s.User)
}
