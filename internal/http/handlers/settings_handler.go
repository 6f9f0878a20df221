// Settings HTTP handlers.
//
// The completion API key can be stored per user; it takes precedence over
// the server-wide key. The stored key is never returned, only a hint.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyRequest stores a completion API key.
type APIKeyRequest struct {
	APIKey string `json:"api_key" binding:"required" example:"sk-or-v1-..."`
}

// APIKeyStatus reports whether a key is stored.
type APIKeyStatus struct {
	Configured bool   `json:"configured"`
	Hint       string `json:"hint,omitempty" example:"…a1b2"`
}

// keyHint returns the last four characters of key behind an ellipsis.
func keyHint(key string) string {
	if len(key) <= 4 {
		return "…"
	}
	return "…" + key[len(key)-4:]
}

// credentials returns the caller's key slot, writing an error when absent.
func credentials(c *gin.Context) (CredentialSlot, bool) {
	s, found := session(c)
	if !found {
		return nil, false
	}
	if s.Store == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "credential storage unavailable")
		return nil, false
	}
	return s.Store, true
}

// GetAPIKey godoc
// @ID          getAPIKey
// @Summary     API key status
// @Tags        Settings
// @Produce     json
// @Security    SessionToken
// @Success     200  {object}  handlers.APIKeyStatus
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /settings/api-key [get]
func (h *Handlers) GetAPIKey(c *gin.Context) {
	slot, found := credentials(c)
	if !found {
		return
	}
	key, err := slot.APIKey(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if key == "" {
		ok(c, http.StatusOK, APIKeyStatus{})
		return
	}
	ok(c, http.StatusOK, APIKeyStatus{Configured: true, Hint: keyHint(key)})
}

// PutAPIKey godoc
// @ID          putAPIKey
// @Summary     Store the API key
// @Tags        Settings
// @Accept      json
// @Produce     json
// @Security    SessionToken
// @Param       body  body      handlers.APIKeyRequest  true  "API key"
// @Success     200   {object}  handlers.APIKeyStatus
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /settings/api-key [put]
func (h *Handlers) PutAPIKey(c *gin.Context) {
	slot, found := credentials(c)
	if !found {
		return
	}
	var req APIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "api_key required")
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if err := slot.SaveAPIKey(c.Request.Context(), key); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, APIKeyStatus{Configured: true, Hint: keyHint(key)})
}

// DeleteAPIKey godoc
// @ID          deleteAPIKey
// @Summary     Remove the stored API key
// @Tags        Settings
// @Security    SessionToken
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /settings/api-key [delete]
func (h *Handlers) DeleteAPIKey(c *gin.Context) {
	slot, found := credentials(c)
	if !found {
		return
	}
	if err := slot.ClearAPIKey(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
