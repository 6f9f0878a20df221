// Profile HTTP handlers.
//
// This file exposes REST endpoints for the caller's personas:
//   - GET    /profiles                 (list, newest first, ETag support)
//   - POST   /profiles                 (create; the new profile becomes active)
//   - GET    /profiles/{id}            (one profile with its conversation state)
//   - PUT    /profiles/{id}            (update descriptive fields)
//   - DELETE /profiles/{id}            (delete profile and transcript)
//   - DELETE /profiles/{id}/messages   (clear the chat)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/persona-chat/internal/domain"
	"github.com/tbourn/persona-chat/internal/services"
)

// ProfileView is a profile together with its send state.
type ProfileView struct {
	domain.Profile
	State services.ConversationState `json:"state" example:"idle"`
}

// ListProfilesResponse wraps the caller's profiles.
type ListProfilesResponse struct {
	Profiles []domain.Profile `json:"profiles"`
}

// ListProfiles godoc
// @ID          listProfiles
// @Summary     List profiles
// @Description Returns the session's profiles, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Profiles
// @Produce     json
// @Security    SessionToken
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"profiles:42\")
// @Success     200  {object}  handlers.ListProfilesResponse
// @Header      200  {string}  ETag  "Weak ETag for current state"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /profiles [get]
func (h *Handlers) ListProfiles(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	if notModified(c, "profiles", s.Orchestrator.Version()) {
		return
	}
	ok(c, http.StatusOK, ListProfilesResponse{Profiles: s.Orchestrator.Profiles()})
}

// CreateProfile godoc
// @ID          createProfile
// @Summary     Create a profile
// @Description Creates a persona with an empty transcript and makes it the active profile. Role "custom" uses custom_role.
// @Tags        Profiles
// @Accept      json
// @Produce     json
// @Security    SessionToken
// @Param       body  body      services.ProfileInput  true  "Profile fields"
// @Success     201   {object}  domain.Profile
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request / validation failed"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500   {object}  handlers.ErrorResponse  "Profile could not be stored"
// @Router      /profiles [post]
func (h *Handlers) CreateProfile(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	var in services.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := s.Orchestrator.CreateProfile(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Get a profile
// @Tags        Profiles
// @Produce     json
// @Security    SessionToken
// @Param       id   path      string  true  "Profile ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.ProfileView
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /profiles/{id} [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	id := c.Param("id")
	p, exists := s.Orchestrator.Profile(id)
	if !exists {
		failErr(c, services.ErrProfileNotFound)
		return
	}
	ok(c, http.StatusOK, ProfileView{Profile: p, State: s.Orchestrator.ConversationState(id)})
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Update a profile
// @Description Replaces name, role, description and image. ID and creation time never change.
// @Tags        Profiles
// @Accept      json
// @Produce     json
// @Security    SessionToken
// @Param       id    path      string                 true  "Profile ID (UUID)"  format(uuid)
// @Param       body  body      services.ProfileInput  true  "Profile fields"
// @Success     200   {object}  domain.Profile
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request / validation failed"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404   {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /profiles/{id} [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	var in services.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := s.Orchestrator.UpdateProfile(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeleteProfile godoc
// @ID          deleteProfile
// @Summary     Delete a profile
// @Description Deletes the profile and its transcript. A reply still pending for it is discarded.
// @Tags        Profiles
// @Security    SessionToken
// @Param       id   path      string  true  "Profile ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /profiles/{id} [delete]
func (h *Handlers) DeleteProfile(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	if err := s.Orchestrator.DeleteProfile(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ClearChat godoc
// @ID          clearChat
// @Summary     Clear a profile's chat
// @Description Empties the transcript of the profile. A reply still pending for it is discarded.
// @Tags        Profiles
// @Security    SessionToken
// @Param       id   path      string  true  "Profile ID (UUID)"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /profiles/{id}/messages [delete]
func (h *Handlers) ClearChat(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	if err := s.Orchestrator.ClearChat(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
