// Session state HTTP handlers.
//
//   - PUT /session/active   (select the active profile, or none)
//   - GET /session/state    (profiles, active profile and transcript, pending flag)
//   - GET /notifications    (drain queued notifications)
//
// Clients poll /session/state and /notifications; both are exempt from rate
// limiting.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/persona-chat/internal/services"
)

// SetActiveRequest selects a profile. A null or empty profile_id selects none.
type SetActiveRequest struct {
	ProfileID *string `json:"profile_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// NotificationsResponse is the drained notification queue.
type NotificationsResponse struct {
	Notifications []services.Notification `json:"notifications"`
	// Dropped counts notifications discarded because the queue was full.
	Dropped uint64 `json:"dropped"`
}

// SetActiveProfile godoc
// @ID          setActiveProfile
// @Summary     Select the active profile
// @Tags        Session
// @Accept      json
// @Produce     json
// @Security    SessionToken
// @Param       body  body      handlers.SetActiveRequest  true  "Profile selection"
// @Success     200   {object}  services.Snapshot
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404   {object}  handlers.ErrorResponse  "Profile not found"
// @Router      /session/active [put]
func (h *Handlers) SetActiveProfile(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	id := ""
	if req.ProfileID != nil {
		id = *req.ProfileID
	}
	if err := s.Orchestrator.SetActiveProfile(id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s.Orchestrator.Snapshot())
}

// GetState godoc
// @ID          getSessionState
// @Summary     Presentation state
// @Description Returns all profiles, the active profile with its transcript and whether a reply is pending. Supports weak ETag via If-None-Match.
// @Tags        Session
// @Produce     json
// @Security    SessionToken
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  services.Snapshot
// @Header      200  {string}  ETag  "Weak ETag for current state"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /session/state [get]
func (h *Handlers) GetState(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	snap := s.Orchestrator.Snapshot()
	if notModified(c, "state", snap.Version) {
		return
	}
	ok(c, http.StatusOK, snap)
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     Drain notifications
// @Description Returns and removes the queued error and confirmation notifications, oldest first.
// @Tags        Session
// @Produce     json
// @Security    SessionToken
// @Success     200  {object}  handlers.NotificationsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	resp := NotificationsResponse{Notifications: []services.Notification{}}
	if s.Notifications != nil {
		resp.Notifications = s.Notifications.Drain()
		resp.Dropped = s.Notifications.Dropped()
	}
	ok(c, http.StatusOK, resp)
}
