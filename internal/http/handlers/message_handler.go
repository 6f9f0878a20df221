// Message HTTP handlers.
//
// This file exposes the conversation endpoints of the active profile:
//   - POST /messages     (send a user message and wait for the persona's reply)
//   - GET  /transcript   (transcript of the active or a given profile)
//
// POST /messages blocks until the completion endpoint answers. Only one send
// per profile may be in flight; a second one is rejected with 409.
package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/persona-chat/internal/domain"
	"github.com/tbourn/persona-chat/internal/services"
	"github.com/tbourn/persona-chat/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a user message.
type PostMessageRequest struct {
	// Content is the user text. Blank content is rejected.
	Content string `json:"content" example:"I had a rough day at work."`
}

// PostMessageResponse carries both messages appended by a send.
type PostMessageResponse struct {
	UserMessage      domain.Message `json:"user_message"`
	AssistantMessage domain.Message `json:"assistant_message"`
}

// TranscriptView is a transcript with its profile's send state. Messages may
// be the tail of the transcript when ?limit is given.
type TranscriptView struct {
	domain.Transcript
	State services.ConversationState `json:"state" example:"idle"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// maxTranscriptLimit caps ?limit on GET /transcript.
const maxTranscriptLimit = 1000

// sanitizeContent converts CRLF/CR to LF, collapses runs of 3+ LFs to two
// and trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// tail returns the last n messages, or all of them when n <= 0.
func tail(msgs []domain.Message, n int) []domain.Message {
	if n <= 0 || n >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message to the active profile
// @Description Appends the user message to the active profile's transcript, requests the persona's reply and appends it.
// @Description If the completion fails, the user message stays in the transcript and a notification is queued.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    SessionToken
// @Param       body  body      handlers.PostMessageRequest  true  "User message"
// @Success     201   {object}  handlers.PostMessageResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request / blank content"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     409   {object}  handlers.ErrorResponse  "No active profile, reply pending, or conversation changed"
// @Failure     502   {object}  handlers.ErrorResponse  "Completion endpoint rejected the request"
// @Failure     504   {object}  handlers.ErrorResponse  "Completion endpoint unreachable"
// @Router      /messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	userMsg, reply, err := s.Orchestrator.SendMessage(c.Request.Context(), sanitizeContent(req.Content))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, PostMessageResponse{UserMessage: userMsg, AssistantMessage: reply})
}

// GetTranscript godoc
// @ID          getTranscript
// @Summary     Get a transcript
// @Description Returns the transcript of profile_id, or of the active profile when omitted.
// @Tags        Messages
// @Produce     json
// @Security    SessionToken
// @Param       profile_id  query     string  false  "Profile ID (UUID)"  format(uuid)
// @Param       limit       query     int     false  "Return only the last N messages"  minimum(0)
// @Success     200         {object}  handlers.TranscriptView
// @Failure     401         {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404         {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     409         {object}  handlers.ErrorResponse  "No active profile"
// @Router      /transcript [get]
func (h *Handlers) GetTranscript(c *gin.Context) {
	s, found := session(c)
	if !found {
		return
	}
	var (
		t      domain.Transcript
		exists bool
	)
	if pid := c.Query("profile_id"); pid != "" {
		if t, exists = s.Orchestrator.Transcript(pid); !exists {
			failErr(c, services.ErrProfileNotFound)
			return
		}
	} else if t, exists = s.Orchestrator.ActiveTranscript(); !exists {
		failErr(c, services.ErrNoActiveProfile)
		return
	}
	t.Messages = tail(t.Messages, utils.Clamp(utils.AtoiDefault(c.Query("limit"), 0), 0, maxTranscriptLimit))
	ok(c, http.StatusOK, TranscriptView{Transcript: t, State: s.Orchestrator.ConversationState(t.ProfileID)})
}
