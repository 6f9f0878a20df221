// Package services holds the conversation orchestrator and the account and
// session services around it. This file centralizes the sentinel errors for
// predictable rejections so that handlers can map them to HTTP results.
//
// Failures that carry a kind (validation, storage, completion, ...) use
// *domain.Error instead; see the domain package.
package services

import "errors"

// Orchestrator errors.
var (
	// ErrNoSession is returned when an orchestrator is constructed without a
	// session user.
	ErrNoSession = errors.New("no session user")

	// ErrNoActiveProfile is returned by SendMessage when no profile is selected.
	ErrNoActiveProfile = errors.New("no active profile")

	// ErrProfileNotFound indicates the profile does not exist for this user.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrReplyPending is returned when a message is sent to a profile that is
	// still awaiting the previous reply.
	ErrReplyPending = errors.New("a reply is already pending for this profile")

	// ErrReplyDiscarded is returned by SendMessage when the transcript was
	// cleared or its profile deleted while the reply was in flight.
	ErrReplyDiscarded = errors.New("reply discarded: conversation changed while awaiting it")

	// ErrOrchestratorClosed is returned by every intent after Close.
	ErrOrchestratorClosed = errors.New("orchestrator closed")

	// ErrNotOpen is returned by every intent until Open has loaded the
	// stored state.
	ErrNotOpen = errors.New("orchestrator not open")
)

// Account errors.
var (
	// ErrUsernameTaken is returned by Register for an existing username
	// (compared case-insensitively).
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials is returned by Login for an unknown user and for a
	// wrong password alike.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrSessionNotFound is returned for unknown or expired session tokens.
	ErrSessionNotFound = errors.New("session not found")
)
