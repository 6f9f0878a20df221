// Package services – Orchestrator
//
// This file implements the conversation Orchestrator, the single writer of a
// user's in-memory profiles and transcripts. It mediates between intents
// (send a message, create/update/delete/select a profile, clear a chat), the
// persistence Gateway and the Completer:
//
//	intent -> mutate in-memory state -> write through to the Gateway
//	       -> (sendMessage) call the Completer -> merge reply -> write through
//
// Each profile is either Idle or AwaitingReply. At most one SendMessage is in
// flight per profile; the mutex is released while the completion call runs,
// so other profiles and read-only accessors stay responsive.
//
// Storage failures never abort an intent. The in-memory change stands, the
// failure is logged and a "storage" notification is emitted.
package services

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/persona-chat/internal/domain"
)

// Gateway is the durable store behind an Orchestrator, scoped to one user.
// repo.UserStore implements it.
type Gateway interface {
	Load(ctx context.Context) ([]domain.Profile, []domain.Transcript, error)
	SaveProfiles(ctx context.Context, profiles []domain.Profile) error
	SaveTranscripts(ctx context.Context, transcripts []domain.Transcript) error
	SaveTranscript(ctx context.Context, t domain.Transcript) error
	// CreateProfile stores a new profile and its first transcript atomically.
	CreateProfile(ctx context.Context, p domain.Profile, t domain.Transcript) error
	DeleteProfile(ctx context.Context, profileID string) error
}

// Completer generates the assistant reply for a profile given the transcript
// so far. completion.Client implements it.
type Completer interface {
	GenerateReply(ctx context.Context, p domain.Profile, history []domain.Message) (string, error)
}

// ConversationState is the per-profile send state.
type ConversationState string

const (
	StateIdle          ConversationState = "idle"
	StateAwaitingReply ConversationState = "awaiting_reply"
)

// RoleCustom selects ProfileInput.CustomRole as the effective role.
const RoleCustom = "custom"

// PredefinedRoles lists the role selector values offered to users.
var PredefinedRoles = []string{"friend", "partner", "therapist", "mentor", "parent", "coach", "teacher", RoleCustom}

// MaxImageURLBytes caps the avatar URL (data URLs included).
const MaxImageURLBytes = 2 << 20

// ProfileInput carries the user-editable fields of a profile.
type ProfileInput struct {
	Name        string  `json:"name"`
	Role        string  `json:"role"`
	CustomRole  string  `json:"custom_role,omitempty"`
	Description string  `json:"description"`
	ImageURL    *string `json:"image_url,omitempty"`
}

// Snapshot is a consistent copy of the presentation-facing state.
type Snapshot struct {
	Profiles         []domain.Profile   `json:"profiles"`
	ActiveProfile    *domain.Profile    `json:"active_profile"`
	ActiveTranscript *domain.Transcript `json:"active_transcript"`
	AwaitingReply    bool               `json:"awaiting_reply"`
	Version          uint64             `json:"version"`
}

var (
	pendingReplies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversation_pending_replies",
			Help: "Completion calls currently awaited by orchestrators.",
		},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_messages_total",
			Help: "Messages appended to transcripts by role.",
		},
		[]string{"role"},
	)
)

func init() {
	prometheus.MustRegister(pendingReplies, messagesTotal)
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier routes notifications to n.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLogger sets the logger used for failed transitions.
func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides the ID source for profiles, transcripts and messages.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// Orchestrator owns one user's conversation state. It is safe for
// concurrent use.
type Orchestrator struct {
	user     domain.User
	store    Gateway
	llm      Completer
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string

	mu          sync.Mutex
	opened      bool
	closed      bool
	profiles    map[string]*domain.Profile
	transcripts map[string]*domain.Transcript // keyed by profile ID
	active      string
	pending     map[string]bool   // profile ID -> awaiting reply
	gen         map[string]uint64 // profile ID -> bumped on clear/delete
	lastStamp   int64
	version     uint64
}

// NewOrchestrator builds an orchestrator for user. Call Open before issuing
// intents.
func NewOrchestrator(user *domain.User, store Gateway, llm Completer, opts ...Option) (*Orchestrator, error) {
	if user == nil {
		return nil, ErrNoSession
	}
	o := &Orchestrator{
		user:        *user,
		store:       store,
		llm:         llm,
		notifier:    discardNotifier{},
		log:         log.Logger.With().Str("user_id", user.ID).Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
		profiles:    map[string]*domain.Profile{},
		transcripts: map[string]*domain.Transcript{},
		pending:     map[string]bool{},
		gen:         map[string]uint64{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// User returns the session user this orchestrator serves.
func (o *Orchestrator) User() domain.User { return o.user }

// Open loads durable state once. Profiles without a transcript get an empty
// one, which is persisted; transcripts without a profile are ignored.
func (o *Orchestrator) Open(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOrchestratorClosed
	}
	if o.opened {
		return nil
	}

	profiles, transcripts, err := o.store.Load(ctx)
	if err != nil {
		return domain.NewStorageError("load", err)
	}

	for i := range profiles {
		p := profiles[i].Clone()
		o.profiles[p.ID] = &p
		o.bumpStamp(p.CreatedAt)
	}
	for i := range transcripts {
		t := transcripts[i].Clone()
		if _, ok := o.profiles[t.ProfileID]; !ok {
			continue
		}
		if _, dup := o.transcripts[t.ProfileID]; dup {
			continue
		}
		o.transcripts[t.ProfileID] = &t
		o.bumpStamp(t.LastMessageTimestamp)
		for _, m := range t.Messages {
			o.bumpStamp(m.Timestamp)
		}
	}

	var repaired []domain.Transcript
	for id := range o.profiles {
		if _, ok := o.transcripts[id]; ok {
			continue
		}
		t := o.emptyTranscript(id)
		o.transcripts[id] = &t
		repaired = append(repaired, t.Clone())
	}
	if len(repaired) > 0 {
		o.log.Warn().Int("count", len(repaired)).Msg("created missing transcripts")
		o.persistLocked(ctx, "save_transcripts", "", func(ctx context.Context) error {
			return o.store.SaveTranscripts(ctx, repaired)
		})
	}

	o.opened = true
	o.version++
	return nil
}

// Close tears the orchestrator down. Every later intent returns
// ErrOrchestratorClosed and a reply still in flight is discarded.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// SendMessage appends a user message to the active profile's transcript,
// persists it, asks the Completer for a reply and appends that too.
//
// Completion failures are notified once and returned; the user message stays.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) (userMsg, reply domain.Message, err error) {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "SendMessage", trace.WithAttributes(attribute.String("user.id", o.user.ID)))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, domain.Message{}, domain.NewValidationError("content", "message is empty")
	}

	o.mu.Lock()
	if err := o.readyLocked(); err != nil {
		o.mu.Unlock()
		return domain.Message{}, domain.Message{}, err
	}
	pid := o.active
	if pid == "" {
		o.mu.Unlock()
		return domain.Message{}, domain.Message{}, ErrNoActiveProfile
	}
	if o.pending[pid] {
		o.mu.Unlock()
		return domain.Message{}, domain.Message{}, ErrReplyPending
	}
	span.SetAttributes(attribute.String("profile.id", pid))

	t := o.transcripts[pid]
	profile := o.profiles[pid].Clone()
	userMsg = domain.Message{ID: o.newID(), Role: domain.RoleUser, Content: text, Timestamp: o.stamp()}
	t.Messages = append(t.Messages, userMsg)
	t.LastMessageTimestamp = userMsg.Timestamp
	history := t.Clone().Messages
	gen := o.gen[pid]
	o.pending[pid] = true
	o.version++
	pendingReplies.Inc()
	messagesTotal.WithLabelValues(string(domain.RoleUser)).Inc()
	snapshot := t.Clone()
	o.persistLocked(ctx, "save_transcript", pid, func(ctx context.Context) error {
		return o.store.SaveTranscript(ctx, snapshot)
	})
	o.mu.Unlock()

	// No cancellation of an in-flight completion: the Completer's own
	// timeout bounds the call.
	text, err = o.llm.GenerateReply(context.WithoutCancel(ctx), profile, history)

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, pid)
	pendingReplies.Dec()
	o.version++

	if err != nil {
		span.RecordError(err)
		o.log.Error().Err(err).
			Str("profile_id", pid).
			Str("kind", string(domain.KindOf(err))).
			Msg("completion failed")
		o.notifier.Notify(errorNotification(err, pid, o.now().UnixMilli()))
		return userMsg, domain.Message{}, err
	}

	if o.closed {
		return userMsg, domain.Message{}, ErrOrchestratorClosed
	}
	t, ok := o.transcripts[pid]
	if !ok || o.gen[pid] != gen {
		o.log.Info().Str("profile_id", pid).Msg("discarding reply for cleared or deleted conversation")
		return userMsg, domain.Message{}, ErrReplyDiscarded
	}

	reply = domain.Message{ID: o.newID(), Role: domain.RoleAssistant, Content: text, Timestamp: o.stamp()}
	t.Messages = append(t.Messages, reply)
	t.LastMessageTimestamp = reply.Timestamp
	messagesTotal.WithLabelValues(string(domain.RoleAssistant)).Inc()
	snapshot = t.Clone()
	o.persistLocked(ctx, "save_transcript", pid, func(ctx context.Context) error {
		return o.store.SaveTranscript(ctx, snapshot)
	})
	return userMsg, reply, nil
}

// CreateProfile validates in, creates the profile with an empty transcript
// and makes it the active profile. When the two cannot be stored together
// the call fails with a storage error and nothing changes in memory.
func (o *Orchestrator) CreateProfile(ctx context.Context, in ProfileInput) (domain.Profile, error) {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "CreateProfile", trace.WithAttributes(attribute.String("user.id", o.user.ID)))
	defer span.End()

	fields, err := normalizeProfileInput(in)
	if err != nil {
		return domain.Profile{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.readyLocked(); err != nil {
		return domain.Profile{}, err
	}

	p := fields
	p.ID = o.newID()
	p.UserID = o.user.ID
	p.CreatedAt = o.stamp()
	t := o.emptyTranscript(p.ID)
	t.LastMessageTimestamp = p.CreatedAt
	span.SetAttributes(attribute.String("profile.id", p.ID))

	// Stored first: a profile only becomes visible once it and its
	// transcript are both durable.
	saved, savedT := p.Clone(), t.Clone()
	if err := o.persistLocked(ctx, "create_profile", p.ID, func(ctx context.Context) error {
		return o.store.CreateProfile(ctx, saved, savedT)
	}); err != nil {
		span.RecordError(err)
		return domain.Profile{}, err
	}

	o.profiles[p.ID] = &p
	o.transcripts[p.ID] = &t
	o.active = p.ID
	o.version++
	o.notify(NoticeProfileCreated, p.ID, "Profile "+p.Name+" created")
	return p.Clone(), nil
}

// UpdateProfile replaces the editable fields of profile id. ID and CreatedAt
// never change.
func (o *Orchestrator) UpdateProfile(ctx context.Context, id string, in ProfileInput) (domain.Profile, error) {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "UpdateProfile", trace.WithAttributes(
		attribute.String("user.id", o.user.ID),
		attribute.String("profile.id", id),
	))
	defer span.End()

	fields, err := normalizeProfileInput(in)
	if err != nil {
		return domain.Profile{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.readyLocked(); err != nil {
		return domain.Profile{}, err
	}
	p, ok := o.profiles[id]
	if !ok {
		return domain.Profile{}, ErrProfileNotFound
	}
	p.Name = fields.Name
	p.Role = fields.Role
	p.Description = fields.Description
	p.ImageURL = fields.ImageURL
	o.version++

	saved := p.Clone()
	o.persistLocked(ctx, "save_profiles", id, func(ctx context.Context) error {
		return o.store.SaveProfiles(ctx, []domain.Profile{saved})
	})
	o.notify(NoticeProfileUpdated, id, "Profile "+p.Name+" updated")
	return p.Clone(), nil
}

// DeleteProfile removes the profile and its transcript. When it was the
// active profile, the selection becomes none.
func (o *Orchestrator) DeleteProfile(ctx context.Context, id string) error {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "DeleteProfile", trace.WithAttributes(
		attribute.String("user.id", o.user.ID),
		attribute.String("profile.id", id),
	))
	defer span.End()

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.readyLocked(); err != nil {
		return err
	}
	p, ok := o.profiles[id]
	if !ok {
		return ErrProfileNotFound
	}
	delete(o.profiles, id)
	delete(o.transcripts, id)
	o.gen[id]++
	if o.active == id {
		o.active = ""
	}
	o.version++

	o.persistLocked(ctx, "delete_profile", id, func(ctx context.Context) error {
		return o.store.DeleteProfile(ctx, id)
	})
	o.notify(NoticeProfileDeleted, id, "Profile "+p.Name+" deleted")
	return nil
}

// SetActiveProfile selects id, or no profile when id is "". Unknown IDs
// return ErrProfileNotFound and leave the selection unchanged.
func (o *Orchestrator) SetActiveProfile(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.readyLocked(); err != nil {
		return err
	}
	if id != "" {
		if _, ok := o.profiles[id]; !ok {
			return ErrProfileNotFound
		}
	}
	if o.active != id {
		o.active = id
		o.version++
	}
	return nil
}

// ClearChat empties the transcript of profileID. A reply still in flight for
// it will be discarded.
func (o *Orchestrator) ClearChat(ctx context.Context, profileID string) error {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "ClearChat", trace.WithAttributes(
		attribute.String("user.id", o.user.ID),
		attribute.String("profile.id", profileID),
	))
	defer span.End()

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.readyLocked(); err != nil {
		return err
	}
	t, ok := o.transcripts[profileID]
	if !ok {
		return ErrProfileNotFound
	}
	t.Messages = []domain.Message{}
	t.LastMessageTimestamp = o.stamp()
	o.gen[profileID]++
	o.version++

	snapshot := t.Clone()
	o.persistLocked(ctx, "save_transcript", profileID, func(ctx context.Context) error {
		return o.store.SaveTranscript(ctx, snapshot)
	})
	o.notify(NoticeChatCleared, profileID, "Conversation cleared")
	return nil
}

// Profiles returns every profile, newest first (ties by ID).
func (o *Orchestrator) Profiles() []domain.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profilesLocked()
}

// Profile returns the profile with id.
func (o *Orchestrator) Profile(id string) (domain.Profile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.profiles[id]
	if !ok {
		return domain.Profile{}, false
	}
	return p.Clone(), true
}

// ActiveProfile returns the selected profile, if any.
func (o *Orchestrator) ActiveProfile() (domain.Profile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == "" {
		return domain.Profile{}, false
	}
	return o.profiles[o.active].Clone(), true
}

// ActiveTranscript returns the transcript of the selected profile, if any.
func (o *Orchestrator) ActiveTranscript() (domain.Transcript, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == "" {
		return domain.Transcript{}, false
	}
	return o.transcripts[o.active].Clone(), true
}

// Transcript returns the transcript of profileID.
func (o *Orchestrator) Transcript(profileID string) (domain.Transcript, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.transcripts[profileID]
	if !ok {
		return domain.Transcript{}, false
	}
	return t.Clone(), true
}

// AwaitingReply reports whether the active profile has a reply in flight.
func (o *Orchestrator) AwaitingReply() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != "" && o.pending[o.active]
}

// ConversationState reports the send state of profileID.
func (o *Orchestrator) ConversationState(profileID string) ConversationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending[profileID] {
		return StateAwaitingReply
	}
	return StateIdle
}

// Version increases on every state change; usable as an ETag.
func (o *Orchestrator) Version() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.version
}

// Snapshot returns a consistent copy of the presentation-facing state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{Profiles: o.profilesLocked(), Version: o.version}
	if o.active != "" {
		p := o.profiles[o.active].Clone()
		t := o.transcripts[o.active].Clone()
		s.ActiveProfile = &p
		s.ActiveTranscript = &t
		s.AwaitingReply = o.pending[o.active]
	}
	return s
}

func (o *Orchestrator) profilesLocked() []domain.Profile {
	out := make([]domain.Profile, 0, len(o.profiles))
	for _, p := range o.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (o *Orchestrator) emptyTranscript(profileID string) domain.Transcript {
	return domain.Transcript{
		ID:                   o.newID(),
		UserID:               o.user.ID,
		ProfileID:            profileID,
		Messages:             []domain.Message{},
		LastMessageTimestamp: o.stamp(),
	}
}

// stamp returns a millisecond timestamp never lower than any issued before.
func (o *Orchestrator) stamp() int64 {
	ts := o.now().UnixMilli()
	if ts < o.lastStamp {
		ts = o.lastStamp
	}
	o.lastStamp = ts
	return ts
}

func (o *Orchestrator) bumpStamp(ts int64) {
	if ts > o.lastStamp {
		o.lastStamp = ts
	}
}

// persistLocked runs fn detached from ctx cancellation. A failure becomes a
// storage notification and is returned as a storage error.
func (o *Orchestrator) persistLocked(ctx context.Context, op, profileID string, fn func(context.Context) error) error {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		serr := domain.NewStorageError(op, err)
		o.log.Error().Err(err).
			Str("op", op).
			Str("profile_id", profileID).
			Str("kind", string(domain.KindStorage)).
			Msg("persist failed")
		o.notifier.Notify(errorNotification(serr, profileID, o.now().UnixMilli()))
		return serr
	}
	return nil
}

// readyLocked refuses intents before Open has succeeded and after Close.
func (o *Orchestrator) readyLocked() error {
	switch {
	case o.closed:
		return ErrOrchestratorClosed
	case !o.opened:
		return ErrNotOpen
	}
	return nil
}

func (o *Orchestrator) notify(kind, profileID, msg string) {
	o.notifier.Notify(Notification{
		Kind:      kind,
		Level:     LevelInfo,
		Message:   msg,
		ProfileID: profileID,
		Timestamp: o.now().UnixMilli(),
	})
}

func normalizeProfileInput(in ProfileInput) (domain.Profile, error) {
	clean := func(s string) string { return norm.NFC.String(strings.TrimSpace(s)) }

	name := clean(in.Name)
	if name == "" {
		return domain.Profile{}, domain.NewValidationError("name", "name is required")
	}
	role := clean(in.Role)
	if strings.EqualFold(role, RoleCustom) {
		role = clean(in.CustomRole)
	}
	if role == "" {
		return domain.Profile{}, domain.NewValidationError("role", "role is required")
	}

	p := domain.Profile{Name: name, Role: role, Description: clean(in.Description)}
	if in.ImageURL != nil {
		img := strings.TrimSpace(*in.ImageURL)
		if img != "" {
			if err := validateImageURL(img); err != nil {
				return domain.Profile{}, err
			}
			p.ImageURL = &img
		}
	}
	return p, nil
}

func validateImageURL(s string) error {
	if len(s) > MaxImageURLBytes {
		return domain.NewValidationError("image_url", "image is too large")
	}
	if strings.HasPrefix(s, "data:image/") {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.NewValidationError("image_url", "image_url must be a data:image URL or an http(s) URL")
	}
	return nil
}
