// Package domain defines the persistence models for users, sessions,
// settings, character profiles, transcripts and messages. These types are
// mapped with GORM and form the core data layer of the persona chat service.
//
// All timestamps are milliseconds since the Unix epoch.
package domain

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User is a registered account. Profiles and transcripts are scoped to the
// owning user.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Username: display form, as typed at registration.
//   - UsernameKey: case-folded username; unique.
//   - PasswordHash: bcrypt hash, never serialized.
//   - CreatedAt: registration time.
type User struct {
	ID           string `json:"id"         gorm:"type:char(36);primaryKey"`
	Username     string `json:"username"   gorm:"type:varchar(64);not null"`
	UsernameKey  string `json:"-"          gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	PasswordHash string `json:"-"          gorm:"type:varchar(100);not null"`
	CreatedAt    int64  `json:"created_at" gorm:"not null;autoCreateTime:false"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Session is an issued login token. It is the durable form of the
// "current session user" slot.
type Session struct {
	Token     string `gorm:"type:char(64);primaryKey"`
	UserID    string `gorm:"type:char(36);not null;index"`
	CreatedAt int64  `gorm:"not null;autoCreateTime:false"`
	ExpiresAt int64  `gorm:"not null;index"`

	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// SettingAPIKey is the settings key of the per-user completion API credential.
const SettingAPIKey = "api_key"

// Setting is a per-user key/value slot.
type Setting struct {
	UserID    string `gorm:"type:char(36);primaryKey"`
	Key       string `gorm:"type:varchar(64);primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt int64  `gorm:"not null;autoUpdateTime:false"`

	User User `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string { return "settings" }

// Profile is a persona the user converses with. ID and CreatedAt never
// change once assigned; the descriptive fields may be updated in place.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner; not serialized.
//   - Name / Role / Description: persona definition fed to the system prompt.
//   - ImageURL: optional avatar (data URL or http(s) URL).
//   - CreatedAt: creation time; listing order is CreatedAt descending.
type Profile struct {
	ID          string  `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string  `json:"-"           gorm:"type:char(36);not null;index:idx_user_profiles,priority:1"`
	Name        string  `json:"name"        gorm:"type:varchar(255);not null"`
	Role        string  `json:"role"        gorm:"type:varchar(255);not null"`
	Description string  `json:"description" gorm:"type:text;not null;default:''"`
	ImageURL    *string `json:"image_url"   gorm:"type:text"`
	CreatedAt   int64   `json:"created_at"  gorm:"not null;autoCreateTime:false;index:idx_user_profiles,priority:2"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// Clone returns a copy that shares no memory with p.
func (p Profile) Clone() Profile {
	out := p
	out.User = User{}
	if p.ImageURL != nil {
		v := *p.ImageURL
		out.ImageURL = &v
	}
	return out
}

// Transcript is the ordered message history tied to exactly one Profile.
// ProfileID is unique across transcripts and the row is cascade-deleted
// with its profile.
type Transcript struct {
	ID                   string    `json:"id"                     gorm:"type:char(36);primaryKey"`
	UserID               string    `json:"-"                      gorm:"type:char(36);not null;index"`
	ProfileID            string    `json:"profile_id"             gorm:"type:char(36);not null;uniqueIndex:ux_transcript_profile"`
	Messages             []Message `json:"messages"               gorm:"foreignKey:TranscriptID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	LastMessageTimestamp int64     `json:"last_message_timestamp" gorm:"not null"`

	Profile Profile `json:"-" gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Transcript.
func (Transcript) TableName() string { return "transcripts" }

// Clone returns a deep copy of t. Messages is never nil in the result.
func (t Transcript) Clone() Transcript {
	out := t
	out.Profile = Profile{}
	out.Messages = make([]Message, len(t.Messages))
	copy(out.Messages, t.Messages)
	return out
}

// Message is a single utterance in a Transcript. Messages are immutable once
// created; Seq preserves append order within the transcript.
type Message struct {
	ID           string `json:"id"        gorm:"type:char(36);primaryKey"`
	TranscriptID string `json:"-"         gorm:"type:char(36);not null;index:idx_transcript_msgs,priority:1"`
	Seq          int    `json:"-"         gorm:"not null;index:idx_transcript_msgs,priority:2"`
	Role         Role   `json:"role"      gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content      string `json:"content"   gorm:"type:text;not null"`
	Timestamp    int64  `json:"timestamp" gorm:"not null"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
