package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/persona-chat/internal/domain"
)

// Store is the durable key/value gateway behind every orchestrator. It owns
// the database handle; ForUser scopes it to one account.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore wraps db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle for account-level repository functions.
func (s *Store) DB() *gorm.DB { return s.db }

// ForUser returns a gateway whose reads and writes are confined to userID.
func (s *Store) ForUser(userID string) *UserStore {
	return &UserStore{db: s.db, now: s.now, userID: userID}
}

// UserStore persists the profile collection, the transcript collection and
// the API key slot of a single user. Every method runs in one transaction;
// a failed save leaves the previously stored value intact.
type UserStore struct {
	db     *gorm.DB
	now    func() time.Time
	userID string
}

// UserID reports the account this store is scoped to.
func (u *UserStore) UserID() string { return u.userID }

// Load returns the stored profiles (newest first) and transcripts (messages
// in append order). A user with nothing stored gets empty slices.
func (u *UserStore) Load(ctx context.Context) ([]domain.Profile, []domain.Transcript, error) {
	db := u.db.WithContext(ctx)

	profiles := []domain.Profile{}
	if err := db.Where("user_id = ?", u.userID).
		Order("created_at desc").Order("id").
		Find(&profiles).Error; err != nil {
		return nil, nil, err
	}

	transcripts := []domain.Transcript{}
	err := db.Where("user_id = ?", u.userID).
		Preload("Messages", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq asc") }).
		Find(&transcripts).Error
	if err != nil {
		return nil, nil, err
	}
	for i := range transcripts {
		if transcripts[i].Messages == nil {
			transcripts[i].Messages = []domain.Message{}
		}
	}
	return profiles, transcripts, nil
}

// SaveProfiles upserts every profile by ID. Profiles absent from the slice
// are left alone; use DeleteProfile to remove one.
func (u *UserStore) SaveProfiles(ctx context.Context, profiles []domain.Profile) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range profiles {
			if err := u.upsertProfile(tx, profiles[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveTranscripts stores each transcript, replacing its message list.
func (u *UserStore) SaveTranscripts(ctx context.Context, transcripts []domain.Transcript) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range transcripts {
			if err := u.saveTranscript(tx, transcripts[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveTranscript stores a single transcript, replacing its message list.
func (u *UserStore) SaveTranscript(ctx context.Context, t domain.Transcript) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return u.saveTranscript(tx, t)
	})
}

// CreateProfile stores a new profile together with its initial transcript.
// Either both rows are written or neither is.
func (u *UserStore) CreateProfile(ctx context.Context, p domain.Profile, t domain.Transcript) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := u.upsertProfile(tx, p); err != nil {
			return err
		}
		return u.saveTranscript(tx, t)
	})
}

// DeleteProfile removes the profile and its transcript. Deleting an unknown
// profile is a no-op.
func (u *UserStore) DeleteProfile(ctx context.Context, profileID string) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&domain.Transcript{}).
			Select("id").
			Where("profile_id = ? AND user_id = ?", profileID, u.userID)
		if err := tx.Where("transcript_id IN (?)", sub).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("profile_id = ? AND user_id = ?", profileID, u.userID).
			Delete(&domain.Transcript{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", profileID, u.userID).
			Delete(&domain.Profile{}).Error
	})
}

// APIKey returns the stored completion credential, or "" when none is set.
func (u *UserStore) APIKey(ctx context.Context) (string, error) {
	return getSetting(ctx, u.db, u.userID, domain.SettingAPIKey)
}

// SaveAPIKey stores key, replacing any previous value.
func (u *UserStore) SaveAPIKey(ctx context.Context, key string) error {
	return putSetting(ctx, u.db, u.userID, domain.SettingAPIKey, key, u.now().UnixMilli())
}

// ClearAPIKey removes the stored credential.
func (u *UserStore) ClearAPIKey(ctx context.Context) error {
	return deleteSetting(ctx, u.db, u.userID, domain.SettingAPIKey)
}

func (u *UserStore) upsertProfile(tx *gorm.DB, p domain.Profile) error {
	row := p.Clone()
	row.UserID = u.userID
	return tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "role", "description", "image_url"}),
		}).
		Create(&row).Error
}

// saveTranscript upserts the transcript row, drops messages no longer in
// t.Messages and inserts the new ones. Existing messages are immutable so
// a conflict on ID leaves the stored row as is.
func (u *UserStore) saveTranscript(tx *gorm.DB, t domain.Transcript) error {
	row := domain.Transcript{
		ID:                   t.ID,
		UserID:               u.userID,
		ProfileID:            t.ProfileID,
		LastMessageTimestamp: t.LastMessageTimestamp,
	}
	err := tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_message_timestamp"}),
		}).
		Create(&row).Error
	if err != nil {
		return err
	}

	if len(t.Messages) == 0 {
		return tx.Where("transcript_id = ?", t.ID).Delete(&domain.Message{}).Error
	}

	ids := make([]string, len(t.Messages))
	msgs := make([]domain.Message, len(t.Messages))
	for i, m := range t.Messages {
		m.TranscriptID = t.ID
		m.Seq = i
		msgs[i] = m
		ids[i] = m.ID
	}
	if err := tx.Where("transcript_id = ? AND id NOT IN ?", t.ID, ids).
		Delete(&domain.Message{}).Error; err != nil {
		return err
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(msgs, 200).Error
}
