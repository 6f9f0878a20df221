// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for accounts:
// users, login sessions and per-user settings.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
//
// Error semantics:
//   - When a record is not found, functions return ErrNotFound.
//   - CreateUser returns ErrDuplicate when the case-folded username is taken.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/persona-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate is returned when a unique key is already taken.
var ErrDuplicate = errors.New("duplicate record")

// CreateUser inserts u unless another user already holds u.UsernameKey.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.User{}).Where("username_key = ?", u.UsernameKey).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicate
		}
		return tx.Create(u).Error
	})
}

// FindUserByUsername loads the user whose case-folded username equals key.
func FindUserByUsername(ctx context.Context, db *gorm.DB, key string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("username_key = ?", key).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser loads a user by ID.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateSession stores a new login token.
func CreateSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(s).Error
}

// GetSession returns the session for token if it has not expired at now
// (milliseconds). Expired or unknown tokens yield ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, token string, now int64) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, now).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes token. Deleting an unknown token is not an error.
func DeleteSession(ctx context.Context, db *gorm.DB, token string) error {
	return db.WithContext(ctx).Where("token = ?", token).Delete(&domain.Session{}).Error
}

// DeleteExpiredSessions purges sessions that expired at or before now and
// returns how many rows were removed.
func DeleteExpiredSessions(ctx context.Context, db *gorm.DB, now int64) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Session{})
	return res.RowsAffected, res.Error
}

func getSetting(ctx context.Context, db *gorm.DB, userID, key string) (string, error) {
	var s domain.Setting
	err := db.WithContext(ctx).
		Where(&domain.Setting{UserID: userID, Key: key}).
		Limit(1).
		Find(&s).Error
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

func putSetting(ctx context.Context, db *gorm.DB, userID, key, value string, now int64) error {
	s := domain.Setting{UserID: userID, Key: key, Value: value, UpdatedAt: now}
	return db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&s).Error
}

func deleteSetting(ctx context.Context, db *gorm.DB, userID, key string) error {
	return db.WithContext(ctx).
		Where(&domain.Setting{UserID: userID, Key: key}).
		Delete(&domain.Setting{}).Error
}
