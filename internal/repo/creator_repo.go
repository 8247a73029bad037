// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Creator
// model, including the OAuth token record mutations.
//
// Error semantics:
//   - When a creator is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateCreator inserts a new Creator with a generated UUID.
func CreateCreator(ctx context.Context, db *gorm.DB, name, ofUsername, personaID string) (*domain.Creator, error) {
	c := &domain.Creator{
		ID:                    uuid.NewString(),
		Name:                  name,
		OFUsername:            ofUsername,
		PersonaID:             personaID,
		AutoReplyDelaySeconds: 30,
		CreatedAt:             time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetCreator fetches a creator by ID, or ErrNotFound.
func GetCreator(ctx context.Context, db *gorm.DB, id string) (*domain.Creator, error) {
	var c domain.Creator
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCreators returns all creators ordered by creation time descending.
func ListCreators(ctx context.Context, db *gorm.DB) ([]domain.Creator, error) {
	var out []domain.Creator
	err := db.WithContext(ctx).Order("created_at desc").Find(&out).Error
	return out, err
}

// FindCreatorByRemoteUserID resolves the creator linked to a remote-platform
// user UUID, or ErrNotFound when no creator is mapped to it.
func FindCreatorByRemoteUserID(ctx context.Context, db *gorm.DB, remoteUserID string) (*domain.Creator, error) {
	var c domain.Creator
	err := db.WithContext(ctx).
		Where("remote_user_id = ?", remoteUserID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListAutoReplyCreators returns all creators with auto-reply enabled and a
// live remote connection (stored access token + known remote identity).
func ListAutoReplyCreators(ctx context.Context, db *gorm.DB) ([]domain.Creator, error) {
	var out []domain.Creator
	err := db.WithContext(ctx).
		Where("auto_reply_enabled = ? AND access_token <> '' AND remote_user_id <> ''", true).
		Find(&out).Error
	return out, err
}

// SaveTokens persists an OAuth token pair for a creator. The remote identity
// fields are only overwritten when non-empty, so a refresh (which learns
// nothing about the profile) cannot erase them.
func SaveTokens(ctx context.Context, db *gorm.DB, creatorID, accessToken, refreshToken string, expiresAt time.Time, remoteUserID, remoteUsername string) error {
	updates := map[string]any{
		"access_token":     accessToken,
		"refresh_token":    refreshToken,
		"token_expires_at": expiresAt,
	}
	if remoteUserID != "" {
		updates["remote_user_id"] = remoteUserID
	}
	if remoteUsername != "" {
		updates["remote_username"] = remoteUsername
	}
	res := db.WithContext(ctx).
		Model(&domain.Creator{}).
		Where("id = ?", creatorID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearTokens removes the entire token record and remote identity for a
// creator (explicit disconnect). It is idempotent: clearing an already
// disconnected creator is a successful no-op.
func ClearTokens(ctx context.Context, db *gorm.DB, creatorID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Creator{}).
		Where("id = ?", creatorID).
		Updates(map[string]any{
			"access_token":     "",
			"refresh_token":    "",
			"token_expires_at": nil,
			"remote_user_id":   "",
			"remote_username":  "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAutoReply updates the auto-reply settings for a creator.
func UpdateAutoReply(ctx context.Context, db *gorm.DB, creatorID string, enabled bool, delaySeconds int, personaID string) error {
	updates := map[string]any{
		"auto_reply_enabled": enabled,
	}
	if delaySeconds > 0 {
		updates["auto_reply_delay_seconds"] = delaySeconds
	}
	if personaID != "" {
		updates["persona_id"] = personaID
	}
	res := db.WithContext(ctx).
		Model(&domain.Creator{}).
		Where("id = ?", creatorID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
