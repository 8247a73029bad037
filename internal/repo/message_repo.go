// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. The remote message id is the platform-native idempotency key:
// InsertMessageIfAbsent treats a replayed id as a successful no-op.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/domain"
)

// InsertMessageIfAbsent inserts a message guarded by its remote id. It
// returns the stored row and created=false when the remote id was already
// present (either found up front or lost to a concurrent insert).
func InsertMessageIfAbsent(ctx context.Context, db *gorm.DB, chatID, remoteMessageID, direction, content string, hasMedia bool, sentAt time.Time) (*domain.Message, bool, error) {
	var existing domain.Message
	err := db.WithContext(ctx).
		Where("remote_message_id = ?", remoteMessageID).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	m := &domain.Message{
		ID:              uuid.NewString(),
		ChatID:          chatID,
		RemoteMessageID: remoteMessageID,
		Direction:       direction,
		Content:         content,
		HasMedia:        hasMedia,
		SentAt:          sentAt.UTC(),
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent delivery of the same event.
			var winner domain.Message
			if gerr := db.WithContext(ctx).
				Where("remote_message_id = ?", remoteMessageID).
				First(&winner).Error; gerr == nil {
				return &winner, false, nil
			}
			return nil, false, err
		}
		return nil, false, err
	}
	return m, true, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (SentAt ASC, ID ASC)
// for deterministic output.
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("sent_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations;
// Postgres surfaces gorm.ErrDuplicatedKey via the pgx translator.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
