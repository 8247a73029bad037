// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// The central operation here is UpsertChat: chats are keyed by the natural
// key (creator_id, remote_chat_id), and both the webhook and scheduler paths
// may race to create the same conversation, so creation must be an upsert
// rather than an unconditional insert.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sorotech/go-creator-backend/internal/domain"
)

// ChatUpsert carries the fan-profile fields refreshed on every upsert.
// Empty strings leave the stored value untouched.
type ChatUpsert struct {
	FanRemoteID    string
	FanUsername    string
	FanDisplayName string
	FanAvatarURL   string
}

// UpsertChat finds or creates the chat identified by (creatorID,
// remoteChatID) and refreshes the supplied fan-profile fields. Concurrent
// upserts of the same pair converge on a single row via the unique index.
func UpsertChat(ctx context.Context, db *gorm.DB, creatorID, remoteChatID string, up ChatUpsert) (*domain.Chat, error) {
	fanRemoteID := up.FanRemoteID
	if fanRemoteID == "" {
		// The platform keys conversations by the fan's user UUID.
		fanRemoteID = remoteChatID
	}
	fanUsername := up.FanUsername
	if fanUsername == "" {
		fanUsername = "unknown"
	}

	c := &domain.Chat{
		ID:             uuid.NewString(),
		CreatorID:      creatorID,
		RemoteChatID:   remoteChatID,
		FanRemoteID:    fanRemoteID,
		FanUsername:    fanUsername,
		FanDisplayName: up.FanDisplayName,
		FanAvatarURL:   up.FanAvatarURL,
		CreatedAt:      time.Now().UTC(),
	}

	assignments := map[string]any{"updated_at": time.Now().UTC()}
	if up.FanUsername != "" {
		assignments["fan_username"] = up.FanUsername
	}
	if up.FanDisplayName != "" {
		assignments["fan_display_name"] = up.FanDisplayName
	}
	if up.FanAvatarURL != "" {
		assignments["fan_avatar_url"] = up.FanAvatarURL
	}

	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "creator_id"}, {Name: "remote_chat_id"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(c).Error
	if err != nil {
		return nil, err
	}

	// Re-read so the caller always sees the surviving row (the insert above
	// may have been folded into an existing one).
	var out domain.Chat
	err = db.WithContext(ctx).
		Where("creator_id = ? AND remote_chat_id = ?", creatorID, remoteChatID).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetChat fetches a single chat by its ID and owning creator, or
// ErrNotFound if missing.
func GetChat(ctx context.Context, db *gorm.DB, id, creatorID string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("id = ? AND creator_id = ?", id, creatorID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountChats returns the total number of chats owned by a creator.
func CountChats(ctx context.Context, db *gorm.DB, creatorID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("creator_id = ?", creatorID).
		Count(&total).Error
	return total, err
}

// ListChatsPage returns a paginated slice of chats for a creator, most
// recently active first. The caller computes offset and limit.
func ListChatsPage(ctx context.Context, db *gorm.DB, creatorID string, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("last_message_at desc, created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// TouchChat bumps last_message_at and increments the unread count after an
// inbound message arrives.
func TouchChat(ctx context.Context, db *gorm.DB, chatID string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{
			"last_message_at": at,
			"unread_count":    gorm.Expr("unread_count + 1"),
		}).Error
}

// ResetUnread clears the unread counter, used after the creator (or the
// auto-reply pipeline) has answered the conversation.
func ResetUnread(ctx context.Context, db *gorm.DB, chatID string) error {
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Update("unread_count", 0).Error
}
