package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/repo"
)

// syncPageSize is how many chats each remote page carries during a full sync.
const syncPageSize = 50

// syncHistoryDepth is how many recent messages are mirrored per chat during a
// full sync.
const syncHistoryDepth = 25

// SyncAllChats walks every page of the creator's remote conversations and
// mirrors them into local storage, each with a slice of recent message
// history. Existing chats are refreshed in place; replayed pages are harmless
// because chats upsert by remote id and messages by remote message id. It
// returns the number of chats seen.
func (c *Client) SyncAllChats(ctx context.Context, db *gorm.DB, creatorID string) (int, error) {
	synced := 0
	cursor := ""
	for {
		page, err := c.ListChats(ctx, creatorID, ChatListOptions{Limit: syncPageSize, Cursor: cursor})
		if err != nil {
			return synced, err
		}
		for i := range page.Chats {
			chat, err := c.syncChat(ctx, db, creatorID, &page.Chats[i])
			if err != nil {
				return synced, err
			}
			synced++
			// History is best effort: the chat itself is already mirrored,
			// and the next sync retries the messages.
			if _, err := c.SyncChatMessages(ctx, db, creatorID, chat.ID, page.Chats[i].User.UUID, syncHistoryDepth); err != nil {
				log.Warn().Err(err).Str("creator_id", creatorID).Str("chat_id", chat.ID).Msg("message history sync failed")
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	log.Info().Str("creator_id", creatorID).Int("chats", synced).Msg("chat sync complete")
	return synced, nil
}

// syncChat mirrors one remote conversation into storage.
func (c *Client) syncChat(ctx context.Context, db *gorm.DB, creatorID string, rc *Chat) (*domain.Chat, error) {
	chat, err := repo.UpsertChat(ctx, db, creatorID, rc.UUID, repo.ChatUpsert{
		FanRemoteID:    rc.User.UUID,
		FanUsername:    rc.User.Username,
		FanDisplayName: rc.User.DisplayName,
		FanAvatarURL:   rc.User.AvatarURL,
	})
	if err != nil {
		return nil, err
	}
	if rc.LastMessage != nil && !rc.LastMessage.CreatedAt.IsZero() {
		if chat.LastMessageAt == nil || rc.LastMessage.CreatedAt.After(*chat.LastMessageAt) {
			err = db.WithContext(ctx).
				Model(&domain.Chat{}).
				Where("id = ?", chat.ID).
				Updates(map[string]any{
					"last_message_at": rc.LastMessage.CreatedAt,
					"unread_count":    rc.UnreadCount,
					"is_online":       rc.IsOnline,
				}).Error
			if err != nil {
				return nil, err
			}
		}
	}
	return chat, nil
}

// SyncChatMessages pulls one page of remote message history for a chat and
// stores anything not yet seen. Duplicate remote ids are skipped. It returns
// how many new messages were recorded.
func (c *Client) SyncChatMessages(ctx context.Context, db *gorm.DB, creatorID, chatID, fanUUID string, limit int) (int, error) {
	page, err := c.ListMessages(ctx, creatorID, fanUUID, MessageListOptions{Limit: limit})
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, m := range page.Messages {
		direction := domain.DirectionInbound
		if m.IsFromCreator {
			direction = domain.DirectionOutbound
		}
		sentAt := m.CreatedAt
		if sentAt.IsZero() {
			sentAt = time.Now().UTC()
		}
		_, created, err := repo.InsertMessageIfAbsent(ctx, db, chatID, m.UUID, direction, m.Body(), len(m.Attachments) > 0, sentAt)
		if err != nil {
			return inserted, err
		}
		if created {
			inserted++
		}
	}
	return inserted, nil
}
