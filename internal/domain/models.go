// Package domain defines the persistence models for creators, chats,
// messages, and AI response logs. These types are mapped with GORM and form
// the core data layer of the application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Message directions. Inbound messages originate from a fan; outbound
// messages were sent on behalf of the creator.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Creator represents a managed creator account (one tenant). At most one
// remote-platform OAuth connection is stored per creator; an empty
// AccessToken means the creator is disconnected.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name / OFUsername: display name and first-party platform handle.
//   - PersonaID: key of the persona config used for auto-replies.
//   - AutoReplyEnabled / AutoReplyDelaySeconds: polling auto-reply settings;
//     the delay is the minimum per-chat cooldown between replies.
//   - AccessToken / RefreshToken / TokenExpiresAt: OAuth token record.
//   - RemoteUserID / RemoteUsername: the creator's identity on the remote
//     platform, populated from the provider profile after connecting.
type Creator struct {
	ID                    string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	Name                  string         `json:"name"                gorm:"type:varchar(255);not null"`
	OFUsername            string         `json:"of_username"         gorm:"type:varchar(64)"`
	PersonaID             string         `json:"persona_id"          gorm:"type:varchar(64)"`
	AutoReplyEnabled      bool           `json:"auto_reply_enabled"  gorm:"not null;default:false;index"`
	AutoReplyDelaySeconds int            `json:"auto_reply_delay_seconds" gorm:"not null;default:30"`
	AccessToken           string         `json:"-"                   gorm:"type:text"`
	RefreshToken          string         `json:"-"                   gorm:"type:text"`
	TokenExpiresAt        *time.Time     `json:"token_expires_at,omitempty"`
	RemoteUserID          string         `json:"remote_user_id"      gorm:"type:varchar(64);index"`
	RemoteUsername        string         `json:"remote_username"     gorm:"type:varchar(64)"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `json:"-"                   gorm:"index"`
}

// TableName returns the database table name for Creator.
func (Creator) TableName() string { return "creators" }

// Connected reports whether the creator has a stored remote connection.
func (c *Creator) Connected() bool { return c.AccessToken != "" }

// Chat represents a conversation between a creator and one fan. The remote
// platform keys conversations by the fan's user UUID, so RemoteChatID doubles
// as the fan identifier there; (CreatorID, RemoteChatID) is unique and the
// find-or-create path must upsert on that pair.
type Chat struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	CreatorID      string         `json:"creator_id"       gorm:"type:char(36);not null;uniqueIndex:ux_creator_remote_chat,priority:1"`
	RemoteChatID   string         `json:"remote_chat_id"   gorm:"type:varchar(64);not null;uniqueIndex:ux_creator_remote_chat,priority:2"`
	FanRemoteID    string         `json:"fan_remote_id"    gorm:"type:varchar(64);not null"`
	FanUsername    string         `json:"fan_username"     gorm:"type:varchar(64);not null;default:'unknown'"`
	FanDisplayName string         `json:"fan_display_name" gorm:"type:varchar(255)"`
	FanAvatarURL   string         `json:"fan_avatar_url"   gorm:"type:text"`
	LastMessageAt  *time.Time     `json:"last_message_at,omitempty"`
	UnreadCount    int            `json:"unread_count"     gorm:"not null;default:0"`
	IsOnline       bool           `json:"is_online"        gorm:"not null;default:false"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"                gorm:"index"`

	// Creator is the owning tenant. Chats are cascade-deleted with it.
	Creator Creator `json:"-" gorm:"foreignKey:CreatorID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is a single utterance within a chat. RemoteMessageID is the
// platform-native idempotency key: inserting a message whose remote id
// already exists must be a no-op, never a duplicate row.
type Message struct {
	ID              string         `json:"id"                gorm:"type:char(36);primaryKey"`
	ChatID          string         `json:"chat_id"           gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	RemoteMessageID string         `json:"remote_message_id" gorm:"type:varchar(128);not null;uniqueIndex"`
	Direction       string         `json:"direction"         gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	Content         string         `json:"content"           gorm:"type:text;not null"`
	HasMedia        bool           `json:"has_media"         gorm:"not null;default:false"`
	SentAt          time.Time      `json:"sent_at"           gorm:"index:idx_chat_msgs,priority:2"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"                 gorm:"index"`

	// Chat is the parent conversation. Messages are cascade-deleted
	// if their chat is removed.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// AIResponseLog records one AI generation for usage analytics. It is written
// once per generation; WasUsed/WasEdited are mutated later by feedback calls.
// It is never consulted for deduplication.
type AIResponseLog struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	CreatorID  string         `json:"creator_id"  gorm:"type:char(36);not null;index"`
	MessageID  *string        `json:"message_id,omitempty" gorm:"type:char(36)"`
	InputText  string         `json:"input_text"  gorm:"type:text;not null"`
	OutputText string         `json:"output_text" gorm:"type:text;not null"`
	LatencyMs  int            `json:"latency_ms"  gorm:"not null"`
	WasUsed    bool           `json:"was_used"    gorm:"not null;default:false"`
	WasEdited  bool           `json:"was_edited"  gorm:"not null;default:false"`
	CreatedAt  time.Time      `json:"created_at"  gorm:"index"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for AIResponseLog.
func (AIResponseLog) TableName() string { return "ai_response_logs" }
