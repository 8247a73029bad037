// Package scheduler runs the polling half of the auto-reply pipeline: a
// recurring sweep that pulls unread conversations for every auto-reply
// enabled creator and answers pending fan messages the webhook path missed.
//
// The sweep shares its reply clock and processed-id set with the webhook
// ingester, so the two paths suppress each other inside the cooldown window.
// Overlap is still possible when timing is unlucky; the durable message
// store keeps that from corrupting history, at worst one extra reply goes
// out.
package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/ai"
	"github.com/sorotech/go-creator-backend/internal/cache"
	"github.com/sorotech/go-creator-backend/internal/config"
	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/platform"
	"github.com/sorotech/go-creator-backend/internal/repo"
	"github.com/sorotech/go-creator-backend/internal/webhook"
)

// historyDepth is how many recent messages are inspected per conversation to
// decide whether a reply is pending.
const historyDepth = 5

// ChatAPI is the slice of the platform client the worker needs.
type ChatAPI interface {
	ListChats(ctx context.Context, creatorID string, opts platform.ChatListOptions) (*platform.ChatPage, error)
	ListMessages(ctx context.Context, creatorID, fanUUID string, opts platform.MessageListOptions) (*platform.MessagePage, error)
	SendMessage(ctx context.Context, creatorID, fanUUID, text string, opts platform.SendOptions) (*platform.Message, error)
}

// Worker is the polling auto-reply sweep. Construct with NewWorker and run
// with Start; Tick is exported for tests and manual triggering.
type Worker struct {
	db        *gorm.DB
	api       ChatAPI
	ai        *ai.Service
	clock     *cache.ReplyClock
	processed *cache.BoundedSet
	cfg       config.SchedulerConfig

	// running guards against overlapping ticks. A due tick that finds the
	// previous one still executing is dropped, never queued.
	running atomic.Bool
}

// NewWorker wires a polling worker. clock and processed should be the same
// instances handed to the webhook ingester.
func NewWorker(db *gorm.DB, api ChatAPI, aiSvc *ai.Service, clock *cache.ReplyClock, processed *cache.BoundedSet, cfg config.SchedulerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = 30 * time.Second
	}
	return &Worker{
		db:        db,
		api:       api,
		ai:        aiSvc,
		clock:     clock,
		processed: processed,
		cfg:       cfg,
	}
}

// Start runs the sweep loop until ctx is cancelled. The first tick fires
// immediately. Run it on its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.cfg.Interval).Msg("auto-reply worker started")
	w.Tick(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("auto-reply worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick performs one sweep. It returns the number of replies sent; a tick
// skipped because the previous one is still running returns -1.
func (w *Worker) Tick(ctx context.Context) int {
	if !w.running.CompareAndSwap(false, true) {
		log.Debug().Msg("previous sweep still running, tick skipped")
		tickOutcome("skipped")
		return -1
	}
	defer w.running.Store(false)

	creators, err := repo.ListAutoReplyCreators(ctx, w.db)
	if err != nil {
		log.Error().Err(err).Msg("auto-reply creator query failed")
		tickOutcome("error")
		return 0
	}
	if len(creators) == 0 {
		tickOutcome("completed")
		return 0
	}

	total := 0
	for i := range creators {
		total += w.processCreator(ctx, &creators[i])
	}
	if total > 0 {
		log.Info().Int("replies", total).Msg("auto-reply sweep complete")
	}
	tickOutcome("completed")
	return total
}

// processCreator sweeps one creator's unread conversations. A failure on the
// conversation list only affects this creator; a failure inside a single
// conversation only affects that conversation.
func (w *Worker) processCreator(ctx context.Context, creator *domain.Creator) int {
	page, err := w.api.ListChats(ctx, creator.ID, platform.ChatListOptions{
		Filter: "unread",
		Limit:  w.cfg.PageSize,
	})
	if err != nil {
		log.Warn().Err(err).Str("creator_id", creator.ID).Msg("unread chat fetch failed")
		return 0
	}

	sent := 0
	for i := range page.Chats {
		if w.processChat(ctx, creator, &page.Chats[i]) {
			sent++
		}
	}
	return sent
}

// processChat decides whether one conversation needs a reply and sends it.
// Reports true when a reply went out.
func (w *Worker) processChat(ctx context.Context, creator *domain.Creator, chat *platform.Chat) bool {
	fanUUID := chat.User.UUID
	if fanUUID == "" {
		return false
	}
	// Broadcasts go to thousands of fans at once and must never be answered
	// one by one.
	if chat.LastMessage != nil && chat.LastMessage.Type == "BROADCAST" {
		return false
	}

	chatKey := creator.ID + "|" + fanUUID
	delay := w.cfg.DefaultDelay
	if creator.AutoReplyDelaySeconds > 0 {
		delay = time.Duration(creator.AutoReplyDelaySeconds) * time.Second
	}
	if w.clock.Within(chatKey, delay) {
		return false
	}

	page, err := w.api.ListMessages(ctx, creator.ID, fanUUID, platform.MessageListOptions{Limit: historyDepth})
	if err != nil {
		log.Warn().Err(err).Str("creator_id", creator.ID).Str("fan_uuid", fanUUID).Msg("message fetch failed")
		return false
	}
	if len(page.Messages) == 0 {
		return false
	}

	// Most recent message first.
	last := page.Messages[0]
	if strings.HasPrefix(last.Type, "AUTOMATED") {
		return false
	}
	if last.IsFromCreator || (last.SenderUUID != "" && last.SenderUUID == creator.RemoteUserID) {
		return false
	}

	messageKey := creator.ID + ":" + last.UUID
	if w.processed.Has(messageKey) {
		return false
	}

	fanMessage := strings.TrimSpace(last.Body())
	if fanMessage == "" {
		return false
	}

	return w.reply(ctx, creator, chat, &last, chatKey, messageKey, fanMessage)
}

// reply generates, sends, persists and logs one auto-reply.
func (w *Worker) reply(ctx context.Context, creator *domain.Creator, chat *platform.Chat, last *platform.Message, chatKey, messageKey, fanMessage string) bool {
	res, err := w.ai.Generate(ctx, ai.Request{
		CreatorID:   creator.ID,
		CreatorName: creator.Name,
		PersonaID:   creator.PersonaID,
		FanMessage:  fanMessage,
	})
	if err != nil {
		log.Error().Err(err).Str("creator_id", creator.ID).Str("fan_uuid", chat.User.UUID).Msg("auto-reply generation failed")
		webhook.RecordAutoReply("scheduler", "generation_failed")
		return false
	}

	if _, err := w.api.SendMessage(ctx, creator.ID, chat.User.UUID, res.Text, platform.SendOptions{}); err != nil {
		log.Error().Err(err).Str("creator_id", creator.ID).Str("fan_uuid", chat.User.UUID).Msg("auto-reply send failed")
		webhook.RecordAutoReply("scheduler", "send_failed")
		return false
	}
	w.clock.Mark(chatKey)
	w.processed.Add(messageKey)

	// Mirror the fan message into local storage so the dashboard shows the
	// conversation even when the webhook never delivered it.
	msgID := w.persistFanMessage(ctx, creator, chat, last)

	if entry, err := w.ai.LogGeneration(ctx, creator.ID, msgID, fanMessage, res.Text, res.LatencyMs); err != nil {
		log.Error().Err(err).Msg("auto-reply log write failed")
	} else if err := w.ai.MarkUsed(ctx, entry.ID, false); err != nil {
		log.Error().Err(err).Msg("auto-reply log update failed")
	}

	webhook.RecordAutoReply("scheduler", "sent")
	log.Info().
		Str("creator_id", creator.ID).
		Str("fan_uuid", chat.User.UUID).
		Int("latency_ms", res.LatencyMs).
		Msg("auto-reply sent")
	return true
}

// persistFanMessage stores the answered fan message locally. Failures are
// logged only; the reply has already been sent and local history is best
// effort on this path. Returns the local message id, or empty.
func (w *Worker) persistFanMessage(ctx context.Context, creator *domain.Creator, chat *platform.Chat, last *platform.Message) string {
	local, err := repo.UpsertChat(ctx, w.db, creator.ID, chat.User.UUID, repo.ChatUpsert{
		FanRemoteID:    chat.User.UUID,
		FanUsername:    chat.User.Username,
		FanDisplayName: chat.User.DisplayName,
		FanAvatarURL:   chat.User.AvatarURL,
	})
	if err != nil {
		log.Warn().Err(err).Str("creator_id", creator.ID).Msg("chat mirror failed")
		return ""
	}
	sentAt := last.CreatedAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	msg, created, err := repo.InsertMessageIfAbsent(ctx, w.db, local.ID, last.UUID, domain.DirectionInbound, last.Body(), len(last.Attachments) > 0, sentAt)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", local.ID).Msg("message mirror failed")
		return ""
	}
	if created {
		if err := repo.TouchChat(ctx, w.db, local.ID, sentAt); err != nil {
			log.Warn().Err(err).Str("chat_id", local.ID).Msg("chat touch failed")
		}
	}
	return msg.ID
}
