// Package webhook ingests push events from the remote platform. Each event
// is verified, mapped to a local creator, persisted idempotently, and may
// trigger an AI auto-reply for inbound fan messages.
//
// The provider delivers at-least-once: every handler tolerates replays, and
// the endpoint acknowledges with 200 even when our own processing fails so
// the provider never retry-storms over an integration bug.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/ai"
	"github.com/sorotech/go-creator-backend/internal/cache"
	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/platform"
	"github.com/sorotech/go-creator-backend/internal/repo"
)

// ErrSignatureInvalid is returned when the request signature does not match
// the configured secret. It is the only ingester error that maps to a non-200
// response.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Sender is the outbound slice of the platform client the auto-reply step
// needs.
type Sender interface {
	SendMessage(ctx context.Context, creatorID, fanUUID, text string, opts platform.SendOptions) (*platform.Message, error)
}

// Result is the acknowledgement body. Processed is false when the event was
// received but not acted on (unmapped tenant, unknown kind, internal error).
type Result struct {
	Received  bool `json:"received"`
	Processed bool `json:"processed"`
}

// Ingester processes webhook deliveries. The reply clock and processed set
// are shared with the polling scheduler so the two auto-reply paths observe
// each other's activity.
type Ingester struct {
	db        *gorm.DB
	secret    string
	ai        *ai.Service
	sender    Sender
	clock     *cache.ReplyClock
	processed *cache.BoundedSet

	// defaultDelay is the per-chat reply cooldown for creators without an
	// explicit delay setting.
	defaultDelay time.Duration
}

// NewIngester wires a webhook ingester. An empty secret disables signature
// verification; that is a development convenience only and is logged loudly
// at startup by the caller.
func NewIngester(db *gorm.DB, secret string, aiSvc *ai.Service, sender Sender, clock *cache.ReplyClock, processed *cache.BoundedSet, defaultDelay time.Duration) *Ingester {
	if defaultDelay <= 0 {
		defaultDelay = 30 * time.Second
	}
	return &Ingester{
		db:           db,
		secret:       secret,
		ai:           aiSvc,
		sender:       sender,
		clock:        clock,
		processed:    processed,
		defaultDelay: defaultDelay,
	}
}

// VerifySignature checks the hex HMAC-SHA256 signature over the raw body.
// With no secret configured every payload passes.
func (in *Ingester) VerifySignature(raw []byte, signature string) bool {
	if in.secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(in.secret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// envelope tolerates the field-name drift observed across provider versions.
type envelope struct {
	Event        string          `json:"event"`
	Type         string          `json:"type"`
	CreatorUUID  string          `json:"creatorUuid"`
	CreatorUUID2 string          `json:"creator_uuid"`
	Data         json.RawMessage `json:"data"`
}

func (e *envelope) kind() string {
	if e.Event != "" {
		return e.Event
	}
	return e.Type
}

func (e *envelope) tenant() string {
	if e.CreatorUUID != "" {
		return e.CreatorUUID
	}
	return e.CreatorUUID2
}

// Process handles one delivery. It returns ErrSignatureInvalid for a bad
// signature; every other condition acknowledges with a Result so the HTTP
// layer can always answer 200.
func (in *Ingester) Process(ctx context.Context, raw []byte, signature string) (*Result, error) {
	if !in.VerifySignature(raw, signature) {
		recordEvent("unknown", "rejected")
		return nil, ErrSignatureInvalid
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Msg("webhook body is not valid JSON")
		recordEvent("unknown", "malformed")
		return &Result{Received: true, Processed: false}, nil
	}
	kind := env.kind()

	creator, err := repo.FindCreatorByRemoteUserID(ctx, in.db, env.tenant())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn().Str("event", kind).Str("creator_uuid", env.tenant()).Msg("webhook for unmapped creator")
			recordEvent(kind, "unmapped")
			return &Result{Received: true, Processed: false}, nil
		}
		log.Error().Err(err).Str("event", kind).Msg("creator lookup failed")
		recordEvent(kind, "error")
		return &Result{Received: true, Processed: false}, nil
	}

	if err := in.dispatch(ctx, creator, kind, env.Data); err != nil {
		log.Error().Err(err).Str("event", kind).Str("creator_id", creator.ID).Msg("webhook processing failed")
		recordEvent(kind, "error")
		return &Result{Received: true, Processed: false}, nil
	}
	recordEvent(kind, "processed")
	return &Result{Received: true, Processed: true}, nil
}

func (in *Ingester) dispatch(ctx context.Context, creator *domain.Creator, kind string, data json.RawMessage) error {
	switch kind {
	case "message.received":
		return in.handleMessageReceived(ctx, creator, data)
	case "message.sent":
		return in.handleMessageSent(ctx, creator, data)
	case "subscriber.new":
		return in.handleSubscriberNew(ctx, creator, data)
	case "subscriber.expired":
		return in.handleSubscriberExpired(creator, data)
	case "tip.received":
		return in.handleTipReceived(ctx, creator, data)
	case "purchase.completed":
		return in.handlePurchaseCompleted(creator, data)
	default:
		log.Info().Str("event", kind).Str("creator_id", creator.ID).Msg("unknown webhook event ignored")
		return nil
	}
}

type messageReceivedData struct {
	MessageUUID       string    `json:"messageUuid"`
	Content           string    `json:"content"`
	SenderUUID        string    `json:"senderUuid"`
	SenderUsername    string    `json:"senderUsername"`
	SenderDisplayName string    `json:"senderDisplayName"`
	HasMedia          bool      `json:"hasMedia"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (in *Ingester) handleMessageReceived(ctx context.Context, creator *domain.Creator, data json.RawMessage) error {
	var d messageReceivedData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if d.MessageUUID == "" || d.SenderUUID == "" {
		return errors.New("message.received event missing messageUuid or senderUuid")
	}
	sentAt := d.CreatedAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	chat, err := repo.UpsertChat(ctx, in.db, creator.ID, d.SenderUUID, repo.ChatUpsert{
		FanRemoteID:    d.SenderUUID,
		FanUsername:    d.SenderUsername,
		FanDisplayName: d.SenderDisplayName,
	})
	if err != nil {
		return err
	}

	msg, created, err := repo.InsertMessageIfAbsent(ctx, in.db, chat.ID, d.MessageUUID, domain.DirectionInbound, d.Content, d.HasMedia, sentAt)
	if err != nil {
		return err
	}
	if !created {
		// Provider redelivery: the message is already recorded, nothing
		// downstream should run again.
		log.Debug().Str("remote_message_id", d.MessageUUID).Msg("duplicate webhook message ignored")
		return nil
	}
	if err := repo.TouchChat(ctx, in.db, chat.ID, sentAt); err != nil {
		return err
	}

	if creator.AutoReplyEnabled && creator.Connected() {
		in.autoReply(ctx, creator, chat, msg)
	}
	return nil
}

// autoReply generates and sends a reply to an inbound message. Failures are
// logged and swallowed: the inbound message is already durably recorded and
// the webhook acknowledgement must not depend on AI or send success.
func (in *Ingester) autoReply(ctx context.Context, creator *domain.Creator, chat *domain.Chat, msg *domain.Message) {
	chatKey := creator.ID + "|" + chat.FanRemoteID
	delay := in.defaultDelay
	if creator.AutoReplyDelaySeconds > 0 {
		delay = time.Duration(creator.AutoReplyDelaySeconds) * time.Second
	}
	if in.clock.Within(chatKey, delay) {
		log.Debug().Str("chat_id", chat.ID).Msg("auto-reply suppressed by cooldown")
		recordAutoReply("webhook", "cooldown")
		return
	}

	res, err := in.ai.Generate(ctx, ai.Request{
		CreatorID:   creator.ID,
		CreatorName: creator.Name,
		PersonaID:   creator.PersonaID,
		FanMessage:  msg.Content,
	})
	if err != nil {
		log.Error().Err(err).Str("chat_id", chat.ID).Msg("auto-reply generation failed")
		recordAutoReply("webhook", "generation_failed")
		return
	}

	if _, err := in.sender.SendMessage(ctx, creator.ID, chat.FanRemoteID, res.Text, platform.SendOptions{}); err != nil {
		log.Error().Err(err).Str("chat_id", chat.ID).Msg("auto-reply send failed")
		recordAutoReply("webhook", "send_failed")
		return
	}
	in.clock.Mark(chatKey)
	// Same key the scheduler checks before answering, so a sweep never
	// re-replies to a message this path already handled.
	in.processed.Add(creator.ID + ":" + msg.RemoteMessageID)

	entry, err := in.ai.LogGeneration(ctx, creator.ID, msg.ID, msg.Content, res.Text, res.LatencyMs)
	if err != nil {
		log.Error().Err(err).Msg("auto-reply log write failed")
	} else if err := in.ai.MarkUsed(ctx, entry.ID, false); err != nil {
		log.Error().Err(err).Msg("auto-reply log update failed")
	}
	recordAutoReply("webhook", "sent")
	log.Info().Str("creator_id", creator.ID).Str("chat_id", chat.ID).Int("latency_ms", res.LatencyMs).Msg("auto-reply sent")
}

type messageSentData struct {
	MessageUUID   string    `json:"messageUuid"`
	Content       string    `json:"content"`
	RecipientUUID string    `json:"recipientUuid"`
	HasMedia      bool      `json:"hasMedia"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (in *Ingester) handleMessageSent(ctx context.Context, creator *domain.Creator, data json.RawMessage) error {
	var d messageSentData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if d.MessageUUID == "" || d.RecipientUUID == "" {
		return errors.New("message.sent event missing messageUuid or recipientUuid")
	}
	sentAt := d.CreatedAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	chat, err := repo.UpsertChat(ctx, in.db, creator.ID, d.RecipientUUID, repo.ChatUpsert{FanRemoteID: d.RecipientUUID})
	if err != nil {
		return err
	}
	_, created, err := repo.InsertMessageIfAbsent(ctx, in.db, chat.ID, d.MessageUUID, domain.DirectionOutbound, d.Content, d.HasMedia, sentAt)
	if err != nil {
		return err
	}
	if created {
		// The creator just spoke in this chat, so the cooldown restarts:
		// neither auto-reply path should answer right on top of them.
		in.clock.Mark(creator.ID + "|" + chat.FanRemoteID)
		err = in.db.WithContext(ctx).
			Model(&domain.Chat{}).
			Where("id = ?", chat.ID).
			Update("last_message_at", sentAt).Error
		if err != nil {
			return err
		}
	}
	return nil
}

type subscriberNewData struct {
	SubscriberUUID        string    `json:"subscriberUuid"`
	SubscriberUsername    string    `json:"subscriberUsername"`
	SubscriberDisplayName string    `json:"subscriberDisplayName"`
	SubscribedAt          time.Time `json:"subscribedAt"`
	Price                 float64   `json:"price"`
}

func (in *Ingester) handleSubscriberNew(ctx context.Context, creator *domain.Creator, data json.RawMessage) error {
	var d subscriberNewData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if d.SubscriberUUID == "" {
		return errors.New("subscriber.new event missing subscriberUuid")
	}
	_, err := repo.UpsertChat(ctx, in.db, creator.ID, d.SubscriberUUID, repo.ChatUpsert{
		FanRemoteID:    d.SubscriberUUID,
		FanUsername:    d.SubscriberUsername,
		FanDisplayName: d.SubscriberDisplayName,
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("creator_id", creator.ID).
		Str("subscriber", d.SubscriberUsername).
		Float64("price", d.Price).
		Msg("new subscriber")
	return nil
}

type subscriberExpiredData struct {
	SubscriberUUID     string    `json:"subscriberUuid"`
	SubscriberUsername string    `json:"subscriberUsername"`
	ExpiredAt          time.Time `json:"expiredAt"`
}

func (in *Ingester) handleSubscriberExpired(creator *domain.Creator, data json.RawMessage) error {
	var d subscriberExpiredData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	log.Info().
		Str("creator_id", creator.ID).
		Str("subscriber", d.SubscriberUsername).
		Msg("subscription expired")
	return nil
}

type tipReceivedData struct {
	SenderUUID     string    `json:"senderUuid"`
	SenderUsername string    `json:"senderUsername"`
	Amount         float64   `json:"amount"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (in *Ingester) handleTipReceived(ctx context.Context, creator *domain.Creator, data json.RawMessage) error {
	var d tipReceivedData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if d.SenderUUID == "" {
		return errors.New("tip.received event missing senderUuid")
	}
	log.Info().
		Str("creator_id", creator.ID).
		Str("sender", d.SenderUsername).
		Float64("amount", d.Amount).
		Msg("tip received")
	if d.Message == "" {
		return nil
	}

	sentAt := d.CreatedAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	chat, err := repo.UpsertChat(ctx, in.db, creator.ID, d.SenderUUID, repo.ChatUpsert{
		FanRemoteID: d.SenderUUID,
		FanUsername: d.SenderUsername,
	})
	if err != nil {
		return err
	}
	// Tips have no message uuid of their own; a synthetic id keeps the
	// unique-per-remote-id invariant while still deduplicating retries of
	// the exact same delivery timestamp.
	tipID := fmt.Sprintf("tip-%d-%s", sentAt.UnixMilli(), d.SenderUUID)
	content := fmt.Sprintf("[TIP $%.2f] %s", d.Amount, d.Message)
	_, created, err := repo.InsertMessageIfAbsent(ctx, in.db, chat.ID, tipID, domain.DirectionInbound, content, false, sentAt)
	if err != nil {
		return err
	}
	if created {
		return repo.TouchChat(ctx, in.db, chat.ID, sentAt)
	}
	return nil
}

type purchaseCompletedData struct {
	BuyerUUID     string    `json:"buyerUuid"`
	BuyerUsername string    `json:"buyerUsername"`
	ContentType   string    `json:"contentType"`
	Price         float64   `json:"price"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (in *Ingester) handlePurchaseCompleted(creator *domain.Creator, data json.RawMessage) error {
	var d purchaseCompletedData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	log.Info().
		Str("creator_id", creator.ID).
		Str("buyer", d.BuyerUsername).
		Str("content_type", d.ContentType).
		Float64("price", d.Price).
		Msg("purchase completed")
	return nil
}
