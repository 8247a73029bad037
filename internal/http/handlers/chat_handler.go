// Chat HTTP handlers.
//
// This file exposes both views of a creator's conversations:
//
// Local (synced) storage:
//   - GET  /creators/{id}/chats                       (list, paginated)
//   - GET  /creators/{id}/chats/{chatId}/messages     (list, paginated)
//   - POST /creators/{id}/chats/{chatId}/read         (reset unread counter)
//
// Remote platform passthrough:
//   - GET  /creators/{id}/remote/chats                (cursor-paginated)
//   - GET  /creators/{id}/remote/chats/{fanId}/messages
//   - POST /creators/{id}/remote/chats/{fanId}/message  (idempotent send)
//   - POST /creators/{id}/remote/broadcast
//   - GET  /creators/{id}/remote/subscribers
//   - GET  /creators/{id}/remote/subscribers/{fanId}
//   - POST /creators/{id}/sync                        (pull all chats locally)
//
// Remote calls surface the platform's own error status when it is a client
// error and 502 otherwise; a disconnected creator always maps to 409.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/http/middleware"
	"github.com/sorotech/go-creator-backend/internal/oauth"
	"github.com/sorotech/go-creator-backend/internal/platform"
	"github.com/sorotech/go-creator-backend/internal/repo"
	"github.com/sorotech/go-creator-backend/internal/utils"
)

// ListChatsResponse wraps a page of locally stored chats.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

// ListMessagesResponse wraps a page of locally stored messages.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// SendMessageRequest is the JSON payload for sending a direct message.
type SendMessageRequest struct {
	Text     string   `json:"text" binding:"required,min=1,max=10000"`
	Price    float64  `json:"price" binding:"omitempty,min=0"`
	MediaIDs []string `json:"media_ids"`
}

// BroadcastRequest is the JSON payload for a mass message.
type BroadcastRequest struct {
	Content         string                     `json:"content" binding:"required,min=1,max=10000"`
	Price           float64                    `json:"price" binding:"omitempty,min=0"`
	MediaIDs        []string                   `json:"media_ids"`
	TargetUserUUIDs []string                   `json:"target_user_uuids"`
	Filters         *platform.BroadcastFilters `json:"filters"`
}

// SyncResponse reports how many chats a sync pulled in.
type SyncResponse struct {
	Synced int `json:"synced"`
}

// platformFail translates platform client and connection errors into the
// standard envelope. Upstream 4xx statuses pass through so the dashboard can
// show the platform's complaint; everything else becomes 502.
func platformFail(c *gin.Context, err error) {
	if errors.Is(err, oauth.ErrNotConnected) {
		fail(c, http.StatusConflict, ErrCodeNotConnected, "creator has no active platform connection")
		return
	}
	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		fail(c, status, ErrCodePlatformError, apiErr.Message)
		return
	}
	fail(c, http.StatusBadGateway, ErrCodePlatformError, err.Error())
}

// requireCreator loads the creator from the route or writes the error
// response and returns nil.
func (h *Handlers) requireCreator(c *gin.Context) *domain.Creator {
	creator, err := repo.GetCreator(c.Request.Context(), h.db, c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "creator not found")
			return nil
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return nil
	}
	return creator
}

// ListChats godoc
// @ID          listChats
// @Summary     List synced chats (paginated)
// @Tags        Chats
// @Produce     json
// @Param       id         path   string  true   "Creator ID"
// @Param       page       query  int     false  "Page (1-based)"
// @Param       page_size  query  int     false  "Page size (max 100)"
// @Success     200  {object}  handlers.ListChatsResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	creator := h.requireCreator(c)
	if creator == nil {
		return
	}
	ctx := c.Request.Context()
	page, size := pageParams(c)

	total, err := repo.CountChats(ctx, h.db, creator.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	chats, err := repo.ListChatsPage(ctx, h.db, creator.ID, (page-1)*size, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	pages := utils.TotalPages(total, size)
	ok(c, http.StatusOK, ListChatsResponse{
		Chats: chats,
		Pagination: Pagination{
			Page:       page,
			PageSize:   size,
			Total:      total,
			TotalPages: pages,
			HasNext:    page < pages,
		},
	})
}

// ListChatMessages godoc
// @ID          listChatMessages
// @Summary     List synced messages in a chat (paginated)
// @Tags        Chats
// @Produce     json
// @Param       id      path   string  true  "Creator ID"
// @Param       chatId  path   string  true  "Chat ID"
// @Param       page       query  int  false  "Page (1-based)"
// @Param       page_size  query  int  false  "Page size (max 100)"
// @Success     200  {object}  handlers.ListMessagesResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/chats/{chatId}/messages [get]
func (h *Handlers) ListChatMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chat, err := repo.GetChat(ctx, h.db, c.Param("chatId"), c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	page, size := pageParams(c)
	total, err := repo.CountMessages(ctx, h.db, chat.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	msgs, err := repo.ListMessagesPage(ctx, h.db, chat.ID, (page-1)*size, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	pages := utils.TotalPages(total, size)
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: msgs,
		Pagination: Pagination{
			Page:       page,
			PageSize:   size,
			Total:      total,
			TotalPages: pages,
			HasNext:    page < pages,
		},
	})
}

// MarkChatRead godoc
// @ID          markChatRead
// @Summary     Reset a chat's unread counter
// @Tags        Chats
// @Param       id      path  string  true  "Creator ID"
// @Param       chatId  path  string  true  "Chat ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/chats/{chatId}/read [post]
func (h *Handlers) MarkChatRead(c *gin.Context) {
	ctx := c.Request.Context()
	chat, err := repo.GetChat(ctx, h.db, c.Param("chatId"), c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if err := repo.ResetUnread(ctx, h.db, chat.ID); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		return
	}
	noContent(c)
}

// ListRemoteChats godoc
// @ID          listRemoteChats
// @Summary     List conversations straight from the platform
// @Tags        Remote
// @Produce     json
// @Param       id      path   string  true   "Creator ID"
// @Param       cursor  query  string  false  "Continuation cursor"
// @Param       limit   query  int     false  "Page size"
// @Param       filter  query  string  false  "all | unread | priority"
// @Success     200  {object}  platform.ChatPage
// @Failure     409  {object}  handlers.ErrorResponse  "Creator not connected"
// @Router      /creators/{id}/remote/chats [get]
func (h *Handlers) ListRemoteChats(c *gin.Context) {
	page, err := h.platform.ListChats(c.Request.Context(), c.Param("id"), platform.ChatListOptions{
		Limit:  utils.AtoiDefault(c.Query("limit"), 0),
		Cursor: c.Query("cursor"),
		Filter: c.Query("filter"),
	})
	if err != nil {
		platformFail(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

// ListRemoteMessages godoc
// @ID          listRemoteMessages
// @Summary     List messages with one fan straight from the platform
// @Tags        Remote
// @Produce     json
// @Param       id     path   string  true   "Creator ID"
// @Param       fanId  path   string  true   "Fan UUID"
// @Param       cursor query  string  false  "Continuation cursor"
// @Param       limit  query  int     false  "Page size"
// @Success     200  {object}  platform.MessagePage
// @Failure     409  {object}  handlers.ErrorResponse  "Creator not connected"
// @Router      /creators/{id}/remote/chats/{fanId}/messages [get]
func (h *Handlers) ListRemoteMessages(c *gin.Context) {
	page, err := h.platform.ListMessages(c.Request.Context(), c.Param("id"), c.Param("fanId"), platform.MessageListOptions{
		Limit:  utils.AtoiDefault(c.Query("limit"), 0),
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		platformFail(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

// SendRemoteMessage godoc
// @ID          sendRemoteMessage
// @Summary     Send a direct message to a fan
// @Description Sends through the platform and mirrors the message into local storage. With an Idempotency-Key header, retries replay the stored result instead of re-sending.
// @Tags        Remote
// @Accept      json
// @Produce     json
// @Param       id     path    string  true  "Creator ID"
// @Param       fanId  path    string  true  "Fan UUID"
// @Param       Idempotency-Key  header  string  false  "Client retry token"
// @Param       body   body    handlers.SendMessageRequest  true  "Message payload"
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Creator not connected"
// @Router      /creators/{id}/remote/chats/{fanId}/message [post]
func (h *Handlers) SendRemoteMessage(c *gin.Context) {
	ctx := c.Request.Context()
	creatorID := c.Param("id")
	fanID := c.Param("fanId")

	// Replays return the originally persisted message without touching the
	// platform again.
	if middleware.IsReplay(c) {
		if key, present := middleware.GetIdempotencyKey(c); present {
			if rec, err := repo.GetIdempotency(ctx, h.db, creatorID, fanID, key, time.Now().UTC()); err == nil {
				if msg, merr := repo.GetMessage(ctx, h.db, rec.MessageID); merr == nil {
					ok(c, rec.Status, msg)
					return
				}
			}
		}
		// Fall through: the record vanished (expired between middleware and
		// handler); treat as a fresh send.
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text must not be blank")
		return
	}

	sent, err := h.platform.SendMessage(ctx, creatorID, fanID, text, platform.SendOptions{
		Price:    req.Price,
		MediaIDs: req.MediaIDs,
	})
	if err != nil {
		platformFail(c, err)
		return
	}

	local := h.persistOutbound(c, creatorID, fanID, sent, text)
	if local == nil {
		// Persistence failed after a successful send. The message is out;
		// report success with the platform's view of it.
		ok(c, http.StatusCreated, gin.H{"remote_message_id": sent.UUID, "text": text})
		return
	}

	if key, present := middleware.GetIdempotencyKey(c); present {
		if _, err := repo.CreateIdempotency(ctx, h.db, creatorID, fanID, key, local.ID, http.StatusCreated, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("recording idempotency key failed")
		}
	}

	ok(c, http.StatusCreated, local)
}

// persistOutbound mirrors a sent message into local storage. Returns nil
// when the mirror could not be written; the send itself already happened.
func (h *Handlers) persistOutbound(c *gin.Context, creatorID, fanID string, sent *platform.Message, text string) *domain.Message {
	ctx := c.Request.Context()
	chat, err := repo.UpsertChat(ctx, h.db, creatorID, fanID, repo.ChatUpsert{FanRemoteID: fanID})
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("mirroring sent message: chat upsert failed")
		return nil
	}

	sentAt := sent.CreatedAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	msg, created, err := repo.InsertMessageIfAbsent(ctx, h.db, chat.ID, sent.UUID,
		domain.DirectionOutbound, text, len(sent.Attachments) > 0, sentAt)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("mirroring sent message: insert failed")
		return nil
	}
	if created {
		if err := repo.TouchChat(ctx, h.db, chat.ID, sentAt); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("mirroring sent message: touch failed")
		}
	}
	return msg
}

// SendBroadcast godoc
// @ID          sendBroadcast
// @Summary     Send a mass message
// @Tags        Remote
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Creator ID"
// @Param       body  body  handlers.BroadcastRequest  true  "Broadcast payload"
// @Success     200  {object}  platform.BroadcastResult
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Creator not connected"
// @Router      /creators/{id}/remote/broadcast [post]
func (h *Handlers) SendBroadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.platform.SendBroadcast(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Content), platform.BroadcastOptions{
		Price:           req.Price,
		MediaIDs:        req.MediaIDs,
		TargetUserUUIDs: req.TargetUserUUIDs,
		Filters:         req.Filters,
	})
	if err != nil {
		platformFail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListSubscribers godoc
// @ID          listSubscribers
// @Summary     List subscribers straight from the platform
// @Tags        Remote
// @Produce     json
// @Param       id      path   string  true   "Creator ID"
// @Param       cursor  query  string  false  "Continuation cursor"
// @Param       limit   query  int     false  "Page size"
// @Param       status  query  string  false  "active | expired | all"
// @Param       sort_by query  string  false  "recent | totalSpent | alphabetical"
// @Success     200  {object}  platform.SubscriberPage
// @Failure     409  {object}  handlers.ErrorResponse  "Creator not connected"
// @Router      /creators/{id}/remote/subscribers [get]
func (h *Handlers) ListSubscribers(c *gin.Context) {
	page, err := h.platform.ListSubscribers(c.Request.Context(), c.Param("id"), platform.SubscriberListOptions{
		Limit:  utils.AtoiDefault(c.Query("limit"), 0),
		Cursor: c.Query("cursor"),
		Status: c.Query("status"),
		SortBy: c.Query("sort_by"),
	})
	if err != nil {
		platformFail(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

// GetSubscriber godoc
// @ID          getSubscriber
// @Summary     Fetch one subscriber
// @Tags        Remote
// @Produce     json
// @Param       id     path  string  true  "Creator ID"
// @Param       fanId  path  string  true  "Fan UUID"
// @Success     200  {object}  platform.Subscriber
// @Failure     409  {object}  handlers.ErrorResponse  "Creator not connected"
// @Router      /creators/{id}/remote/subscribers/{fanId} [get]
func (h *Handlers) GetSubscriber(c *gin.Context) {
	sub, err := h.platform.GetSubscriber(c.Request.Context(), c.Param("id"), c.Param("fanId"))
	if err != nil {
		platformFail(c, err)
		return
	}
	ok(c, http.StatusOK, sub)
}

// SyncChats godoc
// @ID          syncChats
// @Summary     Pull all conversations into local storage
// @Description Walks the platform's chat list cursor to the end and upserts every conversation locally.
// @Tags        Remote
// @Produce     json
// @Param       id  path  string  true  "Creator ID"
// @Success     200  {object}  handlers.SyncResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Creator not connected"
// @Router      /creators/{id}/sync [post]
func (h *Handlers) SyncChats(c *gin.Context) {
	creator := h.requireCreator(c)
	if creator == nil {
		return
	}
	n, err := h.platform.SyncAllChats(c.Request.Context(), h.db, creator.ID)
	if err != nil {
		platformFail(c, err)
		return
	}
	ok(c, http.StatusOK, SyncResponse{Synced: n})
}
