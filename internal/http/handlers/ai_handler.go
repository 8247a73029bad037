// AI HTTP handlers.
//
// This file exposes on-demand reply generation and the response log used for
// usage analytics:
//   - POST /ai/generate                   (draft a reply for a fan message)
//   - POST /ai/logs/{logId}/feedback      (mark a draft as used/edited)
//   - GET  /creators/{id}/ai/logs         (recent generations)
//   - GET  /creators/{id}/ai/stats        (aggregate usage numbers)
//
// Generation drafts are always logged, whether or not the creator ends up
// sending them; the feedback endpoint closes that loop.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sorotech/go-creator-backend/internal/ai"
	"github.com/sorotech/go-creator-backend/internal/http/middleware"
	"github.com/sorotech/go-creator-backend/internal/repo"
	"github.com/sorotech/go-creator-backend/internal/utils"
)

// GenerateRequest is the JSON payload for drafting a reply.
type GenerateRequest struct {
	CreatorID  string    `json:"creator_id" binding:"required"`
	FanMessage string    `json:"fan_message" binding:"required,min=1,max=10000"`
	History    []ai.Turn `json:"history" binding:"omitempty,max=50"`
}

// GenerateResponse carries the drafted reply and its log entry.
type GenerateResponse struct {
	Text        string `json:"text"`
	PersonaUsed string `json:"persona_used"`
	LatencyMs   int    `json:"latency_ms"`
	LogID       string `json:"log_id,omitempty"`
}

// FeedbackRequest marks a generated draft as used, optionally after editing.
type FeedbackRequest struct {
	WasEdited bool `json:"was_edited"`
}

// GenerateReply godoc
// @ID          generateReply
// @Summary     Draft an AI reply to a fan message
// @Description Generates a persona-voiced reply draft for the given creator and logs it. The draft is not sent anywhere.
// @Tags        AI
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.GenerateRequest  true  "Generation payload"
// @Success     200  {object}  handlers.GenerateResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse  "Provider failure"
// @Router      /ai/generate [post]
func (h *Handlers) GenerateReply(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	creator, err := repo.GetCreator(ctx, h.db, req.CreatorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "creator not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	res, err := h.ai.Generate(ctx, ai.Request{
		CreatorID:   creator.ID,
		CreatorName: creator.Name,
		PersonaID:   creator.PersonaID,
		FanMessage:  strings.TrimSpace(req.FanMessage),
		History:     req.History,
	})
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("creator_id", creator.ID).Msg("generation failed")
		fail(c, http.StatusBadGateway, ErrCodeGenerationFailed, "AI provider could not produce a reply")
		return
	}

	out := GenerateResponse{
		Text:        res.Text,
		PersonaUsed: res.PersonaUsed,
		LatencyMs:   res.LatencyMs,
	}
	if logEntry, lerr := h.ai.LogGeneration(ctx, creator.ID, "", req.FanMessage, res.Text, res.LatencyMs); lerr == nil {
		out.LogID = logEntry.ID
	} else {
		middleware.LoggerFrom(c).Warn().Err(lerr).Msg("logging generation failed")
	}
	ok(c, http.StatusOK, out)
}

// LeaveFeedback godoc
// @ID          leaveFeedback
// @Summary     Mark a generated draft as used
// @Description Records that the creator sent this draft, optionally after editing it.
// @Tags        AI
// @Accept      json
// @Param       logId  path  string  true  "Generation log ID"
// @Param       body   body  handlers.FeedbackRequest  true  "Feedback payload"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /ai/logs/{logId}/feedback [post]
func (h *Handlers) LeaveFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if err := h.ai.MarkUsed(c.Request.Context(), c.Param("logId"), req.WasEdited); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "generation log not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		return
	}
	noContent(c)
}

// ListAILogs godoc
// @ID          listAILogs
// @Summary     Recent AI generations for a creator
// @Tags        AI
// @Produce     json
// @Param       id     path   string  true   "Creator ID"
// @Param       limit  query  int     false  "Max entries (default 50)"
// @Success     200  {array}   domain.AIResponseLog
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/ai/logs [get]
func (h *Handlers) ListAILogs(c *gin.Context) {
	creator := h.requireCreator(c)
	if creator == nil {
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	logs, err := repo.ListAILogs(c.Request.Context(), h.db, creator.ID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, logs)
}

// GetAIStats godoc
// @ID          getAIStats
// @Summary     Aggregate AI usage numbers for a creator
// @Tags        AI
// @Produce     json
// @Param       id  path  string  true  "Creator ID"
// @Success     200  {object}  repo.AILogStats
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/ai/stats [get]
func (h *Handlers) GetAIStats(c *gin.Context) {
	creator := h.requireCreator(c)
	if creator == nil {
		return
	}
	stats, err := repo.GetAILogStats(c.Request.Context(), h.db, creator.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}
