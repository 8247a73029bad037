// Creator HTTP handlers.
//
// This file exposes REST endpoints for creator resources:
//   - POST /creators                  (create)
//   - GET  /creators                  (list)
//   - GET  /creators/{id}             (fetch)
//   - PUT  /creators/{id}/auto-reply  (update auto-reply settings)
//   - GET  /personas                  (list available persona configs)
//
// Handlers are transport-thin: they validate input, call the application
// layer, and translate results into HTTP responses.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/ai"
	"github.com/sorotech/go-creator-backend/internal/oauth"
	"github.com/sorotech/go-creator-backend/internal/persona"
	"github.com/sorotech/go-creator-backend/internal/platform"
	"github.com/sorotech/go-creator-backend/internal/repo"
	"github.com/sorotech/go-creator-backend/internal/utils"
	"github.com/sorotech/go-creator-backend/internal/webhook"
)

// Handlers groups the HTTP endpoints for creators, connections, chats,
// webhooks, and AI operations. All dependencies are injected at construction.
type Handlers struct {
	db       *gorm.DB
	oauth    *oauth.Manager
	platform *platform.Client
	ai       *ai.Service
	personas *persona.Loader
	ingester *webhook.Ingester
	idemTTL  time.Duration
}

// New constructs a Handlers instance bound to the given collaborators.
func New(db *gorm.DB, om *oauth.Manager, pc *platform.Client, aiSvc *ai.Service, personas *persona.Loader, ing *webhook.Ingester, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{
		db:       db,
		oauth:    om,
		platform: pc,
		ai:       aiSvc,
		personas: personas,
		ingester: ing,
		idemTTL:  idemTTL,
	}
}

// CreateCreatorRequest is the JSON payload for onboarding a creator.
type CreateCreatorRequest struct {
	Name       string `json:"name" binding:"required,min=1,max=255" example:"Ava"`
	OFUsername string `json:"of_username" example:"ava.official"`
	PersonaID  string `json:"persona_id" example:"flirty"`
}

// UpdateAutoReplyRequest is the JSON payload for changing a creator's
// auto-reply settings. DelaySeconds is the minimum per-chat cooldown.
type UpdateAutoReplyRequest struct {
	Enabled      *bool  `json:"enabled" binding:"required"`
	DelaySeconds int    `json:"delay_seconds" binding:"omitempty,min=0,max=86400"`
	PersonaID    string `json:"persona_id"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// pageParams reads page/page_size query params with the standard bounds.
func pageParams(c *gin.Context) (page, size int) {
	return utils.PageParams(c.Query("page"), c.Query("page_size"), 20, 100)
}

// CreateCreator godoc
// @ID          createCreator
// @Summary     Onboard a creator
// @Description Creates a managed creator account. The creator starts disconnected; use the connect endpoint to link the platform account.
// @Tags        Creators
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateCreatorRequest  true  "Creator payload"
// @Success     201  {object}  domain.Creator
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /creators [post]
func (h *Handlers) CreateCreator(c *gin.Context) {
	var req CreateCreatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	creator, err := repo.CreateCreator(c.Request.Context(), h.db,
		strings.TrimSpace(req.Name), strings.TrimSpace(req.OFUsername), strings.TrimSpace(req.PersonaID))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, creator)
}

// ListCreators godoc
// @ID          listCreators
// @Summary     List creators
// @Tags        Creators
// @Produce     json
// @Success     200  {array}   domain.Creator
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /creators [get]
func (h *Handlers) ListCreators(c *gin.Context) {
	creators, err := repo.ListCreators(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, creators)
}

// GetCreator godoc
// @ID          getCreator
// @Summary     Fetch one creator
// @Tags        Creators
// @Produce     json
// @Param       id  path  string  true  "Creator ID"
// @Success     200  {object}  domain.Creator
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id} [get]
func (h *Handlers) GetCreator(c *gin.Context) {
	creator, err := repo.GetCreator(c.Request.Context(), h.db, c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "creator not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, creator)
}

// UpdateAutoReply godoc
// @ID          updateAutoReply
// @Summary     Update auto-reply settings
// @Description Enables or disables automatic replies for a creator, and optionally changes the per-chat cooldown and persona.
// @Tags        Creators
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Creator ID"
// @Param       body  body  handlers.UpdateAutoReplyRequest  true  "Auto-reply settings"
// @Success     200  {object}  domain.Creator
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/auto-reply [put]
func (h *Handlers) UpdateAutoReply(c *gin.Context) {
	var req UpdateAutoReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	if _, err := repo.GetCreator(ctx, h.db, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "creator not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	if err := repo.UpdateAutoReply(ctx, h.db, id, *req.Enabled, req.DelaySeconds, strings.TrimSpace(req.PersonaID)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		return
	}

	creator, err := repo.GetCreator(ctx, h.db, id)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, creator)
}

// ListPersonas godoc
// @ID          listPersonas
// @Summary     List available personas
// @Description Returns the persona configurations that can be assigned to creators for AI reply generation.
// @Tags        Personas
// @Produce     json
// @Success     200  {array}  persona.Details
// @Router      /personas [get]
func (h *Handlers) ListPersonas(c *gin.Context) {
	ids := h.personas.List()
	out := make([]persona.Details, 0, len(ids))
	for _, id := range ids {
		if d, found := h.personas.GetDetails(id); found {
			out = append(out, *d)
		}
	}
	ok(c, http.StatusOK, out)
}
