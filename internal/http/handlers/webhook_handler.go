// Inbound webhook HTTP handler.
//
// The platform delivers events to POST /webhooks/platform with an HMAC
// signature header. The handler verifies the signature and always answers
// 200 with a receipt envelope for anything verified, even when the payload
// could not be processed; the platform retries on non-2xx and a malformed
// event will never become well-formed.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sorotech/go-creator-backend/internal/http/middleware"
	"github.com/sorotech/go-creator-backend/internal/webhook"
)

// maxWebhookBody caps the accepted webhook payload size.
const maxWebhookBody = 1 << 20

// HandleWebhook godoc
// @ID          handleWebhook
// @Summary     Receive a platform webhook event
// @Description Verifies the HMAC signature and ingests the event. Returns 200 with a receipt for every verified delivery.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       X-Fanvue-Signature  header  string  false  "Hex HMAC-SHA256 of the raw body"
// @Success     200  {object}  webhook.Result
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /webhooks/platform [post]
func (h *Handlers) HandleWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	sig := c.GetHeader("X-Fanvue-Signature")
	if sig == "" {
		sig = c.GetHeader("X-Signature")
	}

	res, err := h.ingester.Process(c.Request.Context(), raw, sig)
	if err != nil {
		if errors.Is(err, webhook.ErrSignatureInvalid) {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid webhook signature")
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Msg("webhook ingestion failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "webhook ingestion failed")
		return
	}
	ok(c, http.StatusOK, res)
}
