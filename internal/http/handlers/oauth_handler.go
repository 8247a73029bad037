// Platform connection HTTP handlers.
//
// This file exposes the OAuth connect lifecycle:
//   - POST   /creators/{id}/connect     (start the authorization flow)
//   - GET    /oauth/callback            (provider redirect target, HTML)
//   - GET    /creators/{id}/connection  (connection status)
//   - DELETE /creators/{id}/connection  (disconnect)
//
// The callback renders a small human-readable HTML page because the
// creator's browser lands on it directly; every other endpoint speaks JSON.
package handlers

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sorotech/go-creator-backend/internal/http/middleware"
	"github.com/sorotech/go-creator-backend/internal/oauth"
	"github.com/sorotech/go-creator-backend/internal/repo"
)

// ConnectResponse carries the authorization URL the creator must visit.
type ConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// StartConnect godoc
// @ID          startConnect
// @Summary     Start the platform authorization flow
// @Description Generates a PKCE authorization URL for the creator. The state is single-use and expires shortly.
// @Tags        Connection
// @Produce     json
// @Param       id  path  string  true  "Creator ID"
// @Success     200  {object}  handlers.ConnectResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/connect [post]
func (h *Handlers) StartConnect(c *gin.Context) {
	flow, err := h.oauth.StartFlow(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "creator not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeConnectFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ConnectResponse{
		AuthorizationURL: flow.AuthorizationURL,
		State:            flow.State,
	})
}

// OAuthCallback godoc
// @ID          oauthCallback
// @Summary     OAuth provider redirect target
// @Description Completes the authorization flow and shows a human-readable result page. Not a JSON endpoint.
// @Tags        Connection
// @Produce     html
// @Param       code   query  string  false  "Authorization code"
// @Param       state  query  string  false  "Flow state"
// @Param       error  query  string  false  "Provider error code"
// @Success     200  {string}  string  "HTML result page"
// @Router      /oauth/callback [get]
func (h *Handlers) OAuthCallback(c *gin.Context) {
	ctx := c.Request.Context()

	if errCode := c.Query("error"); errCode != "" {
		renderCallbackPage(c, http.StatusBadRequest, "Connection failed",
			fmt.Sprintf("The platform reported an error: %s. You can close this window and try again.", errCode))
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		renderCallbackPage(c, http.StatusBadRequest, "Connection failed",
			"The callback is missing its code or state parameter.")
		return
	}

	creatorID, err := h.oauth.CompleteFlow(ctx, code, state)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidState) {
			renderCallbackPage(c, http.StatusBadRequest, "Connection failed",
				"This authorization link has expired or was already used. Start the connection again from the dashboard.")
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Msg("oauth code exchange failed")
		renderCallbackPage(c, http.StatusBadGateway, "Connection failed",
			"The platform rejected the authorization. Please try again.")
		return
	}

	// Learn the creator's remote identity so webhooks can be mapped back to
	// this account. Best effort: the connection itself already succeeded.
	if profile, perr := h.platform.GetProfile(ctx, creatorID); perr == nil {
		if serr := h.oauth.SaveProfile(ctx, creatorID, profile.UUID, profile.Username); serr != nil {
			middleware.LoggerFrom(c).Warn().Err(serr).Str("creator_id", creatorID).Msg("saving remote profile failed")
		}
	} else {
		middleware.LoggerFrom(c).Warn().Err(perr).Str("creator_id", creatorID).Msg("fetching remote profile failed")
	}

	renderCallbackPage(c, http.StatusOK, "Account connected",
		"Your platform account is now linked. You can close this window.")
}

// GetConnection godoc
// @ID          getConnection
// @Summary     Connection status
// @Tags        Connection
// @Produce     json
// @Param       id  path  string  true  "Creator ID"
// @Success     200  {object}  oauth.ConnectionInfo
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/connection [get]
func (h *Handlers) GetConnection(c *gin.Context) {
	info, err := h.oauth.Info(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "creator not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, info)
}

// Disconnect godoc
// @ID          disconnect
// @Summary     Disconnect the platform account
// @Description Clears the stored tokens. Idempotent: disconnecting an already disconnected creator succeeds.
// @Tags        Connection
// @Param       id  path  string  true  "Creator ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /creators/{id}/connection [delete]
func (h *Handlers) Disconnect(c *gin.Context) {
	id := c.Param("id")
	if _, err := repo.GetCreator(c.Request.Context(), h.db, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "creator not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if err := h.oauth.Revoke(c.Request.Context(), id); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// renderCallbackPage writes the minimal HTML result page shown to the
// creator's browser after the provider redirect.
func renderCallbackPage(c *gin.Context, status int, title, body string) {
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; max-width: 30rem; margin: 4rem auto; text-align: center;">
<h1>%s</h1>
<p>%s</p>
</body>
</html>`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(body))
	c.Data(status, "text/html; charset=utf-8", []byte(page))
}
