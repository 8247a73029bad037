package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/config"
	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/repo"
)

// refreshBuffer is how long before the recorded expiry a token is already
// treated as stale. Refreshing early keeps outbound platform calls from
// racing the real expiry.
const refreshBuffer = 5 * time.Minute

// tokenTimeout bounds each round trip to the provider's token endpoint.
const tokenTimeout = 10 * time.Second

// FlowStart is the result of starting an authorization flow: the URL the
// creator's browser must visit and the state that will come back on the
// callback.
type FlowStart struct {
	AuthorizationURL string
	State            string
}

// ConnectionInfo summarizes a creator's current platform connection.
type ConnectionInfo struct {
	Connected      bool       `json:"connected"`
	RemoteUserID   string     `json:"remote_user_id,omitempty"`
	RemoteUsername string     `json:"remote_username,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// Manager drives the PKCE authorization flow and owns token persistence.
// GetValidToken is the only way the rest of the application obtains an
// access token, which keeps the refresh logic in one place.
type Manager struct {
	oc     *oauth2.Config
	db     *gorm.DB
	states StateStore
	ttl    time.Duration

	// httpClient, when set, is used for token endpoint calls. Tests point
	// it at an httptest server.
	httpClient *http.Client

	// now is swappable in tests.
	now func() time.Time
}

// NewManager wires an OAuth manager from configuration. The store decides
// where pending flows live (memory or Redis).
func NewManager(cfg config.OAuthConfig, db *gorm.DB, states StateStore) *Manager {
	return &Manager{
		oc: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       strings.Fields(cfg.Scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		db:     db,
		states: states,
		ttl:    cfg.StateTTL,
		now:    time.Now,
	}
}

// WithHTTPClient overrides the HTTP client used for token endpoint calls.
func (m *Manager) WithHTTPClient(c *http.Client) *Manager {
	m.httpClient = c
	return m
}

// StartFlow creates a pending authorization for the given creator and
// returns the provider URL to redirect the browser to. The creator must
// already exist; connecting is always re-linking a known local account.
func (m *Manager) StartFlow(ctx context.Context, creatorID string) (*FlowStart, error) {
	if _, err := repo.GetCreator(ctx, m.db, creatorID); err != nil {
		return nil, err
	}

	state, err := newState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	fs := FlowState{Verifier: verifier, CreatorID: creatorID}
	if err := m.states.Put(ctx, state, fs, m.ttl); err != nil {
		return nil, err
	}

	url := m.oc.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return &FlowStart{AuthorizationURL: url, State: state}, nil
}

// CompleteFlow consumes the callback's state, exchanges the authorization
// code for tokens, and persists them on the owning creator. It returns the
// creator id so the caller can follow up with a profile fetch.
func (m *Manager) CompleteFlow(ctx context.Context, code, state string) (string, error) {
	fs, ok, err := m.states.Take(ctx, state)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidState
	}

	ectx, cancel := context.WithTimeout(m.clientContext(ctx), tokenTimeout)
	defer cancel()

	tok, err := m.oc.Exchange(ectx, code, oauth2.VerifierOption(fs.Verifier))
	if err != nil {
		return "", asTokenError("exchange", err)
	}

	if err := repo.SaveTokens(ctx, m.db, fs.CreatorID, tok.AccessToken, tok.RefreshToken, tok.Expiry, "", ""); err != nil {
		return "", err
	}
	log.Info().Str("creator_id", fs.CreatorID).Time("expires_at", tok.Expiry).Msg("platform account connected")
	return fs.CreatorID, nil
}

// GetValidToken returns an access token for the creator, refreshing it first
// when it is within the expiry buffer. A creator without stored tokens fails
// with ErrNotConnected and no network call is made.
func (m *Manager) GetValidToken(ctx context.Context, creatorID string) (string, error) {
	c, err := repo.GetCreator(ctx, m.db, creatorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", err
	}
	if !c.Connected() {
		return "", ErrNotConnected
	}
	if !m.stale(c) {
		return c.AccessToken, nil
	}
	return m.refresh(ctx, c)
}

// SaveProfile records the remote identity on an already connected creator.
// The callback handler calls it after fetching /self with the fresh token.
func (m *Manager) SaveProfile(ctx context.Context, creatorID, remoteUserID, remoteUsername string) error {
	c, err := repo.GetCreator(ctx, m.db, creatorID)
	if err != nil {
		return err
	}
	if !c.Connected() {
		return ErrNotConnected
	}
	expiry := time.Time{}
	if c.TokenExpiresAt != nil {
		expiry = *c.TokenExpiresAt
	}
	return repo.SaveTokens(ctx, m.db, creatorID, c.AccessToken, c.RefreshToken, expiry, remoteUserID, remoteUsername)
}

// Revoke disconnects the creator from the platform by clearing all stored
// tokens and remote identity. Disconnecting an already disconnected creator
// is a no-op.
func (m *Manager) Revoke(ctx context.Context, creatorID string) error {
	if err := repo.ClearTokens(ctx, m.db, creatorID); err != nil {
		return err
	}
	log.Info().Str("creator_id", creatorID).Msg("platform account disconnected")
	return nil
}

// Info reports the creator's connection status without exposing tokens.
func (m *Manager) Info(ctx context.Context, creatorID string) (*ConnectionInfo, error) {
	c, err := repo.GetCreator(ctx, m.db, creatorID)
	if err != nil {
		return nil, err
	}
	if !c.Connected() {
		return &ConnectionInfo{}, nil
	}
	return &ConnectionInfo{
		Connected:      true,
		RemoteUserID:   c.RemoteUserID,
		RemoteUsername: c.RemoteUsername,
		TokenExpiresAt: c.TokenExpiresAt,
	}, nil
}

// stale reports whether the creator's access token is missing an expiry or
// inside the refresh buffer.
func (m *Manager) stale(c *domain.Creator) bool {
	if c.TokenExpiresAt == nil {
		return true
	}
	return m.now().After(c.TokenExpiresAt.Add(-refreshBuffer))
}

// refresh rotates the creator's tokens against the provider. On failure the
// stored tokens are left untouched and the creator is reported as not
// connected; a later attempt may still succeed if the outage was transient.
func (m *Manager) refresh(ctx context.Context, c *domain.Creator) (string, error) {
	if c.RefreshToken == "" {
		return "", ErrNotConnected
	}

	rctx, cancel := context.WithTimeout(m.clientContext(ctx), tokenTimeout)
	defer cancel()

	src := m.oc.TokenSource(rctx, &oauth2.Token{RefreshToken: c.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		log.Warn().Err(asTokenError("refresh", err)).Str("creator_id", c.ID).Msg("token refresh failed")
		return "", ErrNotConnected
	}

	// Some providers rotate the refresh token on every use, others omit it
	// from the refresh response. Keep the previous one when absent.
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = c.RefreshToken
	}
	if err := repo.SaveTokens(ctx, m.db, c.ID, tok.AccessToken, refreshToken, tok.Expiry, "", ""); err != nil {
		return "", err
	}
	log.Debug().Str("creator_id", c.ID).Time("expires_at", tok.Expiry).Msg("access token refreshed")
	return tok.AccessToken, nil
}

// clientContext injects the override HTTP client, if any, the way the
// oauth2 package expects it.
func (m *Manager) clientContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// asTokenError normalizes oauth2 retrieval failures into TokenExchangeError
// while passing through transport-level errors unchanged.
func asTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &TokenExchangeError{Op: op, Status: status, Body: strings.TrimSpace(string(re.Body))}
	}
	return err
}

// newState returns a random, URL-safe state parameter.
func newState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
