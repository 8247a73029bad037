package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sorotech/go-creator-backend/internal/ai"
	"github.com/sorotech/go-creator-backend/internal/cache"
	"github.com/sorotech/go-creator-backend/internal/config"
	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/http/middleware"
	"github.com/sorotech/go-creator-backend/internal/oauth"
	"github.com/sorotech/go-creator-backend/internal/persona"
	"github.com/sorotech/go-creator-backend/internal/platform"
	"github.com/sorotech/go-creator-backend/internal/repo"
	"github.com/sorotech/go-creator-backend/internal/webhook"
)

const testWebhookSecret = "test-webhook-secret"

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// writePersonaDir creates a personas directory with one valid persona.
func writePersonaDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := `{
		"persona_id": "flirty",
		"name": "Flirty",
		"archetype": "playful girlfriend",
		"description": "Warm and teasing",
		"tone": {"primary": "playful"},
		"personality_traits": ["warm", "teasing"]
	}`
	if err := os.WriteFile(filepath.Join(dir, "flirty.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	return dir
}

// stubEnv is a fully wired handler set with all outbound calls pointed at
// local httptest servers. Nil stubs leave the corresponding URL unreachable,
// which is fine for tests that never hit it.
type stubEnv struct {
	db *gorm.DB
	h  *Handlers
	r  *gin.Engine
	om *oauth.Manager
}

type stubOptions struct {
	platform http.Handler
	ai       http.Handler
	token    http.Handler
}

func newStubEnv(t *testing.T, opts stubOptions) *stubEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerDB(t)

	platformURL := "http://127.0.0.1:1/unreachable"
	if opts.platform != nil {
		srv := httptest.NewServer(opts.platform)
		t.Cleanup(srv.Close)
		platformURL = srv.URL
	}
	aiURL := "http://127.0.0.1:1/unreachable"
	if opts.ai != nil {
		srv := httptest.NewServer(opts.ai)
		t.Cleanup(srv.Close)
		aiURL = srv.URL
	}
	tokenURL := "http://127.0.0.1:1/unreachable"
	var tokenClient *http.Client
	if opts.token != nil {
		srv := httptest.NewServer(opts.token)
		t.Cleanup(srv.Close)
		tokenURL = srv.URL
		tokenClient = srv.Client()
	}

	om := oauth.NewManager(config.OAuthConfig{
		ClientID:    "client-id",
		AuthURL:     "https://auth.example/oauth/authorize",
		TokenURL:    tokenURL,
		RedirectURI: "https://app.example/oauth/callback",
		Scopes:      "read:self read:chats write:chats",
		StateTTL:    time.Minute,
	}, db, oauth.NewMemoryStateStore())
	if tokenClient != nil {
		om = om.WithHTTPClient(tokenClient)
	}

	pc := platform.NewClient(config.PlatformConfig{BaseURL: platformURL, Timeout: 2 * time.Second}, om)

	loader := persona.NewLoader(writePersonaDir(t))
	aiSvc, err := ai.NewService(config.AIConfig{EndpointURL: aiURL, Timeout: 2 * time.Second}, db, loader)
	if err != nil {
		t.Fatalf("ai.NewService: %v", err)
	}

	ing := webhook.NewIngester(db, testWebhookSecret, aiSvc, pc, cache.NewReplyClock(), cache.NewBoundedSet(100), 30*time.Second)
	h := New(db, om, pc, aiSvc, loader, ing, time.Hour)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(ctx context.Context, creatorID, fanID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, creatorID, fanID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		}))

	api := r.Group("/api/v1")
	api.POST("/creators", h.CreateCreator)
	api.GET("/creators", h.ListCreators)
	api.GET("/personas", h.ListPersonas)
	api.POST("/webhooks/platform", h.HandleWebhook)
	api.GET("/oauth/callback", h.OAuthCallback)
	api.POST("/ai/generate", h.GenerateReply)
	api.POST("/ai/logs/:logId/feedback", h.LeaveFeedback)

	creators := api.Group("/creators/:id")
	creators.Use(middleware.CreatorContext())
	creators.GET("", h.GetCreator)
	creators.PUT("/auto-reply", h.UpdateAutoReply)
	creators.POST("/connect", h.StartConnect)
	creators.GET("/connection", h.GetConnection)
	creators.DELETE("/connection", h.Disconnect)
	creators.GET("/chats", h.ListChats)
	creators.GET("/chats/:chatId/messages", h.ListChatMessages)
	creators.POST("/chats/:chatId/read", h.MarkChatRead)
	creators.POST("/sync", h.SyncChats)
	creators.GET("/remote/chats", h.ListRemoteChats)
	creators.GET("/remote/chats/:fanId/messages", h.ListRemoteMessages)
	creators.POST("/remote/chats/:fanId/message", h.SendRemoteMessage)
	creators.POST("/remote/broadcast", h.SendBroadcast)
	creators.GET("/remote/subscribers", h.ListSubscribers)
	creators.GET("/remote/subscribers/:fanId", h.GetSubscriber)
	creators.GET("/ai/logs", h.ListAILogs)
	creators.GET("/ai/stats", h.GetAIStats)

	return &stubEnv{db: db, h: h, r: r, om: om}
}

// do performs a request against the env's router.
func (e *stubEnv) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

// seedCreator inserts a creator row directly.
func seedCreator(t *testing.T, db *gorm.DB, name string) *domain.Creator {
	t.Helper()
	c, err := repo.CreateCreator(context.Background(), db, name, "", "flirty")
	if err != nil {
		t.Fatalf("seed creator: %v", err)
	}
	return c
}

// connectCreator stores a live token record so platform calls can proceed
// without a refresh round trip.
func connectCreator(t *testing.T, db *gorm.DB, creatorID string) {
	t.Helper()
	err := repo.SaveTokens(context.Background(), db, creatorID,
		"test-access-token", "test-refresh-token", time.Now().Add(time.Hour).UTC(),
		"remote-"+creatorID, "remote_handle")
	if err != nil {
		t.Fatalf("connect creator: %v", err)
	}
}
