// Package httpapi wires the HTTP transport (Gin) to the application
// packages, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging with redaction, panic
// recovery, metrics, compression, CORS, security headers, idempotency, and
// rate limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. gzip compression
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per creator/IP, bypass on replay)
// 10. CORS and security headers
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/config"
	"github.com/sorotech/go-creator-backend/internal/http/handlers"
	"github.com/sorotech/go-creator-backend/internal/http/middleware"
	"github.com/sorotech/go-creator-backend/internal/repo"
)

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
// The handlers carry their own dependencies; this function only decides
// ordering and route shape.
func RegisterRoutes(r *gin.Engine, h *handlers.Handlers, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. Chat routes carry fan PII and
	// the OAuth callback carries codes, so the scrubbing variant is global.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compress responses; the synced chat lists get large
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, creatorID, fanID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, creatorID, fanID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per creator/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCreatorOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	applyCORS(r, cfg)

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Creators
		api.POST("/creators", h.CreateCreator)
		api.GET("/creators", h.ListCreators)
		api.GET("/personas", h.ListPersonas)

		// Inbound webhooks (signature-verified, no creator scope)
		api.POST("/webhooks/platform", h.HandleWebhook)

		// OAuth redirect target; the provider calls it, not the dashboard.
		api.GET("/oauth/callback", h.OAuthCallback)

		// AI drafting endpoints
		api.POST("/ai/generate", h.GenerateReply)
		api.POST("/ai/logs/:logId/feedback", h.LeaveFeedback)

		// Creator-scoped routes share the tenant context middleware.
		creators := api.Group("/creators/:id")
		creators.Use(middleware.CreatorContext())
		{
			creators.GET("", h.GetCreator)
			creators.PUT("/auto-reply", h.UpdateAutoReply)

			// Connection lifecycle
			creators.POST("/connect", h.StartConnect)
			creators.GET("/connection", h.GetConnection)
			creators.DELETE("/connection", h.Disconnect)

			// Local (synced) storage
			creators.GET("/chats", h.ListChats)
			creators.GET("/chats/:chatId/messages", h.ListChatMessages)
			creators.POST("/chats/:chatId/read", h.MarkChatRead)
			creators.POST("/sync", h.SyncChats)

			// Remote platform passthrough
			creators.GET("/remote/chats", h.ListRemoteChats)
			creators.GET("/remote/chats/:fanId/messages", h.ListRemoteMessages)
			creators.POST("/remote/chats/:fanId/message", h.SendRemoteMessage)
			creators.POST("/remote/broadcast", h.SendBroadcast)
			creators.GET("/remote/subscribers", h.ListSubscribers)
			creators.GET("/remote/subscribers/:fanId", h.GetSubscriber)

			// Analytics
			creators.GET("/ai/logs", h.ListAILogs)
			creators.GET("/ai/stats", h.GetAIStats)
		}
	}
}

// applyCORS installs the CORS middleware. With no configured origins the API
// allows all (credentials stay off); otherwise only the allowlist is echoed.
func applyCORS(r *gin.Engine, cfg config.Config) {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
	for _, o := range cfg.CORS.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader. Oversized bodies error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
