// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database connection, the remote-platform
// OAuth client, webhook verification, AI generation, and the auto-reply
// scheduler.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-creator-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// OAuthConfig holds the remote platform's OAuth 2.0 client settings.
// Defaults target the provider's public endpoints; the client id/secret and
// redirect URI must be supplied by the deployment.
type OAuthConfig struct {
	ClientID     string // FANVUE_CLIENT_ID
	ClientSecret string // FANVUE_CLIENT_SECRET
	AuthURL      string // FANVUE_AUTH_URL
	TokenURL     string // FANVUE_TOKEN_URL
	RedirectURI  string // FANVUE_REDIRECT_URI
	Scopes       string // FANVUE_SCOPES (space-separated)
	StateTTL     time.Duration
}

// PlatformConfig holds the authenticated platform API client settings.
type PlatformConfig struct {
	BaseURL    string        // FANVUE_API_BASE_URL
	APIVersion string        // FANVUE_API_VERSION (sent as X-Fanvue-API-Version)
	Timeout    time.Duration // per-request timeout
}

// AIConfig holds the generation endpoint settings. When OpenAIKey is set the
// OpenAI provider is used; otherwise the generation webhook endpoint is.
type AIConfig struct {
	EndpointURL string        // AI_ENDPOINT_URL (n8n-style generation webhook)
	Timeout     time.Duration // AI_TIMEOUT
	OpenAIKey   string        // OPENAI_API_KEY (optional alternate provider)
	OpenAIModel string        // OPENAI_MODEL
	PersonasDir string        // PERSONAS_DIR (persona JSON files)
}

// WebhookConfig holds inbound webhook verification settings. An empty Secret
// disables signature verification (dev mode only).
type WebhookConfig struct {
	Secret string // FANVUE_WEBHOOK_SECRET
}

// SchedulerConfig holds the auto-reply polling worker settings.
type SchedulerConfig struct {
	Enabled      bool          // AUTO_REPLY_ENABLED
	Interval     time.Duration // AUTO_REPLY_INTERVAL
	PageSize     int           // AUTO_REPLY_PAGE_SIZE (unread chats pulled per creator)
	DefaultDelay time.Duration // AUTO_REPLY_DEFAULT_DELAY (per-chat cooldown fallback)
	ProcessedCap int           // AUTO_REPLY_PROCESSED_CAP (dedup set bound)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBDriver  string // sqlite|postgres
	DBPath    string // SQLite path
	DBDSN     string // Postgres DSN
	RedisAddr string // optional; switches the PKCE state store to Redis

	// Domain
	OAuth     OAuthConfig
	Platform  PlatformConfig
	AI        AIConfig
	Webhook   WebhookConfig
	Scheduler SchedulerConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBDriver:  strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:    getenv("DB_PATH", "app.db"),
		DBDSN:     getenv("DB_DSN", ""),
		RedisAddr: getenv("REDIS_ADDR", ""),

		// Domain
		OAuth: OAuthConfig{
			ClientID:     getenv("FANVUE_CLIENT_ID", ""),
			ClientSecret: getenv("FANVUE_CLIENT_SECRET", ""),
			AuthURL:      getenv("FANVUE_AUTH_URL", "https://auth.fanvue.com/oauth2/auth"),
			TokenURL:     getenv("FANVUE_TOKEN_URL", "https://auth.fanvue.com/oauth2/token"),
			RedirectURI:  getenv("FANVUE_REDIRECT_URI", ""),
			Scopes:       getenv("FANVUE_SCOPES", "read:self read:chat write:chat read:fan read:insights"),
			StateTTL:     getdur("FANVUE_STATE_TTL", 10*time.Minute),
		},
		Platform: PlatformConfig{
			BaseURL:    getenv("FANVUE_API_BASE_URL", "https://api.fanvue.com"),
			APIVersion: getenv("FANVUE_API_VERSION", "2025-06-26"),
			Timeout:    getdur("FANVUE_API_TIMEOUT", 15*time.Second),
		},
		AI: AIConfig{
			EndpointURL: getenv("AI_ENDPOINT_URL", ""),
			Timeout:     getdur("AI_TIMEOUT", 30*time.Second),
			OpenAIKey:   getenv("OPENAI_API_KEY", ""),
			OpenAIModel: getenv("OPENAI_MODEL", "gpt-4o-mini"),
			PersonasDir: getenv("PERSONAS_DIR", "config/personas"),
		},
		Webhook: WebhookConfig{
			Secret: getenv("FANVUE_WEBHOOK_SECRET", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:      getbool("AUTO_REPLY_ENABLED", true),
			Interval:     getdur("AUTO_REPLY_INTERVAL", 30*time.Second),
			PageSize:     getint("AUTO_REPLY_PAGE_SIZE", 20),
			DefaultDelay: getdur("AUTO_REPLY_DEFAULT_DELAY", 30*time.Second),
			ProcessedCap: getint("AUTO_REPLY_PROCESSED_CAP", 10000),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-creator-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN must not be empty when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.OAuth.StateTTL <= 0 {
		return cfg, errors.New("FANVUE_STATE_TTL must be > 0")
	}
	if cfg.Platform.Timeout <= 0 || cfg.AI.Timeout <= 0 {
		return cfg, errors.New("FANVUE_API_TIMEOUT and AI_TIMEOUT must be > 0")
	}
	if cfg.Scheduler.Interval <= 0 {
		return cfg, errors.New("AUTO_REPLY_INTERVAL must be > 0")
	}
	if cfg.Scheduler.PageSize < 1 {
		return cfg, errors.New("AUTO_REPLY_PAGE_SIZE must be >= 1")
	}
	if cfg.Scheduler.ProcessedCap < 1 {
		return cfg, errors.New("AUTO_REPLY_PROCESSED_CAP must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
