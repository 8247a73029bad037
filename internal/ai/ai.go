// Package ai generates persona-conditioned replies to fan messages. It
// resolves the creator's persona into a system prompt, calls an external
// generation provider, and measures wall-clock latency around the call.
//
// Two providers are supported: an n8n-style generation webhook (the default)
// and OpenAI chat completions when an API key is configured. Generation
// never sends anything itself; callers decide what to do with the text and
// log it separately so display-only paths can skip logging.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sorotech/go-creator-backend/internal/config"
	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/persona"
	"github.com/sorotech/go-creator-backend/internal/repo"
)

// Turn is one prior message of conversation history, oldest first.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request describes one generation.
type Request struct {
	CreatorID   string
	CreatorName string
	PersonaID   string
	FanMessage  string
	History     []Turn
}

// Result is the outcome of a successful generation.
type Result struct {
	Text        string
	LatencyMs   int
	PersonaUsed string
}

// GenerationError reports a failed provider call. Status and Body are set
// when the provider answered with a non-2xx response; Err carries transport
// failures.
type GenerationError struct {
	Status int
	Body   string
	Err    error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Err != nil {
		return "ai generation failed: " + e.Err.Error()
	}
	return fmt.Sprintf("ai generation failed: provider returned %d: %s", e.Status, e.Body)
}

// Unwrap exposes the underlying transport error, if any.
func (e *GenerationError) Unwrap() error { return e.Err }

// provider is the pluggable generation backend.
type provider interface {
	generate(ctx context.Context, systemPrompt, fanMessage string, history []Turn) (string, error)
}

// Service resolves prompts and delegates to the configured provider.
type Service struct {
	provider provider
	personas *persona.Loader
	db       *gorm.DB
}

// NewService builds the generation service from configuration. It prefers
// the OpenAI provider when an API key is present and otherwise uses the
// generation webhook.
func NewService(cfg config.AIConfig, db *gorm.DB, personas *persona.Loader) (*Service, error) {
	var p provider
	switch {
	case cfg.OpenAIKey != "":
		p = newOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel)
	case cfg.EndpointURL != "":
		p = newWebhookProvider(cfg.EndpointURL, cfg.Timeout)
	default:
		return nil, errors.New("ai: neither AI_ENDPOINT_URL nor OPENAI_API_KEY configured")
	}
	return &Service{provider: p, personas: personas, db: db}, nil
}

// newServiceWith is a test seam for injecting a fake provider.
func newServiceWith(p provider, db *gorm.DB, personas *persona.Loader) *Service {
	return &Service{provider: p, personas: personas, db: db}
}

// Generate produces a reply for the given fan message. An unknown persona id
// silently falls back to the generic default prompt; an empty reply from the
// provider is treated as a failure so callers never send blank messages.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt := persona.DefaultPrompt
	personaUsed := "default"
	if req.PersonaID != "" {
		if p, ok := s.personas.Load(req.PersonaID); ok {
			prompt = persona.BuildSystemPrompt(p, req.CreatorName)
			personaUsed = req.PersonaID
		} else {
			log.Warn().Str("persona_id", req.PersonaID).Msg("persona not found, using default prompt")
		}
	}

	start := time.Now()
	text, err := s.provider.generate(ctx, prompt, req.FanMessage, req.History)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		var ge *GenerationError
		if !errors.As(err, &ge) {
			err = &GenerationError{Err: err}
		}
		log.Error().Err(err).Str("creator_id", req.CreatorID).Int("latency_ms", latency).Msg("ai generation failed")
		return nil, err
	}
	if text == "" {
		return nil, &GenerationError{Err: errors.New("provider returned an empty reply")}
	}

	log.Debug().
		Str("creator_id", req.CreatorID).
		Str("persona", personaUsed).
		Int("latency_ms", latency).
		Msg("ai reply generated")
	return &Result{Text: text, LatencyMs: latency, PersonaUsed: personaUsed}, nil
}

// LogGeneration records one generation for analytics. messageID may be empty
// when the reply is not tied to a stored message.
func (s *Service) LogGeneration(ctx context.Context, creatorID, messageID, input, output string, latencyMs int) (*domain.AIResponseLog, error) {
	return repo.CreateAILog(ctx, s.db, creatorID, messageID, input, output, latencyMs)
}

// MarkUsed flags a logged generation as actually sent, optionally noting
// that the operator edited it first.
func (s *Service) MarkUsed(ctx context.Context, logID string, wasEdited bool) error {
	return repo.MarkAILogUsed(ctx, s.db, logID, wasEdited)
}
