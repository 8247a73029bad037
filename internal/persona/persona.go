// Package persona loads creator persona definitions from JSON files and
// renders them into system prompts for the AI generation service.
//
// Personas are identified by file name: config/personas/<id>.json. Files are
// parsed once and cached for the process lifetime; Reload drops the cache so
// edited files are picked up without a restart.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tone describes how the persona speaks.
type Tone struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary"`
	Energy    string   `json:"energy"`
	Formality string   `json:"formality"`
}

// Voice describes surface style: emoji, punctuation and pet names.
type Voice struct {
	EmojiFrequency   string   `json:"emoji_frequency"`
	EmojiStyle       []string `json:"emoji_style"`
	PunctuationStyle string   `json:"punctuation_style"`
	MessageLength    string   `json:"message_length"`
	UsePetNames      bool     `json:"use_pet_names"`
	PetNames         []string `json:"pet_names"`
}

// ConversationRules sets the paid-content pacing for the persona.
type ConversationRules struct {
	MessagesBeforeFirstPPV int       `json:"messages_before_first_ppv"`
	MessagesBetweenPPV     int       `json:"messages_between_ppv"`
	PriceEscalation        []float64 `json:"price_escalation"`
	MaxPPVPerDay           int       `json:"max_ppv_per_day"`
}

// Engagement lists the persona's retention techniques with examples.
type Engagement struct {
	Primary  []string          `json:"primary"`
	Examples map[string]string `json:"examples"`
}

// Forbidden lists content the persona must never produce.
type Forbidden struct {
	Topics    []string `json:"topics"`
	Words     []string `json:"words"`
	Behaviors []string `json:"behaviors"`
}

// Config is a persona definition as stored on disk.
type Config struct {
	PersonaID         string            `json:"persona_id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Archetype         string            `json:"archetype"`
	Tone              Tone              `json:"tone"`
	Voice             Voice             `json:"voice"`
	PersonalityTraits []string          `json:"personality_traits"`
	ConversationRules ConversationRules `json:"conversation_rules"`
	Engagement        Engagement        `json:"engagement_techniques"`
	MessageTemplates  map[string]string `json:"message_templates"`
	Forbidden         Forbidden         `json:"forbidden"`
}

// validate checks the fields the prompt renderer depends on. A persona that
// fails validation is treated as missing, which makes callers fall back to
// the generic default prompt instead of rendering a half-empty one.
func (c *Config) validate() error {
	switch {
	case c.PersonaID == "":
		return fmt.Errorf("persona_id is required")
	case c.Archetype == "":
		return fmt.Errorf("archetype is required")
	case len(c.PersonalityTraits) == 0:
		return fmt.Errorf("personality_traits must not be empty")
	case c.Tone.Primary == "":
		return fmt.Errorf("tone.primary is required")
	}
	return nil
}

// Details is the persona summary exposed over the HTTP API. It deliberately
// omits the mechanics (rules, techniques, forbidden lists).
type Details struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Archetype   string   `json:"archetype"`
	Description string   `json:"description"`
	Traits      []string `json:"traits"`
}

// Loader reads persona files from a directory and caches parsed configs.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Config
}

// NewLoader returns a loader rooted at dir. The directory may be missing;
// every lookup then falls back to the default prompt.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]*Config)}
}

// Load returns the persona with the given id, or false when the file is
// missing, unreadable, or fails validation. Lookup failures are logged once
// per call but never returned as errors; missing personas are an expected
// runtime condition, not a fault.
func (l *Loader) Load(id string) (*Config, bool) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, false
	}

	l.mu.RLock()
	c, ok := l.cache[id]
	l.mu.RUnlock()
	if ok {
		return c, true
	}

	path := filepath.Join(l.dir, id+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Str("persona_id", id).Str("path", path).Err(err).Msg("persona file not readable")
		return nil, false
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		log.Error().Str("persona_id", id).Err(err).Msg("persona file is not valid JSON")
		return nil, false
	}
	if err := cfg.validate(); err != nil {
		log.Error().Str("persona_id", id).Err(err).Msg("persona config rejected")
		return nil, false
	}

	l.mu.Lock()
	l.cache[id] = &cfg
	l.mu.Unlock()
	return &cfg, true
}

// List returns the ids of all persona files in the directory.
func (l *Loader) List() []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids
}

// GetDetails returns the API-facing summary of a persona, or false when it
// does not exist.
func (l *Loader) GetDetails(id string) (*Details, bool) {
	c, ok := l.Load(id)
	if !ok {
		return nil, false
	}
	return &Details{
		ID:          c.PersonaID,
		Name:        c.Name,
		Archetype:   c.Archetype,
		Description: c.Description,
		Traits:      c.PersonalityTraits,
	}, true
}

// Reload drops the parse cache so the next Load re-reads from disk.
func (l *Loader) Reload() {
	l.mu.Lock()
	l.cache = make(map[string]*Config)
	l.mu.Unlock()
}
