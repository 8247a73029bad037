package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/persona"
	"github.com/sorotech/go-creator-backend/internal/repo"
)

func newAIDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("ai_test_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.AIResponseLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeProvider records the prompt it was handed and returns a canned reply.
type fakeProvider struct {
	lastPrompt  string
	lastMessage string
	reply       string
	err         error
	delay       time.Duration
}

func (f *fakeProvider) generate(_ context.Context, systemPrompt, fanMessage string, _ []Turn) (string, error) {
	f.lastPrompt = systemPrompt
	f.lastMessage = fanMessage
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.reply, f.err
}

func newTestService(t *testing.T, p provider) *Service {
	t.Helper()
	return newServiceWith(p, newAIDB(t), persona.NewLoader(t.TempDir()))
}

func TestGenerate_DefaultPromptWhenPersonaUnknown(t *testing.T) {
	fp := &fakeProvider{reply: "hey you 😘"}
	svc := newTestService(t, fp)

	res, err := svc.Generate(context.Background(), Request{
		CreatorID:  "c1",
		PersonaID:  "does-not-exist",
		FanMessage: "hi!",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "hey you 😘" || res.PersonaUsed != "default" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if fp.lastPrompt != persona.DefaultPrompt {
		t.Fatal("expected default prompt for unknown persona")
	}
	if fp.lastMessage != "hi!" {
		t.Fatalf("fan message not forwarded: %q", fp.lastMessage)
	}
}

func TestGenerate_MeasuresLatency(t *testing.T) {
	fp := &fakeProvider{reply: "ok", delay: 20 * time.Millisecond}
	svc := newTestService(t, fp)

	res, err := svc.Generate(context.Background(), Request{FanMessage: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.LatencyMs < 15 {
		t.Fatalf("latency not measured around the call: %d ms", res.LatencyMs)
	}
}

func TestGenerate_ProviderErrorPropagates(t *testing.T) {
	fp := &fakeProvider{err: &GenerationError{Status: 502, Body: "bad gateway"}}
	svc := newTestService(t, fp)

	_, err := svc.Generate(context.Background(), Request{FanMessage: "hi"})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Status != 502 {
		t.Fatalf("expected GenerationError(502), got %v", err)
	}
}

func TestGenerate_EmptyReplyIsFailure(t *testing.T) {
	svc := newTestService(t, &fakeProvider{reply: ""})

	_, err := svc.Generate(context.Background(), Request{FanMessage: "hi"})
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError for empty reply, got %v", err)
	}
}

func TestWebhookProvider_FieldFallbackOrder(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"output", `{"output":"from-output","response":"from-response","text":"from-text"}`, "from-output"},
		{"response", `{"response":"from-response","text":"from-text"}`, "from-response"},
		{"text", `{"text":"from-text"}`, "from-text"},
		{"none", `{"other":"x"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			p := newWebhookProvider(srv.URL, time.Second)
			got, err := p.generate(context.Background(), "sys", "hi", nil)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWebhookProvider_SendsChatInputAndSystemMessage(t *testing.T) {
	var received webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := jsonDecode(r, &received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"output":"ok"}`)
	}))
	defer srv.Close()

	p := newWebhookProvider(srv.URL, time.Second)
	if _, err := p.generate(context.Background(), "be nice", "hello there", nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if received.ChatInput != "hello there" || received.SystemMessage != "be nice" {
		t.Fatalf("unexpected request payload: %+v", received)
	}
}

func TestWebhookProvider_Non2xxFailsWithStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "generator exploded")
	}))
	defer srv.Close()

	p := newWebhookProvider(srv.URL, time.Second)
	_, err := p.generate(context.Background(), "sys", "hi", nil)
	var ge *GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if ge.Status != http.StatusInternalServerError || ge.Body != "generator exploded" {
		t.Fatalf("unexpected error detail: %+v", ge)
	}
}

func TestLogGenerationAndMarkUsed(t *testing.T) {
	svc := newTestService(t, &fakeProvider{reply: "ok"})

	entry, err := svc.LogGeneration(context.Background(), "c1", "", "fan says hi", "reply text", 123)
	if err != nil {
		t.Fatalf("LogGeneration: %v", err)
	}
	if entry.ID == "" || entry.WasUsed {
		t.Fatalf("unexpected log entry: %+v", entry)
	}

	if err := svc.MarkUsed(context.Background(), entry.ID, true); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	logs, err := repo.ListAILogs(context.Background(), svc.db, "c1", 10)
	if err != nil {
		t.Fatalf("ListAILogs: %v", err)
	}
	if len(logs) != 1 || !logs[0].WasUsed || !logs[0].WasEdited {
		t.Fatalf("feedback not recorded: %+v", logs)
	}
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
