package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sorotech/go-creator-backend/internal/domain"
	"github.com/sorotech/go-creator-backend/internal/repo"
)

func seedChatWithMessages(t *testing.T, env *stubEnv, creatorID, remoteChatID string, n int) *domain.Chat {
	t.Helper()
	ctx := context.Background()
	chat, err := repo.UpsertChat(ctx, env.db, creatorID, remoteChatID, repo.ChatUpsert{FanUsername: "bob"})
	if err != nil {
		t.Fatalf("upsert chat: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		_, _, err := repo.InsertMessageIfAbsent(ctx, env.db, chat.ID,
			fmt.Sprintf("%s-m%d", remoteChatID, i), domain.DirectionInbound,
			fmt.Sprintf("msg %d", i), false, at)
		if err != nil {
			t.Fatalf("insert message: %v", err)
		}
		if err := repo.TouchChat(ctx, env.db, chat.ID, at); err != nil {
			t.Fatalf("touch chat: %v", err)
		}
	}
	return chat
}

func TestListChats_Pagination(t *testing.T) {
	env := newStubEnv(t, stubOptions{})
	c := seedCreator(t, env.db, "Ava")
	for i := 0; i < 3; i++ {
		seedChatWithMessages(t, env, c.ID, fmt.Sprintf("fan-%d", i), 1)
	}

	w := env.do(http.MethodGet, "/api/v1/creators/"+c.ID+"/chats?page=1&page_size=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list chats = %d: %s", w.Code, w.Body.String())
	}
	var out ListChatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Chats) != 2 {
		t.Fatalf("page 1 len = %d, want 2", len(out.Chats))
	}
	if out.Pagination.Total != 3 || out.Pagination.TotalPages != 2 || !out.Pagination.HasNext {
		t.Fatalf("pagination = %+v", out.Pagination)
	}

	w = env.do(http.MethodGet, "/api/v1/creators/"+c.ID+"/chats?page=2&page_size=2", "", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode page 2: %v", err)
	}
	if len(out.Chats) != 1 || out.Pagination.HasNext {
		t.Fatalf("page 2 = %d chats, has_next=%v", len(out.Chats), out.Pagination.HasNext)
	}
}

func TestListChatMessages_ScopedToCreator(t *testing.T) {
	env := newStubEnv(t, stubOptions{})
	owner := seedCreator(t, env.db, "Ava")
	other := seedCreator(t, env.db, "Mia")
	chat := seedChatWithMessages(t, env, owner.ID, "fan-1", 3)

	w := env.do(http.MethodGet, "/api/v1/creators/"+owner.ID+"/chats/"+chat.ID+"/messages", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner list = %d", w.Code)
	}
	var out ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(out.Messages))
	}
	if out.Messages[0].Content != "msg 0" {
		t.Fatalf("oldest first expected, got %q", out.Messages[0].Content)
	}

	// Another tenant cannot read the chat through its own scope.
	w = env.do(http.MethodGet, "/api/v1/creators/"+other.ID+"/chats/"+chat.ID+"/messages", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant list = %d, want 404", w.Code)
	}
}

func TestMarkChatRead(t *testing.T) {
	env := newStubEnv(t, stubOptions{})
	c := seedCreator(t, env.db, "Ava")
	chat := seedChatWithMessages(t, env, c.ID, "fan-1", 2)

	w := env.do(http.MethodPost, "/api/v1/creators/"+c.ID+"/chats/"+chat.ID+"/read", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("read = %d, want 204", w.Code)
	}
	got, err := repo.GetChat(context.Background(), env.db, chat.ID, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.UnreadCount != 0 {
		t.Fatalf("unread = %d, want 0", got.UnreadCount)
	}

	w = env.do(http.MethodPost, "/api/v1/creators/"+c.ID+"/chats/unknown/read", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown chat = %d, want 404", w.Code)
	}
}

func TestSendRemoteMessage_NotConnected(t *testing.T) {
	env := newStubEnv(t, stubOptions{})
	c := seedCreator(t, env.db, "Ava")

	w := env.do(http.MethodPost, "/api/v1/creators/"+c.ID+"/remote/chats/fan-1/message",
		`{"text":"hi"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("disconnected send = %d, want 409: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"not_connected"`) {
		t.Fatalf("body missing code: %s", w.Body.String())
	}
}

func TestSendRemoteMessage_SendsAndMirrors(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats/fan-uuid-1/message", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"uuid":"rm-send-1","content":"hi there"}}`)
	})
	env := newStubEnv(t, stubOptions{platform: mux})
	c := seedCreator(t, env.db, "Ava")
	connectCreator(t, env.db, c.ID)

	w := env.do(http.MethodPost, "/api/v1/creators/"+c.ID+"/remote/chats/fan-uuid-1/message",
		`{"text":"hi there"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send = %d: %s", w.Code, w.Body.String())
	}
	var msg domain.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.RemoteMessageID != "rm-send-1" || msg.Direction != domain.DirectionOutbound {
		t.Fatalf("mirrored message = %+v", msg)
	}

	// The outbound mirror is a real local row.
	chat, err := repo.GetChat(context.Background(), env.db, msg.ChatID, c.ID)
	if err != nil {
		t.Fatalf("mirrored chat missing: %v", err)
	}
	if chat.RemoteChatID != "fan-uuid-1" {
		t.Fatalf("chat remote id = %q", chat.RemoteChatID)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("platform hits = %d, want 1", hits)
	}
}

func TestSendRemoteMessage_IdempotentReplay(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats/fan-uuid-2/message", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"uuid":"rm-send-2","content":"pay me"}}`)
	})
	env := newStubEnv(t, stubOptions{platform: mux})
	c := seedCreator(t, env.db, "Ava")
	connectCreator(t, env.db, c.ID)

	path := "/api/v1/creators/" + c.ID + "/remote/chats/fan-uuid-2/message"
	hdr := map[string]string{"Idempotency-Key": "retry-token-1"}

	w := env.do(http.MethodPost, path, `{"text":"pay me"}`, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first send = %d: %s", w.Code, w.Body.String())
	}
	var first domain.Message
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Retrying with the same key replays the stored message without any
	// second platform call.
	w = env.do(http.MethodPost, path, `{"text":"pay me"}`, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay = %d: %s", w.Code, w.Body.String())
	}
	var second domain.Message
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", second.ID, first.ID)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("platform hits = %d, want 1", got)
	}

	// A different key is a fresh send.
	w = env.do(http.MethodPost, path, `{"text":"pay me"}`, map[string]string{"Idempotency-Key": "retry-token-2"})
	if w.Code != http.StatusCreated {
		t.Fatalf("new key send = %d", w.Code)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("platform hits = %d, want 2", got)
	}
}

func TestSendRemoteMessage_BlankTextRejected(t *testing.T) {
	env := newStubEnv(t, stubOptions{})
	c := seedCreator(t, env.db, "Ava")
	connectCreator(t, env.db, c.ID)

	w := env.do(http.MethodPost, "/api/v1/creators/"+c.ID+"/remote/chats/fan-1/message",
		`{"text":"   "}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank text = %d, want 400", w.Code)
	}
}

func TestListRemoteChats_Passthrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"uuid":"chat-1","user":{"uuid":"fan-1","username":"bob"}}],"pagination":{"nextCursor":"cur-2"}}`)
	})
	env := newStubEnv(t, stubOptions{platform: mux})
	c := seedCreator(t, env.db, "Ava")
	connectCreator(t, env.db, c.ID)

	w := env.do(http.MethodGet, "/api/v1/creators/"+c.ID+"/remote/chats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remote chats = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "chat-1") {
		t.Fatalf("passthrough body: %s", w.Body.String())
	}
	// The page serializes with the same snake_case keys as the local
	// endpoints.
	if !strings.Contains(w.Body.String(), `"chats"`) || !strings.Contains(w.Body.String(), `"next_cursor":"cur-2"`) {
		t.Fatalf("passthrough keys: %s", w.Body.String())
	}
}

func TestListRemoteChats_PlatformClientErrorPassthrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"scope missing"}`)
	})
	env := newStubEnv(t, stubOptions{platform: mux})
	c := seedCreator(t, env.db, "Ava")
	connectCreator(t, env.db, c.ID)

	w := env.do(http.MethodGet, "/api/v1/creators/"+c.ID+"/remote/chats", "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("platform 403 surfaced as %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "scope missing") {
		t.Fatalf("platform message lost: %s", w.Body.String())
	}
}

func TestSyncChats(t *testing.T) {
	// No messages route: the per-chat history fetch fails and the sync must
	// still report the chat as synced.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"uuid":"fan-uuid-9","user":{"uuid":"fan-uuid-9","username":"bob","displayName":"Bob"}}],"pagination":{}}`)
	})
	env := newStubEnv(t, stubOptions{platform: mux})
	c := seedCreator(t, env.db, "Ava")
	connectCreator(t, env.db, c.ID)

	w := env.do(http.MethodPost, "/api/v1/creators/"+c.ID+"/sync", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync = %d: %s", w.Code, w.Body.String())
	}
	var out SyncResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Synced != 1 {
		t.Fatalf("synced = %d, want 1", out.Synced)
	}
}
