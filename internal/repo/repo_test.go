package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sorotech/go-creator-backend/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
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
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestCreatorLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, err := CreateCreator(ctx, db, "Luna", "luna_of", "flirty")
	if err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected generated ID")
	}
	if c.AutoReplyDelaySeconds != 30 {
		t.Fatalf("default delay = %d, want 30", c.AutoReplyDelaySeconds)
	}
	if c.AutoReplyEnabled {
		t.Fatal("auto-reply should default to disabled")
	}

	got, err := GetCreator(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("GetCreator: %v", err)
	}
	if got.Name != "Luna" || got.OFUsername != "luna_of" || got.PersonaID != "flirty" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := GetCreator(ctx, db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCreator(unknown) = %v, want ErrNotFound", err)
	}

	if _, err := CreateCreator(ctx, db, "Mia", "mia_of", ""); err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}
	all, err := ListCreators(ctx, db)
	if err != nil {
		t.Fatalf("ListCreators: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListCreators returned %d creators, want 2", len(all))
	}
}

func TestSaveTokens_RefreshKeepsRemoteIdentity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, err := CreateCreator(ctx, db, "Luna", "", "")
	if err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}

	exp1 := time.Now().Add(time.Hour).UTC()
	if err := SaveTokens(ctx, db, c.ID, "at-1", "rt-1", exp1, "remote-uuid", "luna"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}

	// A token refresh learns nothing about the profile. Saving with empty
	// identity fields must not erase the stored ones.
	exp2 := exp1.Add(time.Hour)
	if err := SaveTokens(ctx, db, c.ID, "at-2", "rt-2", exp2, "", ""); err != nil {
		t.Fatalf("SaveTokens refresh: %v", err)
	}

	got, err := GetCreator(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("GetCreator: %v", err)
	}
	if got.AccessToken != "at-2" || got.RefreshToken != "rt-2" {
		t.Fatalf("tokens not rotated: %q %q", got.AccessToken, got.RefreshToken)
	}
	if got.RemoteUserID != "remote-uuid" || got.RemoteUsername != "luna" {
		t.Fatalf("remote identity erased by refresh: %q %q", got.RemoteUserID, got.RemoteUsername)
	}
	if !got.Connected() {
		t.Fatal("Connected() = false after SaveTokens")
	}

	if err := SaveTokens(ctx, db, "nope", "a", "b", exp1, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveTokens(unknown) = %v, want ErrNotFound", err)
	}
}

func TestClearTokens(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, err := CreateCreator(ctx, db, "Luna", "", "")
	if err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}
	if err := SaveTokens(ctx, db, c.ID, "at", "rt", time.Now().Add(time.Hour), "remote", "luna"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}

	if err := ClearTokens(ctx, db, c.ID); err != nil {
		t.Fatalf("ClearTokens: %v", err)
	}
	got, err := GetCreator(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("GetCreator: %v", err)
	}
	if got.Connected() || got.RefreshToken != "" || got.RemoteUserID != "" || got.RemoteUsername != "" {
		t.Fatalf("tokens not fully cleared: %+v", got)
	}
	if got.TokenExpiresAt != nil {
		t.Fatalf("TokenExpiresAt = %v, want nil", got.TokenExpiresAt)
	}

	// Disconnecting twice is a no-op, not an error.
	if err := ClearTokens(ctx, db, c.ID); err != nil {
		t.Fatalf("second ClearTokens: %v", err)
	}
	if err := ClearTokens(ctx, db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ClearTokens(unknown) = %v, want ErrNotFound", err)
	}
}

func TestFindCreatorByRemoteUserID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, err := CreateCreator(ctx, db, "Luna", "", "")
	if err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}
	if err := SaveTokens(ctx, db, c.ID, "at", "rt", time.Now().Add(time.Hour), "remote-7", "luna"); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}

	got, err := FindCreatorByRemoteUserID(ctx, db, "remote-7")
	if err != nil {
		t.Fatalf("FindCreatorByRemoteUserID: %v", err)
	}
	if got.ID != c.ID {
		t.Fatalf("resolved creator %s, want %s", got.ID, c.ID)
	}

	if _, err := FindCreatorByRemoteUserID(ctx, db, "unmapped"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unmapped remote id = %v, want ErrNotFound", err)
	}
}

func TestListAutoReplyCreators_FiltersDisconnected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mk := func(name string, enabled bool, token, remote string) *domain.Creator {
		c, err := CreateCreator(ctx, db, name, "", "")
		if err != nil {
			t.Fatalf("CreateCreator(%s): %v", name, err)
		}
		if token != "" {
			if err := SaveTokens(ctx, db, c.ID, token, "rt", time.Now().Add(time.Hour), remote, name); err != nil {
				t.Fatalf("SaveTokens(%s): %v", name, err)
			}
		}
		if enabled {
			if err := UpdateAutoReply(ctx, db, c.ID, true, 0, ""); err != nil {
				t.Fatalf("UpdateAutoReply(%s): %v", name, err)
			}
		}
		return c
	}

	eligible := mk("eligible", true, "at", "remote-1")
	mk("disabled", false, "at", "remote-2")
	mk("no-token", true, "", "")

	out, err := ListAutoReplyCreators(ctx, db)
	if err != nil {
		t.Fatalf("ListAutoReplyCreators: %v", err)
	}
	if len(out) != 1 || out[0].ID != eligible.ID {
		t.Fatalf("expected only the connected, enabled creator, got %d rows", len(out))
	}
}

func TestUpdateAutoReply(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, err := CreateCreator(ctx, db, "Luna", "", "flirty")
	if err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}

	if err := UpdateAutoReply(ctx, db, c.ID, true, 120, "chill"); err != nil {
		t.Fatalf("UpdateAutoReply: %v", err)
	}
	got, _ := GetCreator(ctx, db, c.ID)
	if !got.AutoReplyEnabled || got.AutoReplyDelaySeconds != 120 || got.PersonaID != "chill" {
		t.Fatalf("settings not applied: %+v", got)
	}

	// Zero delay and empty persona leave the current values alone.
	if err := UpdateAutoReply(ctx, db, c.ID, false, 0, ""); err != nil {
		t.Fatalf("UpdateAutoReply: %v", err)
	}
	got, _ = GetCreator(ctx, db, c.ID)
	if got.AutoReplyEnabled || got.AutoReplyDelaySeconds != 120 || got.PersonaID != "chill" {
		t.Fatalf("partial update clobbered settings: %+v", got)
	}

	if err := UpdateAutoReply(ctx, db, "nope", true, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateAutoReply(unknown) = %v, want ErrNotFound", err)
	}
}

func TestUpsertChat_ConvergesOnOneRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, err := CreateCreator(ctx, db, "Luna", "", "")
	if err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}

	first, err := UpsertChat(ctx, db, c.ID, "fan-uuid-1", ChatUpsert{
		FanUsername:    "bob",
		FanDisplayName: "Bob",
	})
	if err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}
	if first.FanRemoteID != "fan-uuid-1" {
		t.Fatalf("FanRemoteID = %q, want remote chat id fallback", first.FanRemoteID)
	}

	second, err := UpsertChat(ctx, db, c.ID, "fan-uuid-1", ChatUpsert{
		FanDisplayName: "Bobby",
		FanAvatarURL:   "https://cdn/x.png",
	})
	if err != nil {
		t.Fatalf("second UpsertChat: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a second row: %s vs %s", second.ID, first.ID)
	}
	if second.FanDisplayName != "Bobby" || second.FanAvatarURL != "https://cdn/x.png" {
		t.Fatalf("profile fields not refreshed: %+v", second)
	}
	// Empty username in the second upsert must not clobber the stored one.
	if second.FanUsername != "bob" {
		t.Fatalf("FanUsername = %q, want bob", second.FanUsername)
	}

	var count int64
	if err := db.Model(&domain.Chat{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("chat rows = %d, want 1", count)
	}
}

func TestUpsertChat_DefaultsUnknownUsername(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, _ := CreateCreator(ctx, db, "Luna", "", "")
	ch, err := UpsertChat(ctx, db, c.ID, "fan-uuid-2", ChatUpsert{})
	if err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}
	if ch.FanUsername != "unknown" {
		t.Fatalf("FanUsername = %q, want unknown", ch.FanUsername)
	}
}

func TestGetChat_ScopedToCreator(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	owner, _ := CreateCreator(ctx, db, "Luna", "", "")
	other, _ := CreateCreator(ctx, db, "Mia", "", "")
	ch, err := UpsertChat(ctx, db, owner.ID, "fan-uuid-3", ChatUpsert{})
	if err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}

	if _, err := GetChat(ctx, db, ch.ID, owner.ID); err != nil {
		t.Fatalf("GetChat(owner): %v", err)
	}
	if _, err := GetChat(ctx, db, ch.ID, other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetChat(other tenant) = %v, want ErrNotFound", err)
	}
}

func TestTouchChatAndResetUnread(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, _ := CreateCreator(ctx, db, "Luna", "", "")
	ch, err := UpsertChat(ctx, db, c.ID, "fan-uuid-4", ChatUpsert{})
	if err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := TouchChat(ctx, db, ch.ID, at); err != nil {
		t.Fatalf("TouchChat: %v", err)
	}
	if err := TouchChat(ctx, db, ch.ID, at.Add(time.Minute)); err != nil {
		t.Fatalf("TouchChat: %v", err)
	}

	got, err := GetChat(ctx, db, ch.ID, c.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.UnreadCount != 2 {
		t.Fatalf("UnreadCount = %d, want 2", got.UnreadCount)
	}
	if got.LastMessageAt == nil || !got.LastMessageAt.Equal(at.Add(time.Minute)) {
		t.Fatalf("LastMessageAt = %v", got.LastMessageAt)
	}

	if err := ResetUnread(ctx, db, ch.ID); err != nil {
		t.Fatalf("ResetUnread: %v", err)
	}
	got, _ = GetChat(ctx, db, ch.ID, c.ID)
	if got.UnreadCount != 0 {
		t.Fatalf("UnreadCount after reset = %d, want 0", got.UnreadCount)
	}
}

func TestListChatsPage_RecentFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, _ := CreateCreator(ctx, db, "Luna", "", "")
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ch, err := UpsertChat(ctx, db, c.ID, fmt.Sprintf("fan-%d", i), ChatUpsert{})
		if err != nil {
			t.Fatalf("UpsertChat: %v", err)
		}
		if err := TouchChat(ctx, db, ch.ID, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("TouchChat: %v", err)
		}
	}

	total, err := CountChats(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("CountChats: %v", err)
	}
	if total != 3 {
		t.Fatalf("CountChats = %d, want 3", total)
	}

	page, err := ListChatsPage(ctx, db, c.ID, 0, 2)
	if err != nil {
		t.Fatalf("ListChatsPage: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].RemoteChatID != "fan-2" || page[1].RemoteChatID != "fan-1" {
		t.Fatalf("unexpected order: %s, %s", page[0].RemoteChatID, page[1].RemoteChatID)
	}

	rest, err := ListChatsPage(ctx, db, c.ID, 2, 2)
	if err != nil {
		t.Fatalf("ListChatsPage offset: %v", err)
	}
	if len(rest) != 1 || rest[0].RemoteChatID != "fan-0" {
		t.Fatalf("unexpected tail page: %+v", rest)
	}
}

func TestInsertMessageIfAbsent_DedupesByRemoteID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, _ := CreateCreator(ctx, db, "Luna", "", "")
	ch, _ := UpsertChat(ctx, db, c.ID, "fan-uuid-5", ChatUpsert{})

	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m1, created, err := InsertMessageIfAbsent(ctx, db, ch.ID, "rm-1", domain.DirectionInbound, "hey", false, sent)
	if err != nil {
		t.Fatalf("InsertMessageIfAbsent: %v", err)
	}
	if !created {
		t.Fatal("first insert reported created=false")
	}

	m2, created, err := InsertMessageIfAbsent(ctx, db, ch.ID, "rm-1", domain.DirectionInbound, "hey again", false, sent)
	if err != nil {
		t.Fatalf("replayed insert: %v", err)
	}
	if created {
		t.Fatal("replayed insert reported created=true")
	}
	if m2.ID != m1.ID || m2.Content != "hey" {
		t.Fatalf("replay did not return original row: %+v", m2)
	}

	total, err := CountMessages(ctx, db, ch.ID)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if total != 1 {
		t.Fatalf("message rows = %d, want 1", total)
	}
}

func TestListMessagesPage_ChronologicalOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, _ := CreateCreator(ctx, db, "Luna", "", "")
	ch, _ := UpsertChat(ctx, db, c.ID, "fan-uuid-6", ChatUpsert{})

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Insert out of order; listing must come back sorted by sent_at.
	for _, i := range []int{2, 0, 1} {
		_, _, err := InsertMessageIfAbsent(ctx, db, ch.ID, fmt.Sprintf("rm-%d", i),
			domain.DirectionInbound, fmt.Sprintf("msg %d", i), false, base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("InsertMessageIfAbsent: %v", err)
		}
	}

	out, err := ListMessagesPage(ctx, db, ch.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListMessagesPage: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i, m := range out {
		if m.Content != fmt.Sprintf("msg %d", i) {
			t.Fatalf("position %d holds %q", i, m.Content)
		}
	}
}

func TestAILog_CreateAndFeedback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, _ := CreateCreator(ctx, db, "Luna", "", "")

	l, err := CreateAILog(ctx, db, c.ID, "", "fan input", "ai output", 420)
	if err != nil {
		t.Fatalf("CreateAILog: %v", err)
	}
	if l.MessageID != nil {
		t.Fatalf("MessageID = %v, want nil for detached log", l.MessageID)
	}

	withMsg, err := CreateAILog(ctx, db, c.ID, "msg-1", "in", "out", 100)
	if err != nil {
		t.Fatalf("CreateAILog: %v", err)
	}
	if withMsg.MessageID == nil || *withMsg.MessageID != "msg-1" {
		t.Fatalf("MessageID = %v, want msg-1", withMsg.MessageID)
	}

	if err := MarkAILogUsed(ctx, db, l.ID, true); err != nil {
		t.Fatalf("MarkAILogUsed: %v", err)
	}
	logs, err := ListAILogs(ctx, db, c.ID, 0)
	if err != nil {
		t.Fatalf("ListAILogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("ListAILogs = %d rows, want 2", len(logs))
	}
	var marked *domain.AIResponseLog
	for i := range logs {
		if logs[i].ID == l.ID {
			marked = &logs[i]
		}
	}
	if marked == nil || !marked.WasUsed || !marked.WasEdited {
		t.Fatalf("feedback not persisted: %+v", marked)
	}

	if err := MarkAILogUsed(ctx, db, "nope", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkAILogUsed(unknown) = %v, want ErrNotFound", err)
	}
}

func TestGetAILogStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, _ := CreateCreator(ctx, db, "Luna", "", "")

	latencies := []int{100, 200, 300, 400}
	ids := make([]string, 0, len(latencies))
	for _, ms := range latencies {
		l, err := CreateAILog(ctx, db, c.ID, "", "in", "out", ms)
		if err != nil {
			t.Fatalf("CreateAILog: %v", err)
		}
		ids = append(ids, l.ID)
	}
	// Two used, one of them edited.
	if err := MarkAILogUsed(ctx, db, ids[0], false); err != nil {
		t.Fatalf("MarkAILogUsed: %v", err)
	}
	if err := MarkAILogUsed(ctx, db, ids[1], true); err != nil {
		t.Fatalf("MarkAILogUsed: %v", err)
	}

	stats, err := GetAILogStats(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("GetAILogStats: %v", err)
	}
	if stats.TotalGenerated != 4 || stats.TotalUsed != 2 || stats.TotalEdited != 1 {
		t.Fatalf("totals = %+v", stats)
	}
	if stats.AvgLatencyMs != 250 {
		t.Fatalf("AvgLatencyMs = %d, want 250", stats.AvgLatencyMs)
	}
	if stats.EditRatePct != 50 {
		t.Fatalf("EditRatePct = %d, want 50", stats.EditRatePct)
	}

	// A creator with no logs gets zeroes, not an error.
	empty, err := GetAILogStats(ctx, db, "other")
	if err != nil {
		t.Fatalf("GetAILogStats(empty): %v", err)
	}
	if empty.TotalGenerated != 0 || empty.AvgLatencyMs != 0 || empty.EditRatePct != 0 {
		t.Fatalf("empty stats = %+v", empty)
	}
}

func TestIdempotencyRecords(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec, err := CreateIdempotency(ctx, db, "cr-1", "fan-1", "key-1", "msg-1", 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.Status != 201 || rec.MessageID != "msg-1" {
		t.Fatalf("stored record = %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "cr-1", "fan-1", "key-1", now)
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("fetched %s, want %s", got.ID, rec.ID)
	}

	// Blank fan id never matches anything.
	if _, err := GetIdempotency(ctx, db, "cr-1", "  ", "key-1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank fan id = %v, want ErrNotFound", err)
	}

	// A lookup past the expiry horizon misses.
	if _, err := GetIdempotency(ctx, db, "cr-1", "fan-1", "key-1", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record = %v, want ErrNotFound", err)
	}

	if _, err := CreateIdempotency(ctx, db, "cr-1", "fan-1", "key-1", "msg-2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate insert = %v, want ErrDuplicate", err)
	}

	// Same key under a different fan is a distinct tuple.
	if _, err := CreateIdempotency(ctx, db, "cr-1", "fan-2", "key-1", "msg-3", 201, time.Hour); err != nil {
		t.Fatalf("distinct tuple rejected: %v", err)
	}
}
