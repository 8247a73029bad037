package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sorotech/go-creator-backend/internal/cache"
)

// FlowState is the pending-authorization record keyed by the opaque state
// parameter. It binds the PKCE verifier to the creator that started the flow
// so the callback can complete the exchange without trusting anything but
// the state value itself.
type FlowState struct {
	Verifier  string `json:"verifier"`
	CreatorID string `json:"creator_id"`
}

// StateStore holds pending authorization flows for the duration of the
// browser round trip. Take must consume the entry: a second Take with the
// same state reports a miss.
type StateStore interface {
	Put(ctx context.Context, state string, fs FlowState, ttl time.Duration) error
	Take(ctx context.Context, state string) (FlowState, bool, error)
}

// MemoryStateStore keeps pending flows in process memory. It is the default
// store; entries are lost on restart, which only forces the creator to click
// "connect" again.
type MemoryStateStore struct {
	entries *cache.TTLStore[FlowState]
}

// NewMemoryStateStore returns an empty in-process store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: cache.NewTTLStore[FlowState]()}
}

// Put stores the flow state under its state parameter.
func (s *MemoryStateStore) Put(_ context.Context, state string, fs FlowState, ttl time.Duration) error {
	s.entries.Put(state, fs, ttl)
	return nil
}

// Take removes and returns the flow state for the given state parameter.
func (s *MemoryStateStore) Take(_ context.Context, state string) (FlowState, bool, error) {
	fs, ok := s.entries.Take(state)
	return fs, ok, nil
}

// RedisStateStore keeps pending flows in Redis so callbacks survive process
// restarts and can land on any replica. GETDEL gives the same one-time-use
// guarantee as the in-memory store.
type RedisStateStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStateStore returns a store backed by the given client.
func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, prefix: "oauth:state:"}
}

// Put stores the flow state with the given TTL.
func (s *RedisStateStore) Put(ctx context.Context, state string, fs FlowState, ttl time.Duration) error {
	raw, err := json.Marshal(fs)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.prefix+state, raw, ttl).Err()
}

// Take atomically fetches and deletes the flow state.
func (s *RedisStateStore) Take(ctx context.Context, state string) (FlowState, bool, error) {
	raw, err := s.rdb.GetDel(ctx, s.prefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return FlowState{}, false, nil
	}
	if err != nil {
		return FlowState{}, false, err
	}
	var fs FlowState
	if err := json.Unmarshal(raw, &fs); err != nil {
		return FlowState{}, false, err
	}
	return fs, true, nil
}
