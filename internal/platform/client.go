// Package platform wraps the remote creator platform's REST API: chat
// listing, message history, sending, subscribers and the creator's own
// profile. Every call is made on behalf of one creator; the access token is
// fetched per request from a TokenProvider so refresh stays transparent.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sorotech/go-creator-backend/internal/config"
)

// TokenProvider supplies a valid access token for a creator. The OAuth
// manager implements it.
type TokenProvider interface {
	GetValidToken(ctx context.Context, creatorID string) (string, error)
}

// APIError is a non-2xx response from the platform. Message is taken from
// the JSON `message` field when present and the raw body otherwise.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error %d: %s", e.Status, e.Message)
}

// ChatUser is the fan participating in a chat.
type ChatUser struct {
	UUID        string `json:"uuid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// LastMessage is the conversation preview attached to a chat listing.
type LastMessage struct {
	Content       string    `json:"content"`
	Type          string    `json:"type,omitempty"`
	SenderUUID    string    `json:"senderUuid,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	IsFromCreator bool      `json:"isFromCreator"`
}

// Chat is one conversation as seen by the platform.
type Chat struct {
	UUID        string       `json:"uuid"`
	User        ChatUser     `json:"user"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount"`
	IsOnline    bool         `json:"isOnline"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Attachment is media attached to a message.
type Attachment struct {
	Type         string `json:"type"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Message is one chat message as seen by the platform. Some API versions
// carry the body in `text` instead of `content` and attach a `type` for
// system messages; both are kept so callers can stay version tolerant.
type Message struct {
	UUID          string       `json:"uuid"`
	Content       string       `json:"content"`
	Text          string       `json:"text,omitempty"`
	Type          string       `json:"type,omitempty"`
	SenderUUID    string       `json:"senderUuid,omitempty"`
	IsFromCreator bool         `json:"isFromCreator"`
	CreatedAt     time.Time    `json:"createdAt"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// Body returns the message text regardless of which field the API used.
func (m *Message) Body() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Text
}

// Subscriber is a fan subscription record.
type Subscriber struct {
	UUID              string    `json:"uuid"`
	Username          string    `json:"username"`
	DisplayName       string    `json:"displayName"`
	AvatarURL         string    `json:"avatarUrl"`
	SubscribedAt      time.Time `json:"subscribedAt"`
	SubscriptionPrice float64   `json:"subscriptionPrice"`
	TotalSpent        float64   `json:"totalSpent"`
	IsActive          bool      `json:"isActive"`
}

// Profile is the creator's own platform profile.
type Profile struct {
	UUID              string  `json:"uuid"`
	Username          string  `json:"username"`
	DisplayName       string  `json:"displayName"`
	AvatarURL         string  `json:"avatarUrl"`
	Bio               string  `json:"bio"`
	SubscriberCount   int     `json:"subscriberCount"`
	SubscriptionPrice float64 `json:"subscriptionPrice"`
}

// pagination is the cursor envelope the platform wraps list responses in.
type pagination struct {
	NextCursor string `json:"nextCursor"`
}

// Client is an authenticated platform API client, safe for concurrent use.
type Client struct {
	baseURL    string
	apiVersion string
	tokens     TokenProvider
	hc         *http.Client
}

// NewClient builds a client from configuration.
func NewClient(cfg config.PlatformConfig, tokens TokenProvider) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		tokens:     tokens,
		hc:         &http.Client{Timeout: timeout},
	}
}

// do performs one authenticated request and decodes the response into out.
func (c *Client) do(ctx context.Context, creatorID, method, path string, params url.Values, body, out any) error {
	token, err := c.tokens.GetValidToken(ctx, creatorID)
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Fanvue-API-Version", c.apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// newAPIError extracts the platform's error message when the body is JSON
// and falls back to the raw text.
func newAPIError(status int, raw []byte) *APIError {
	msg := strings.TrimSpace(string(raw))
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		msg = parsed.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

// ChatListOptions filter and paginate ListChats.
type ChatListOptions struct {
	Limit  int
	Cursor string
	Filter string // "all", "unread" or "priority"
}

// ChatPage is one page of chats with an opaque continuation cursor.
type ChatPage struct {
	Chats      []Chat `json:"chats"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListChats returns one page of the creator's conversations.
func (c *Client) ListChats(ctx context.Context, creatorID string, opts ChatListOptions) (*ChatPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limitOr(opts.Limit, 20)))
	if opts.Cursor != "" {
		params.Set("cursor", opts.Cursor)
	}
	if opts.Filter != "" {
		params.Set("filter", opts.Filter)
	}

	var resp struct {
		Data       []Chat     `json:"data"`
		Pagination pagination `json:"pagination"`
	}
	if err := c.do(ctx, creatorID, http.MethodGet, "/chats", params, nil, &resp); err != nil {
		return nil, err
	}
	return &ChatPage{Chats: resp.Data, NextCursor: resp.Pagination.NextCursor}, nil
}

// MessageListOptions paginate ListMessages.
type MessageListOptions struct {
	Limit  int
	Cursor string
	Before string
}

// MessagePage is one page of messages with an opaque continuation cursor.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ListMessages returns one page of messages from the conversation with the
// given fan.
func (c *Client) ListMessages(ctx context.Context, creatorID, fanUUID string, opts MessageListOptions) (*MessagePage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limitOr(opts.Limit, 50)))
	if opts.Cursor != "" {
		params.Set("cursor", opts.Cursor)
	}
	if opts.Before != "" {
		params.Set("before", opts.Before)
	}

	var resp struct {
		Data       []Message  `json:"data"`
		Pagination pagination `json:"pagination"`
	}
	path := "/chats/" + url.PathEscape(fanUUID) + "/messages"
	if err := c.do(ctx, creatorID, http.MethodGet, path, params, nil, &resp); err != nil {
		return nil, err
	}
	return &MessagePage{Messages: resp.Data, NextCursor: resp.Pagination.NextCursor}, nil
}

// SendOptions are optional send parameters for paid or media messages.
type SendOptions struct {
	Price    float64
	MediaIDs []string
}

// SendMessage sends a direct message to a fan and returns the created
// message as reported by the platform.
func (c *Client) SendMessage(ctx context.Context, creatorID, fanUUID, text string, opts SendOptions) (*Message, error) {
	// The platform's send endpoint takes `text`, not `content`.
	body := map[string]any{"text": text}
	if opts.Price > 0 {
		body["price"] = opts.Price
	}
	if len(opts.MediaIDs) > 0 {
		body["mediaIds"] = opts.MediaIDs
	}

	var resp struct {
		Data Message `json:"data"`
	}
	path := "/chats/" + url.PathEscape(fanUUID) + "/message"
	if err := c.do(ctx, creatorID, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// BroadcastFilters narrow a mass message's audience.
type BroadcastFilters struct {
	HasSubscription *bool  `json:"hasSubscription,omitempty"`
	HasPurchased    *bool  `json:"hasPurchased,omitempty"`
	SubscribedAfter string `json:"subscribedAfter,omitempty"`
}

// BroadcastOptions are optional mass-message parameters.
type BroadcastOptions struct {
	Price           float64
	MediaIDs        []string
	TargetUserUUIDs []string
	Filters         *BroadcastFilters
}

// BroadcastResult reports a queued mass message.
type BroadcastResult struct {
	MessagesSent int    `json:"messagesSent"`
	MessageUUID  string `json:"messageUuid"`
}

// SendBroadcast sends a mass message to many fans at once.
func (c *Client) SendBroadcast(ctx context.Context, creatorID, content string, opts BroadcastOptions) (*BroadcastResult, error) {
	body := map[string]any{"content": content}
	if opts.Price > 0 {
		body["price"] = opts.Price
	}
	if len(opts.MediaIDs) > 0 {
		body["mediaIds"] = opts.MediaIDs
	}
	if len(opts.TargetUserUUIDs) > 0 {
		body["targetUserUuids"] = opts.TargetUserUUIDs
	}
	if opts.Filters != nil {
		body["filters"] = opts.Filters
	}

	var resp struct {
		Data BroadcastResult `json:"data"`
	}
	if err := c.do(ctx, creatorID, http.MethodPost, "/chats/mass-messages", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// SubscriberListOptions filter and paginate ListSubscribers.
type SubscriberListOptions struct {
	Limit  int
	Cursor string
	Status string // "active", "expired" or "all"
	SortBy string // "recent", "totalSpent" or "alphabetical"
}

// SubscriberPage is one page of subscribers with a continuation cursor.
type SubscriberPage struct {
	Subscribers []Subscriber `json:"subscribers"`
	NextCursor  string       `json:"next_cursor,omitempty"`
}

// ListSubscribers returns one page of the creator's subscribers.
func (c *Client) ListSubscribers(ctx context.Context, creatorID string, opts SubscriberListOptions) (*SubscriberPage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limitOr(opts.Limit, 20)))
	if opts.Cursor != "" {
		params.Set("cursor", opts.Cursor)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.SortBy != "" {
		params.Set("sortBy", opts.SortBy)
	}

	var resp struct {
		Data       []Subscriber `json:"data"`
		Pagination pagination   `json:"pagination"`
	}
	if err := c.do(ctx, creatorID, http.MethodGet, "/subscribers", params, nil, &resp); err != nil {
		return nil, err
	}
	return &SubscriberPage{Subscribers: resp.Data, NextCursor: resp.Pagination.NextCursor}, nil
}

// GetSubscriber returns one subscriber's details.
func (c *Client) GetSubscriber(ctx context.Context, creatorID, fanUUID string) (*Subscriber, error) {
	var resp struct {
		Data Subscriber `json:"data"`
	}
	path := "/subscribers/" + url.PathEscape(fanUUID)
	if err := c.do(ctx, creatorID, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetProfile returns the connected creator's own profile. The OAuth callback
// uses it to learn the remote user id the webhooks will reference.
func (c *Client) GetProfile(ctx context.Context, creatorID string) (*Profile, error) {
	var resp struct {
		Data Profile `json:"data"`
	}
	if err := c.do(ctx, creatorID, http.MethodGet, "/self", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func limitOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
