package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// webhookProvider calls an n8n-style generation webhook: a single POST with
// the fan message and the rendered system prompt.
type webhookProvider struct {
	url    string
	client *http.Client
}

func newWebhookProvider(url string, timeout time.Duration) *webhookProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &webhookProvider{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookRequest struct {
	ChatInput     string `json:"chatInput"`
	SystemMessage string `json:"systemMessage"`
}

// webhookReply tolerates the output field moving between generator versions.
type webhookReply struct {
	Output   string `json:"output"`
	Response string `json:"response"`
	Text     string `json:"text"`
}

// text returns the first populated reply field.
func (r webhookReply) text() string {
	for _, v := range []string{r.Output, r.Response, r.Text} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p *webhookProvider) generate(ctx context.Context, systemPrompt, fanMessage string, _ []Turn) (string, error) {
	body, err := json.Marshal(webhookRequest{ChatInput: fanMessage, SystemMessage: systemPrompt})
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GenerationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var reply webhookReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", &GenerationError{Err: err}
	}
	return strings.TrimSpace(reply.text()), nil
}
