package ai

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openaiProvider generates replies through the OpenAI chat completion API.
// Unlike the generation webhook it can carry conversation history, which
// noticeably improves reply coherence on long chats.
type openaiProvider struct {
	client *openai.Client
	model  string
}

func newOpenAIProvider(apiKey, model string) *openaiProvider {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &openaiProvider{client: openai.NewClient(apiKey), model: model}
}

func (p *openaiProvider) generate(ctx context.Context, systemPrompt, fanMessage string, history []Turn) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fanMessage,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: msgs,
	})
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
