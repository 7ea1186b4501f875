package openai

import (
	"encoding/json"
	"strings"
	"time"
)

// ChatCompletionRequest captures the subset of OpenAI's request a pipelines
// host sends. Metadata carries host specific fields such as chat_id.
type ChatCompletionRequest struct {
	Model    string         `json:"model"`
	Messages []ChatMessage  `json:"messages"`
	Stream   bool           `json:"stream,omitempty"`
	User     map[string]any `json:"user,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	ChatID   string         `json:"chat_id,omitempty"`
}

// ChatMessage follows OpenAI's role/content schema. Content may arrive as a
// plain string or as a list of typed parts; only text parts are kept.
type ChatMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is message text that also accepts the array-of-parts form.
type Content string

func (c *Content) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = Content(s)
		return nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	*c = Content(sb.String())
	return nil
}

// LastUserMessage returns the content of the final user message, or "".
func (r ChatCompletionRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return string(r.Messages[i].Content)
		}
	}
	return ""
}

// ConversationID returns metadata.chat_id, falling back to the top level
// chat_id field.
func (r ChatCompletionRequest) ConversationID() string {
	return conversationID(r.Metadata, r.ChatID)
}

// BodyConversationID applies the ConversationID rule to a decoded request
// body, as handed to the filter endpoints.
func BodyConversationID(body map[string]any) string {
	meta, _ := body["metadata"].(map[string]any)
	top, _ := body["chat_id"].(string)
	return conversationID(meta, top)
}

func conversationID(metadata map[string]any, chatID string) string {
	if id, ok := metadata["chat_id"].(string); ok && id != "" {
		return id
	}
	return chatID
}

// ChatCompletionResponse mirrors the OpenAI schema with a single choice.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   UsageBreakdown         `json:"usage"`
}

// ChatCompletionChoice contains the generated message.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      ChatMessage `json:"message"`
}

// UsageBreakdown is always zero; the backend does not report token counts.
type UsageBreakdown struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewCompletionResponse builds a non-streaming response around content.
func NewCompletionResponse(id, model, content string) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      ChatMessage{Role: "assistant", Content: Content(content)},
		}},
	}
}
