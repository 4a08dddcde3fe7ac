package model

import "encoding/json"

// ClaudeRequest is the native Anthropic Messages API request accepted on
// /v1/messages.
type ClaudeRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []ClaudeMessage `json:"messages"`
	System        any             `json:"system,omitempty"`
	Metadata      any             `json:"metadata,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          int             `json:"top_k,omitempty"`
	Tools         []ClaudeTool    `json:"tools,omitempty"`
	ToolChoice    any             `json:"tool_choice,omitempty"`
	Thinking      *Thinking       `json:"thinking,omitempty"`
}

// ClaudeMessage is one turn, content either a string or a block list.
type ClaudeMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ParsedContent returns the message content as typed blocks. String content
// becomes a single text block.
func (m ClaudeMessage) ParsedContent() []ClaudeContent {
	if text, ok := m.Content.(string); ok {
		return []ClaudeContent{{Type: "text", Text: text}}
	}
	raw, err := json.Marshal(m.Content)
	if err != nil {
		return nil
	}
	var blocks []ClaudeContent
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// ClaudeContent is one content block in a message or response.
type ClaudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// image blocks
	Source *ClaudeImageSource `json:"source,omitempty"`

	// tool_use blocks
	Id    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// tool_result blocks
	ToolUseId string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// thinking blocks
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ClaudeImageSource is the source of an image block.
type ClaudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ClaudeTool declares a tool in Anthropic's schema layout.
type ClaudeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ClaudeUsage is Anthropic's token accounting.
type ClaudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// ClaudeResponse is the non-streaming Messages API response.
type ClaudeResponse struct {
	Id           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Content      []ClaudeContent `json:"content"`
	Model        string          `json:"model"`
	StopReason   *string         `json:"stop_reason"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        ClaudeUsage     `json:"usage"`
	Error        *ClaudeError    `json:"error,omitempty"`
}

// ClaudeError is Anthropic's error envelope.
type ClaudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClaudeStreamEvent covers every Messages SSE event; unused fields stay nil.
type ClaudeStreamEvent struct {
	Type         string              `json:"type"`
	Index        int                 `json:"index,omitempty"`
	Message      *ClaudeResponse     `json:"message,omitempty"`
	ContentBlock *ClaudeContent      `json:"content_block,omitempty"`
	Delta        *ClaudeStreamDelta  `json:"delta,omitempty"`
	Usage        *ClaudeUsage        `json:"usage,omitempty"`
	Error        *ClaudeError        `json:"error,omitempty"`
}

// ClaudeStreamDelta is the delta payload of content_block_delta and
// message_delta events.
type ClaudeStreamDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	PartialJson  string  `json:"partial_json,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	Signature    string  `json:"signature,omitempty"`
	StopReason   *string `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}
