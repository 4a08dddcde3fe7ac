package model

// Finish reasons on canonical choices.
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonFilter    = "content_filter"
)

// TextResponse is the canonical non-streaming chat completion.
type TextResponse struct {
	Id                string               `json:"id"`
	Object            string               `json:"object"`
	Created           int64                `json:"created"`
	Model             string               `json:"model,omitempty"`
	Choices           []TextResponseChoice `json:"choices"`
	Usage             `json:"usage"`
	SystemFingerprint string `json:"system_fingerprint,omitempty"`
}

// TextResponseChoice is one completed choice.
type TextResponseChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionsStreamResponse is one canonical SSE delta event.
type ChatCompletionsStreamResponse struct {
	Id      string                                `json:"id"`
	Object  string                                `json:"object"`
	Created int64                                 `json:"created"`
	Model   string                                `json:"model"`
	Choices []ChatCompletionsStreamResponseChoice `json:"choices"`
	Usage   *Usage                                `json:"usage,omitempty"`
}

// ChatCompletionsStreamResponseChoice is one delta inside a stream event.
type ChatCompletionsStreamResponseChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// EmbeddingResponse is the OpenAI embeddings response shape; upstream
// payloads pass through it for usage extraction.
type EmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingItem `json:"data"`
	Model  string          `json:"model"`
	Usage  `json:"usage"`
}

// EmbeddingItem is one vector in an embeddings response.
type EmbeddingItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}
