package model

import "fmt"

// Usage is the canonical token accounting attached to every completed
// request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

// PromptTokensDetails breaks the prompt side down when upstream reports it.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens,omitempty"`
	AudioTokens  int `json:"audio_tokens,omitempty"`
}

// CompletionTokensDetails breaks the completion side down when upstream
// reports it.
type CompletionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	AudioTokens     int `json:"audio_tokens,omitempty"`
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Error is the OpenAI-style error envelope returned to clients.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    any    `json:"code,omitempty"`

	// RawError keeps the original error for logs, never serialized.
	RawError error `json:"-"`
}

func (e Error) Error() string {
	return fmt.Sprintf("%s (type: %s, code: %v)", e.Message, e.Type, e.Code)
}

// ErrorWithStatusCode pairs a client-facing error with the HTTP status the
// gateway should answer with.
type ErrorWithStatusCode struct {
	Error      Error `json:"error"`
	StatusCode int   `json:"-"`
}

func (e *ErrorWithStatusCode) String() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("status=%d %s", e.StatusCode, e.Error.Error())
}
