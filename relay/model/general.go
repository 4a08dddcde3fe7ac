package model

// ResponseFormat mirrors the OpenAI response_format parameter.
type ResponseFormat struct {
	Type       string      `json:"type,omitempty"`
	JsonSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is the schema payload of a json_schema response format.
type JSONSchema struct {
	Description string         `json:"description,omitempty"`
	Name        string         `json:"name"`
	Schema      map[string]any `json:"schema,omitempty"`
	Strict      *bool          `json:"strict,omitempty"`
}

// StreamOptions mirrors the OpenAI stream_options parameter.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// Thinking carries the Claude-style extended reasoning knobs that several
// engines understand.
type Thinking struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Reasoning mirrors the Responses-API reasoning knobs.
type Reasoning struct {
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// GeneralOpenAIRequest is the canonical request every inbound dialect parses
// into and every outbound adapter converts from. Field set follows the
// OpenAI Chat Completions wire format.
type GeneralOpenAIRequest struct {
	Model               string          `json:"model,omitempty"`
	Messages            []Message       `json:"messages,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	StreamOptions       *StreamOptions  `json:"stream_options,omitempty"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	TopK                int             `json:"top_k,omitempty"`
	N                   int             `json:"n,omitempty"`
	Stop                any             `json:"stop,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
	Seed                float64         `json:"seed,omitempty"`
	Tools               []Tool          `json:"tools,omitempty"`
	ToolChoice          any             `json:"tool_choice,omitempty"`
	ParallelToolCalls   *bool           `json:"parallel_tool_calls,omitempty"`
	User                string          `json:"user,omitempty"`
	LogitBias           any             `json:"logit_bias,omitempty"`
	Logprobs            *bool           `json:"logprobs,omitempty"`
	TopLogprobs         *int            `json:"top_logprobs,omitempty"`
	ReasoningEffort     *string         `json:"reasoning_effort,omitempty"`
	Reasoning           *Reasoning      `json:"reasoning,omitempty"`
	Thinking            *Thinking       `json:"thinking,omitempty"`
	Modalities          []string        `json:"modalities,omitempty"`
	Audio               any             `json:"audio,omitempty"`
	// Embeddings and legacy completions reuse this shape.
	Input          any    `json:"input,omitempty"`
	Prompt         any    `json:"prompt,omitempty"`
	EncodingFormat string `json:"encoding_format,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty"`
	// Images.
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormatStr string `json:"-"`
	// Audio endpoints.
	Voice string `json:"voice,omitempty"`
}

// ParseInput normalizes the embedding input into a string list.
func (r GeneralOpenAIRequest) ParseInput() []string {
	if r.Input == nil {
		return nil
	}
	var input []string
	switch r.Input.(type) {
	case string:
		input = []string{r.Input.(string)}
	case []any:
		input = make([]string, 0, len(r.Input.([]any)))
		for _, item := range r.Input.([]any) {
			if str, ok := item.(string); ok {
				input = append(input, str)
			}
		}
	}
	return input
}
