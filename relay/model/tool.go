package model

import "encoding/json"

// Tool describes either a declared tool (Function.Parameters set) or an
// assistant tool call (Function.Arguments set), matching the OpenAI shape.
type Tool struct {
	Id       string   `json:"id,omitempty"`
	Type     string   `json:"type,omitempty"`
	Function Function `json:"function"`
	Index    *int     `json:"index,omitempty"`

	// ThoughtSignature carries Gemini's reasoning signature for the call,
	// echoed back on the following turn.
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// Function is the function half of a Tool.
type Function struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Arguments   any    `json:"arguments,omitempty"`
	Strict      *bool  `json:"strict,omitempty"`
}

// ArgumentsString returns tool call arguments as a JSON string, the form
// clients expect in deltas.
func (f Function) ArgumentsString() string {
	switch v := f.Arguments.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
