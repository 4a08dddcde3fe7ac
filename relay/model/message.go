package model

import "encoding/json"

// Message is one canonical chat turn. Content is string or a part list,
// mirroring the OpenAI wire shape.
type Message struct {
	Role             string  `json:"role,omitempty"`
	Content          any     `json:"content,omitempty"`
	ReasoningContent string  `json:"reasoning_content,omitempty"`
	Name             *string `json:"name,omitempty"`
	ToolCalls        []Tool  `json:"tool_calls,omitempty"`
	ToolCallId       string  `json:"tool_call_id,omitempty"`
}

// Content part types.
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
	ContentTypeInputAudio = "input_audio"
)

// MessageContent is one element of a multi-part content list.
type MessageContent struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	ImageURL *ImageURL  `json:"image_url,omitempty"`
	InputAudio *InputAudio `json:"input_audio,omitempty"`
}

// ImageURL carries an image reference, either https or a data URL.
type ImageURL struct {
	Url    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// InputAudio carries inline audio for audio-capable chat models.
type InputAudio struct {
	Data   string `json:"data,omitempty"`
	Format string `json:"format,omitempty"`
}

// IsStringContent reports whether Content is a plain string.
func (m Message) IsStringContent() bool {
	_, ok := m.Content.(string)
	return ok
}

// StringContent flattens the message content to text. Multi-part lists
// concatenate their text parts.
func (m Message) StringContent() string {
	content, ok := m.Content.(string)
	if ok {
		return content
	}
	contentList, ok := m.Content.([]any)
	if !ok {
		return ""
	}

	var strBuilder []byte
	for _, contentItem := range contentList {
		contentMap, ok := contentItem.(map[string]any)
		if !ok {
			continue
		}
		if contentMap["type"] == ContentTypeText {
			if subStr, ok := contentMap["text"].(string); ok {
				strBuilder = append(strBuilder, subStr...)
			}
		}
	}
	return string(strBuilder)
}

// ParseContent normalizes Content into a typed part list. A plain string
// becomes a single text part.
func (m Message) ParseContent() []MessageContent {
	var contentList []MessageContent
	content, ok := m.Content.(string)
	if ok {
		contentList = append(contentList, MessageContent{
			Type: ContentTypeText,
			Text: content,
		})
		return contentList
	}

	anyList, ok := m.Content.([]any)
	if !ok {
		// Content may arrive as typed parts after an in-process rewrite.
		if typed, ok := m.Content.([]MessageContent); ok {
			return typed
		}
		return nil
	}
	for _, contentItem := range anyList {
		raw, err := json.Marshal(contentItem)
		if err != nil {
			continue
		}
		var part MessageContent
		if err := json.Unmarshal(raw, &part); err != nil {
			continue
		}
		contentList = append(contentList, part)
	}
	return contentList
}
