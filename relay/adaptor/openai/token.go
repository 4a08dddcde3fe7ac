package openai

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/llmux/llmux/common/logger"
	"github.com/llmux/llmux/relay/model"
)

// tokenEncoderMap caches one encoder per model name. Encoders are immutable
// after construction so concurrent reads are safe.
var tokenEncoderMap sync.Map

var (
	defaultTokenEncoder     *tiktoken.Tiktoken
	defaultTokenEncoderOnce sync.Once
)

func getDefaultTokenEncoder() *tiktoken.Tiktoken {
	defaultTokenEncoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Logger.Panic("failed to get cl100k_base token encoder")
		}
		defaultTokenEncoder = enc
	})
	return defaultTokenEncoder
}

func getTokenEncoder(modelName string) *tiktoken.Tiktoken {
	if v, ok := tokenEncoderMap.Load(modelName); ok {
		return v.(*tiktoken.Tiktoken)
	}
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc = getDefaultTokenEncoder()
	}
	tokenEncoderMap.Store(modelName, enc)
	return enc
}

func getTokenNum(encoder *tiktoken.Tiktoken, text string) int {
	return len(encoder.Encode(text, nil, nil))
}

// CountTokenText estimates tokens for a plain string.
func CountTokenText(text string, modelName string) int {
	return getTokenNum(getTokenEncoder(modelName), text)
}

// CountTokenMessages estimates the prompt token count of a chat request the
// way the OpenAI cookbook describes for gpt-3.5/gpt-4 style models. Image
// parts get a flat estimate since the gateway never fetches remote media.
func CountTokenMessages(messages []model.Message, modelName string) int {
	encoder := getTokenEncoder(modelName)

	// Every message is wrapped in <|start|>{role}\n{content}<|end|>\n.
	tokensPerMessage := 3
	tokensPerName := 1

	tokenNum := 0
	for _, message := range messages {
		tokenNum += tokensPerMessage
		tokenNum += getTokenNum(encoder, message.Role)
		if message.Name != nil {
			tokenNum += tokensPerName
			tokenNum += getTokenNum(encoder, *message.Name)
		}
		switch content := message.Content.(type) {
		case string:
			tokenNum += getTokenNum(encoder, content)
		case []any:
			for _, part := range message.ParseContent() {
				switch part.Type {
				case model.ContentTypeText:
					tokenNum += getTokenNum(encoder, part.Text)
				case model.ContentTypeImageURL:
					tokenNum += imageTokenEstimate
				}
			}
		}
		for _, call := range message.ToolCalls {
			tokenNum += getTokenNum(encoder, call.Function.Name)
			tokenNum += getTokenNum(encoder, call.Function.ArgumentsString())
		}
	}
	// Reply is primed with <|start|>assistant<|message|>.
	tokenNum += 3
	return tokenNum
}

// imageTokenEstimate is the high-detail tile cost for a typical image; exact
// sizing would require decoding remote media.
const imageTokenEstimate = 765

// CountTokenInput estimates tokens for embedding-style inputs that may be a
// string or a list of strings.
func CountTokenInput(input any, modelName string) int {
	switch v := input.(type) {
	case string:
		return CountTokenText(v, modelName)
	case []string:
		total := 0
		for _, s := range v {
			total += CountTokenText(s, modelName)
		}
		return total
	case []any:
		var sb strings.Builder
		for _, item := range v {
			if s, ok := item.(string); ok {
				sb.WriteString(s)
			}
		}
		return CountTokenText(sb.String(), modelName)
	}
	return 0
}
