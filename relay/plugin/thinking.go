package plugin

import (
	"encoding/json"
	"strings"

	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

// ThinkingPluginName enables the claude thinking-suffix rewrite.
const ThinkingPluginName = "thinking"

const (
	thinkingSuffix   = "-thinking"
	thinkingOpenTag  = "<thinking>"
	thinkingCloseTag = "</thinking>"
	thinkingStateKey = "thinking_state"

	defaultReasoningBudget = 32768
	completionHeadroomMin  = 8192
	completionHeadroom     = 16384
)

func init() {
	Register(&thinkingPlugin{})
}

// thinkingPlugin serves claude models under a "-thinking" alias: the
// request gets an assistant <thinking> pre-fill and a reasoning budget, and
// the stream is rewritten so text before the closing tag flows to
// reasoning_content.
type thinkingPlugin struct{}

func (p *thinkingPlugin) Name() string {
	return ThinkingPluginName
}

func (p *thinkingPlugin) InterceptRequest(pctx *Context, m *meta.Meta, req *model.GeneralOpenAIRequest) {
	lower := strings.ToLower(req.Model)
	if !strings.HasSuffix(lower, thinkingSuffix) || !strings.Contains(lower, "claude") {
		return
	}

	req.Model = req.Model[:len(req.Model)-len(thinkingSuffix)]
	if m != nil {
		m.ActualModelName = req.Model
	}

	budget := defaultReasoningBudget
	if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
		budget = req.Thinking.BudgetTokens
	}
	req.Thinking = &model.Thinking{Type: "enabled", BudgetTokens: budget}
	if req.MaxTokens < budget+completionHeadroomMin {
		req.MaxTokens = budget + completionHeadroom
	}

	// The pre-fill makes the model open its answer inside a thinking block
	// even when the upstream lacks native extended reasoning.
	req.Messages = append(req.Messages, model.Message{
		Role:    "assistant",
		Content: thinkingOpenTag,
	})

	pctx.Set(thinkingStateKey, &thinkingState{})
}

// thinkingState tracks the tag scan across chunks. The pending tail keeps
// len(tag)-1 characters so a close tag split between chunks still matches.
type thinkingState struct {
	pending  string
	closed   bool
	template *model.ChatCompletionsStreamResponse
}

func (s *thinkingState) split(text string) (reasoning, content string) {
	if s.closed {
		return "", text
	}
	buf := s.pending + text
	if idx := strings.Index(strings.ToLower(buf), thinkingCloseTag); idx >= 0 {
		s.closed = true
		s.pending = ""
		return buf[:idx], buf[idx+len(thinkingCloseTag):]
	}
	keep := len(thinkingCloseTag) - 1
	if keep > len(buf) {
		keep = len(buf)
	}
	s.pending = buf[len(buf)-keep:]
	return buf[:len(buf)-keep], ""
}

func (s *thinkingState) flush() string {
	out := s.pending
	s.pending = ""
	return out
}

func (p *thinkingPlugin) InterceptStream(pctx *Context, line string) []string {
	v, ok := pctx.Get(thinkingStateKey)
	if !ok {
		return []string{line}
	}
	state := v.(*thinkingState)

	if !strings.HasPrefix(line, "data:") {
		return []string{line}
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		var out []string
		if tail := state.flush(); tail != "" && state.template != nil {
			out = append(out, state.render(tail, !state.closed, nil))
		}
		return append(out, line)
	}

	var chunk model.ChatCompletionsStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return []string{line}
	}
	if len(chunk.Choices) == 0 {
		return []string{line}
	}
	text, isText := chunk.Choices[0].Delta.Content.(string)
	if !isText || text == "" {
		// Tool-call, usage, and bare finish frames pass through.
		return []string{line}
	}

	template := chunk
	template.Choices = nil
	template.Usage = nil
	state.template = &template

	finish := chunk.Choices[0].FinishReason
	reasoning, content := state.split(text)

	var out []string
	if reasoning != "" {
		out = append(out, state.render(reasoning, true, nil))
	}
	if content != "" {
		out = append(out, state.render(content, false, finish))
	} else if finish != nil {
		out = append(out, state.render("", false, finish))
	}
	return out
}

// render wraps one rewritten delta back into a canonical SSE line.
func (s *thinkingState) render(text string, reasoning bool, finish *string) string {
	chunk := *s.template
	delta := model.Message{Role: "assistant"}
	if reasoning {
		delta.ReasoningContent = text
	} else if text != "" {
		delta.Content = text
	}
	chunk.Choices = []model.ChatCompletionsStreamResponseChoice{{
		Delta:        delta,
		FinishReason: finish,
	}}
	payload, _ := json.Marshal(&chunk)
	return "data: " + string(payload)
}
