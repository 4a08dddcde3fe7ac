package controller

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llmux/llmux/common"
	"github.com/llmux/llmux/common/ctxkey"
	"github.com/llmux/llmux/relay/meta"
	"github.com/llmux/llmux/relay/model"
)

const (
	// responseCaptureLimit caps how much of the response stream is kept
	// for the raw-data columns.
	responseCaptureLimit = 100 * 1024

	// firstEventLimit bounds how many bytes the first-chunk validation
	// will buffer before giving up and passing the stream through.
	firstEventLimit = 64 * 1024
)

// streamBody wraps the upstream body: it validates the first SSE event
// before any client byte is committed, emits keepalive comments while the
// upstream is silent, tees everything read into a capped capture buffer,
// and parses usage counters as they flow past.
type streamBody struct {
	c    *gin.Context
	meta *meta.Meta

	upstream io.ReadCloser
	reader   io.Reader

	capture  bytes.Buffer
	lineRest []byte

	usage        model.Usage
	sawUsage     bool
	contentSeen  bool
	keepaliveOff chan struct{}
	keepaliveWG  sync.WaitGroup
	closeOnce    sync.Once
}

// WrapStreamResponse prepares resp for streaming consumption. It blocks
// until the first upstream event arrives (keepalive comments flow to the
// client meanwhile), validates that event, and swaps resp.Body for the
// teeing wrapper. A non-nil return means the attempt failed before anything
// but keepalive comments reached the client.
func WrapStreamResponse(c *gin.Context, resp *http.Response, m *meta.Meta) *model.ErrorWithStatusCode {
	if resp == nil || resp.Body == nil {
		return openAIError("upstream returned no body", "upstream_error", http.StatusBadGateway)
	}

	w := &streamBody{
		c:            c,
		meta:         m,
		upstream:     resp.Body,
		keepaliveOff: make(chan struct{}),
	}
	w.startKeepalive()

	br := bufio.NewReader(resp.Body)
	first, err := readFirstEvent(br)
	w.stopKeepalive()
	if err != nil && len(first) == 0 {
		w.closeUpstream()
		return openAIError("upstream closed the stream before any data: "+err.Error(),
			"upstream_error", http.StatusBadGateway)
	}
	c.Set(ctxkey.FirstResponseTime, firstResponseTime(c))

	if failure := validateFirstChunk(first, w.triggers()); failure != nil {
		w.closeUpstream()
		return failure
	}

	w.reader = io.MultiReader(bytes.NewReader(first), br)
	resp.Body = w
	return nil
}

func firstResponseTime(c *gin.Context) time.Time {
	if v, ok := c.Get(ctxkey.FirstResponseTime); ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Now()
}

func (w *streamBody) triggers() []string {
	if w.meta == nil || w.meta.Snapshot == nil {
		return nil
	}
	return w.meta.Snapshot.ErrorTriggers()
}

// startKeepalive emits ": keepalive\n\n" comments until data arrives. An
// unset interval disables it.
func (w *streamBody) startKeepalive() {
	if w.meta == nil || w.meta.KeepaliveInterval <= 0 {
		return
	}
	interval := w.meta.KeepaliveInterval
	w.keepaliveWG.Add(1)
	go func() {
		defer w.keepaliveWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.keepaliveOff:
				return
			case <-ticker.C:
				common.SetEventStreamHeaders(w.c)
				if _, err := w.c.Writer.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				w.c.Writer.Flush()
			}
		}
	}()
}

func (w *streamBody) stopKeepalive() {
	select {
	case <-w.keepaliveOff:
	default:
		close(w.keepaliveOff)
	}
	w.keepaliveWG.Wait()
}

func (w *streamBody) closeUpstream() {
	w.closeOnce.Do(func() {
		_ = w.upstream.Close()
	})
}

// Read tees upstream bytes into the capture buffer and the usage parser.
func (w *streamBody) Read(p []byte) (int, error) {
	n, err := w.reader.Read(p)
	if n > 0 {
		if w.capture.Len() < responseCaptureLimit {
			room := responseCaptureLimit - w.capture.Len()
			if room > n {
				room = n
			}
			w.capture.Write(p[:room])
		}
		w.scanLines(p[:n])
	}
	return n, err
}

func (w *streamBody) Close() error {
	w.stopKeepalive()
	w.publish()
	w.closeUpstream()
	return nil
}

// publish stores what the wrapper learned on the gin context for the
// finalizer. Runs on every exit path via Close.
func (w *streamBody) publish() {
	if w.capture.Len() > 0 {
		w.c.Set(ctxkey.ResponseCapture, w.capture.Bytes())
	}
	if w.sawUsage {
		u := w.usage
		if u.TotalTokens == 0 {
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
		if existing, ok := w.c.Get(ctxkey.RelayUsage); !ok || existing == nil {
			w.c.Set(ctxkey.RelayUsage, &u)
		}
	}
}

// scanLines walks complete lines in the tee, carrying partial tails between
// reads, and feeds data payloads to the usage parser.
func (w *streamBody) scanLines(chunk []byte) {
	buf := append(w.lineRest, chunk...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(buf[:idx], "\r")
		buf = buf[idx+1:]
		w.parseLine(line)
	}
	w.lineRest = append(w.lineRest[:0], buf...)
}

func (w *streamBody) parseLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return
	}
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
		return
	}

	var frame struct {
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
		} `json:"usage"`
		Message *struct {
			Usage *struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		} `json:"message"`
		Choices []struct {
			Delta struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
			} `json:"delta"`
		} `json:"choices"`
		Delta *struct {
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	if frame.Usage != nil {
		if frame.Usage.PromptTokens > 0 || frame.Usage.InputTokens > 0 {
			w.usage.PromptTokens = maxInt(frame.Usage.PromptTokens, frame.Usage.InputTokens)
			w.sawUsage = true
		}
		if frame.Usage.CompletionTokens > 0 || frame.Usage.OutputTokens > 0 {
			w.usage.CompletionTokens = maxInt(frame.Usage.CompletionTokens, frame.Usage.OutputTokens)
			w.sawUsage = true
		}
		if frame.Usage.TotalTokens > 0 {
			w.usage.TotalTokens = frame.Usage.TotalTokens
		}
	}
	if frame.Message != nil && frame.Message.Usage != nil && frame.Message.Usage.InputTokens > 0 {
		w.usage.PromptTokens = frame.Message.Usage.InputTokens
		w.sawUsage = true
	}

	if !w.contentSeen && hasContent(frame.Choices, frame.Delta) {
		w.contentSeen = true
		w.c.Set(ctxkey.ContentStartTime, time.Now())
	}
}

func hasContent(choices []struct {
	Delta struct {
		Content          string `json:"content"`
		ReasoningContent string `json:"reasoning_content"`
	} `json:"delta"`
}, delta *struct {
	Text string `json:"text"`
}) bool {
	for _, ch := range choices {
		if ch.Delta.Content != "" || ch.Delta.ReasoningContent != "" {
			return true
		}
	}
	return delta != nil && delta.Text != ""
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// readFirstEvent buffers until the first complete SSE event or non-SSE
// payload boundary, bounded by firstEventLimit.
func readFirstEvent(br *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for buf.Len() < firstEventLimit {
		line, err := br.ReadBytes('\n')
		buf.Write(line)
		if err != nil {
			return buf.Bytes(), err
		}
		// A blank line terminates one SSE event.
		if bytes.Equal(bytes.TrimRight(line, "\r\n"), []byte{}) && buf.Len() > len(line) {
			return buf.Bytes(), nil
		}
	}
	return buf.Bytes(), nil
}

// validateFirstChunk fails the attempt when the stream opens with an error
// payload in disguise.
func validateFirstChunk(first []byte, triggers []string) *model.ErrorWithStatusCode {
	payload := bytes.TrimSpace(first)
	if len(payload) == 0 {
		return openAIError("upstream stream opened empty", "upstream_error", http.StatusBadGateway)
	}
	text := string(payload)
	for _, trigger := range triggers {
		if trigger != "" && strings.Contains(text, trigger) {
			return openAIError("upstream response matched error trigger: "+trigger,
				"upstream_error", http.StatusBadGateway)
		}
	}

	data := payload
	if cut, ok := bytes.CutPrefix(payload, []byte("data:")); ok {
		data = bytes.TrimSpace(cut)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil
	}

	var probe struct {
		Error    *model.Error `json:"error"`
		BaseResp *struct {
			StatusCode int    `json:"status_code"`
			StatusMsg  string `json:"status_msg"`
		} `json:"base_resp"`
		PromptFeedback *struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
		Choices []struct {
			Delta        json.RawMessage `json:"delta"`
			FinishReason string          `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}

	if probe.Error != nil && probe.Error.Message != "" {
		return &model.ErrorWithStatusCode{Error: *probe.Error, StatusCode: http.StatusBadGateway}
	}
	if probe.BaseResp != nil && probe.BaseResp.StatusCode != 0 {
		return openAIError("upstream vendor error: "+probe.BaseResp.StatusMsg,
			"upstream_error", http.StatusBadGateway)
	}
	if probe.PromptFeedback != nil && probe.PromptFeedback.BlockReason != "" {
		return openAIError("prompt blocked: "+probe.PromptFeedback.BlockReason,
			"content_filter", http.StatusForbidden)
	}
	for _, ch := range probe.Choices {
		if ch.FinishReason == "PROHIBITED_CONTENT" {
			return openAIError("response blocked: PROHIBITED_CONTENT",
				"content_filter", http.StatusForbidden)
		}
		// An immediate finish with an empty delta means the upstream bailed
		// without producing anything.
		if ch.FinishReason == "stop" && isEmptyDelta(ch.Delta) {
			return openAIError("upstream produced an empty response",
				"upstream_error", http.StatusBadGateway)
		}
	}
	return nil
}

func isEmptyDelta(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var delta struct {
		Content          string       `json:"content"`
		ReasoningContent string       `json:"reasoning_content"`
		ToolCalls        []model.Tool `json:"tool_calls"`
	}
	if err := json.Unmarshal(raw, &delta); err != nil {
		return false
	}
	return delta.Content == "" && delta.ReasoningContent == "" && len(delta.ToolCalls) == 0
}
