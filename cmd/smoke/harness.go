package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultPrompt  = "Reply with the single word: pong"
	requestTimeout = 120 * time.Second
)

type harness struct {
	client  *http.Client
	baseURL string
	token   string
	model   string
}

func newHarness() *harness {
	baseURL := os.Getenv("LLMUX_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := os.Getenv("LLMUX_MODEL")
	if model == "" {
		model = "gpt-4o"
	}
	return &harness{
		client:  &http.Client{Timeout: requestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   os.Getenv("LLMUX_API_KEY"),
		model:   model,
	}
}

func (h *harness) post(ctx context.Context, path string, headers map[string]string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	return resp, nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return errors.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// chat exercises the OpenAI dialect, optionally streaming.
func (h *harness) chat(ctx context.Context, logger glog.Logger, stream bool) error {
	resp, err := h.post(ctx, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer " + h.token},
		map[string]any{
			"model":    h.model,
			"stream":   stream,
			"messages": []map[string]string{{"role": "user", "content": defaultPrompt}},
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	if stream {
		return h.drainSSE(resp.Body, logger)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if len(parsed.Choices) == 0 {
		return errors.New("no choices in response")
	}
	logger.Info("chat ok",
		zap.String("model", h.model),
		zap.String("content", parsed.Choices[0].Message.Content),
		zap.Int("total_tokens", parsed.Usage.TotalTokens))
	return nil
}

// drainSSE consumes an event stream and requires at least one delta plus the
// [DONE] terminator.
func (h *harness) drainSSE(body io.Reader, logger glog.Logger) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var chunks int
	var done bool
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			done = true
			break
		}
		chunks++
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read stream")
	}
	if chunks == 0 {
		return errors.New("stream carried no data chunks")
	}
	if !done {
		return errors.New("stream ended without [DONE]")
	}
	logger.Info("stream ok", zap.String("model", h.model), zap.Int("chunks", chunks))
	return nil
}

// claude exercises the Anthropic dialect surface.
func (h *harness) claude(ctx context.Context, logger glog.Logger) error {
	resp, err := h.post(ctx, "/v1/messages",
		map[string]string{"x-api-key": h.token, "anthropic-version": "2023-06-01"},
		map[string]any{
			"model":      h.model,
			"max_tokens": 64,
			"messages":   []map[string]string{{"role": "user", "content": defaultPrompt}},
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if len(parsed.Content) == 0 {
		return errors.New("no content blocks in response")
	}
	logger.Info("claude ok",
		zap.String("model", h.model),
		zap.String("content", parsed.Content[0].Text))
	return nil
}

// gemini exercises the generateContent surface.
func (h *harness) gemini(ctx context.Context, logger glog.Logger) error {
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", h.model)
	resp, err := h.post(ctx, path,
		map[string]string{"x-goog-api-key": h.token},
		map[string]any{
			"contents": []map[string]any{{
				"role":  "user",
				"parts": []map[string]string{{"text": defaultPrompt}},
			}},
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if len(parsed.Candidates) == 0 {
		return errors.New("no candidates in response")
	}
	logger.Info("gemini ok", zap.String("model", h.model))
	return nil
}

// models verifies the listing endpoint sees at least the configured model.
func (h *harness) models(ctx context.Context, logger glog.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/models", nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errors.Wrap(err, "decode response")
	}
	names := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		names = append(names, m.ID)
	}
	logger.Info("models ok", zap.Int("count", len(names)), zap.Strings("models", names))
	return nil
}
