package model

import (
	"context"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/llmux/llmux/common/logger"
	"github.com/llmux/llmux/common/metrics"
)

// RequestStat is one row per inbound request, written on finalization.
type RequestStat struct {
	Id                int64   `json:"id" gorm:"primaryKey"`
	RequestID         string  `json:"request_id" gorm:"size:64;index"`
	Endpoint          string  `json:"endpoint" gorm:"size:128"`
	ClientIP          string  `json:"client_ip" gorm:"size:64"`
	ProcessTime       float64 `json:"process_time"`
	FirstResponseTime float64 `json:"first_response_time"`
	// ContentStartTime is when the first non-empty content delta arrived,
	// nil for non-streaming requests.
	ContentStartTime *float64 `json:"content_start_time,omitempty"`

	Provider string `json:"provider" gorm:"size:128;index"`
	Model    string `json:"model" gorm:"size:128;index"`
	// APIKey is the inbound credential, stored in full for per-key
	// aggregation.
	APIKey     string `json:"api_key" gorm:"size:128;index"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	IsFlagged  bool   `json:"is_flagged"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Prices are snapshotted per row so the cost rollup survives config
	// changes.
	PromptPrice     float64 `json:"prompt_price"`
	CompletionPrice float64 `json:"completion_price"`

	Timestamp time.Time `json:"timestamp" gorm:"index"`

	ProviderID       string `json:"provider_id" gorm:"size:128"`
	ProviderKeyIndex int    `json:"provider_key_index"`
	APIKeyName       string `json:"api_key_name" gorm:"size:128"`
	APIKeyGroup      string `json:"api_key_group" gorm:"size:128"`

	RetryCount    int    `json:"retry_count"`
	RetryPathJSON string `json:"retry_path_json"`

	// Raw capture fields, populated only while raw_data_expires_at is in
	// the future; the sweeper nulls them after expiry.
	RequestHeaders       *string    `json:"request_headers,omitempty"`
	RequestBody          *string    `json:"request_body,omitempty"`
	UpstreamRequestBody  *string    `json:"upstream_request_body,omitempty"`
	UpstreamResponseBody *string    `json:"upstream_response_body,omitempty"`
	ResponseBody         *string    `json:"response_body,omitempty"`
	RawDataExpiresAt     *time.Time `json:"raw_data_expires_at,omitempty"`
}

// ChannelStat is one row per dispatch attempt.
type ChannelStat struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	RequestID string    `json:"request_id" gorm:"size:64;index"`
	Provider  string    `json:"provider" gorm:"size:128;index"`
	Model     string    `json:"model" gorm:"size:128"`
	APIKey    string    `json:"api_key" gorm:"size:128"`
	// ProviderAPIKey is the outbound upstream credential used by this
	// attempt.
	ProviderAPIKey string    `json:"provider_api_key" gorm:"size:256"`
	Success        bool      `json:"success"`
	Timestamp      time.Time `json:"timestamp" gorm:"index"`
}

const (
	writeRetries     = 3
	writeBackoffBase = 500 * time.Millisecond
)

// retryableWriteError matches the lock contention SQLite surfaces under
// concurrent writers.
func retryableWriteError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// sanitizeString strips NUL bytes, which Postgres text columns reject.
func sanitizeString(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func sanitizeStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	clean := sanitizeString(*s)
	return &clean
}

func (s *RequestStat) sanitize() {
	s.RequestID = sanitizeString(s.RequestID)
	s.Endpoint = sanitizeString(s.Endpoint)
	s.ClientIP = sanitizeString(s.ClientIP)
	s.Provider = sanitizeString(s.Provider)
	s.Model = sanitizeString(s.Model)
	s.APIKey = sanitizeString(s.APIKey)
	s.ProviderID = sanitizeString(s.ProviderID)
	s.APIKeyName = sanitizeString(s.APIKeyName)
	s.APIKeyGroup = sanitizeString(s.APIKeyGroup)
	s.RetryPathJSON = sanitizeString(s.RetryPathJSON)
	s.RequestHeaders = sanitizeStringPtr(s.RequestHeaders)
	s.RequestBody = sanitizeStringPtr(s.RequestBody)
	s.UpstreamRequestBody = sanitizeStringPtr(s.UpstreamRequestBody)
	s.UpstreamResponseBody = sanitizeStringPtr(s.UpstreamResponseBody)
	s.ResponseBody = sanitizeStringPtr(s.ResponseBody)
}

func (s *ChannelStat) sanitize() {
	s.RequestID = sanitizeString(s.RequestID)
	s.Provider = sanitizeString(s.Provider)
	s.Model = sanitizeString(s.Model)
	s.APIKey = sanitizeString(s.APIKey)
	s.ProviderAPIKey = sanitizeString(s.ProviderAPIKey)
}

// InsertRequestStat persists one request row through the serialized writer.
func InsertRequestStat(ctx context.Context, stat *RequestStat) error {
	stat.sanitize()
	if stat.Timestamp.IsZero() {
		stat.Timestamp = time.Now()
	}
	return writeWithRetry(ctx, "request_stats", func() error {
		return DB.WithContext(ctx).Create(stat).Error
	})
}

// InsertChannelStat persists one attempt row through the serialized writer.
func InsertChannelStat(ctx context.Context, stat *ChannelStat) error {
	stat.sanitize()
	if stat.Timestamp.IsZero() {
		stat.Timestamp = time.Now()
	}
	return writeWithRetry(ctx, "channel_stats", func() error {
		return DB.WithContext(ctx).Create(stat).Error
	})
}

// writeWithRetry serializes the write behind the backend-width semaphore
// and retries lock contention with 0.5*2^k backoff.
func writeWithRetry(ctx context.Context, table string, write func() error) error {
	if DB == nil {
		return errors.New("statistics database not initialized")
	}
	start := time.Now()
	if err := writeSem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "acquire write slot")
	}
	defer writeSem.Release(1)

	var err error
	for attempt := 0; attempt <= writeRetries; attempt++ {
		if attempt > 0 {
			backoff := writeBackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				metrics.GlobalRecorder.RecordDBWrite(start, table, false)
				return errors.Wrap(ctx.Err(), "stat write cancelled")
			case <-time.After(backoff):
			}
		}
		if err = write(); err == nil {
			metrics.GlobalRecorder.RecordDBWrite(start, table, true)
			return nil
		}
		if !retryableWriteError(err) {
			break
		}
		logger.Logger.Warn("stat write contended, retrying",
			zap.String("table", table),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	metrics.GlobalRecorder.RecordDBWrite(start, table, false)
	return errors.Wrapf(err, "write %s", table)
}
