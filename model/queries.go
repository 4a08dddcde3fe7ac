package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/llmux/llmux/common/logger"
)

// costExpr snapshots per-row prices so the rollup is stable across config
// edits. Prices are per million tokens.
const costExpr = "SUM(prompt_tokens * prompt_price + completion_tokens * completion_price) / 1000000.0"

// TokenUsageRow is one (api_key, model) aggregate over a window.
type TokenUsageRow struct {
	APIKey           string  `json:"api_key"`
	APIKeyName       string  `json:"api_key_name"`
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Requests         int64   `json:"requests"`
	Cost             float64 `json:"cost"`
}

// TokenUsage aggregates usage by (api_key, model) over [start, end).
// Empty apiKey or model means no filter on that column.
func TokenUsage(ctx context.Context, apiKey, model string, start, end time.Time) ([]TokenUsageRow, error) {
	if DB == nil {
		return nil, errors.New("statistics database not initialized")
	}
	q := DB.WithContext(ctx).Model(&RequestStat{}).
		Select("api_key, MAX(api_key_name) AS api_key_name, model, "+
			"SUM(prompt_tokens) AS prompt_tokens, "+
			"SUM(completion_tokens) AS completion_tokens, "+
			"SUM(total_tokens) AS total_tokens, "+
			"COUNT(*) AS requests, "+
			costExpr+" AS cost").
		Where("timestamp >= ? AND timestamp < ?", start, end)
	if apiKey != "" {
		q = q.Where("api_key = ?", apiKey)
	}
	if model != "" {
		q = q.Where("model = ?", model)
	}
	var rows []TokenUsageRow
	if err := q.Group("api_key, model").Order("api_key, model").Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "aggregate token usage")
	}
	return rows, nil
}

// ChannelModelStat is the success-rate aggregate for one (provider, model).
type ChannelModelStat struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	SuccessRate float64 `json:"success_rate"`
}

// ChannelModelStats returns per-(provider, model) success rates since the
// given time, ordered by volume.
func ChannelModelStats(ctx context.Context, since time.Time) ([]ChannelModelStat, error) {
	if DB == nil {
		return nil, errors.New("statistics database not initialized")
	}
	var rows []ChannelModelStat
	err := DB.WithContext(ctx).Model(&ChannelStat{}).
		Select("provider, model, COUNT(*) AS total, "+
			"SUM(CASE WHEN success THEN 1 ELSE 0 END) AS success").
		Where("timestamp >= ?", since).
		Group("provider, model").
		Order("total DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "aggregate channel stats")
	}
	for i := range rows {
		if rows[i].Total > 0 {
			rows[i].SuccessRate = float64(rows[i].Success) / float64(rows[i].Total)
		}
	}
	return rows, nil
}

// CountRow is a generic grouped counter.
type CountRow struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// EndpointCounts returns request counts per endpoint since the given time.
func EndpointCounts(ctx context.Context, since time.Time) ([]CountRow, error) {
	return groupedCounts(ctx, "endpoint", since)
}

// ClientIPCounts returns request counts per client IP since the given time.
func ClientIPCounts(ctx context.Context, since time.Time) ([]CountRow, error) {
	return groupedCounts(ctx, "client_ip", since)
}

// ModelCounts returns request counts per model since the given time.
func ModelCounts(ctx context.Context, since time.Time) ([]CountRow, error) {
	return groupedCounts(ctx, "model", since)
}

func groupedCounts(ctx context.Context, column string, since time.Time) ([]CountRow, error) {
	if DB == nil {
		return nil, errors.New("statistics database not initialized")
	}
	var rows []CountRow
	err := DB.WithContext(ctx).Model(&RequestStat{}).
		Select(column+" AS value, COUNT(*) AS count").
		Where("timestamp >= ?", since).
		Group(column).
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "count by %s", column)
	}
	return rows, nil
}

// KeyRanking is the success aggregate for one upstream key of a provider.
type KeyRanking struct {
	ProviderAPIKey string  `json:"provider_api_key"`
	Total          int64   `json:"total"`
	Success        int64   `json:"success"`
	SuccessRate    float64 `json:"success_rate"`
}

// ProviderKeyRankings orders a provider's upstream keys by success rate,
// ties broken by volume. Keys with no traffic in the window are absent.
func ProviderKeyRankings(ctx context.Context, provider string, since time.Time) ([]KeyRanking, error) {
	if DB == nil {
		return nil, errors.New("statistics database not initialized")
	}
	var rows []KeyRanking
	err := DB.WithContext(ctx).Model(&ChannelStat{}).
		Select("provider_api_key, COUNT(*) AS total, "+
			"SUM(CASE WHEN success THEN 1 ELSE 0 END) AS success").
		Where("provider = ? AND timestamp >= ? AND provider_api_key <> ''", provider, since).
		Group("provider_api_key").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "rank keys for provider %s", provider)
	}
	for i := range rows {
		if rows[i].Total > 0 {
			rows[i].SuccessRate = float64(rows[i].Success) / float64(rows[i].Total)
		}
	}
	sortRankings(rows)
	return rows, nil
}

func sortRankings(rows []KeyRanking) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rankLess(rows[j], rows[j-1]); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

func rankLess(a, b KeyRanking) bool {
	if a.SuccessRate != b.SuccessRate {
		return a.SuccessRate > b.SuccessRate
	}
	return a.Total > b.Total
}

// RankedProviderKeys returns just the ordered key strings for the smart
// schedule, ranked over the last 72 hours.
func RankedProviderKeys(ctx context.Context, provider string) ([]string, error) {
	rows, err := ProviderKeyRankings(ctx, provider, time.Now().Add(-72*time.Hour))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.ProviderAPIKey)
	}
	return keys, nil
}

// PaginatedLogs returns one page of request rows, newest first, plus the
// total row count. Page numbers start at 1.
func PaginatedLogs(ctx context.Context, page, pageSize int) ([]RequestStat, int64, error) {
	if DB == nil {
		return nil, 0, errors.New("statistics database not initialized")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 1000 {
		pageSize = 100
	}
	var total int64
	if err := DB.WithContext(ctx).Model(&RequestStat{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count request logs")
	}
	var rows []RequestStat
	err := DB.WithContext(ctx).Model(&RequestStat{}).
		Order("timestamp DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "page request logs")
	}
	return rows, total, nil
}

// APIKeyCost rolls up the total spend of one inbound key since the given
// time. Pass a zero time for all-time spend.
func APIKeyCost(ctx context.Context, apiKey string, since time.Time) (float64, error) {
	if DB == nil {
		return 0, errors.New("statistics database not initialized")
	}
	q := DB.WithContext(ctx).Model(&RequestStat{}).
		Select("COALESCE(" + costExpr + ", 0) AS cost").
		Where("api_key = ?", apiKey)
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	var out struct{ Cost float64 }
	if err := q.Scan(&out).Error; err != nil {
		return 0, errors.Wrap(err, "roll up api key cost")
	}
	return out.Cost, nil
}

// SweepExpiredRawData nulls captured request and response bodies whose
// retention window has passed. Returns the number of rows touched.
func SweepExpiredRawData(ctx context.Context) (int64, error) {
	if DB == nil {
		return 0, errors.New("statistics database not initialized")
	}
	res := DB.WithContext(ctx).Model(&RequestStat{}).
		Where("raw_data_expires_at IS NOT NULL AND raw_data_expires_at < ?", time.Now()).
		Updates(map[string]any{
			"request_headers":        nil,
			"request_body":           nil,
			"upstream_request_body":  nil,
			"upstream_response_body": nil,
			"response_body":          nil,
			"raw_data_expires_at":    nil,
		})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "sweep expired raw data")
	}
	return res.RowsAffected, nil
}

// StartRawDataSweeper runs SweepExpiredRawData hourly until ctx is done.
func StartRawDataSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := SweepExpiredRawData(ctx)
				if err != nil {
					logger.Logger.Warn("raw data sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Logger.Info("raw data swept", zap.Int64("rows", n))
				}
			}
		}
	}()
}
