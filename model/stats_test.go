package model

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	prev := DB
	DB = gormDB
	t.Cleanup(func() {
		DB = prev
		mockDB.Close()
	})
	return mockDB, mock
}

func TestRetryableWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"busy", errors.New("SQLITE_BUSY: database table is busy"), true},
		{"syntax", errors.New("near \"SELEC\": syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, retryableWriteError(tt.err))
		})
	}
}

func TestSanitizeStripsNUL(t *testing.T) {
	body := "chunk\x00tail"
	stat := &RequestStat{
		Provider:     "open\x00ai",
		Model:        "gpt-4o",
		ResponseBody: &body,
	}
	stat.sanitize()
	require.Equal(t, "openai", stat.Provider)
	require.Equal(t, "chunktail", *stat.ResponseBody)
}

func TestInsertChannelStatRetriesOnLockContention(t *testing.T) {
	_, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "channel_stats"`).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "channel_stats"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	err := InsertChannelStat(context.Background(), &ChannelStat{
		RequestID: "req-1",
		Provider:  "openai",
		Model:     "gpt-4o",
		Success:   true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRequestStatDoesNotRetryOtherErrors(t *testing.T) {
	_, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "request_stats"`).
		WillReturnError(errors.New("value too long for type character varying(64)"))
	mock.ExpectRollback()

	err := InsertRequestStat(context.Background(), &RequestStat{
		RequestID: "req-2",
		Provider:  "openai",
		Model:     "gpt-4o",
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyCostRollsUpSnapshotPrices(t *testing.T) {
	_, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(prompt_tokens \* prompt_price \+ completion_tokens \* completion_price\) / 1000000\.0, 0\) AS cost FROM "request_stats"`).
		WillReturnRows(sqlmock.NewRows([]string{"cost"}).AddRow(0.0123))

	cost, err := APIKeyCost(context.Background(), "sk-test", time.Time{})
	require.NoError(t, err)
	require.InDelta(t, 0.0123, cost, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenUsageGroupsByKeyAndModel(t *testing.T) {
	_, mock := setupMockDB(t)

	cols := []string{"api_key", "api_key_name", "model", "prompt_tokens",
		"completion_tokens", "total_tokens", "requests", "cost"}
	mock.ExpectQuery(`SELECT .+ FROM "request_stats" WHERE timestamp >= .+ AND timestamp < .+ GROUP BY api_key, model`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("sk-a", "alice", "gpt-4o", int64(100), int64(40), int64(140), int64(3), 0.5).
			AddRow("sk-b", "bob", "claude-sonnet-4", int64(10), int64(5), int64(15), int64(1), 0.02))

	end := time.Now()
	rows, err := TokenUsage(context.Background(), "", "", end.Add(-time.Hour), end)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "sk-a", rows[0].APIKey)
	require.Equal(t, int64(140), rows[0].TotalTokens)
	require.Equal(t, "claude-sonnet-4", rows[1].Model)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderKeyRankingsOrdersBySuccessRate(t *testing.T) {
	_, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT .+ FROM "channel_stats" WHERE provider = .+`).
		WillReturnRows(sqlmock.NewRows([]string{"provider_api_key", "total", "success"}).
			AddRow("key-low", int64(10), int64(2)).
			AddRow("key-high", int64(10), int64(10)).
			AddRow("key-busy", int64(100), int64(90)))

	rows, err := ProviderKeyRankings(context.Background(), "openai", time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "key-high", rows[0].ProviderAPIKey)
	require.Equal(t, "key-busy", rows[1].ProviderAPIKey)
	require.Equal(t, "key-low", rows[2].ProviderAPIKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpiredRawData(t *testing.T) {
	_, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "request_stats" SET`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := SweepExpiredRawData(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
