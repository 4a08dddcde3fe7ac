// Package config holds process-wide settings resolved once at startup from
// the environment. Channel configuration lives in relay/channel and is
// reloadable; everything here requires a restart.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// DebugEnabled turns on verbose logging and gin debug mode.
	DebugEnabled = strings.ToLower(os.Getenv("DEBUG")) == "true"

	// Port is the listen port for the HTTP server.
	Port = GetEnvInt("PORT", 8000)

	// RelayTimeout is the default end-to-end upstream timeout in seconds.
	// Per-provider and per-model overrides come from channel preferences.
	RelayTimeout = GetEnvInt("TIMEOUT", 600)

	// CooldownPeriod is how long a failing (provider, model) pair stays
	// excluded from routing.
	CooldownPeriod = time.Duration(GetEnvInt("COOLDOWN_PERIOD", 300)) * time.Second

	// ConfigPath points at the channel configuration file.
	ConfigPath = GetEnvString("CONFIG_PATH", "./api.yaml")

	// ConfigURL is fetched when ConfigPath does not exist.
	ConfigURL = os.Getenv("CONFIG_URL")

	// DisableDatabase turns the statistics sink into a no-op.
	DisableDatabase = strings.ToLower(os.Getenv("DISABLE_DATABASE")) == "true"

	// DBType selects the statistics backend: sqlite, postgres or mysql.
	DBType = strings.ToLower(GetEnvString("DB_TYPE", "sqlite"))

	// SQLitePath is the sqlite database location.
	SQLitePath = GetEnvString("DB_PATH", "./data/stats.db")

	DBUser     = os.Getenv("DB_USER")
	DBPassword = os.Getenv("DB_PASSWORD")
	DBHost     = GetEnvString("DB_HOST", "localhost")
	DBPort     = GetEnvInt("DB_PORT", 5432)
	DBName     = GetEnvString("DB_NAME", "stats")

	// RedisConnString enables the redis-backed inbound rate limiter and
	// model list cache when set.
	RedisConnString = os.Getenv("REDIS_CONN_STRING")

	// EnablePrometheusMetrics exposes /metrics.
	EnablePrometheusMetrics = strings.ToLower(GetEnvString("ENABLE_METRICS", "true")) == "true"

	// OpenTelemetryEnabled wires OTLP exporters and the otel recorder.
	OpenTelemetryEnabled     = strings.ToLower(os.Getenv("OTEL_ENABLED")) == "true"
	OpenTelemetryEndpoint    = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	OpenTelemetryInsecure    = strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")) == "true"
	OpenTelemetryServiceName = GetEnvString("OTEL_SERVICE_NAME", "llmux")
	OpenTelemetryEnvironment = os.Getenv("OTEL_ENVIRONMENT")

	// GracefulShutdownTimeout bounds the drain of in-flight requests and
	// critical goroutines.
	GracefulShutdownTimeout = time.Duration(GetEnvInt("GRACEFUL_SHUTDOWN_TIMEOUT", 30)) * time.Second
)

// RawDataRetention is how long request/response captures stay in the
// database before the sweeper nulls them.
var RawDataRetention = time.Duration(GetEnvInt("RAW_DATA_RETENTION_HOURS", 72)) * time.Hour

// EnableRawDataCapture stores sanitized request and response payloads on
// each stat row until the retention window passes.
var EnableRawDataCapture = GetEnvBool("ENABLE_RAW_DATA", false)

// GetEnvString returns the env value or a default when unset or blank.
func GetEnvString(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvInt returns the env value parsed as int or a default when unset or
// malformed.
func GetEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool returns the env value parsed as bool or a default when unset.
func GetEnvBool(key string, defaultValue bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return defaultValue
	}
	return v == "true" || v == "1"
}
