// Package model is the statistics sink: append-only request and channel
// stat tables plus the aggregation queries the admin surface reads.
package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/llmux/llmux/common/config"
	"github.com/llmux/llmux/common/logger"
)

// DB is the shared gorm handle, nil until InitDB runs.
var DB *gorm.DB

// writeSem serializes stat writes. SQLite allows one writer; the
// client-server engines take 50. InitDB narrows it for sqlite.
var writeSem = semaphore.NewWeighted(serverWriteWidth)

const (
	sqliteWriteWidth = 1
	serverWriteWidth = 50
)

// InitDB opens the configured backend and migrates the stat tables.
func InitDB() error {
	var (
		db  *gorm.DB
		err error
	)
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	switch config.DBType {
	case "sqlite", "":
		path, pathErr := ensureSQLitePath()
		if pathErr != nil {
			return pathErr
		}
		// WAL keeps readers off the writer's lock; busy_timeout gives the
		// single writer room before "database is locked" surfaces.
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		writeSem = semaphore.NewWeighted(sqliteWriteWidth)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName)
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
		writeSem = semaphore.NewWeighted(serverWriteWidth)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			config.DBUser, config.DBPassword, config.DBHost, config.DBPort, config.DBName)
		db, err = gorm.Open(mysql.Open(dsn), gormConfig)
		writeSem = semaphore.NewWeighted(serverWriteWidth)
	default:
		return errors.Errorf("unsupported DB_TYPE %q", config.DBType)
	}
	if err != nil {
		return errors.Wrapf(err, "open %s database", config.DBType)
	}

	if err := db.AutoMigrate(&RequestStat{}, &ChannelStat{}); err != nil {
		return errors.Wrap(err, "migrate stat tables")
	}

	if config.OpenTelemetryEnabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return errors.Wrap(err, "install gorm tracing plugin")
		}
	}

	DB = db
	logger.Logger.Info("statistics database ready",
		zap.String("backend", config.DBType))
	return nil
}

// ensureSQLitePath resolves the configured path and creates its directory.
func ensureSQLitePath() (string, error) {
	abs, err := filepath.Abs(config.SQLitePath)
	if err != nil {
		return "", errors.Wrapf(err, "resolve sqlite path %s", config.SQLitePath)
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", errors.Wrapf(err, "create sqlite directory for %s", abs)
	}
	return abs, nil
}

// CloseDB releases the underlying connection pool.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.Wrap(err, "unwrap sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "close database")
}
