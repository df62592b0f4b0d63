package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PoolOptions sizes the connection pool and the slow-query log threshold.
type PoolOptions struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	SlowQuery   time.Duration
}

// DefaultPoolOptions returns the pool used when none is configured.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpen:     25,
		MaxIdle:     5,
		MaxLifetime: 30 * time.Minute,
		SlowQuery:   500 * time.Millisecond,
	}
}

// ConnectPostgres opens the assessment store. Driver errors are translated so
// unique violations, such as a duplicate attempt number, surface as
// gorm.ErrDuplicatedKey.
func ConnectPostgres(dsn string, opts PoolOptions, logger zerolog.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}
	defaults := DefaultPoolOptions()
	if opts.MaxOpen <= 0 {
		opts.MaxOpen = defaults.MaxOpen
	}
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = defaults.MaxIdle
	}
	if opts.MaxLifetime <= 0 {
		opts.MaxLifetime = defaults.MaxLifetime
	}
	if opts.SlowQuery <= 0 {
		opts.SlowQuery = defaults.SlowQuery
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(gormWriter{logger: logger.With().Str("component", "gorm").Logger()}, gormlogger.Config{
			SlowThreshold:             opts.SlowQuery,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpen)
	sqlDB.SetMaxIdleConns(opts.MaxIdle)
	sqlDB.SetConnMaxLifetime(opts.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// gormWriter routes gorm's slow-query and error lines into zerolog.
type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Msgf(format, args...)
}
