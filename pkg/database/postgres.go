package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sbt-vault/engine/pkg/config"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options tune the connection pool and query logging.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// SlowQuery is the duration past which a statement is logged as slow.
	// Zero disables slow query logging.
	SlowQuery time.Duration
	LogLevel  gormlogger.LogLevel

	Attempts   int
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// OptionsFrom derives pool options from the loaded configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		MaxOpenConns:    cfg.DBMaxConns,
		MaxIdleConns:    cfg.DBMaxConns,
		ConnMaxLifetime: 5 * time.Minute,
		SlowQuery:       cfg.DBSlowQuery,
		LogLevel:        QueryLogLevel(cfg.AppEnv, cfg.LogLevel),
		Attempts:        6,
		RetryDelay:      500 * time.Millisecond,
		MaxDelay:        5 * time.Second,
	}
}

// QueryLogLevel keeps statements quiet in production unless debug logging is on.
func QueryLogLevel(appEnv, logLevel string) gormlogger.LogLevel {
	switch {
	case logLevel == "debug":
		return gormlogger.Info
	case appEnv == "development" || appEnv == "test":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

// OpenPostgres connects to PostgreSQL, retrying while the server comes up,
// and verifies the pool with a ping.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*gorm.DB, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	gcfg := &gorm.Config{
		Logger:         NewQueryLogger(logger.L(), opts.LogLevel, opts.SlowQuery),
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; ; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err == nil {
			break
		}
		if attempt == opts.Attempts {
			return nil, fmt.Errorf("connect postgres after %d attempts: %w", attempt, err)
		}
		wait := retryDelay(opts.RetryDelay, opts.MaxDelay, attempt)
		logger.L().Warn("postgres not ready", zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect postgres: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.L().Info("postgres connected", zap.Int("max_open_conns", opts.MaxOpenConns))
	return db, nil
}

// retryDelay doubles base for every failed attempt, capped at ceiling.
func retryDelay(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// NewQueryLogger sends gorm's statement log to zap.
func NewQueryLogger(l *zap.Logger, level gormlogger.LogLevel, slow time.Duration) gormlogger.Interface {
	return &queryLogger{log: l.Named("gorm"), level: level, slow: slow}
}

type queryLogger struct {
	log   *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *q
	cp.level = level
	return &cp
}

func (q *queryLogger) Info(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		q.log.Sugar().Infof(msg, args...)
	}
}

func (q *queryLogger) Warn(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		q.log.Sugar().Warnf(msg, args...)
	}
}

func (q *queryLogger) Error(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		q.log.Sugar().Errorf(msg, args...)
	}
}

// Trace logs failed statements at Error, slow ones at Warn and the rest at
// Debug when the level is Info.
func (q *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && q.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		q.log.Error("query failed", zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql), zap.Error(err))
	case q.slow > 0 && elapsed > q.slow && q.level >= gormlogger.Warn:
		sql, rows := fc()
		q.log.Warn("slow query", zap.Duration("elapsed", elapsed), zap.Duration("threshold", q.slow), zap.Int64("rows", rows), zap.String("sql", sql))
	case q.level >= gormlogger.Info:
		sql, rows := fc()
		q.log.Debug("query", zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	}
}
