// internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                  // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Driver names a database/sql driver supported by the store.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverPGX      Driver = "pgx"
	DriverSQLite   Driver = "sqlite3"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 10 * time.Millisecond
	sqliteBusyTimeout  = 5000

	logMsgQueryFailed    = "database statement failed"
	logMsgSQLExecuted    = "executed sql"
	logMsgRollbackFailed = "transaction rollback failed"
	logMsgTxRetried      = "transaction retried after serialization failure"
	logAttrError         = "error"
	logAttrQuery         = "query"
	logAttrDurationMS    = "duration_ms"
	logAttrAttempt       = "attempt"
)

var (
	ErrUnsupportedDriver     = errors.New("unsupported database driver")
	ErrEmptyDSN              = errors.New("database dsn must not be empty")
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config describes how to reach the database.
type Config struct {
	Driver       Driver
	DSN          string
	MaxAttempts  int
	MaxOpenConns int
}

// Store is the entity store. It is safe for concurrent use.
type Store struct {
	db      *sqlx.DB
	driver  Driver
	dialect goqu.DialectWrapper
	logger  Logger
	tracer  trace.Tracer
	retry   retryConfig
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the logger. SQL is logged at debug level, failures at error level.
func WithLogger(logger Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithRetry sets how often a transaction is attempted when the database reports a serialization failure.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Store) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		if baseDelay < 0 {
			return ErrNegativeBaseDelay
		}
		s.retry.maxAttempts = maxAttempts
		s.retry.baseDelay = baseDelay
		return nil
	}
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg Config, options ...Option) (*Store, error) {
	if cfg.DSN == "" {
		return nil, ErrEmptyDSN
	}
	if !cfg.Driver.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite && !strings.Contains(dsn, "_txlock") {
		dsn += dsnSeparator(dsn) + "_txlock=immediate"
	}

	db, err := sqlx.Open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// one connection serializes every transaction and keeps :memory: databases alive
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		pragmas := []string{
			"PRAGMA foreign_keys = ON",
			fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeout),
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, fmt.Errorf("configure sqlite: %w", err)
			}
		}
	}

	if cfg.MaxAttempts > 0 {
		options = append([]Option{WithRetry(cfg.MaxAttempts, defaultBaseDelay)}, options...)
	}

	s, err := New(db, cfg.Driver, options...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened connection.
func New(db *sqlx.DB, driver Driver, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}
	if !driver.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	s := &Store{
		db:      db,
		driver:  driver,
		dialect: goqu.Dialect(driver.dialect()),
		tracer:  otel.Tracer("libracirc/store"),
		retry: retryConfig{
			maxAttempts:  defaultMaxAttempts,
			baseDelay:    defaultBaseDelay,
			jitterFactor: defaultJitterFactor,
		},
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver reports the driver the store was opened with.
func (s *Store) Driver() Driver {
	return s.driver
}

// TxFunc is the body of a unit of work.
type TxFunc func(tx Tx) error

// WithinTx runs fn as one atomic unit. The transaction is committed when fn returns nil and rolled back when
// fn returns an error or panics. Serialization failures restart the whole unit with backoff; every other error,
// including domain errors, is returned as is.
func (s *Store) WithinTx(ctx context.Context, fn TxFunc) error {
	return s.run(ctx, "store.tx", s.writeOptions(), fn)
}

// ReadOnly runs fn against a consistent snapshot.
func (s *Store) ReadOnly(ctx context.Context, fn TxFunc) error {
	return s.run(ctx, "store.read", s.readOptions(), fn)
}

func (s *Store) run(ctx context.Context, name string, opts *sql.TxOptions, fn TxFunc) error {
	ctx, span := s.tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("db.system", string(s.driver))),
	)
	defer span.End()

	attempts, err := s.retry.do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			s.logWarn(logMsgTxRetried, logAttrAttempt, attempt)
		}
		return s.runOnce(ctx, opts, fn)
	})

	span.SetAttributes(attribute.Int("tx.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logWarn(logMsgRollbackFailed, logAttrError, rbErr.Error())
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("commit transaction: %w", classify(cErr))
		}
	}()

	return fn(&sqlTx{tx: tx, s: s})
}

func (s *Store) writeOptions() *sql.TxOptions {
	if s.driver == DriverSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func (s *Store) readOptions() *sql.TxOptions {
	if s.driver == DriverSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

func (s *Store) supportsRowLocks() bool {
	return s.driver != DriverSQLite
}

func (s *Store) logQuery(query string, duration time.Duration, err error) {
	if s.logger == nil {
		return
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error(logMsgQueryFailed, logAttrError, err.Error(), logAttrQuery, query)
		return
	}
	s.logger.Debug(logMsgSQLExecuted, logAttrQuery, query, logAttrDurationMS, float64(duration.Microseconds())/1000)
}

func (s *Store) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func dsnSeparator(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}

func (d Driver) valid() bool {
	switch d {
	case DriverPostgres, DriverPGX, DriverSQLite:
		return true
	}
	return false
}

func (d Driver) dialect() string {
	if d == DriverSQLite {
		return "sqlite3"
	}
	return "postgres"
}
