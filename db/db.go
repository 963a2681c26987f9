// Package db is the connection layer underneath the table gateways. It owns a
// single lazily-opened *sqlx.DB per configuration, dispatches hooks around
// every statement and translates driver errors into package sentinels.
// It is NOT an ORM: callers write their own SQL.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Skryldev/useradmin/required"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the connection parameters and pool options. The first block
// mirrors the settings file; which of them are mandatory depends on the
// driver (see Driver.RequiredParams).
type Config struct {
	Driver   string            `yaml:"driver"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Charset  string            `yaml:"charset"`
	DBName   string            `yaml:"dbname"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Params   map[string]string `yaml:"params"`

	// Pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// Default query timeout applied when no deadline is set on the context.
	// Zero means no default timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// Hooks executed around every statement (logging, metrics).
	// Nil entries are silently skipped.
	Hooks []Hook `yaml:"-"`
}

// present returns the connection parameters that carry a value, keyed by
// their settings-file names.
func (c Config) present() map[string]string {
	out := make(map[string]string, 6)
	for name, v := range map[string]string{
		"driver":   c.Driver,
		"host":     c.Host,
		"charset":  c.Charset,
		"dbname":   c.DBName,
		"username": c.Username,
		"password": c.Password,
	} {
		if v != "" {
			out[name] = v
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// DB — the central type
// ─────────────────────────────────────────────────────────────────────────────

// DB wraps a lazily-established *sqlx.DB. The connection is opened on the
// first statement and reused for the life of the value.
//
// All methods accept a context.Context so callers control timeouts and
// cancellation.
type DB struct {
	cfg    Config
	drv    Driver
	hooks  hookChain
	errMap ErrorMapper

	mu    sync.Mutex
	sqldb *sqlx.DB
}

// New validates cfg against the driver's required parameters and returns a
// DB that has not touched the network yet.
func New(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		return nil, Misconfigured("driver must not be empty")
	}
	drv, err := LookupDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if missing := required.Missing(drv.RequiredParams(), cfg.present()); len(missing) > 0 {
		return nil, Misconfigured("missing required parameter(s) %q for driver %q", missing, cfg.Driver)
	}
	return &DB{
		cfg:    cfg,
		drv:    drv,
		hooks:  newHookChain(cfg.Hooks),
		errMap: ChainMapper(drv.ErrorMapper(), DefaultErrorMapper()),
	}, nil
}

// Open is New followed by Ping, for callers that want to fail at start-up.
func Open(cfg Config) (*DB, error) {
	d, err := New(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Ping(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("useradmin/db: ping: %w", err)
	}
	return d, nil
}

// MustOpen is like Open but panics on error. Useful in main() initialisation.
func MustOpen(cfg Config) *DB {
	d, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

// DriverName returns the registered driver name, e.g. "mysql".
func (d *DB) DriverName() string { return d.drv.Name() }

// QuoteIdent quotes a table or column name for the configured driver.
func (d *DB) QuoteIdent(name string) string { return d.drv.QuoteIdent(name) }

// Bindvar returns the driver's placeholder for the n-th (1-based) bound
// argument: "?" for MySQL and SQLite, "$n" for PostgreSQL. Callers write
// placeholders through Bindvar instead of rebinding a finished statement, so
// a '?' inside a quoted literal is never rewritten.
func (d *DB) Bindvar(n int) string {
	switch sqlx.BindType(d.drv.Name()) {
	case sqlx.DOLLAR:
		return "$" + strconv.Itoa(n)
	case sqlx.AT:
		return "@p" + strconv.Itoa(n)
	case sqlx.NAMED:
		return ":arg" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// SetErrorMapper replaces the error mapper installed by New.
func (d *DB) SetErrorMapper(m ErrorMapper) { d.errMap = m }

// Connected reports whether the lazy connection has been opened.
func (d *DB) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sqldb != nil
}

// Close closes the connection if it was ever opened. Safe to call multiple
// times.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sqldb == nil {
		return nil
	}
	err := d.sqldb.Close()
	d.sqldb = nil
	return err
}

// Ping verifies that the database is reachable, opening the connection if
// needed.
func (d *DB) Ping(ctx context.Context) error {
	conn, err := d.conn()
	if err != nil {
		return err
	}
	ctx, cancel := d.withDefaultTimeout(ctx)
	defer cancel()
	return d.mapErr(conn.PingContext(ctx))
}

// Stats returns pool statistics; zero before the first statement.
func (d *DB) Stats() sql.DBStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sqldb == nil {
		return sql.DBStats{}
	}
	return d.sqldb.Stats()
}

// ─────────────────────────────────────────────────────────────────────────────
// Query execution helpers
// ─────────────────────────────────────────────────────────────────────────────

// Exec executes a statement that returns no rows (INSERT, UPDATE, DELETE, DDL).
// Errors are translated through the unified error mapper.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := d.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.withDefaultTimeout(ctx)
	defer cancel()

	start := time.Now()
	d.hooks.Before(ctx, query, args)
	res, err := conn.ExecContext(ctx, query, args...)
	err = d.mapErr(err)
	d.hooks.After(ctx, query, args, time.Since(start), err)
	return res, err
}

// Query executes a query that returns rows.
// The caller MUST close the returned *sqlx.Rows.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	conn, err := d.conn()
	if err != nil {
		return nil, err
	}
	ctx = d.applyDefaultTimeout(ctx)

	start := time.Now()
	d.hooks.Before(ctx, query, args)
	rows, err := conn.QueryxContext(ctx, query, args...)
	err = d.mapErr(err)
	d.hooks.After(ctx, query, args, time.Since(start), err)
	return rows, err
}

// MapErr translates err through the installed error mapper. Exposed so that
// callers iterating rows map late errors the same way.
func (d *DB) MapErr(err error) error { return d.mapErr(err) }

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// conn opens the connection on first use. Opening does not dial; the first
// statement does, and its error goes through the mapper unmodified otherwise.
func (d *DB) conn() (*sqlx.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sqldb != nil {
		return d.sqldb, nil
	}

	dsn, err := d.drv.DSN(d.cfg)
	if err != nil {
		return nil, fmt.Errorf("useradmin/db: DSN construction failed: %w", err)
	}
	sqldb, err := sqlx.Open(d.drv.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("useradmin/db: open: %w", err)
	}

	// Pool tuning
	if d.cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(d.cfg.MaxOpenConns)
	}
	if d.cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(d.cfg.MaxIdleConns)
	}
	if d.cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(d.cfg.ConnMaxLifetime)
	}
	if d.cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(d.cfg.ConnMaxIdleTime)
	}

	slog.Debug("useradmin/db: connection opened", "driver", d.drv.Name(), "dbname", d.cfg.DBName)
	d.sqldb = sqldb
	return sqldb, nil
}

func (d *DB) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.DefaultTimeout == 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.cfg.DefaultTimeout)
}

// applyDefaultTimeout is used where the context must outlive this call
// (rows are read after Query returns).
func (d *DB) applyDefaultTimeout(ctx context.Context) context.Context {
	if d.cfg.DefaultTimeout == 0 {
		return ctx
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx // caller already set a deadline
	}
	ctx, _ = context.WithTimeout(ctx, d.cfg.DefaultTimeout) //nolint:govet
	return ctx
}

func (d *DB) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return d.errMap.Map(err)
}
