// Package db — driver.go
// Defines the pluggable driver abstraction layer. Each driver adapter knows
// which connection parameters it needs, how to turn a Config into its DSN,
// how to quote identifiers and how to read its own error types.
package db

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/Skryldev/useradmin/required"
)

// ─────────────────────────────────────────────────────────────────────────────
// Driver interface
// ─────────────────────────────────────────────────────────────────────────────

// Driver encapsulates database-specific behaviour:
//   - the connection parameters that must be present in Config
//   - building a DSN from Config
//   - quoting identifiers
//   - providing a driver-specific ErrorMapper
//
// Implement Driver to add support for a new database without modifying the
// core package.
type Driver interface {
	// Name returns the name passed to sql.Register, e.g. "pgx", "mysql".
	Name() string

	// RequiredParams lists the Config parameters (settings-file names) that
	// must carry a value before a connection is attempted.
	RequiredParams() required.Params

	// DSN converts Config into a driver DSN string.
	DSN(cfg Config) (string, error)

	// QuoteIdent quotes a table or column name.
	QuoteIdent(name string) string

	// ErrorMapper returns a mapper tuned to this driver's error types.
	ErrorMapper() ErrorMapper
}

// ─────────────────────────────────────────────────────────────────────────────
// Driver registry
// ─────────────────────────────────────────────────────────────────────────────

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver adds a Driver to the global registry.
// Panics if a driver with the same name is already registered (use ReplaceDriver
// to override).
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, ok := drivers[d.Name()]; ok {
		panic(fmt.Sprintf("useradmin/db: driver %q already registered", d.Name()))
	}
	drivers[d.Name()] = d
}

// ReplaceDriver upserts a driver in the registry (no panic on collision).
func ReplaceDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[d.Name()] = d
}

// LookupDriver returns the registered Driver by name. An unknown name is a
// configuration error.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, Misconfigured("driver %q not registered", name)
	}
	return d, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// MySQL driver adapter
// ─────────────────────────────────────────────────────────────────────────────

// MySQLDriver is the built-in go-sql-driver/mysql adapter. It keeps the full
// connection parameter set mandatory, charset included.
type MySQLDriver struct{}

func (MySQLDriver) Name() string { return "mysql" }

func (MySQLDriver) RequiredParams() required.Params {
	return required.New("driver", "host", "charset", "dbname", "username", "password")
}

func (MySQLDriver) DSN(c Config) (string, error) {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	mc.DBName = c.DBName
	mc.User = c.Username
	mc.Passwd = c.Password
	// RowsAffected counts matched rows, as the other drivers do, so an
	// UPDATE that rewrites the current value still reports its row.
	mc.ClientFoundRows = true
	mc.Params = map[string]string{
		"charset": c.Charset,
		// QuoteLiteral only doubles quotes; a backslash must stay literal.
		"sql_mode": "CONCAT(@@sql_mode,',NO_BACKSLASH_ESCAPES')",
	}
	for k, v := range c.Params {
		mc.Params[k] = v
	}
	return mc.FormatDSN(), nil
}

func (MySQLDriver) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (MySQLDriver) ErrorMapper() ErrorMapper { return ErrorMapperFunc(mapMySQLError) }

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL driver adapter (lib/pq)
// ─────────────────────────────────────────────────────────────────────────────

// PostgresDriver is the built-in lib/pq adapter.
type PostgresDriver struct{}

func (PostgresDriver) Name() string { return "postgres" }

func (PostgresDriver) RequiredParams() required.Params {
	return required.New("driver", "host", "dbname", "username")
}

func (PostgresDriver) DSN(c Config) (string, error) {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	kv := map[string]string{
		"host":     c.Host,
		"port":     strconv.Itoa(port),
		"user":     c.Username,
		"password": c.Password,
		"dbname":   c.DBName,
		"sslmode":  "disable",
	}
	if c.Charset != "" {
		kv["client_encoding"] = c.Charset
	}
	for k, v := range c.Params {
		kv[k] = v
	}
	parts := make([]string, 0, len(kv))
	for _, k := range sortedKeys(kv) {
		parts = append(parts, k+"="+quotePQValue(kv[k]))
	}
	return strings.Join(parts, " "), nil
}

func (PostgresDriver) QuoteIdent(name string) string { return pq.QuoteIdentifier(name) }

func (PostgresDriver) ErrorMapper() ErrorMapper { return ErrorMapperFunc(mapPQError) }

// quotePQValue single-quotes a key/value DSN value when it is empty or holds
// spaces, quotes or backslashes.
func quotePQValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL driver adapter (pgx stdlib)
// ─────────────────────────────────────────────────────────────────────────────

// PgxDriver is the jackc/pgx stdlib adapter.
// Import _ "github.com/jackc/pgx/v5/stdlib" alongside this to activate.
type PgxDriver struct{}

func (PgxDriver) Name() string { return "pgx" }

func (PgxDriver) RequiredParams() required.Params {
	return required.New("driver", "host", "dbname", "username")
}

func (PgxDriver) DSN(c Config) (string, error) {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if c.Charset != "" {
		q.Set("client_encoding", c.Charset)
	}
	for k, v := range c.Params {
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

func (PgxDriver) QuoteIdent(name string) string { return pgx.Identifier{name}.Sanitize() }

func (PgxDriver) ErrorMapper() ErrorMapper { return ErrorMapperFunc(mapPGXError) }

// ─────────────────────────────────────────────────────────────────────────────
// SQLite driver adapters
// ─────────────────────────────────────────────────────────────────────────────

// SQLiteDriver is the built-in mattn/go-sqlite3 adapter. DBName is the file
// path or ":memory:".
type SQLiteDriver struct{}

func (SQLiteDriver) Name() string { return "sqlite3" }

func (SQLiteDriver) RequiredParams() required.Params { return required.New("driver", "dbname") }

func (SQLiteDriver) DSN(c Config) (string, error) { return sqliteDSN(c), nil }

func (SQLiteDriver) QuoteIdent(name string) string { return quoteDouble(name) }

func (SQLiteDriver) ErrorMapper() ErrorMapper { return ErrorMapperFunc(mapSQLite3Error) }

// ModernSQLiteDriver is the cgo-free modernc.org/sqlite adapter.
// Import _ "modernc.org/sqlite" alongside this to activate.
type ModernSQLiteDriver struct{}

func (ModernSQLiteDriver) Name() string { return "sqlite" }

func (ModernSQLiteDriver) RequiredParams() required.Params { return required.New("driver", "dbname") }

func (ModernSQLiteDriver) DSN(c Config) (string, error) { return sqliteDSN(c), nil }

func (ModernSQLiteDriver) QuoteIdent(name string) string { return quoteDouble(name) }

func (ModernSQLiteDriver) ErrorMapper() ErrorMapper { return ErrorMapperFunc(mapSQLiteMessage) }

func sqliteDSN(c Config) string {
	dsn := c.DBName
	first := true
	for _, k := range sortedKeys(c.Params) {
		if first {
			dsn += "?"
			first = false
		} else {
			dsn += "&"
		}
		dsn += k + "=" + c.Params[k]
	}
	return dsn
}

// QuoteLiteral renders s as a single-quoted SQL string literal, doubling
// embedded quotes. It is for the few places that splice values into raw
// WHERE fragments.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ─────────────────────────────────────────────────────────────────────────────
// Auto-register built-in drivers at init time
// ─────────────────────────────────────────────────────────────────────────────

func init() {
	// The actual sql.Register calls happen in the driver packages' init()
	// functions when imported.
	safeRegister(MySQLDriver{})
	safeRegister(PostgresDriver{})
	safeRegister(PgxDriver{})
	safeRegister(SQLiteDriver{})
	safeRegister(ModernSQLiteDriver{})
}

func safeRegister(d Driver) {
	defer func() { recover() }() // swallow duplicate registration panics
	RegisterDriver(d)
}
