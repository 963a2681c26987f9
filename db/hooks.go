package db

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ─────────────────────────────────────────────────────────────────────────────
// Hook interface
// ─────────────────────────────────────────────────────────────────────────────

// Hook observes every statement a DB runs. Implementations must be safe for
// concurrent use. A panicking hook is recovered and logged; the statement
// still runs.
type Hook interface {
	BeforeQuery(ctx context.Context, query string, args []any)

	// AfterQuery receives the mapped error, nil on success.
	AfterQuery(ctx context.Context, query string, args []any, duration time.Duration, err error)
}

type hookChain []Hook

func newHookChain(hooks []Hook) hookChain {
	chain := make(hookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

func (c hookChain) Before(ctx context.Context, query string, args []any) {
	for _, h := range c {
		guard("BeforeQuery", func() { h.BeforeQuery(ctx, query, args) })
	}
}

func (c hookChain) After(ctx context.Context, query string, args []any, d time.Duration, err error) {
	for _, h := range c {
		guard("AfterQuery", func() { h.AfterQuery(ctx, query, args, d, err) })
	}
}

func guard(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("useradmin/db: hook panicked", "stage", stage, "panic", r)
		}
	}()
	fn()
}

// ─────────────────────────────────────────────────────────────────────────────
// Statement classification
// ─────────────────────────────────────────────────────────────────────────────

// classify returns the leading keyword of query and, for the statements the
// gateways emit, the table they touch ("" when there is none).
func classify(query string) (kind, table string) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "", ""
	}
	kind = strings.ToUpper(fields[0])

	for i, f := range fields[:len(fields)-1] {
		switch strings.ToUpper(f) {
		case "FROM", "INTO":
			return kind, unquoteIdent(fields[i+1])
		case "UPDATE":
			if i == 0 {
				return kind, unquoteIdent(fields[i+1])
			}
		}
	}
	return kind, ""
}

func unquoteIdent(s string) string {
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, "`\"")
}

// ─────────────────────────────────────────────────────────────────────────────
// Logging hook
// ─────────────────────────────────────────────────────────────────────────────

const maxLoggedQuery = 500

// LogHookConfig configures NewLogHook.
type LogHookConfig struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// SlowQueryThreshold promotes slower statements to WARN. Zero disables it.
	SlowQueryThreshold time.Duration
	// LogArgs adds bound arguments to each entry.
	LogArgs bool
	// ContextAttrs adds per-request attributes such as the request id.
	ContextAttrs func(ctx context.Context) []any
}

// NewLogHook logs one entry per statement: DEBUG on success, WARN when slow,
// ERROR on failure. String literals in the statement text are replaced with
// '***', so values spliced into WHERE fragments never reach the log.
func NewLogHook(cfg LogHookConfig) Hook {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &logHook{cfg: cfg}
}

type logHook struct{ cfg LogHookConfig }

func (*logHook) BeforeQuery(context.Context, string, []any) {}

func (h *logHook) AfterQuery(ctx context.Context, query string, args []any, d time.Duration, err error) {
	kind, table := classify(query)
	attrs := []any{
		slog.String("statement", kind),
		slog.String("query", loggedQuery(query)),
		slog.Duration("duration", d),
	}
	if table != "" {
		attrs = append(attrs, slog.String("table", table))
	}
	if h.cfg.LogArgs && len(args) > 0 {
		attrs = append(attrs, slog.Any("args", args))
	}
	if h.cfg.ContextAttrs != nil {
		attrs = append(attrs, h.cfg.ContextAttrs(ctx)...)
	}

	logger := h.cfg.Logger
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "useradmin/db: query error", append(attrs, slog.Any("error", err))...)
	case h.cfg.SlowQueryThreshold > 0 && d > h.cfg.SlowQueryThreshold:
		logger.WarnContext(ctx, "useradmin/db: slow query", attrs...)
	default:
		logger.DebugContext(ctx, "useradmin/db: query", attrs...)
	}
}

// loggedQuery redacts literals and cuts the text to maxLoggedQuery bytes on a
// rune boundary.
func loggedQuery(q string) string {
	q = redactLiterals(q)
	if len(q) <= maxLoggedQuery {
		return q
	}
	cut := maxLoggedQuery
	for cut > 0 && !utf8.RuneStart(q[cut]) {
		cut--
	}
	return q[:cut] + "…"
}

// redactLiterals replaces the body of every single-quoted literal. Quotes
// inside a literal are doubled, as QuoteLiteral writes them.
func redactLiterals(q string) string {
	if !strings.Contains(q, "'") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q))
	inLiteral := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		if !inLiteral {
			b.WriteByte(c)
			if c == '\'' {
				inLiteral = true
				b.WriteString("***")
			}
			continue
		}
		if c != '\'' {
			continue
		}
		if i+1 < len(q) && q[i+1] == '\'' {
			i++
			continue
		}
		inLiteral = false
		b.WriteByte(c)
	}
	return b.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Metrics hook
// ─────────────────────────────────────────────────────────────────────────────

// MetricsCollector receives one call per statement.
type MetricsCollector interface {
	RecordQuery(query string, duration time.Duration, success bool)
}

func NewMetricsHook(collector MetricsCollector) Hook {
	return &metricsHook{c: collector}
}

type metricsHook struct{ c MetricsCollector }

func (*metricsHook) BeforeQuery(context.Context, string, []any) {}

func (h *metricsHook) AfterQuery(_ context.Context, query string, _ []any, d time.Duration, err error) {
	h.c.RecordQuery(query, d, err == nil)
}

// StatementStats are the counters for one statement kind.
type StatementStats struct {
	Count    int64         `json:"count"`
	Failures int64         `json:"failures"`
	Total    time.Duration `json:"total_ns"`
}

func (s *StatementStats) add(d time.Duration, success bool) {
	s.Count++
	s.Total += d
	if !success {
		s.Failures++
	}
}

// QueryStats is the in-process MetricsCollector behind the admin dashboard.
// It keeps overall totals plus a breakdown keyed by statement and table,
// e.g. "SELECT Users". The zero value is ready to use.
type QueryStats struct {
	mu    sync.Mutex
	all   StatementStats
	byKey map[string]*StatementStats
}

// StatsSnapshot is a point-in-time copy of QueryStats.
type StatsSnapshot struct {
	Queries     int64                     `json:"queries"`
	Failures    int64                     `json:"failures"`
	Total       time.Duration             `json:"total_ns"`
	ByStatement map[string]StatementStats `json:"by_statement"`
}

func (s *QueryStats) RecordQuery(query string, d time.Duration, success bool) {
	key, table := classify(query)
	if table != "" {
		key += " " + table
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.all.add(d, success)
	if s.byKey == nil {
		s.byKey = make(map[string]*StatementStats)
	}
	st, ok := s.byKey[key]
	if !ok {
		st = &StatementStats{}
		s.byKey[key] = st
	}
	st.add(d, success)
}

// Snapshot returns the current counters.
func (s *QueryStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	by := make(map[string]StatementStats, len(s.byKey))
	for k, v := range s.byKey {
		by[k] = *v
	}
	return StatsSnapshot{
		Queries:     s.all.Count,
		Failures:    s.all.Failures,
		Total:       s.all.Total,
		ByStatement: by,
	}
}
