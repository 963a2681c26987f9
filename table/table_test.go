package table_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/table"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test fixture
// ─────────────────────────────────────────────────────────────────────────────

func newTestGateway(t *testing.T) (*table.Gateway, *db.DB) {
	t.Helper()

	d, err := db.New(db.Config{Driver: "sqlite3", DBName: ":memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.Exec(context.Background(), `
		CREATE TABLE Users (
			UserId   INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			email    TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return table.New(d, "Users"), d
}

func seed(t *testing.T, g *table.Gateway, usernames ...string) {
	t.Helper()
	for _, u := range usernames {
		n, err := g.Insert(context.Background(),
			[]string{"username", "password", "email"},
			[]any{u, "secret", u + "@example.com"},
		)
		if err != nil {
			t.Fatalf("insert %s: %v", u, err)
		}
		if n != 1 {
			t.Fatalf("insert %s: expected 1 row affected, got %d", u, n)
		}
	}
}

func usernames(rows []table.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["username"].(string)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// TableName
// ─────────────────────────────────────────────────────────────────────────────

func TestTableName_NotSet(t *testing.T) {
	_, d := newTestGateway(t)
	g := table.New(d, "")

	if _, err := g.TableName(); !db.IsMisconfigured(err) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
	if _, err := g.FindAll(context.Background(), "", ""); !db.IsMisconfigured(err) {
		t.Fatalf("expected ErrMisconfigured from FindAll, got %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

func TestFind_ByPrimaryKey(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "alice", "bob")
	ctx := context.Background()

	rows, err := g.Find(ctx, "bob", "username")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 1 || rows[0]["email"] != "bob@example.com" {
		t.Fatalf("unexpected rows: %v", rows)
	}

	rows, err = g.Find(ctx, 1, "UserId")
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if got := usernames(rows); !equal(got, []string{"alice"}) {
		t.Fatalf("unexpected rows: %v", got)
	}
}

func TestFind_DefaultPrimaryKey(t *testing.T) {
	g, _ := newTestGateway(t)

	// the table has no "id" column; the default must be used verbatim
	if _, err := g.Find(context.Background(), 1, ""); err == nil {
		t.Fatal("expected error for missing id column")
	}
}

func TestFind_NoMatch(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "alice")

	rows, err := g.Find(context.Background(), "nobody", "username")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %v", rows)
	}
}

func TestFindRow(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "alice", "bob", "carol")
	ctx := context.Background()

	row, err := g.FindRow(ctx, "", "username DESC")
	if err != nil {
		t.Fatalf("find row: %v", err)
	}
	if row["username"] != "carol" {
		t.Fatalf("expected carol first, got %v", row)
	}

	row, err = g.FindRow(ctx, "username = 'nobody'", "")
	if err != nil {
		t.Fatalf("find row: %v", err)
	}
	if row != nil {
		t.Fatalf("expected nil row, got %v", row)
	}
}

func TestFindAll_LimitOffset(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "alice", "bob", "carol", "dave")
	ctx := context.Background()

	tests := []struct {
		name string
		opts []table.FindOption
		want []string
	}{
		{name: "all", want: []string{"alice", "bob", "carol", "dave"}},
		{name: "limit", opts: []table.FindOption{table.WithLimit(2)}, want: []string{"alice", "bob"}},
		{name: "limit offset", opts: []table.FindOption{table.WithLimit(2), table.WithOffset(2)}, want: []string{"carol", "dave"}},
		{name: "offset alone ignored", opts: []table.FindOption{table.WithOffset(3)}, want: []string{"alice", "bob", "carol", "dave"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := g.FindAll(ctx, "", "username", tt.opts...)
			if err != nil {
				t.Fatalf("find all: %v", err)
			}
			if got := usernames(rows); !equal(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCount(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "alice", "bob", "carol")
	ctx := context.Background()

	n, err := g.Count(ctx, "")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v; want 3", n, err)
	}
	n, err = g.Count(ctx, "username <> 'bob'")
	if err != nil || n != 2 {
		t.Fatalf("filtered count = %d, %v; want 2", n, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

func TestInsert_ArgumentErrors(t *testing.T) {
	lazy, err := db.New(db.Config{Driver: "sqlite3", DBName: ":memory:"})
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { _ = lazy.Close() })
	lg := table.New(lazy, "Users")
	ctx := context.Background()

	if _, err := lg.Insert(ctx, nil, nil); !errors.Is(err, table.ErrNoColumns) {
		t.Fatalf("expected ErrNoColumns, got %v", err)
	}
	if _, err := lg.Insert(ctx, []string{"username", "email"}, []any{"x"}); !errors.Is(err, table.ErrColumnMismatch) {
		t.Fatalf("expected ErrColumnMismatch, got %v", err)
	}
	if lazy.Connected() {
		t.Fatal("argument errors must not open a connection")
	}
}

func TestInsert_Duplicate(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "alice")

	_, err := g.Insert(context.Background(),
		[]string{"username", "password", "email"},
		[]any{"alice", "x", "other@example.com"},
	)
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "alice", "bob")
	ctx := context.Background()

	if _, err := g.Update(ctx, map[string]any{}, "username = 'alice'"); !errors.Is(err, table.ErrNoValues) {
		t.Fatalf("expected ErrNoValues, got %v", err)
	}

	n, err := g.Update(ctx, map[string]any{
		"email":    "alice@new.example",
		"password": "changed",
	}, "username = 'alice'")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row affected, got %d", n)
	}

	row, err := g.FindRow(ctx, "username = 'alice'", "")
	if err != nil {
		t.Fatalf("find row: %v", err)
	}
	if row["email"] != "alice@new.example" || row["password"] != "changed" {
		t.Fatalf("update not applied: %v", row)
	}
}

func TestDelete(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "alice", "bob", "carol")
	ctx := context.Background()

	n, err := g.Delete(ctx, "username = 'bob'")
	if err != nil || n != 1 {
		t.Fatalf("delete bob = %d, %v", n, err)
	}
	n, err = g.Delete(ctx, "")
	if err != nil || n != 2 {
		t.Fatalf("delete all = %d, %v", n, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// cgo-free driver
// ─────────────────────────────────────────────────────────────────────────────

func TestGateway_ModernSQLite(t *testing.T) {
	d, err := db.New(db.Config{Driver: "sqlite", DBName: ":memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	ctx := context.Background()

	_, err = d.Exec(ctx, `CREATE TABLE Users (UserId INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL UNIQUE, password TEXT NOT NULL, email TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	g := table.New(d, "Users")
	seed(t, g, "alice", "bob1")

	_, err = g.Insert(ctx, []string{"username", "password", "email"}, []any{"alice", "x", "x"})
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected duplicate key, got %v", err)
	}

	rows, err := g.Find(ctx, "bob1", "username")
	if err != nil || len(rows) != 1 || rows[0]["email"] != "bob1@example.com" {
		t.Fatalf("Find = %v, %v", rows, err)
	}
	if n, err := g.Count(ctx, ""); err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Placeholders
// ─────────────────────────────────────────────────────────────────────────────

type captureHook struct {
	mu      sync.Mutex
	queries []string
}

func (h *captureHook) BeforeQuery(_ context.Context, query string, _ []any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, query)
}

func (h *captureHook) AfterQuery(context.Context, string, []any, time.Duration, error) {}

func TestGateway_PostgresPlaceholders(t *testing.T) {
	hook := &captureHook{}
	d, err := db.New(db.Config{
		Driver:         "postgres",
		Host:           "127.0.0.1",
		Port:           1,
		DBName:         "none",
		Username:       "none",
		DefaultTimeout: 2 * time.Second,
		Hooks:          []db.Hook{hook},
	})
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	// Nothing listens on port 1; only the statement text matters.
	g := table.New(d, "Users")
	ctx := context.Background()
	_, _ = g.FindRow(ctx, `"username" = 'who?'`, "")
	_, _ = g.Find(ctx, 7, "UserId")
	_, _ = g.Update(ctx, map[string]any{"password": "x", "email": "y"}, `"username" = 'a?b'`)
	_, _ = g.Insert(ctx, []string{"username", "email"}, []any{"a", "b"})
	_, _ = g.Delete(ctx, `"username" = '??'`)
	_, _ = g.Count(ctx, `"email" LIKE '%?%'`)

	want := []string{
		`SELECT * FROM "Users" WHERE "username" = 'who?'`,
		`SELECT * FROM "Users" WHERE "UserId" = $1`,
		`UPDATE "Users" SET "email" = $1, "password" = $2 WHERE "username" = 'a?b'`,
		`INSERT INTO "Users" ("username", "email") VALUES ($1, $2)`,
		`DELETE FROM "Users" WHERE "username" = '??'`,
		`SELECT COUNT(*) FROM "Users" WHERE "email" LIKE '%?%'`,
	}
	hook.mu.Lock()
	defer hook.mu.Unlock()
	if !equal(hook.queries, want) {
		t.Fatalf("statements:\n got %q\nwant %q", hook.queries, want)
	}
}

func TestFindRow_QuestionMarkInLiteral(t *testing.T) {
	g, _ := newTestGateway(t)
	seed(t, g, "who?", "who")

	row, err := g.FindRow(context.Background(), `"username" = 'who?'`, "")
	if err != nil {
		t.Fatalf("FindRow: %v", err)
	}
	if row == nil || row["username"] != "who?" {
		t.Fatalf("unexpected row: %v", row)
	}
}
