package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/mapper"
	"github.com/Skryldev/useradmin/model"
	"github.com/Skryldev/useradmin/server"
	"github.com/Skryldev/useradmin/session"
	"github.com/Skryldev/useradmin/table"
)

type harness struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	stats := &db.QueryStats{}
	d, err := db.New(db.Config{
		Driver:       "sqlite3",
		DBName:       ":memory:",
		MaxOpenConns: 1,
		Hooks:        []db.Hook{db.NewMetricsHook(stats)},
	})
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.Exec(context.Background(), `
		CREATE TABLE Users (
			UserId   INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			email    TEXT NOT NULL UNIQUE
		)`)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}

	srv, err := server.New(server.Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Name:     "useradmin",
		Version:  "test",
		DB:       d,
		Users:    mapper.New(table.New(d, "Users"), model.UserDescriptor()),
		Sessions: session.NewStore(session.Config{CookieName: "sid"}),
		Stats:    stats,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &harness{t: t, handler: srv.Handler()}
}

func (h *harness) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	h.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			h.cookie = c
		}
	}
	return rec
}

func expectRedirect(t *testing.T, rec *httptest.ResponseRecorder, status int, location string) {
	t.Helper()
	if rec.Code != status || rec.Header().Get("Location") != location {
		t.Fatalf("got %d -> %q, want %d -> %q (body %s)", rec.Code, rec.Header().Get("Location"), status, location, rec.Body)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body, err)
	}
	return body
}

func registerForm(username, email string) url.Values {
	return url.Values{
		"username":        {username},
		"email":           {email},
		"password":        {"secret123"},
		"passwordConfirm": {"secret123"},
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "ok" {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}

	rec = h.do(http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d %s", rec.Code, rec.Body)
	}
}

func TestAdminRequiresLogin(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/admin", "/admin/users", "/admin/users/alice"} {
		expectRedirect(t, h.do(http.MethodGet, path, nil), http.StatusFound, "/login")
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	h := newHarness(t)

	expectRedirect(t, h.do(http.MethodPost, "/register", registerForm("alice", "alice@example.com")), http.StatusSeeOther, "/login")

	rec := h.do(http.MethodPost, "/register", registerForm("alice", "alice@example.com"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate register: %d %s", rec.Code, rec.Body)
	}
	errs := decode(t, rec)["errors"].(map[string]any)
	if _, ok := errs["username"]; !ok {
		t.Fatalf("expected a username error, got %v", errs)
	}
	if _, ok := errs["email"]; !ok {
		t.Fatalf("expected an email error, got %v", errs)
	}

	rec = h.do(http.MethodPost, "/login", url.Values{"username": {"alice"}})
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "Each field is required") {
		t.Fatalf("partial login: %d %s", rec.Code, rec.Body)
	}

	rec = h.do(http.MethodPost, "/login", url.Values{"username": {"alice"}, "password": {"nope"}})
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "Cannot log you in") {
		t.Fatalf("bad login: %d %s", rec.Code, rec.Body)
	}

	expectRedirect(t, h.do(http.MethodPost, "/login", url.Values{"username": {"alice"}, "password": {"secret123"}}), http.StatusSeeOther, "/admin")

	rec = h.do(http.MethodGet, "/admin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["users"] != float64(1) {
		t.Fatalf("users = %v, want 1", body["users"])
	}
	if user := body["user"].(map[string]any); user["username"] != "alice" {
		t.Fatalf("user = %v", user)
	}
	if _, ok := body["queries"]; !ok {
		t.Fatal("expected query counters on the dashboard")
	}
	if strings.Contains(rec.Body.String(), "secret123") {
		t.Fatal("password leaked into the dashboard")
	}

	expectRedirect(t, h.do(http.MethodGet, "/logout", nil), http.StatusMovedPermanently, "/login")
	expectRedirect(t, h.do(http.MethodGet, "/admin", nil), http.StatusFound, "/login")
}

func TestRegister_JSONBody(t *testing.T) {
	h := newHarness(t)
	payload, _ := json.Marshal(map[string]string{
		"username":        "bob1",
		"email":           "bob@example.com",
		"password":        "short",
		"passwordConfirm": "other",
	})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	errs := decode(t, rec)["errors"].(map[string]any)
	for _, field := range []string{"password", "passwordConfirm"} {
		if _, ok := errs[field]; !ok {
			t.Fatalf("expected an error for %s, got %v", field, errs)
		}
	}
	if _, ok := errs["username"]; ok {
		t.Fatalf("username should pass, got %v", errs)
	}
}

func TestAdminUsers(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"alice", "bob1", "carol"} {
		expectRedirect(t, h.do(http.MethodPost, "/register", registerForm(name, name+"@example.com")), http.StatusSeeOther, "/login")
	}
	expectRedirect(t, h.do(http.MethodPost, "/login", url.Values{"username": {"alice"}, "password": {"secret123"}}), http.StatusSeeOther, "/admin")

	rec := h.do(http.MethodGet, "/admin/users?limit=2&offset=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	users := decode(t, rec)["users"].([]any)
	if len(users) != 2 || users[0].(map[string]any)["username"] != "bob1" {
		t.Fatalf("unexpected page: %v", users)
	}

	if rec := h.do(http.MethodGet, "/admin/users?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rec.Code)
	}

	expectRedirect(t, h.do(http.MethodGet, "/admin/users/bob1", nil), http.StatusMovedPermanently, "/admin/users/alice")

	rec = h.do(http.MethodGet, "/admin/users/alice", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["email"] != "alice@example.com" {
		t.Fatalf("profile: %d %s", rec.Code, rec.Body)
	}

	expectRedirect(t, h.do(http.MethodPost, "/admin/users", registerForm("dave", "dave@example.com")), http.StatusSeeOther, "/admin/users")

	rec = h.do(http.MethodPut, "/admin/users/alice", url.Values{"email": {"alice@new.example.com"}})
	if rec.Code != http.StatusOK || decode(t, rec)["email"] != "alice@new.example.com" {
		t.Fatalf("update: %d %s", rec.Code, rec.Body)
	}
	rec = h.do(http.MethodPut, "/admin/users/alice", url.Values{"email": {"alice@new.example.com"}})
	if rec.Code != http.StatusOK || decode(t, rec)["email"] != "alice@new.example.com" {
		t.Fatalf("unchanged update: %d %s", rec.Code, rec.Body)
	}
	if rec := h.do(http.MethodPut, "/admin/users/alice", url.Values{"email": {"nope"}}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid email: %d %s", rec.Code, rec.Body)
	}
	if rec := h.do(http.MethodPut, "/admin/users/alice", url.Values{"email": {"bob1@example.com"}}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("taken email: %d %s", rec.Code, rec.Body)
	}
	if rec := h.do(http.MethodPut, "/admin/users/bob1", url.Values{"email": {"x@example.com"}}); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign update: %d %s", rec.Code, rec.Body)
	}

	if rec := h.do(http.MethodDelete, "/admin/users/carol", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	if rec := h.do(http.MethodDelete, "/admin/users/carol", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d %s", rec.Code, rec.Body)
	}

	if rec := h.do(http.MethodDelete, "/admin/users/alice", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("self delete: %d %s", rec.Code, rec.Body)
	}
	expectRedirect(t, h.do(http.MethodGet, "/admin", nil), http.StatusFound, "/login")
}

func TestNew_MissingOptions(t *testing.T) {
	_, err := server.New(server.Options{})
	if !db.IsMisconfigured(err) {
		t.Fatalf("expected a misconfiguration error, got %v", err)
	}
}
