// Package server exposes login, registration and the admin dashboard over
// HTTP. Handlers answer JSON; redirects follow the browser login flow.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Skryldev/useradmin/auth"
	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/mapper"
	"github.com/Skryldev/useradmin/model"
	"github.com/Skryldev/useradmin/repo"
	"github.com/Skryldev/useradmin/session"
	"github.com/Skryldev/useradmin/validator"
)

// Options are the collaborators a Server is built from.
type Options struct {
	Logger   *slog.Logger
	Name     string
	Version  string
	DB       *db.DB
	Users    *mapper.Mapper[*model.User]
	Sessions *session.Store
	// Stats is optional; when set the dashboard reports query counters.
	Stats *db.QueryStats
}

type Server struct {
	logger   *slog.Logger
	name     string
	version  string
	db       *db.DB
	users    *mapper.Mapper[*model.User]
	repo     repo.UserRepository
	sessions *session.Store
	stats    *db.QueryStats
}

func New(opts Options) (*Server, error) {
	var missing []string
	if opts.DB == nil {
		missing = append(missing, "DB")
	}
	if opts.Users == nil {
		missing = append(missing, "Users")
	}
	if opts.Sessions == nil {
		missing = append(missing, "Sessions")
	}
	if len(missing) > 0 {
		return nil, db.Misconfigured("server options missing: %v", missing)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		name:     opts.Name,
		version:  opts.Version,
		db:       opts.DB,
		users:    opts.Users,
		repo:     repo.NewUserRepo(opts.Users),
		sessions: opts.Sessions,
		stats:    opts.Stats,
	}, nil
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.withAuth(s.home))
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)

	mux.HandleFunc("GET /login", s.form("Login", "username", "password"))
	mux.HandleFunc("POST /login", s.withAuth(s.login))
	mux.HandleFunc("GET /logout", s.withAuth(s.logout))

	mux.HandleFunc("GET /register", s.form("Register", registerFields...))
	mux.HandleFunc("POST /register", s.withAuth(s.storeUser("/login")))

	mux.HandleFunc("GET /admin", s.admin(s.dashboard))
	mux.HandleFunc("GET /admin/{$}", s.admin(s.dashboard))
	mux.HandleFunc("GET /admin/users", s.admin(s.listUsers))
	mux.HandleFunc("GET /admin/users/create", s.admin(func(w http.ResponseWriter, r *http.Request, _ *auth.Authenticator) {
		s.form("Add A New User", registerFields...)(w, r)
	}))
	mux.HandleFunc("POST /admin/users", s.admin(s.storeUser("/admin/users")))
	mux.HandleFunc("GET /admin/users/{username}", s.admin(s.showUser))
	mux.HandleFunc("PUT /admin/users/{username}", s.admin(s.updateUser))
	mux.HandleFunc("DELETE /admin/users/{username}", s.admin(s.deleteUser))

	return Wrap(s.logger, mux)
}

var registerFields = []string{"username", "email", "password", "passwordConfirm"}

// ─────────────────────────────────────────────────────────────────────────────
// Session plumbing
// ─────────────────────────────────────────────────────────────────────────────

type authHandler func(w http.ResponseWriter, r *http.Request, a *auth.Authenticator)

// withAuth loads the visitor's session, refreshes its cookie and hands an
// Authenticator bound to it to h.
func (s *Server) withAuth(h authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, values := s.sessions.Load(r)
		s.sessions.Save(w, id)
		h(w, r, auth.New(s.users, values))
	}
}

// admin guards the dashboard routes.
func (s *Server) admin(h authHandler) http.HandlerFunc {
	return s.withAuth(func(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) {
		if a.NotLoggedIn() {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		h(w, r, a)
	})
}

// currentUser loads the logged-in user. A session pointing at a deleted row
// is logged out and redirected; the caller stops when it returns nil.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) *model.User {
	u, err := a.CurrentUser(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return nil
	}
	if u == nil {
		a.Logout()
		http.Redirect(w, r, "/login", http.StatusFound)
		return nil
	}
	return u
}

// ─────────────────────────────────────────────────────────────────────────────
// Public pages
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) home(w http.ResponseWriter, _ *http.Request, a *auth.Authenticator) {
	writeJSON(w, http.StatusOK, map[string]any{
		"app":       s.name,
		"version":   s.version,
		"logged_in": a.LoggedIn(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"service": s.name, "status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"service": s.name, "status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": s.name, "status": "ready"})
}

// form describes the fields a page expects.
func (s *Server) form(title string, fields ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"title":  title,
			"app":    s.name,
			"fields": fields,
		})
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) {
	data, err := readInput(r, "username", "password")
	if err != nil {
		badRequest(w, err)
		return
	}
	if len(data) != 2 {
		unprocessable(w, map[string][]string{"form": {"Each field is required"}})
		return
	}

	v, err := validator.NewLogin()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := v.Validate(r.Context(), data); err != nil {
		s.fail(w, r, err)
		return
	}
	if v.Failed() {
		unprocessable(w, v.Errors())
		return
	}

	ok, err := a.Login(r.Context(), fmt.Sprint(data["username"]), fmt.Sprint(data["password"]))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		unprocessable(w, map[string][]string{"form": {"Cannot log you in. Please try again!"}})
		return
	}
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) {
	a.Logout()
	http.Redirect(w, r, "/login", http.StatusMovedPermanently)
}

// storeUser validates a registration form and inserts the account, then
// redirects to next. Validation and insert are not atomic; the unique
// index on the table is the final guard.
func (s *Server) storeUser(next string) authHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *auth.Authenticator) {
		data, err := readInput(r, registerFields...)
		if err != nil {
			badRequest(w, err)
			return
		}

		v, err := validator.NewRegister(s.users)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if _, err := v.Validate(r.Context(), data); err != nil {
			s.fail(w, r, err)
			return
		}
		if v.Failed() {
			unprocessable(w, v.Errors())
			return
		}

		err = s.repo.Insert(r.Context(), model.CreateUserParams{
			Username: fmt.Sprint(data["username"]),
			Password: fmt.Sprint(data["password"]),
			Email:    fmt.Sprint(data["email"]),
		})
		if db.IsDuplicateKey(err) {
			unprocessable(w, map[string][]string{"form": {"username or email already exists."}})
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Admin pages
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) {
	u := s.currentUser(w, r, a)
	if u == nil {
		return
	}
	count, err := s.repo.Count(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	body := map[string]any{
		"title": "Dashboard",
		"app":   map[string]string{"name": s.name, "version": s.version},
		"user":  u,
		"users": count,
	}
	if s.db.Connected() {
		st := s.db.Stats()
		body["pool"] = map[string]int{
			"open":   st.OpenConnections,
			"in_use": st.InUse,
			"idle":   st.Idle,
		}
	}
	if s.stats != nil {
		body["queries"] = s.stats.Snapshot()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		badRequest(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		badRequest(w, err)
		return
	}

	u := s.currentUser(w, r, a)
	if u == nil {
		return
	}
	users, err := s.repo.List(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":    "Users",
		"username": u.Username,
		"users":    users,
	})
}

// showUser renders the caller's own profile; other usernames redirect there.
func (s *Server) showUser(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) {
	u := s.currentUser(w, r, a)
	if u == nil {
		return
	}
	if r.PathValue("username") != u.Username {
		http.Redirect(w, r, "/admin/users/"+url.PathEscape(u.Username), http.StatusMovedPermanently)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":    "My Profile",
		"app":      s.name,
		"username": u.Username,
		"email":    u.Email,
	})
}

// updateUser changes the caller's own email address.
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) {
	u := s.currentUser(w, r, a)
	if u == nil {
		return
	}
	if r.PathValue("username") != u.Username {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
		return
	}

	data, err := readInput(r, "email")
	if err != nil {
		badRequest(w, err)
		return
	}
	v, err := validator.NewProfile()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := v.Validate(r.Context(), data); err != nil {
		s.fail(w, r, err)
		return
	}
	if v.Failed() {
		unprocessable(w, v.Errors())
		return
	}

	email := fmt.Sprint(data["email"])
	updated, err := s.repo.Update(r.Context(), model.UpdateUserParams{UserID: u.UserID, Email: &email})
	if db.IsDuplicateKey(err) {
		unprocessable(w, map[string][]string{"email": {"email already exists."}})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": updated.Username,
		"email":    updated.Email,
	})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request, a *auth.Authenticator) {
	u := s.currentUser(w, r, a)
	if u == nil {
		return
	}
	name := r.PathValue("username")
	err := s.repo.DeleteByUsername(r.Context(), name)
	if db.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if name == u.Username {
		a.Logout()
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// readInput returns the listed fields present in a form or JSON body.
// Absent fields are left out of the map.
func readInput(r *http.Request, fields ...string) (map[string]any, error) {
	data := make(map[string]any, len(fields))

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		for _, f := range fields {
			if v, ok := body[f]; ok {
				data[f] = v
			}
		}
		return data, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form: %w", err)
	}
	for _, f := range fields {
		if vs, ok := r.PostForm[f]; ok && len(vs) > 0 {
			data[f] = vs[0]
		}
	}
	return data, nil
}

// queryInt reads a non-negative integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func unprocessable(w http.ResponseWriter, errs map[string][]string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": errs})
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
}

// fail logs err and answers 500. Configuration problems and storage
// failures look the same to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := RequestIDFromContext(r.Context())
	attrs := []any{"request_id", requestID, "path", r.URL.Path, "error", err}
	var dbErr *db.DBError
	switch {
	case db.IsMisconfigured(err):
		s.logger.Error("misconfigured", attrs...)
	case errors.As(err, &dbErr):
		s.logger.Error("storage failure", append(attrs, "kind", dbErr.Sentinel)...)
	default:
		s.logger.Error("request failed", attrs...)
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":      "internal_server_error",
		"request_id": requestID,
	})
}
