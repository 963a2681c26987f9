// Package session keeps per-visitor key/value state in memory and carries
// the session id in a cookie.
package session

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ─────────────────────────────────────────────────────────────────────────────
// Values
// ─────────────────────────────────────────────────────────────────────────────

// Values is the state of one session.
type Values struct {
	mu sync.RWMutex
	m  map[string]any
}

func newValues() *Values { return &Values{m: make(map[string]any)} }

func (v *Values) Exists(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.m[key]
	return ok
}

// Get returns the value for key and whether it was set.
func (v *Values) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.m[key]
	return val, ok
}

func (v *Values) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = value
}

// Delete removes key; a missing key is not an error.
func (v *Values) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, key)
}

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// Config controls the session cookie.
type Config struct {
	CookieName string        `yaml:"cookie_name"`
	MaxAge     time.Duration `yaml:"max_age"`
	Secure     bool          `yaml:"secure"`
	SameSite   string        `yaml:"same_site"`
}

const (
	defaultCookieName = "useradmin_session"
	maxSweepInterval  = time.Minute
)

// Store holds every live session, keyed by a random id. A session expires
// MaxAge after its last Load; expired sessions are swept on later Loads.
type Store struct {
	cfg Config

	mu        sync.Mutex
	sessions  map[string]*entry
	lastSweep time.Time
}

type entry struct {
	values  *Values
	expires time.Time
}

// NewStore returns an empty Store.
func NewStore(cfg Config) *Store {
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	return &Store{cfg: cfg, sessions: make(map[string]*entry), lastSweep: time.Now()}
}

// Load returns the session named by the request cookie, starting a new one
// when the cookie is absent, unknown or expired. Every Load pushes the
// session's expiry MaxAge into the future.
func (s *Store) Load(r *http.Request) (id string, v *Values) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked(now)

	expires := now.Add(s.cfg.MaxAge)
	if c, err := r.Cookie(s.cfg.CookieName); err == nil {
		if e, ok := s.sessions[c.Value]; ok {
			if now.Before(e.expires) {
				e.expires = expires
				return c.Value, e.values
			}
			delete(s.sessions, c.Value)
		}
	}
	id = uuid.NewString()
	v = newValues()
	s.sessions[id] = &entry{values: v, expires: expires}
	return id, v
}

// Save writes the session cookie for id.
func (s *Store) Save(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: parseSameSite(s.cfg.SameSite),
	})
}

// Destroy forgets the session and clears its cookie.
func (s *Store) Destroy(w http.ResponseWriter, id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: parseSameSite(s.cfg.SameSite),
	})
}

// Len returns the number of live sessions. Expired ones are dropped first.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(time.Now())
	return len(s.sessions)
}

// maybeSweepLocked sweeps at most once per min(MaxAge, maxSweepInterval).
func (s *Store) maybeSweepLocked(now time.Time) {
	every := min(s.cfg.MaxAge, maxSweepInterval)
	if now.Sub(s.lastSweep) < every {
		return
	}
	s.sweepLocked(now)
}

func (s *Store) sweepLocked(now time.Time) {
	for id, e := range s.sessions {
		if !now.Before(e.expires) {
			delete(s.sessions, id)
		}
	}
	s.lastSweep = now
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
