package session_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Skryldev/useradmin/session"
)

func TestValues(t *testing.T) {
	s := session.NewStore(session.Config{})
	_, v := s.Load(httptest.NewRequest(http.MethodGet, "/", nil))

	if v.Exists("UserId") {
		t.Fatal("new session must be empty")
	}
	v.Set("UserId", int64(3))
	got, ok := v.Get("UserId")
	if !ok || got != int64(3) {
		t.Fatalf("Get = %v, %v", got, ok)
	}
	v.Delete("UserId")
	v.Delete("UserId")
	if v.Exists("UserId") {
		t.Fatal("Delete did not remove the key")
	}
}

func TestStore_CookieRoundTrip(t *testing.T) {
	s := session.NewStore(session.Config{CookieName: "sid"})

	id, v := s.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	v.Set("UserId", int64(9))

	rec := httptest.NewRecorder()
	s.Save(rec, id)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" || cookies[0].Value != id || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	id2, v2 := s.Load(req)
	if id2 != id || !v2.Exists("UserId") {
		t.Fatalf("expected the same session back, got %s", id2)
	}

	rec = httptest.NewRecorder()
	s.Destroy(rec, id)
	if s.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", s.Len())
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Fatalf("expected an expiring cookie, got %+v", c)
	}
}

func TestStore_UnknownCookieStartsFresh(t *testing.T) {
	s := session.NewStore(session.Config{CookieName: "sid"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "forged"})

	id, v := s.Load(req)
	if id == "forged" || v.Exists("UserId") {
		t.Fatal("unknown ids must not be adopted")
	}
}

func TestStore_ExpiredSessionsAreSwept(t *testing.T) {
	s := session.NewStore(session.Config{CookieName: "sid", MaxAge: 200 * time.Millisecond})

	first, _ := s.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	for range 999 {
		s.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if s.Len() != 1000 {
		t.Fatalf("expected 1000 live sessions, got %d", s.Len())
	}

	time.Sleep(300 * time.Millisecond)
	if n := s.Len(); n != 0 {
		t.Fatalf("expected every session to expire, got %d", n)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: first})
	if id, _ := s.Load(req); id == first {
		t.Fatal("an expired id must not be reused")
	}
	if n := s.Len(); n != 1 {
		t.Fatalf("expected one fresh session, got %d", n)
	}
}

func TestStore_LoadExtendsExpiry(t *testing.T) {
	s := session.NewStore(session.Config{CookieName: "sid", MaxAge: 300 * time.Millisecond})
	id, v := s.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	v.Set("UserId", int64(1))

	for range 2 {
		time.Sleep(200 * time.Millisecond)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: id})
		got, values := s.Load(req)
		if got != id || !values.Exists("UserId") {
			t.Fatalf("active session expired early: got %s", got)
		}
	}
}
