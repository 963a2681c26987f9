// Package auth answers "who is logged in" for one session.
//
// Login looks the user up by username, spliced into the WHERE fragment as a
// quoted literal, and compares the stored password as plain text in memory.
// The password never reaches the SQL text.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/model"
)

// SessionKey holds the logged-in user's id.
const SessionKey = "UserId"

// Session is the per-visitor key/value store.
type Session interface {
	Exists(key string) bool
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// Users is the subset of the user mapper auth needs.
type Users interface {
	Find(ctx context.Context, value any, primaryKey string) ([]*model.User, error)
	FindRow(ctx context.Context, where, order string) (*model.User, bool, error)
	QuoteIdent(name string) string
}

// Authenticator ties a user lookup to one session.
type Authenticator struct {
	users Users
	sess  Session
}

func New(users Users, sess Session) *Authenticator {
	return &Authenticator{users: users, sess: sess}
}

func (a *Authenticator) LoggedIn() bool    { return a.sess.Exists(SessionKey) }
func (a *Authenticator) NotLoggedIn() bool { return !a.sess.Exists(SessionKey) }

// Login stores the user's id in the session when username and password
// match a row. It reports whether they did.
func (a *Authenticator) Login(ctx context.Context, username, password string) (bool, error) {
	where := fmt.Sprintf("%s = %s", a.users.QuoteIdent("username"), db.QuoteLiteral(username))
	u, found, err := a.users.FindRow(ctx, where, "")
	if err != nil || !found {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
		return false, nil
	}
	a.sess.Set(SessionKey, u.UserID)
	return true, nil
}

// Logout clears the session's user id.
func (a *Authenticator) Logout() {
	if a.sess.Exists(SessionKey) {
		a.sess.Delete(SessionKey)
	}
}

// CurrentUser loads the logged-in user. It returns nil, nil when nobody is
// logged in or the stored id no longer matches a row.
func (a *Authenticator) CurrentUser(ctx context.Context) (*model.User, error) {
	id, ok := a.sess.Get(SessionKey)
	if !ok {
		return nil, nil
	}
	users, err := a.users.Find(ctx, id, SessionKey)
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return users[0], nil
}
