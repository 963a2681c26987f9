package model

import "github.com/Skryldev/useradmin/required"

// User represents a row in the "Users" table.
// Fields map 1-to-1 with columns; no automatic relation loading.
type User struct {
	UserID   int64  `json:"UserId"`
	Username string `json:"username"`
	Password string `json:"-"`
	Email    string `json:"email"`
}

var userColumns = required.New("UserId", "username", "password", "email")

// UserDescriptor is the Descriptor the user mapper is built from.
func UserDescriptor() Descriptor[*User] {
	name, _ := Conventional("user")
	return Descriptor[*User]{Name: name, New: func() *User { return &User{} }}
}

func (u *User) Required() required.Params { return userColumns }

// Populate leaves u untouched and reports false when a column is missing or
// UserId is not an integer.
func (u *User) Populate(row map[string]any) bool {
	if !required.Has(userColumns, row) {
		return false
	}
	id, ok := asInt64(row["UserId"])
	if !ok {
		return false
	}
	u.UserID = id
	u.Username = asString(row["username"])
	u.Password = asString(row["password"])
	u.Email = asString(row["email"])
	return true
}

func (u *User) ToMap() map[string]any {
	return map[string]any{
		"UserId":   u.UserID,
		"username": u.Username,
		"password": u.Password,
		"email":    u.Email,
	}
}

// CreateUserParams holds the fields of a new account. UserId is assigned
// by the database.
type CreateUserParams struct {
	Username string
	Password string
	Email    string
}

// UpdateUserParams holds the fields that can change. Nil pointers leave the
// column untouched.
type UpdateUserParams struct {
	UserID   int64
	Password *string
	Email    *string
}
