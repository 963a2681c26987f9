package repo

import (
	"context"
	"fmt"

	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/mapper"
	"github.com/Skryldev/useradmin/model"
	"github.com/Skryldev/useradmin/table"
)

// ─────────────────────────────────────────────────────────────────────────────
// UserRepository interface — for faking in tests
// ─────────────────────────────────────────────────────────────────────────────

// UserRepository is the typed account API the admin pages use. Lookups that
// match nothing return db.ErrNotFound.
type UserRepository interface {
	Insert(ctx context.Context, params model.CreateUserParams) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
	Update(ctx context.Context, params model.UpdateUserParams) (*model.User, error)
	DeleteByUsername(ctx context.Context, username string) error
	Count(ctx context.Context) (int64, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// userRepo — concrete implementation
// ─────────────────────────────────────────────────────────────────────────────

type userRepo struct {
	m *mapper.Mapper[*model.User]
}

// NewUserRepo returns a UserRepository backed by m.
func NewUserRepo(m *mapper.Mapper[*model.User]) UserRepository {
	return &userRepo{m: m}
}

// Column names of the Users table.
const (
	colID       = "UserId"
	colUsername = "username"
	colPassword = "password"
	colEmail    = "email"
)

// ─────────────────────────────────────────────────────────────────────────────
// Insert
// ─────────────────────────────────────────────────────────────────────────────

// Insert creates a new account. A taken username or email surfaces as
// db.ErrDuplicateKey.
func (r *userRepo) Insert(ctx context.Context, params model.CreateUserParams) error {
	_, err := r.m.Insert(ctx,
		[]string{colUsername, colPassword, colEmail},
		[]any{params.Username, params.Password, params.Email},
	)
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

func (r *userRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	users, err := r.m.Find(ctx, id, colID)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("repo/user: id %d: %w", id, db.ErrNotFound)
	}
	return users[0], nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, found, err := r.m.FindRow(ctx, r.eq(colUsername, username), "")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("repo/user: username %q: %w", username, db.ErrNotFound)
	}
	return u, nil
}

// List returns a page of users ordered by id. A non-positive limit returns
// every user from the start.
func (r *userRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	var opts []table.FindOption
	if limit > 0 {
		opts = append(opts, table.WithLimit(limit), table.WithOffset(offset))
	}
	users, err := r.m.FindAll(ctx, "", r.m.QuoteIdent(colID), opts...)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Update — partial update
// ─────────────────────────────────────────────────────────────────────────────

// Update writes the non-nil fields of params and returns the stored record.
// With nothing to change it returns the current record. A missing id is
// db.ErrNotFound.
func (r *userRepo) Update(ctx context.Context, params model.UpdateUserParams) (*model.User, error) {
	set := make(map[string]any, 2)
	if params.Password != nil {
		set[colPassword] = *params.Password
	}
	if params.Email != nil {
		set[colEmail] = *params.Email
	}
	if len(set) == 0 {
		return r.GetByID(ctx, params.UserID)
	}

	where := fmt.Sprintf("%s = %d", r.m.QuoteIdent(colID), params.UserID)
	// Zero affected rows is ambiguous on drivers that count changed rows;
	// the re-read below decides between "unchanged" and db.ErrNotFound.
	if _, err := r.m.Update(ctx, set, where); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, params.UserID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete
// ─────────────────────────────────────────────────────────────────────────────

// DeleteByUsername removes one account. Returns db.ErrNotFound if no row was
// deleted.
func (r *userRepo) DeleteByUsername(ctx context.Context, username string) error {
	n, err := r.m.Delete(ctx, r.eq(colUsername, username))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repo/user: username %q: %w", username, db.ErrNotFound)
	}
	return nil
}

// Count returns the total number of users.
func (r *userRepo) Count(ctx context.Context) (int64, error) {
	return r.m.Count(ctx, "")
}

// eq renders "column = 'value'" for the raw WHERE fragments the mapper takes.
func (r *userRepo) eq(column, value string) string {
	return r.m.QuoteIdent(column) + " = " + db.QuoteLiteral(value)
}

var _ UserRepository = (*userRepo)(nil)
