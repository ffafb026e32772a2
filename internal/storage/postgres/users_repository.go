package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/users"
	"github.com/Togather-Foundation/attend/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

const userColumns = `id, email, username, full_name, password_hash, role, is_active,
       created_at, updated_at, last_login_at`

func (r *UserRepository) Create(ctx context.Context, u users.User) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("user_create", start, err) }(time.Now())

	_, err = r.pool.Exec(ctx, `
INSERT INTO users (id, email, username, full_name, password_hash, role, is_active,
                   created_at, updated_at, last_login_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Email, u.Username, u.FullName, u.PasswordHash, string(u.Role), u.Active,
		u.CreatedAt, u.UpdatedAt, u.LastLoginAt)
	if err != nil {
		return userErr("insert user", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.getOne(ctx, "user_get", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*users.User, error) {
	return r.getOne(ctx, "user_get_by_login", `
SELECT `+userColumns+` FROM users
 WHERE lower(username) = lower($1) OR lower(email) = lower($1)
 ORDER BY lower(username) = lower($1) DESC
 LIMIT 1`, login)
}

func (r *UserRepository) Update(ctx context.Context, u users.User) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("user_update", start, err) }(time.Now())

	tag, err := r.pool.Exec(ctx, `
UPDATE users
   SET email = $2, username = $3, full_name = $4, password_hash = $5,
       role = $6, is_active = $7, updated_at = $8
 WHERE id = $1`,
		u.ID, u.Email, u.Username, u.FullName, u.PasswordHash, string(u.Role), u.Active, u.UpdatedAt)
	if err != nil {
		return userErr("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) (_ []users.User, _ int, err error) {
	defer func(start time.Time) { metrics.RecordQuery("user_list", start, err) }(time.Now())

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, lim, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []users.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return out, total, nil
}

func (r *UserRepository) TouchLogin(ctx context.Context, id string, at time.Time) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("user_touch_login", start, err) }(time.Now())

	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, op, query string, arg string) (_ *users.User, err error) {
	defer func(start time.Time) { metrics.RecordQuery(op, start, err) }(time.Now())

	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, users.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func scanUser(row pgx.Row) (users.User, error) {
	var (
		u    users.User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.PasswordHash, &role,
		&u.Active, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	u.Role = auth.Role(role)
	return u, err
}

func userErr(op string, err error) error {
	switch constraint, ok := uniqueViolation(err); {
	case ok && constraint == "users_email_key":
		return users.ErrEmailTaken
	case ok && constraint == "users_username_key":
		return users.ErrUsernameTaken
	}
	return fmt.Errorf("%s: %w", op, err)
}
