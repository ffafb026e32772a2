package users

import (
	"context"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	FullName     string     `json:"full_name"`
	PasswordHash string     `json:"-"`
	Role         auth.Role  `json:"role"`
	Active       bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Repository persists accounts. Create and Update return ErrEmailTaken or
// ErrUsernameTaken when a uniqueness constraint is violated.
type Repository interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id string) (*User, error)
	// GetByLogin matches either the username or the email, case-insensitively.
	GetByLogin(ctx context.Context, login string) (*User, error)
	Update(ctx context.Context, user User) error
	List(ctx context.Context, offset, limit int) ([]User, int, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}
