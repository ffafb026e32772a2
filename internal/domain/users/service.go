package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/ids"
	"github.com/Togather-Foundation/attend/internal/sanitize"
	"github.com/Togather-Foundation/attend/internal/validation"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Error types for user domain operations
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInactive           = errors.New("user account is inactive")
	ErrForbidden          = errors.New("not allowed to manage users")
)

const (
	// DefaultRole is the role given to self-registered accounts
	DefaultRole = auth.RoleAttendee

	// BcryptCost is the cost factor for bcrypt password hashing
	BcryptCost = 12

	DefaultLimit = 20
	MaxLimit     = 100
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Generate(subject, role string) (string, error)
	Expiry() time.Duration
}

// Service handles account registration, login and administration.
type Service struct {
	repo   Repository
	tokens TokenIssuer
	cost   int
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, tokens TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		cost:   BcryptCost,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "users").Logger(),
	}
}

// SetBcryptCost lowers the hashing cost, for tests.
func (s *Service) SetBcryptCost(cost int) {
	s.cost = cost
}

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"max=255"`
}

type ProfileInput struct {
	Email    *string `json:"email" validate:"omitempty,email,max=255"`
	FullName *string `json:"full_name" validate:"omitempty,max=255"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

type AdminInput struct {
	Role   *string `json:"role" validate:"omitempty,oneof=admin organizer attendee"`
	Active *bool   `json:"is_active"`
}

// Token is the response of a successful login.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Register creates a self-service attendee account.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	return s.create(ctx, input, DefaultRole)
}

func (s *Service) create(ctx context.Context, input RegisterInput, role auth.Role) (*User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Username = strings.TrimSpace(input.Username)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	id, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := s.now()
	user := User{
		ID:           id,
		Email:        input.Email,
		Username:     input.Username,
		FullName:     sanitize.Line(input.FullName),
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("role", string(user.Role)).
		Msg("user registered")
	return &user, nil
}

// Authenticate verifies a username-or-email and password pair.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*User, error) {
	user, err := s.repo.GetByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("password validation error")
		}
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInactive
	}

	now := s.now()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record login time")
	} else {
		user.LastLoginAt = &now
	}
	return user, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, login, password string) (Token, error) {
	user, err := s.Authenticate(ctx, login, password)
	if err != nil {
		return Token{}, err
	}
	signed, err := s.tokens.Generate(user.ID, string(user.Role))
	if err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}
	return Token{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokens.Expiry().Seconds()),
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateProfile changes the caller's own email, name or password.
func (s *Service) UpdateProfile(ctx context.Context, id string, input ProfileInput) (*User, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*input.Email))
	}
	if input.FullName != nil {
		user.FullName = sanitize.Line(*input.FullName)
	}
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), s.cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}
	user.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, *user); err != nil {
		return nil, err
	}
	return user, nil
}

// AdminUpdate changes another account's role or active flag.
func (s *Service) AdminUpdate(ctx context.Context, actor auth.Principal, id string, input AdminInput) (*User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Role != nil {
		user.Role = auth.Role(*input.Role)
	}
	if input.Active != nil {
		user.Active = *input.Active
	}
	user.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, *user); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("role", string(user.Role)).
		Bool("active", user.Active).
		Str("updated_by", actor.UserID).
		Msg("user updated by admin")
	return user, nil
}

func (s *Service) List(ctx context.Context, actor auth.Principal, offset, limit int) ([]User, int, error) {
	if !actor.IsAdmin() {
		return nil, 0, ErrForbidden
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return s.repo.List(ctx, offset, limit)
}

// EnsureAdmin creates the bootstrap admin account when no account with
// that username or email exists yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, username, password string) (*User, bool, error) {
	for _, login := range []string{username, email} {
		existing, err := s.repo.GetByLogin(ctx, login)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, false, err
		}
	}
	user, err := s.create(ctx, RegisterInput{
		Email:    email,
		Username: username,
		Password: password,
		FullName: "Administrator",
	}, auth.RoleAdmin)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}
