package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/Togather-Foundation/attend/internal/auth"
	"github.com/Togather-Foundation/attend/internal/domain/users"
	"github.com/Togather-Foundation/attend/internal/storage/memory"
	"github.com/Togather-Foundation/attend/internal/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const secret = "users-test-secret-users-test-secret"

func newService(t *testing.T) (*users.Service, *auth.JWTManager) {
	t.Helper()
	tokens := auth.NewJWTManager(secret, time.Hour, "attend-test")
	svc := users.NewService(memory.New().Users(), tokens, zerolog.Nop())
	svc.SetBcryptCost(bcrypt.MinCost)
	return svc, tokens
}

func register(t *testing.T, svc *users.Service, name string) *users.User {
	t.Helper()
	u, err := svc.Register(context.Background(), users.RegisterInput{
		Email:    "  " + name + "@Example.org ",
		Username: name,
		Password: name + "-password",
		FullName: "<b>" + name + "</b>",
	})
	require.NoError(t, err)
	return u
}

func TestRegisterNormalisesAndDefaultsToAttendee(t *testing.T) {
	svc, _ := newService(t)
	u := register(t, svc, "alice")

	require.Equal(t, "alice@example.org", u.Email)
	require.Equal(t, auth.RoleAttendee, u.Role)
	require.True(t, u.Active)
	require.NotContains(t, u.FullName, "<b>")
	require.NotEqual(t, "alice-password", u.PasswordHash)

	_, err := svc.Register(context.Background(), users.RegisterInput{Email: "ALICE@example.org", Username: "other", Password: "password123"})
	require.ErrorIs(t, err, users.ErrEmailTaken)
	_, err = svc.Register(context.Background(), users.RegisterInput{Email: "new@example.org", Username: "alice", Password: "password123"})
	require.ErrorIs(t, err, users.ErrUsernameTaken)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Register(context.Background(), users.RegisterInput{Email: "nope", Username: "ab", Password: "short"})

	var verr validation.Errors
	require.ErrorAs(t, err, &verr)
	fields := map[string]bool{}
	for _, fe := range verr {
		fields[fe.Field] = true
	}
	require.True(t, fields["email"])
	require.True(t, fields["username"])
	require.True(t, fields["password"])
}

func TestLoginIssuesTokenForUsernameOrEmail(t *testing.T) {
	svc, tokens := newService(t)
	u := register(t, svc, "bob")
	ctx := context.Background()

	for _, login := range []string{"bob", "bob@example.org"} {
		tok, err := svc.Login(ctx, login, "bob-password")
		require.NoError(t, err, login)
		require.Equal(t, "bearer", tok.TokenType)
		require.Equal(t, 3600, tok.ExpiresIn)

		claims, err := tokens.Validate(tok.AccessToken)
		require.NoError(t, err)
		require.Equal(t, auth.Principal{UserID: u.ID, Role: auth.RoleAttendee}, claims.Principal())
	}

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)

	_, err = svc.Login(ctx, "bob", "wrong-password")
	require.ErrorIs(t, err, users.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody", "bob-password")
	require.ErrorIs(t, err, users.ErrInvalidCredentials, "unknown logins are indistinguishable from bad passwords")
}

func TestAdminUpdate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin, created, err := svc.EnsureAdmin(ctx, "admin@example.org", "admin", "admin-password")
	require.NoError(t, err)
	require.True(t, created)
	carol := register(t, svc, "carol")

	organizer := "organizer"
	_, err = svc.AdminUpdate(ctx, auth.Principal{UserID: carol.ID, Role: auth.RoleAttendee}, carol.ID, users.AdminInput{Role: &organizer})
	require.ErrorIs(t, err, users.ErrForbidden)

	adminActor := auth.Principal{UserID: admin.ID, Role: auth.RoleAdmin}
	bogus := "superuser"
	_, err = svc.AdminUpdate(ctx, adminActor, carol.ID, users.AdminInput{Role: &bogus})
	var verr validation.Errors
	require.ErrorAs(t, err, &verr)

	inactive := false
	updated, err := svc.AdminUpdate(ctx, adminActor, carol.ID, users.AdminInput{Role: &organizer, Active: &inactive})
	require.NoError(t, err)
	require.Equal(t, auth.RoleOrganizer, updated.Role)

	_, err = svc.Login(ctx, "carol", "carol-password")
	require.ErrorIs(t, err, users.ErrInactive)

	_, err = svc.AdminUpdate(ctx, adminActor, "01ARZ3NDEKTSV4RRFFQ69G5FAV", users.AdminInput{Active: &inactive})
	require.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestUpdateProfileChangesPassword(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	u := register(t, svc, "dave")

	password := "brand-new-password"
	name := "Dave D"
	_, err := svc.UpdateProfile(ctx, u.ID, users.ProfileInput{Password: &password, FullName: &name})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "dave", "dave-password")
	require.ErrorIs(t, err, users.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "dave", password)
	require.NoError(t, err)

	short := "tiny"
	_, err = svc.UpdateProfile(ctx, u.ID, users.ProfileInput{Password: &short})
	var verr validation.Errors
	require.ErrorAs(t, err, &verr)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, created, err := svc.EnsureAdmin(ctx, "admin@example.org", "admin", "admin-password")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, auth.RoleAdmin, first.Role)

	again, created, err := svc.EnsureAdmin(ctx, "admin@example.org", "admin", "other-password")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)
}

func TestListRequiresAdminAndClampsLimit(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin, _, err := svc.EnsureAdmin(ctx, "admin@example.org", "admin", "admin-password")
	require.NoError(t, err)
	register(t, svc, "erin")

	_, _, err = svc.List(ctx, auth.Principal{UserID: "x", Role: auth.RoleOrganizer}, 0, 10)
	require.ErrorIs(t, err, users.ErrForbidden)

	list, total, err := svc.List(ctx, auth.Principal{UserID: admin.ID, Role: auth.RoleAdmin}, -5, 1000)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, list, 2)
}
