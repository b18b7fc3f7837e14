package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/user"
	inmemdb "github.com/trezcool/eduanalytics/storage/database/inmem"
	testutil "github.com/trezcool/eduanalytics/tests"
)

const strongPwd = "Str0ng!Passw"

func newService() (*user.Service, user.Repository) {
	validate, _ := testutil.NewValidator()
	repo := inmemdb.NewUserRepository(inmemdb.New())
	return user.NewService(repo, validate), repo
}

// fieldTag returns the tag of the first validation error reported on field.
func fieldTag(err error, field string) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ""
	}
	for _, fe := range verrs {
		if fe.Field() == field {
			return fe.Tag()
		}
	}
	return ""
}

func TestService_Create(t *testing.T) {
	svc, repo := newService()
	testutil.CreateUser(t, repo, "Taken", "taken@test.edu", strongPwd, user.RoleTeacher, true)

	newUser := func(email, pwd, confirm, role string) user.NewUser {
		return user.NewUser{Name: "Alice", Email: email, Role: role, Password: pwd, PasswordConfirm: confirm}
	}

	tests := []struct {
		name    string
		nu      user.NewUser
		field   string
		wantTag string
	}{
		{name: "too short", nu: newUser("a@test.edu", "Sh0rt!", "Sh0rt!", user.RoleAdmin), field: "password", wantTag: "pwdminlen"},
		{name: "whitespace", nu: newUser("a@test.edu", "Str0ng! Passw", "Str0ng! Passw", user.RoleAdmin), field: "password", wantTag: "pwdnospace"},
		{name: "all numeric", nu: newUser("a@test.edu", "1234567890", "1234567890", user.RoleAdmin), field: "password", wantTag: "pwdnotallnum"},
		{name: "not complex", nu: newUser("a@test.edu", "weakpassword", "weakpassword", user.RoleAdmin), field: "password", wantTag: "pwdcplx"},
		{name: "mismatch", nu: newUser("a@test.edu", strongPwd, strongPwd+"?", user.RoleAdmin), field: "password_confirm", wantTag: "eqfield"},
		{name: "unknown role", nu: newUser("a@test.edu", strongPwd, strongPwd, "student"), field: "role", wantTag: "role"},
		{name: "invalid email", nu: newUser("nope", strongPwd, strongPwd, user.RoleAdmin), field: "email", wantTag: "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.nu)
			require.Error(t, err)
			assert.Equal(t, tt.wantTag, fieldTag(err, tt.field), err.Error())
		})
	}

	t.Run("email taken", func(t *testing.T) {
		_, err := svc.Create(context.Background(), newUser(" TAKEN@test.edu", strongPwd, strongPwd, user.RoleAdmin))
		require.True(t, core.IsValidationError(err))
		assert.Equal(t, user.ErrEmailExists.Error(), err.Error())
	})

	t.Run("created", func(t *testing.T) {
		usr, err := svc.Create(context.Background(), newUser(" Alice@Test.edu ", strongPwd, strongPwd, " ADMIN"))
		require.NoError(t, err)
		assert.NotZero(t, usr.ID)
		assert.Equal(t, "alice@test.edu", usr.Email)
		assert.Equal(t, user.RoleAdmin, usr.Role)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword(strongPwd))
	})
}

func TestService_Ensure(t *testing.T) {
	svc, repo := newService()
	old := testutil.CreateUser(t, repo, "Old", "old@test.edu", "Old!Passw0rd", user.RoleTeacher, false)

	usr, err := svc.Ensure(context.Background(), user.NewUser{
		Name: "Renamed", Email: "old@test.edu", Role: user.RoleAdmin, Password: strongPwd, PasswordConfirm: strongPwd,
	})
	require.NoError(t, err)
	assert.Equal(t, old.ID, usr.ID)
	assert.Equal(t, "Renamed", usr.Name)
	assert.Equal(t, user.RoleAdmin, usr.Role)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword(strongPwd))

	created, err := svc.Ensure(context.Background(), user.NewUser{
		Name: "New", Email: "new@test.edu", Role: user.RoleTeacher, Password: strongPwd, PasswordConfirm: strongPwd,
	})
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, created.ID)
}

func TestService_SetPassword(t *testing.T) {
	svc, repo := newService()
	testutil.CreateUser(t, repo, "Alice", "alice@test.edu", strongPwd, user.RoleAdmin, true)

	_, err := svc.SetPassword(context.Background(), user.SetUserPassword{Email: "ghost@test.edu", Password: strongPwd, PasswordConfirm: strongPwd})
	assert.True(t, core.IsNotFound(err))

	_, err = svc.SetPassword(context.Background(), user.SetUserPassword{Email: "alice@test.edu", Password: "short", PasswordConfirm: "short"})
	assert.Equal(t, "pwdminlen", fieldTag(err, "password"))

	usr, err := svc.SetPassword(context.Background(), user.SetUserPassword{Email: "ALICE@test.edu", Password: "N3w!Secret", PasswordConfirm: "N3w!Secret"})
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("N3w!Secret"))
	assert.Error(t, usr.CheckPassword(strongPwd))
}

func TestService_Authenticate(t *testing.T) {
	svc, repo := newService()
	testutil.CreateUser(t, repo, "Alice", "alice@test.edu", strongPwd, user.RoleAdmin, true)
	testutil.CreateUser(t, repo, "Gone", "gone@test.edu", strongPwd, user.RoleTeacher, false)

	tests := []struct {
		name    string
		email   string
		pwd     string
		wantErr error
	}{
		{name: "unknown email", email: "ghost@test.edu", pwd: strongPwd, wantErr: user.ErrInvalidCredentials},
		{name: "wrong password", email: "alice@test.edu", pwd: "nope", wantErr: user.ErrInvalidCredentials},
		{name: "deactivated", email: "gone@test.edu", pwd: strongPwd, wantErr: user.ErrAccountDeactivated},
		{name: "authenticated", email: " Alice@test.edu", pwd: strongPwd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			usr, err := svc.Authenticate(context.Background(), tt.email, tt.pwd)
			if tt.wantErr != nil {
				require.Error(t, err)
				if verr, ok := errors.Cause(err).(*core.ValidationError); ok {
					assert.Equal(t, tt.wantErr, verr.Err)
				} else {
					assert.Equal(t, tt.wantErr, err)
				}
				return
			}
			require.NoError(t, err)
			require.True(t, usr.LastLogin.Valid)
			assert.False(t, usr.LastLogin.Time.Before(before))
		})
	}
}
