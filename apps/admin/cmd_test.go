package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/ingest"
	"github.com/trezcool/eduanalytics/core/user"
	inmemdb "github.com/trezcool/eduanalytics/storage/database/inmem"
	testutil "github.com/trezcool/eduanalytics/tests"
)

const strongPwd = "Str0ng!Passw"

type fixture struct {
	cli     *commandLine
	usrRepo user.Repository
	store   *inmemdb.AcademicsStore
	out     *bytes.Buffer
}

func setup(t *testing.T) fixture {
	validate, translator := testutil.NewValidator()
	logger := testutil.NewLogger()

	// set up DB & repos
	db := inmemdb.New()
	usrRepo := inmemdb.NewUserRepository(db)
	store := inmemdb.NewAcademicsStore(db)
	out := new(bytes.Buffer)

	// start CLI
	return fixture{
		cli: &commandLine{
			usrSvc:    user.NewService(usrRepo, validate),
			ingestion: ingest.NewPipeline(store, validate, translator, nil /* mailer */, logger),
			out:       out,
		},
		usrRepo: usrRepo,
		store:   store,
		out:     out,
	}
}

// passwords makes readPasswordFunc return pwds, one per call.
func passwords(pwds ...string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		if len(pwds) == 0 {
			return nil, nil
		}
		pwd := pwds[0]
		pwds = pwds[1:]
		return []byte(pwd), nil
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwds       []string
	wantErr    error
	wantErrStr string // a substring of the expected error
}

func (f fixture) run(t *testing.T, tests []cliTest, check func(t *testing.T, tt cliTest)) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			passwords(tt.pwds...)
			err := f.cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrStr)
			default:
				require.NoError(t, err)
				if check != nil {
					check(t, tt)
				}
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	f := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	f.run(t, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "add_index", "sql"}},
	}, nil)
}

func Test_commandLine_addUser(t *testing.T) {
	f := setup(t)
	testutil.CreateUser(t, f.usrRepo, "Former", "former@test.edu", "Old!Passw0rd", user.RoleTeacher, false)

	f.run(t, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-name", "Alice"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-name", "Alice", "-email", "alice@test.edu"}, wantErr: errHelp},
		{
			name: "passwords differ", args: []string{"adduser", "-name", "Alice", "-email", "alice@test.edu"},
			pwds: []string{strongPwd, strongPwd + "!"}, wantErrStr: "eqfield",
		},
		{name: "created", args: []string{"adduser", "-name", "Alice", "-email", "alice@test.edu"}, pwds: []string{strongPwd, strongPwd}},
		{
			name: "reactivated", args: []string{"adduser", "-name", "Former", "-email", "former@test.edu", "-role", "teacher"},
			pwds: []string{strongPwd, strongPwd},
		},
	}, func(t *testing.T, tt cliTest) {
		email := tt.args[4]
		usr, err := f.usrRepo.GetUserByEmail(context.Background(), email)
		require.NoError(t, err)
		assert.True(t, usr.IsActive)
		assert.NoError(t, usr.CheckPassword(strongPwd))
	})

	usr, err := f.usrRepo.GetUserByEmail(context.Background(), "alice@test.edu")
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, usr.Role)
}

func Test_commandLine_resetPassword(t *testing.T) {
	f := setup(t)
	usr := testutil.CreateUser(t, f.usrRepo, "User", "user@test.edu", strongPwd, user.RoleAdmin, true)

	f.run(t, []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", "user@test.edu"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol@test.edu"}, pwds: []string{"N3w!Secret", "N3w!Secret"}, wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-email", "USER@test.edu"}, pwds: []string{"N3w!Secret", "N3w!Secret"}},
	}, func(t *testing.T, tt cliTest) {
		refreshed, err := f.usrRepo.GetUserByID(context.Background(), usr.ID)
		require.NoError(t, err)
		assert.NotEqual(t, usr.PasswordHash, refreshed.PasswordHash)
		assert.NoError(t, refreshed.CheckPassword("N3w!Secret"))
	})
}

func Test_commandLine_ingest(t *testing.T) {
	f := setup(t)
	testutil.CreateUser(t, f.usrRepo, "Admin", "admin@test.edu", "", user.RoleAdmin, true)
	testutil.CreateUser(t, f.usrRepo, "Teacher", "teacher@test.edu", "", user.RoleTeacher, true)

	dir := t.TempDir()
	path := filepath.Join(dir, "marks.csv")
	content := "Register_No,Student_Name,Email,Batch_Year,Semester,Subject_Name,CA1,CA2,CA3,Semester_Marks,SEM_Grade,Date_of_Birth\n" +
		"21CS001,Alice,alice@test.edu,2021,1,Physics,40,45,50,72,,15-03-2003\n" +
		"21CS002,Bob,bob@test.edu,2021,1,Physics,140,45,50,72,,15-03-2003\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	f.run(t, []cliTest{
		{name: "no args", args: []string{"ingest"}, wantErr: errHelp},
		{name: "no admin", args: []string{"ingest", "-file", path}, wantErr: errHelp},
		{name: "unknown admin", args: []string{"ingest", "-file", path, "-admin", "lol@test.edu"}, wantErr: user.ErrNotFound},
		{name: "not an admin", args: []string{"ingest", "-file", path, "-admin", "teacher@test.edu"}, wantErr: errNotAdmin},
		{name: "empty file", args: []string{"ingest", "-file", empty, "-admin", "admin@test.edu"}, wantErrStr: "file is empty"},
		{name: "ingested", args: []string{"ingest", "-file", path, "-admin", "admin@test.edu"}},
	}, nil)

	out := f.out.String()
	assert.Contains(t, out, "marks.csv: "+ingest.StatusSuccess+", 1/2 rows ingested")
	assert.True(t, strings.Contains(out, "Row 3"), out)

	students, err := f.store.QueryStudents(context.Background(), academics.StudentFilter{})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "21CS001", students[0].RegisterNo)
}
