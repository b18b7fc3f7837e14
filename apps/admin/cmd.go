package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/eduanalytics/core/ingest"
	"github.com/trezcool/eduanalytics/core/user"
	"github.com/trezcool/eduanalytics/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword       // mockable
	gooseRunFunc     = database.RunMigrations // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sql.DB
	usrSvc    *user.Service
	ingestion *ingest.Pipeline
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  adduser -name NAME -email EMAIL [-role admin|teacher] - create or reactivate a staff user")
	fmt.Fprintln(cli.out, "  resetpassword -email EMAIL - reset a staff user's password")
	fmt.Fprintln(cli.out, "  ingest -file PATH -admin EMAIL - ingest a marks CSV file on behalf of an admin")
}

// promptPassword reads a password, then its confirmation, without echoing them.
func (cli *commandLine) promptPassword() (string, string, error) {
	read := func(prompt string) (string, error) {
		fmt.Fprint(cli.out, prompt)
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		return string(pwd), err
	}

	pwd, err := read("Enter password:")
	if err != nil || pwd == "" {
		return "", "", err
	}
	confirm, err := read("Confirm password:")
	return pwd, confirm, err
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserRole := addUserCmd.String("role", user.RoleAdmin, "The user's role: admin or teacher.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	ingestCmd := flag.NewFlagSet("ingest", flag.ExitOnError)
	ingestFile := ingestCmd.String("file", "", "The CSV file to ingest.")
	ingestAdmin := ingestCmd.String("admin", "", "The email of the admin the upload is recorded for.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, confirm, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserEmail, *addUserRole, pwd, confirm)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, confirm, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd, confirm)

	case "ingest":
		if err := ingestCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *ingestFile == "" || *ingestAdmin == "" {
			ingestCmd.Usage()
			return errHelp
		}
		return cli.ingest(*ingestFile, *ingestAdmin)

	default:
		cli.printUsage()
		return errHelp
	}
}
