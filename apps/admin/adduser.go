package main

import (
	"context"
	"fmt"

	"github.com/trezcool/eduanalytics/core/user"
)

// addUser creates a staff user, or updates and reactivates the one with the same email.
func (cli *commandLine) addUser(name, email, role, pwd, confirm string) error {
	usr, err := cli.usrSvc.Ensure(context.Background(), user.NewUser{
		Name:            name,
		Email:           email,
		Role:            role,
		Password:        pwd,
		PasswordConfirm: confirm,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %s <%s> saved with role %s\n", usr.Name, usr.Email, usr.Role)
	return nil
}
