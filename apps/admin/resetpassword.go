package main

import (
	"context"

	"github.com/trezcool/eduanalytics/core/user"
)

func (cli *commandLine) resetPassword(email, pwd, confirm string) error {
	_, err := cli.usrSvc.SetPassword(context.Background(), user.SetUserPassword{
		Email:           email,
		Password:        pwd,
		PasswordConfirm: confirm,
	})
	return err
}
