package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core/ingest"
)

var errNotAdmin = errors.New("only active admins can ingest files")

func (cli *commandLine) ingest(path, adminEmail string) error {
	ctx := context.Background()
	admin, err := cli.usrSvc.GetByEmail(ctx, adminEmail)
	if err != nil {
		return err
	}
	if !admin.IsAdmin() || !admin.IsActive {
		return errNotAdmin
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening file")
	}
	defer func() { _ = f.Close() }()

	res, err := cli.ingestion.Ingest(ctx, ingest.Request{
		Filename: filepath.Base(path),
		Admin:    admin,
		Reader:   f,
	})
	if err != nil && !ingest.IsPersistenceFailure(err) {
		return err
	}

	fmt.Fprintf(cli.out, "%s: %s, %d/%d rows ingested\n", res.Filename, res.Status, res.SuccessCount, res.TotalRows)
	for _, rowErr := range res.Errors {
		fmt.Fprintf(cli.out, "  %s\n", rowErr)
	}
	return err
}
