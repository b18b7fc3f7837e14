package echoapi

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/ingest"
	"github.com/trezcool/eduanalytics/core/user"
)

const (
	uploadField          = "file"
	defaultUploadMaxSize = "10M"
)

var (
	errNoFile     = errors.New("no file uploaded")
	errNotCSVFile = errors.New("only CSV files are accepted")
)

type uploadApi struct {
	pipeline *ingest.Pipeline
	userSvc  *user.Service
}

func registerUploadAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	conf *core.Config,
	pipeline *ingest.Pipeline,
	userSvc *user.Service,
) {
	api := uploadApi{pipeline: pipeline, userSvc: userSvc}

	limit := conf.Server.UploadMaxSize
	if limit == "" {
		limit = defaultUploadMaxSize
	}
	g.POST("/admin/uploads", api.upload, jwt, roleMiddleware(user.RoleAdmin), middleware.BodyLimit(limit))
}

func fileError(err error) error {
	return core.NewValidationError(err, core.FieldError{Field: uploadField, Error: err.Error()})
}

// upload ingests a CSV file of marks. The summary is returned with a 200 once the file was processed,
// even when rows were rejected; a storage failure returns the failed summary with a 500.
func (api *uploadApi) upload(ctx echo.Context) error {
	adminID, err := subjectID(ctx)
	if err != nil {
		return err
	}
	admin, err := api.userSvc.GetByID(ctx.Request().Context(), adminID)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return fileError(errNoFile)
	}
	if strings.ToLower(filepath.Ext(fh.Filename)) != ".csv" {
		return fileError(errNotCSVFile)
	}
	file, err := fh.Open()
	if err != nil {
		return fileError(errors.Wrap(ingest.ErrInvalidFile, err.Error()))
	}
	defer file.Close()

	res, err := api.pipeline.Ingest(ctx.Request().Context(), ingest.Request{
		Filename: filepath.Base(fh.Filename),
		Admin:    admin,
		Reader:   file,
	})
	if ingest.IsPersistenceFailure(err) {
		return ctx.JSON(http.StatusInternalServerError, res)
	} else if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}
