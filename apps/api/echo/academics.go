package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/user"
)

type academicsApi struct {
	svc *academics.Service
}

func registerAcademicsAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *academics.Service) {
	api := academicsApi{svc: svc}

	// read endpoints are open to all the staff, writes to admins
	staff := g.Group("/admin", jwt, roleMiddleware(user.RoleAdmin, user.RoleTeacher))
	admin := roleMiddleware(user.RoleAdmin)

	staff.GET("/uploads", api.queryUploads)
	staff.DELETE("/uploads/last", api.destroyLastUpload, admin)

	staff.GET("/students", api.queryStudents)
	staff.POST("/students", api.createStudent, admin)
	staff.GET("/students/:id", api.retrieveStudent)
	staff.PUT("/students/:id", api.updateStudent, admin)
	staff.DELETE("/students/:id", api.destroyStudent, admin)

	staff.POST("/marks", api.upsertMark, admin)
	staff.PUT("/marks/:id", api.updateMark, admin)
	staff.DELETE("/marks/:id", api.destroyMark, admin)

	staff.GET("/batches", api.queryBatches)
	staff.GET("/batches/tree", api.batchTrees)
	staff.GET("/batches/:id/grade-distribution", api.gradeDistribution)
	staff.DELETE("/batches/:id", api.destroyBatch, admin)

	staff.GET("/subjects", api.querySubjects)
	staff.POST("/subjects", api.createSubject, admin)
	staff.PUT("/subjects/:id", api.updateSubject, admin)
	staff.DELETE("/subjects/:id", api.destroySubject, admin)

	staff.GET("/batch-subjects", api.queryBatchSubjects)
	staff.POST("/batch-subjects", api.addBatchSubject, admin)
	staff.DELETE("/batch-subjects/:id", api.removeBatchSubject, admin)
}

// Upload history

func (api *academicsApi) queryUploads(ctx echo.Context) error {
	adminID, err := subjectID(ctx)
	if err != nil {
		return err
	}
	logs, err := api.svc.QueryUploadLogs(ctx.Request().Context(), adminID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, logs)
}

func (api *academicsApi) destroyLastUpload(ctx echo.Context) error {
	adminID, err := subjectID(ctx)
	if err != nil {
		return err
	}
	del, err := api.svc.DeleteLastUpload(ctx.Request().Context(), adminID, ctx.QueryParam("batch_year"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, del)
}

// Students

func studentFilter(ctx echo.Context) (academics.StudentFilter, error) {
	filter := academics.StudentFilter{
		BatchYear: ctx.QueryParam("batch_year"),
		Search:    ctx.QueryParam("search"),
	}
	if v := ctx.QueryParam("batch_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return filter, core.NewValidationError(err, core.FieldError{Field: "batch_id", Error: "must be an integer"})
		}
		filter.BatchID = id
	}
	if v := ctx.QueryParam("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return filter, core.NewValidationError(err, core.FieldError{Field: "is_active", Error: "must be a boolean"})
		}
		filter.IsActive = &active
	}
	return filter, nil
}

func (api *academicsApi) queryStudents(ctx echo.Context) error {
	filter, err := studentFilter(ctx)
	if err != nil {
		return err
	}
	students, err := api.svc.QueryStudents(ctx.Request().Context(), filter, bindOrderings(ctx)...)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *academicsApi) createStudent(ctx echo.Context) error {
	var data academics.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	st, err := api.svc.CreateStudent(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *academicsApi) retrieveStudent(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	detail, err := api.svc.GetStudentDetail(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *academicsApi) updateStudent(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data academics.UpdateStudent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	st, err := api.svc.UpdateStudent(ctx.Request().Context(), id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *academicsApi) destroyStudent(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteStudent(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Marks

func (api *academicsApi) upsertMark(ctx echo.Context) error {
	var data academics.UpsertMark
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpsertMark")
	}
	mark, created, err := api.svc.UpsertMark(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	if created {
		return ctx.JSON(http.StatusCreated, mark)
	}
	return ctx.JSON(http.StatusOK, mark)
}

func (api *academicsApi) updateMark(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data academics.MarkPatch
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkPatch")
	}
	mark, err := api.svc.UpdateMark(ctx.Request().Context(), id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, mark)
}

func (api *academicsApi) destroyMark(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteMark(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Batches

func (api *academicsApi) queryBatches(ctx echo.Context) error {
	batches, err := api.svc.QueryBatches(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, batches)
}

func (api *academicsApi) batchTrees(ctx echo.Context) error {
	trees, err := api.svc.BatchTrees(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "building batch trees")
	}
	return ctx.JSON(http.StatusOK, trees)
}

func (api *academicsApi) gradeDistribution(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var filter academics.GradeDistributionFilter
	if err = ctx.Bind(&filter); err != nil {
		return core.NewValidationError(err)
	}
	dist, err := api.svc.GradeDistribution(ctx.Request().Context(), id, filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, dist)
}

func (api *academicsApi) destroyBatch(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteBatch(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Subjects

func (api *academicsApi) querySubjects(ctx echo.Context) error {
	subjects, err := api.svc.QuerySubjects(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *academicsApi) createSubject(ctx echo.Context) error {
	var data academics.NewSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	subj, err := api.svc.CreateSubject(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, subj)
}

func (api *academicsApi) updateSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data academics.UpdateSubject
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSubject")
	}
	subj, err := api.svc.UpdateSubject(ctx.Request().Context(), id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, subj)
}

func (api *academicsApi) destroySubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteSubject(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Batch subjects

func (api *academicsApi) queryBatchSubjects(ctx echo.Context) error {
	var filter academics.BatchSubjectFilter
	if err := ctx.Bind(&filter); err != nil {
		return core.NewValidationError(err)
	}
	mappings, err := api.svc.QueryBatchSubjects(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying batch subjects")
	}
	return ctx.JSON(http.StatusOK, mappings)
}

func (api *academicsApi) addBatchSubject(ctx echo.Context) error {
	var data academics.NewBatchSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBatchSubject")
	}
	bs, err := api.svc.AddBatchSubject(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, bs)
}

func (api *academicsApi) removeBatchSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.RemoveBatchSubject(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
