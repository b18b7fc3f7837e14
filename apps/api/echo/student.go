package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/eduanalytics/core/academics"
)

type studentApi struct {
	svc *academics.Service
}

func registerStudentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *academics.Service) {
	api := studentApi{svc: svc}

	sg := g.Group("/student", jwt, roleMiddleware(RoleStudent))
	sg.GET("/profile", api.profile)
	sg.GET("/dashboard", api.dashboard)
	sg.GET("/marks", api.marks)
	sg.GET("/class-performance", api.classPerformance)

	cg := g.Group("/compare", jwt)
	cg.GET("/students/:id1/:id2", api.compareStudents)
	cg.GET("/batches/:id1/:id2", api.compareBatches)
}

func (api *studentApi) profile(ctx echo.Context) error {
	id, err := subjectID(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.GetStudent(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *studentApi) dashboard(ctx echo.Context) error {
	id, err := subjectID(ctx)
	if err != nil {
		return err
	}
	dash, err := api.svc.StudentDashboard(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, dash)
}

func (api *studentApi) marks(ctx echo.Context) error {
	id, err := subjectID(ctx)
	if err != nil {
		return err
	}
	views, err := api.svc.StudentMarks(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api *studentApi) classPerformance(ctx echo.Context) error {
	id, err := subjectID(ctx)
	if err != nil {
		return err
	}
	perf, err := api.svc.StudentClassPerformance(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, perf)
}

func (api *studentApi) compareStudents(ctx echo.Context) error {
	id1, err := paramID(ctx, "id1")
	if err != nil {
		return err
	}
	id2, err := paramID(ctx, "id2")
	if err != nil {
		return err
	}
	cmp, err := api.svc.CompareStudents(ctx.Request().Context(), id1, id2)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cmp)
}

func (api *studentApi) compareBatches(ctx echo.Context) error {
	id1, err := paramID(ctx, "id1")
	if err != nil {
		return err
	}
	id2, err := paramID(ctx, "id2")
	if err != nil {
		return err
	}
	cmp, err := api.svc.CompareBatches(ctx.Request().Context(), id1, id2)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cmp)
}
