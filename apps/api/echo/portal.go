package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core/portal"
)

type portalApi struct {
	svc *portal.Service
}

func registerPortalAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *portal.Service) {
	api := portalApi{svc: svc}

	tg := g.Group("/tasks", jwt)
	tg.GET("", api.queryTasks)
	tg.POST("", api.createTask)
	tg.GET("/:id", api.retrieveTask)
	tg.PUT("/:id", api.updateTask)
	tg.DELETE("/:id", api.destroyTask)

	ag := g.Group("/assignments", jwt)
	ag.GET("", api.queryAssignments)
	ag.POST("", api.createAssignment)
	ag.GET("/:id", api.retrieveAssignment)
	ag.PUT("/:id", api.updateAssignment)
	ag.DELETE("/:id", api.destroyAssignment)
	ag.GET("/:id/stats", api.assignmentStats)

	sg := g.Group("/submissions", jwt)
	sg.GET("", api.querySubmissions)
	sg.POST("", api.createSubmission)
	sg.GET("/:id", api.retrieveSubmission)
	sg.PUT("/:id", api.updateSubmission)
	sg.DELETE("/:id", api.destroySubmission)
}

// Tasks

func (api *portalApi) queryTasks(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	var filter portal.TaskFilter
	if err = ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to TaskFilter")
	}
	tasks, err := api.svc.QueryTasks(ctx.Request().Context(), who, filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tasks)
}

func (api *portalApi) createTask(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	var data portal.NewTask
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTask")
	}
	task, err := api.svc.CreateTask(ctx.Request().Context(), who, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, task)
}

func (api *portalApi) retrieveTask(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	task, err := api.svc.GetTask(ctx.Request().Context(), who, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, task)
}

func (api *portalApi) updateTask(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	var data portal.UpdateTask
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTask")
	}
	task, err := api.svc.UpdateTask(ctx.Request().Context(), who, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, task)
}

func (api *portalApi) destroyTask(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteTask(ctx.Request().Context(), who, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Assignments

func (api *portalApi) queryAssignments(ctx echo.Context) error {
	assignments, err := api.svc.QueryAssignments(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	return ctx.JSON(http.StatusOK, assignments)
}

func (api *portalApi) createAssignment(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	var data portal.NewAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}
	asg, err := api.svc.CreateAssignment(ctx.Request().Context(), who, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, asg)
}

func (api *portalApi) retrieveAssignment(ctx echo.Context) error {
	asg, err := api.svc.GetAssignment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, asg)
}

func (api *portalApi) updateAssignment(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	var data portal.UpdateAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAssignment")
	}
	asg, err := api.svc.UpdateAssignment(ctx.Request().Context(), who, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, asg)
}

func (api *portalApi) destroyAssignment(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteAssignment(ctx.Request().Context(), who, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *portalApi) assignmentStats(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	stats, err := api.svc.AssignmentStats(ctx.Request().Context(), who, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}

// Submissions

func (api *portalApi) querySubmissions(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	filter := portal.SubmissionFilter{AssignmentID: ctx.QueryParam("assignment_id")}
	subs, err := api.svc.QuerySubmissions(ctx.Request().Context(), who, filter)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *portalApi) createSubmission(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	var data portal.NewSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	sub, err := api.svc.CreateSubmission(ctx.Request().Context(), who, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *portalApi) retrieveSubmission(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	sub, err := api.svc.GetSubmission(ctx.Request().Context(), who, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *portalApi) updateSubmission(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	var data portal.UpdateSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSubmission")
	}
	sub, err := api.svc.UpdateSubmission(ctx.Request().Context(), who, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *portalApi) destroySubmission(ctx echo.Context) error {
	who, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteSubmission(ctx.Request().Context(), who, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
