package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStart(c echo.Context) error {
	var req autopilot.StartRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, err)
	}
	status, err := s.svc.Start(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, err, status)
	}
	return c.JSON(http.StatusCreated, status)
}

func (s *Server) handleResume(c echo.Context) error {
	return s.projectOp(c, s.svc.Resume)
}

func (s *Server) handleFinalize(c echo.Context) error {
	return s.projectOp(c, s.svc.Finalize)
}

func (s *Server) handleRetry(c echo.Context) error {
	return s.projectOp(c, s.svc.Retry)
}

// projectOp binds a ProjectRequest and runs op on it.
func (s *Server) projectOp(c echo.Context, op func(ctx context.Context, root string) (*autopilot.Status, error)) error {
	var req ProjectRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, err)
	}
	status, err := op(c.Request().Context(), req.ProjectRoot)
	if err != nil {
		return s.fail(c, err, status)
	}
	return c.JSON(http.StatusOK, status)
}

// handleComplete reports the RED or GREEN test run. A rejected run answers
// with the error and the updated status, which records the failed attempt.
func (s *Server) handleComplete(c echo.Context) error {
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, err)
	}
	status, err := s.svc.Complete(c.Request().Context(), req.ProjectRoot, req.TestCounts)
	if err != nil {
		return s.fail(c, err, status)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleCommit(c echo.Context) error {
	var req autopilot.CommitRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, err)
	}
	res, err := s.svc.Commit(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, err, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleAbort(c echo.Context) error {
	var req autopilot.AbortRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, err)
	}
	res, err := s.svc.Abort(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, err, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStatus(c echo.Context) error {
	status, err := s.svc.Status(c.Request().Context(), c.QueryParam("project_root"))
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleNext(c echo.Context) error {
	next, err := s.svc.Next(c.Request().Context(), c.QueryParam("project_root"))
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, next)
}
