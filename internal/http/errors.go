package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autopilot/internal/autopilot"
)

// statusFor maps an error class to its HTTP status code.
func statusFor(kind autopilot.ErrorKind) int {
	switch kind {
	case autopilot.KindInvalidRequest:
		return http.StatusBadRequest
	case autopilot.KindNotFound, autopilot.KindTaskNotFound:
		return http.StatusNotFound
	case autopilot.KindWorkflowExists, autopilot.KindInvalidTransition, autopilot.KindConflict:
		return http.StatusConflict
	case autopilot.KindValidationFailed, autopilot.KindMaxAttempts, autopilot.KindInvalidTask,
		autopilot.KindSecrets, autopilot.KindGit:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse. result is attached when non-nil.
func (s *Server) fail(c echo.Context, err error, result any) error {
	kind := autopilot.Classify(err)
	code := statusFor(kind)
	c.Set(errorKindKey, string(kind))
	if code >= http.StatusInternalServerError {
		s.logger.Error("workflow operation failed",
			zap.String("path", c.Path()),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	body := ErrorResponse{
		Error: err.Error(),
		Kind:  string(kind),
		Hint:  autopilot.Hint(err),
	}
	if !isNil(result) {
		body.Result = result
	}
	return c.JSON(code, body)
}

func isNil(v any) bool {
	switch r := v.(type) {
	case nil:
		return true
	case *autopilot.Status:
		return r == nil
	case *autopilot.NextAction:
		return r == nil
	case *autopilot.CommitResult:
		return r == nil
	case *autopilot.AbortResult:
		return r == nil
	default:
		return false
	}
}

func badBody(c echo.Context, err error) error {
	c.Set(errorKindKey, string(autopilot.KindInvalidRequest))
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: "invalid request body: " + err.Error(),
		Kind:  string(autopilot.KindInvalidRequest),
	})
}
