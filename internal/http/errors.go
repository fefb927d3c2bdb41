package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// writeError maps domain errors to status codes. Unknown errors are logged and
// hidden behind a generic 500.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, model.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, model.ErrPermissionDenied):
		status, code = http.StatusForbidden, "permission_denied"
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrConcurrency):
		status, code = http.StatusConflict, "conflict"
	}

	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(status, map[string]string{"error": code})
	}
	return c.JSON(status, map[string]string{"error": code, "description": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad_request", "description": msg})
}
