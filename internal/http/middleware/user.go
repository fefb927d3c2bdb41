package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/messageboard/internal/util"
	echo "github.com/labstack/echo/v4"
)

const (
	HeaderUserID = "X-User-ID"

	ctxUserID = "user_id"
)

// UserIDFromCtx extracts the acting user set by UserMiddleware.
func UserIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxUserID).(string)
	return id, ok && id != ""
}

// UserMiddleware reads the acting user from the X-User-ID header. The id must
// be a lowercase UUID. Authentication happens upstream of this service.
func UserMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
			if id == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
			}
			if !util.ValidUserID(id) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid " + HeaderUserID})
			}
			c.Set(ctxUserID, id)
			return next(c)
		}
	}
}
