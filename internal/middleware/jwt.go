package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/repair-sync/internal/utils"
)

// Context keys set by JWTAuth.
const (
	KeyUserID = "user_id"
	KeyRole   = "role"
)

// JWTAuth validates a Bearer access token and stores its subject and
// role in the context under KeyUserID (uint64) and KeyRole (model.Role).
//
// Browsers cannot set headers on an EventSource, so when allowQuery is
// true the token may also come from the access_token query parameter.
func JWTAuth(secret string, allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := ""
			if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				raw = strings.TrimPrefix(auth, "Bearer ")
			} else if allowQuery {
				raw = c.QueryParam("access_token")
			}
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			id, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(KeyUserID, id.UserID)
			c.Set(KeyRole, id.Role)
			return next(c)
		}
	}
}
