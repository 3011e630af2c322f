// Package router registers the HTTP routes on an echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/repair-sync/internal/handler"
	"github.com/iliyamo/repair-sync/internal/middleware"
	"github.com/iliyamo/repair-sync/internal/model"
)

// Limits are the rate limiters applied per route group. A nil entry
// means no limit.
type Limits struct {
	API      echo.MiddlewareFunc
	Chat     echo.MiddlewareFunc
	Location echo.MiddlewareFunc
}

func (l Limits) api() []echo.MiddlewareFunc      { return nonNil(l.API) }
func (l Limits) chat() []echo.MiddlewareFunc     { return nonNil(l.Chat) }
func (l Limits) location() []echo.MiddlewareFunc { return nonNil(l.Location) }

func nonNil(mw echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if mw == nil {
		return nil
	}
	return []echo.MiddlewareFunc{mw}
}

// RegisterRoutes registers routes that need no authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the identity endpoints. register, login and
// refresh are open; logout and me need an access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limits Limits) {
	g := e.Group("/v1/auth", limits.api()...)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)

	auth := e.Group("/v1",
		middleware.JWTAuth(jwtSecret, false),
		middleware.RequireRole(model.RoleCustomer, model.RoleTechnician),
	)
	auth.GET("/me", a.Me)
	auth.POST("/auth/logout", a.Logout)
}
