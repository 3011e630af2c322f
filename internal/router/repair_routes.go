package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/repair-sync/internal/handler"
	"github.com/iliyamo/repair-sync/internal/middleware"
	"github.com/iliyamo/repair-sync/internal/model"
)

// RegisterRepairs registers booking, status, chat and location routes
// under /v1/repairs. Ownership is checked by the services; the role
// middleware only keeps each party to its own operations.
func RegisterRepairs(e *echo.Echo, r *handler.RepairHandler, ch *handler.ChatHandler, loc *handler.LocationHandler,
	jwtSecret string, limits Limits) {
	g := e.Group("/v1/repairs",
		middleware.JWTAuth(jwtSecret, false),
		middleware.RequireRole(model.RoleCustomer, model.RoleTechnician),
	)
	g.Use(limits.api()...)
	customer := middleware.RequireRole(model.RoleCustomer)
	technician := middleware.RequireRole(model.RoleTechnician)

	g.POST("", r.Book, customer)
	g.GET("", r.List)
	g.GET("/:id", r.Get)
	g.POST("/:id/claim", r.Claim, technician)
	g.POST("/:id/advance", r.Advance, technician)
	g.POST("/:id/cancel", r.Cancel)
	g.POST("/:id/intake-signature", r.IntakeSignature, technician)

	g.GET("/:id/messages", ch.List)
	g.POST("/:id/messages", ch.Send, limits.chat()...)
	g.POST("/:id/messages/read", ch.MarkRead)
	g.GET("/:id/messages/unread", ch.Unread)

	g.GET("/:id/location", loc.Get)
	g.GET("/:id/location/eta", loc.ETA)
	g.PUT("/:id/location", loc.Push, append([]echo.MiddlewareFunc{technician}, limits.location()...)...)
	g.DELETE("/:id/location", loc.Stop, technician)
}
