package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/repair-sync/internal/handler"
	"github.com/iliyamo/repair-sync/internal/middleware"
	"github.com/iliyamo/repair-sync/internal/model"
)

// RegisterPayment registers the technician's payment wizard and the
// provider webhook. The webhook authenticates with a shared secret, not
// a JWT.
func RegisterPayment(e *echo.Echo, p *handler.PaymentHandler, jwtSecret string, limits Limits) {
	g := e.Group("/v1/repairs/:id/payment",
		middleware.JWTAuth(jwtSecret, false),
		middleware.RequireRole(model.RoleTechnician),
	)
	g.Use(limits.api()...)
	g.GET("", p.State)
	g.POST("/tip", p.Tip)
	g.POST("/method", p.Method)
	g.POST("/cash/quote", p.CashQuote)
	g.POST("/cash", p.ConfirmCash)
	g.POST("/split", p.Split)
	g.POST("/link", p.Link)
	g.GET("/nfc", p.NFCLink)
	g.POST("/nfc/return", p.NFCReturn)
	g.POST("/signature", p.Signature)

	e.POST("/v1/webhooks/payment-link", p.LinkWebhook)
}

// RegisterFeed registers the server-sent event streams. EventSource
// cannot send headers, so the token may come in the query string.
func RegisterFeed(e *echo.Echo, f *handler.FeedHandler, jwtSecret string) {
	g := e.Group("/v1/feed",
		middleware.JWTAuth(jwtSecret, true),
		middleware.RequireRole(model.RoleCustomer, model.RoleTechnician),
	)
	g.GET("/repairs/:id", f.Repair)
	g.GET("/queue", f.Queue, middleware.RequireRole(model.RoleTechnician))
}
