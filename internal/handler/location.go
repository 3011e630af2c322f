package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/location"
	"github.com/iliyamo/repair-sync/internal/service"
)

// LocationHandler serves the live technician position.
type LocationHandler struct {
	Locations *service.LocationService
}

func NewLocationHandler(s *service.LocationService) *LocationHandler {
	return &LocationHandler{Locations: s}
}

// Push handles PUT /v1/repairs/:id/location. A push after the repair
// left EN_ROUTE is 409.
func (h *LocationHandler) Push(c echo.Context) error {
	var s location.Sample
	if err := c.Bind(&s); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		row, err := h.Locations.Push(ctx, a, c.Param("id"), s)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, row)
	})
}

// Get handles GET /v1/repairs/:id/location.
func (h *LocationHandler) Get(c echo.Context) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		row, err := h.Locations.Get(ctx, a, c.Param("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, row)
	})
}

// ETA handles GET /v1/repairs/:id/location/eta.
func (h *LocationHandler) ETA(c echo.Context) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		est, err := h.Locations.Estimate(ctx, a, c.Param("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"distance_meters": est.DistanceMeters,
			"eta_seconds":     int64(est.ETA.Seconds()),
		})
	})
}

// Stop handles DELETE /v1/repairs/:id/location.
func (h *LocationHandler) Stop(c echo.Context) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		if err := h.Locations.Clear(ctx, a, c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	})
}
