package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/service"
)

// RepairHandler serves booking and the status machine.
type RepairHandler struct {
	Repairs *service.RepairService
}

func NewRepairHandler(s *service.RepairService) *RepairHandler {
	return &RepairHandler{Repairs: s}
}

// Book handles POST /v1/repairs.
func (h *RepairHandler) Book(c echo.Context) error {
	var req service.BookingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		r, err := h.Repairs.Book(ctx, a, req)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, r)
	})
}

// List handles GET /v1/repairs: the customer's bookings or the
// technician's queue.
func (h *RepairHandler) List(c echo.Context) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		rs, err := h.Repairs.List(ctx, a)
		if err != nil {
			return fail(c, err)
		}
		if rs == nil {
			rs = []model.Repair{}
		}
		return c.JSON(http.StatusOK, echo.Map{"repairs": rs})
	})
}

// Get handles GET /v1/repairs/:id.
func (h *RepairHandler) Get(c echo.Context) error {
	return h.one(c, h.Repairs.Get)
}

// Claim handles POST /v1/repairs/:id/claim. A lost race is 409.
func (h *RepairHandler) Claim(c echo.Context) error {
	return h.one(c, h.Repairs.Claim)
}

// Advance handles POST /v1/repairs/:id/advance.
func (h *RepairHandler) Advance(c echo.Context) error {
	return h.one(c, h.Repairs.Advance)
}

// Cancel handles POST /v1/repairs/:id/cancel.
func (h *RepairHandler) Cancel(c echo.Context) error {
	return h.one(c, h.Repairs.Cancel)
}

// IntakeSignature handles POST /v1/repairs/:id/intake-signature with
// the raw image as body.
func (h *RepairHandler) IntakeSignature(c echo.Context) error {
	img, err := readImage(c)
	if err != nil {
		return fail(c, err)
	}
	return h.one(c, func(ctx context.Context, a lifecycle.Actor, id string) (model.Repair, error) {
		return h.Repairs.RecordIntakeSignature(ctx, a, id, img)
	})
}

func (h *RepairHandler) one(c echo.Context, fn func(context.Context, lifecycle.Actor, string) (model.Repair, error)) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		r, err := fn(ctx, a, c.Param("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, r)
	})
}
