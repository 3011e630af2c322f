package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/service"
)

// ChatHandler serves the repair message thread.
type ChatHandler struct {
	Messages *service.MessageService
}

func NewChatHandler(s *service.MessageService) *ChatHandler {
	return &ChatHandler{Messages: s}
}

type sendReq struct {
	ClientID string `json:"client_id"`
	Body     string `json:"body"`
}

// List handles GET /v1/repairs/:id/messages.
func (h *ChatHandler) List(c echo.Context) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		msgs, err := h.Messages.List(ctx, a, c.Param("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
	})
}

// Send handles POST /v1/repairs/:id/messages. Retrying with the same
// client_id returns the stored message.
func (h *ChatHandler) Send(c echo.Context) error {
	var req sendReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		m, err := h.Messages.Send(ctx, a, c.Param("id"), req.ClientID, req.Body)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, m)
	})
}

// MarkRead handles POST /v1/repairs/:id/messages/read.
func (h *ChatHandler) MarkRead(c echo.Context) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		if err := h.Messages.MarkRead(ctx, a, c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	})
}

// Unread handles GET /v1/repairs/:id/messages/unread.
func (h *ChatHandler) Unread(c echo.Context) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		n, err := h.Messages.Unread(ctx, a, c.Param("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"unread": n})
	})
}
