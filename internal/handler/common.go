// Package handler holds the echo HTTP handlers. Handlers translate JSON
// to service calls and map the model error taxonomy to status codes.
package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/middleware"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/storage"
)

const requestTimeout = 5 * time.Second

// requestContext bounds a handler's store calls.
func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// getUserID extracts the user id stored by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get(middleware.KeyUserID).(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// actor builds the caller identity from the JWT claims.
func actor(c echo.Context) (lifecycle.Actor, error) {
	uid, err := getUserID(c)
	if err != nil {
		return lifecycle.Actor{}, err
	}
	role, ok := c.Get(middleware.KeyRole).(model.Role)
	if !ok {
		return lifecycle.Actor{}, errors.New("invalid role in context")
	}
	return lifecycle.Actor{UserID: uid, Role: role}, nil
}

// fail writes {"error": ...} with the status matching err.
func fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrSignatureMissing):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrTransitionRejected):
		status = http.StatusConflict
	case errors.Is(err, model.ErrPaymentCaptureFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrFeedDisconnected):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.WithFields(log.Fields{"component": "http", "path": c.Path()}).WithError(err).Error("request failed")
		return c.JSON(status, echo.Map{"error": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}

// withActor runs fn for an authenticated caller.
func withActor(c echo.Context, fn func(ctx context.Context, a lifecycle.Actor) error) error {
	a, err := actor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	return fn(ctx, a)
}

// readImage reads a raw signature upload and checks it is an image.
func readImage(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, storage.MaxSignatureBytes+1))
	if err != nil {
		return nil, errors.Wrap(model.ErrInvalidInput, "read signature upload")
	}
	if len(body) == 0 {
		return nil, errors.Wrap(model.ErrSignatureMissing, "empty signature upload")
	}
	if _, err := storage.CheckImage(body); err != nil {
		return nil, err
	}
	return body, nil
}
