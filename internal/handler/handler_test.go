package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/model"
)

func TestFailMapsErrors(t *testing.T) {
	cases := map[error]int{
		model.ErrTransitionRejected:   http.StatusConflict,
		model.ErrPaymentCaptureFailed: http.StatusUnprocessableEntity,
		model.ErrPersistenceFailed:    http.StatusInternalServerError,
		model.ErrPermissionDenied:     http.StatusForbidden,
		model.ErrNotFound:             http.StatusNotFound,
		model.ErrForbidden:            http.StatusForbidden,
		model.ErrInvalidInput:         http.StatusBadRequest,
		model.ErrSignatureMissing:     http.StatusBadRequest,
		model.ErrUnauthorized:         http.StatusUnauthorized,
	}
	e := echo.New()
	for sentinel, want := range cases {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		_ = fail(c, errors.Wrap(sentinel, "context"))
		assert.Equal(t, want, rec.Code, sentinel.Error())
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestFailHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = fail(c, errors.New("dial tcp 10.0.0.3:3306: refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestQueueForwarder(t *testing.T) {
	var got []frame
	fwd := queueForwarder(lifecycle.Actor{UserID: 7, Role: model.RoleTechnician}, func(f frame) { got = append(got, f) })

	mine := float64(7)
	other := float64(8)
	fwd(changefeed.Event{Table: "repairs", Op: changefeed.OpInsert, Row: changefeed.Row{"id": "a", "status": "PENDING", "technician_id": nil}})
	fwd(changefeed.Event{Table: "repairs", Op: changefeed.OpUpdate, Row: changefeed.Row{"id": "a", "status": "CONFIRMED", "technician_id": other}})
	fwd(changefeed.Event{Table: "repairs", Op: changefeed.OpUpdate, Row: changefeed.Row{"id": "b", "status": "SCHEDULED", "technician_id": mine}})

	if assert.Len(t, got, 3) {
		assert.Equal(t, "repair", got[0].name)
		assert.Equal(t, "invalidate", got[1].name)
		assert.Equal(t, echo.Map{"id": "a"}, got[1].data)
		assert.Equal(t, "repair", got[2].name)
	}
}
