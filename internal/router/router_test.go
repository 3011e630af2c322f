package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/repair-sync/internal/changefeed"
	"github.com/iliyamo/repair-sync/internal/handler"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/payment"
	"github.com/iliyamo/repair-sync/internal/service"
	"github.com/iliyamo/repair-sync/internal/testutil"
	"github.com/iliyamo/repair-sync/internal/utils"
)

const (
	jwtSecret     = "router-test"
	webhookSecret = "hook"
)

type api struct {
	t     *testing.T
	e     *echo.Echo
	store *testutil.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := testutil.NewStore()
	feed := changefeed.NewMemoryFeed()
	t.Cleanup(feed.Close)
	blobs := &testutil.Blobs{}

	repairs := service.NewRepairService(store, feed, blobs)
	messages := service.NewMessageService(store, store.Messages(), feed)
	locations := service.NewLocationService(store, store.Locations(), feed)
	payments := service.NewPaymentService(store, store, blobs, &testutil.Links{}, &testutil.Notifier{}, feed, payment.Options{})

	e := echo.New()
	RegisterRoutes(e)
	RegisterRepairs(e, handler.NewRepairHandler(repairs), handler.NewChatHandler(messages),
		handler.NewLocationHandler(locations), jwtSecret, Limits{})
	RegisterPayment(e, handler.NewPaymentHandler(payments, webhookSecret), jwtSecret, Limits{})
	RegisterFeed(e, handler.NewFeedHandler(feed, repairs, time.Second, 16), jwtSecret)
	return &api{t: t, e: e, store: store}
}

func bearer(t *testing.T, id uint64, role model.Role) string {
	t.Helper()
	tok, err := utils.NewAccessToken(jwtSecret, id, role, 5)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

var (
	customerAuth   string
	technicianAuth string
	rivalAuth      string
)

func (a *api) do(method, path, auth string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	contentType := echo.MIMEApplicationJSON
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
		contentType = "image/png"
	default:
		require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, contentType)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func setup(t *testing.T) *api {
	customerAuth = bearer(t, 1, model.RoleCustomer)
	technicianAuth = bearer(t, 7, model.RoleTechnician)
	rivalAuth = bearer(t, 8, model.RoleTechnician)
	return newAPI(t)
}

func (a *api) book() model.Repair {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/repairs", customerAuth, echo.Map{
		"device_brand":      "Google",
		"device_model":      "Pixel 8",
		"issues":            []echo.Map{{"code": "battery", "tier": "oem"}},
		"scheduled_date":    time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"),
		"time_slot":         "13:00-15:00",
		"address":           "2 Side St",
		"service_fee_cents": 5000,
		"labor_fee_cents":   3000,
		"parts_in_stock":    true,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Repair](a.t, rec)
}

func TestHealth(t *testing.T) {
	a := setup(t)
	rec := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestClaimRaceAndRoles(t *testing.T) {
	a := setup(t)
	r := a.book()

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/v1/repairs/"+r.ID+"/claim", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/repairs/"+r.ID+"/claim", customerAuth, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/v1/repairs/"+r.ID+"/claim", technicianAuth, nil).Code)

	rec := a.do(http.MethodPost, "/v1/repairs/"+r.ID+"/claim", rivalAuth, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/repairs/"+uuid.NewString(), customerAuth, nil).Code)
}

func TestRepairToCompletionOverHTTP(t *testing.T) {
	a := setup(t)
	r := a.book()
	base := "/v1/repairs/" + r.ID

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/claim", technicianAuth, nil).Code)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/advance", technicianAuth, nil).Code)
	}
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, base+"/advance", technicianAuth, nil).Code,
		"work cannot start without the intake signature")
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, base+"/intake-signature", technicianAuth, []byte("not an image")).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/intake-signature", technicianAuth, testutil.PNG).Code)
	rec := a.do(http.MethodPost, base+"/advance", technicianAuth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusInProgress, decode[model.Repair](t, rec).Status)

	rec = a.do(http.MethodGet, base+"/payment", technicianAuth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tip", decode[map[string]any](t, rec)["step"])

	assert.Equal(t, http.StatusUnprocessableEntity, a.do(http.MethodPost, base+"/payment/tip", technicianAuth, echo.Map{"tip_cents": 123}).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/payment/tip", technicianAuth, echo.Map{"tip_cents": 1000}).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/payment/method", technicianAuth, echo.Map{"method": "cash"}).Code)

	rec = a.do(http.MethodPost, base+"/payment/cash/quote", technicianAuth, echo.Map{"received": "100"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "$10.00", decode[map[string]any](t, rec)["change"])

	assert.Equal(t, http.StatusUnprocessableEntity, a.do(http.MethodPost, base+"/payment/cash", technicianAuth, echo.Map{"received": "50"}).Code)
	rec = a.do(http.MethodPost, base+"/payment/cash", technicianAuth, echo.Map{"received": "100"})
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[map[string]any](t, rec)["state"].(map[string]any)
	assert.Equal(t, "signature", state["step"])

	rec = a.do(http.MethodPost, base+"/payment/signature", technicianAuth, testutil.PNG)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "done", decode[map[string]any](t, rec)["step"])

	rec = a.do(http.MethodGet, base, customerAuth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Repair](t, rec)
	assert.Equal(t, model.StatusComplete, got.Status)
	assert.Equal(t, model.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, int64(1000), got.TipCents)
}

func TestChatOverHTTP(t *testing.T) {
	a := setup(t)
	r := a.book()
	base := "/v1/repairs/" + r.ID
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/claim", technicianAuth, nil).Code)

	msg := echo.Map{"client_id": uuid.NewString(), "body": "on my way"}
	first := a.do(http.MethodPost, base+"/messages", technicianAuth, msg)
	require.Equal(t, http.StatusCreated, first.Code)
	again := a.do(http.MethodPost, base+"/messages", technicianAuth, msg)
	require.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, decode[model.Message](t, first).ID, decode[model.Message](t, again).ID)

	rec := a.do(http.MethodGet, base+"/messages/unread", customerAuth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread":1}`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodPost, base+"/messages/read", customerAuth, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, base+"/messages", rivalAuth, nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(http.MethodPost, base+"/messages", customerAuth, echo.Map{"client_id": uuid.NewString(), "body": "   "}).Code)
}

func TestLocationOverHTTP(t *testing.T) {
	a := setup(t)
	r := a.book()
	base := "/v1/repairs/" + r.ID
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/claim", technicianAuth, nil).Code)

	sample := echo.Map{"lat": 52.5, "lng": 13.4}
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPut, base+"/location", technicianAuth, sample).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/advance", technicianAuth, nil).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/advance", technicianAuth, nil).Code)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, base+"/location", technicianAuth, echo.Map{"lat": 91, "lng": 0}).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, base+"/location", technicianAuth, sample).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, base+"/location", customerAuth, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, base+"/location/eta", customerAuth, nil).Code,
		"address has no coordinates")

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/advance", technicianAuth, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, base+"/location", customerAuth, nil).Code)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPut, base+"/location", technicianAuth, sample).Code)
}

func TestLinkWebhook(t *testing.T) {
	a := setup(t)
	r := a.book()
	base := "/v1/repairs/" + r.ID
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/claim", technicianAuth, nil).Code)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/advance", technicianAuth, nil).Code)
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/intake-signature", technicianAuth, testutil.PNG).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/advance", technicianAuth, nil).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, base+"/payment/method", technicianAuth, echo.Map{"method": "link"}).Code)

	rec := a.do(http.MethodPost, base+"/payment/link", technicianAuth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://pay.test/"+r.ID+"/8000", decode[map[string]any](t, rec)["url"])

	hook := func(secret string, amount int) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment-link",
			bytes.NewBufferString(fmt.Sprintf(`{"reference":%q,"status":"paid","amount_cents":%d}`, r.ID, amount)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(handler.WebhookSecretHeader, secret)
		rec := httptest.NewRecorder()
		a.e.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, hook("wrong", 8000))
	assert.Equal(t, http.StatusBadRequest, hook(webhookSecret, 0))
	assert.Equal(t, http.StatusConflict, hook(webhookSecret, 5000))
	assert.Equal(t, http.StatusNoContent, hook(webhookSecret, 8000))
	assert.Equal(t, http.StatusConflict, hook(webhookSecret, 8000))

	rec = a.do(http.MethodGet, base+"/payment", technicianAuth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "signature", decode[map[string]any](t, rec)["step"])
}
