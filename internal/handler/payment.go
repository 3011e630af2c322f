package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/payment"
	"github.com/iliyamo/repair-sync/internal/service"
)

// WebhookSecretHeader carries the shared secret of the link provider.
const WebhookSecretHeader = "X-Webhook-Secret"

// PaymentHandler drives the payment wizard. Every request resumes the
// wizard from the repair row, so any device of the technician can pick
// up where another left off.
type PaymentHandler struct {
	Payments      *service.PaymentService
	WebhookSecret string
}

func NewPaymentHandler(s *service.PaymentService, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{Payments: s, WebhookSecret: webhookSecret}
}

type wizardState struct {
	Step          payment.Step        `json:"step"`
	DueCents      int64               `json:"due_cents"`
	CardCents     int64               `json:"card_amount_cents"`
	Due           string              `json:"due"`
	TipPresets    []int64             `json:"tip_presets"`
	TipCents      int64               `json:"tip_cents"`
	Method        model.PaymentMethod `json:"method"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	CashPortion   int64               `json:"cash_portion_cents"`
	CardCharge    int64               `json:"card_charge_cents"`
	Repair        model.Repair        `json:"repair"`
}

func stateOf(w *payment.Wizard) wizardState {
	f := w.Fields()
	return wizardState{
		Step:          w.Step(),
		DueCents:      w.Due(),
		CardCents:     w.CardAmount(),
		Due:           payment.Format(w.Due()),
		TipPresets:    w.TipPresets(),
		TipCents:      f.TipCents,
		Method:        f.Method,
		PaymentStatus: f.Status,
		CashPortion:   f.CashPortionCents,
		CardCharge:    f.CardChargeCents,
		Repair:        w.Repair(),
	}
}

// wizard resumes the wizard for the caller, runs fn and answers with
// extra merged into the wizard state.
func (h *PaymentHandler) wizard(c echo.Context, fn func(ctx context.Context, w *payment.Wizard) (echo.Map, error)) error {
	return withActor(c, func(ctx context.Context, a lifecycle.Actor) error {
		w, err := h.Payments.Wizard(ctx, a, c.Param("id"))
		if err != nil {
			return fail(c, err)
		}
		extra, err := fn(ctx, w)
		if err != nil {
			return fail(c, err)
		}
		if extra == nil {
			return c.JSON(http.StatusOK, stateOf(w))
		}
		extra["state"] = stateOf(w)
		return c.JSON(http.StatusOK, extra)
	})
}

// State handles GET /v1/repairs/:id/payment.
func (h *PaymentHandler) State(c echo.Context) error {
	return h.wizard(c, func(context.Context, *payment.Wizard) (echo.Map, error) { return nil, nil })
}

// Tip handles POST /v1/repairs/:id/payment/tip.
func (h *PaymentHandler) Tip(c echo.Context) error {
	var req struct {
		TipCents int64 `json:"tip_cents"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return h.wizard(c, func(ctx context.Context, w *payment.Wizard) (echo.Map, error) {
		return nil, w.SelectTip(ctx, req.TipCents)
	})
}

// Method handles POST /v1/repairs/:id/payment/method.
func (h *PaymentHandler) Method(c echo.Context) error {
	var req struct {
		Method model.PaymentMethod `json:"method"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return h.wizard(c, func(ctx context.Context, w *payment.Wizard) (echo.Map, error) {
		return nil, w.SelectMethod(ctx, req.Method)
	})
}

type cashReq struct {
	Received string `json:"received"`
}

// CashQuote handles POST /v1/repairs/:id/payment/cash/quote. Nothing is
// written.
func (h *PaymentHandler) CashQuote(c echo.Context) error {
	var req cashReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return h.wizard(c, func(_ context.Context, w *payment.Wizard) (echo.Map, error) {
		q, err := w.QuoteCash(req.Received)
		if err != nil {
			return nil, err
		}
		return echo.Map{"quote": q, "change": payment.Format(q.Change)}, nil
	})
}

// ConfirmCash handles POST /v1/repairs/:id/payment/cash. A shortfall is
// 422 and writes nothing.
func (h *PaymentHandler) ConfirmCash(c echo.Context) error {
	var req cashReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return h.wizard(c, func(ctx context.Context, w *payment.Wizard) (echo.Map, error) {
		q, err := w.ConfirmCash(ctx, req.Received)
		if err != nil {
			return nil, err
		}
		return echo.Map{"quote": q, "change": payment.Format(q.Change)}, nil
	})
}

// Split handles POST /v1/repairs/:id/payment/split.
func (h *PaymentHandler) Split(c echo.Context) error {
	var req struct {
		Cash string              `json:"cash"`
		Via  model.PaymentMethod `json:"via"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return h.wizard(c, func(ctx context.Context, w *payment.Wizard) (echo.Map, error) {
		cash, err := payment.ParseAmount(req.Cash)
		if err != nil {
			return nil, err
		}
		return nil, w.StartSplit(ctx, cash, req.Via)
	})
}

// Link handles POST /v1/repairs/:id/payment/link.
func (h *PaymentHandler) Link(c echo.Context) error {
	return h.wizard(c, func(ctx context.Context, w *payment.Wizard) (echo.Map, error) {
		u, err := w.StartLink(ctx)
		if err != nil {
			return nil, err
		}
		return echo.Map{"url": u}, nil
	})
}

// NFCLink handles GET /v1/repairs/:id/payment/nfc.
func (h *PaymentHandler) NFCLink(c echo.Context) error {
	return h.wizard(c, func(_ context.Context, w *payment.Wizard) (echo.Map, error) {
		u, err := w.NFCDeepLink()
		if err != nil {
			return nil, err
		}
		return echo.Map{"deep_link": u}, nil
	})
}

// NFCReturn handles POST /v1/repairs/:id/payment/nfc/return.
func (h *PaymentHandler) NFCReturn(c echo.Context) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	return h.wizard(c, func(ctx context.Context, w *payment.Wizard) (echo.Map, error) {
		return nil, w.HandleNFCReturn(ctx, req.Code)
	})
}

// Signature handles POST /v1/repairs/:id/payment/signature with the raw
// image as body. It completes the repair.
func (h *PaymentHandler) Signature(c echo.Context) error {
	img, err := readImage(c)
	if err != nil {
		return fail(c, err)
	}
	return h.wizard(c, func(ctx context.Context, w *payment.Wizard) (echo.Map, error) {
		_, err := w.SubmitSignature(ctx, img)
		return nil, err
	})
}

// LinkWebhook handles POST /v1/webhooks/payment-link from the hosted
// link provider.
func (h *PaymentHandler) LinkWebhook(c echo.Context) error {
	got := c.Request().Header.Get(WebhookSecretHeader)
	if h.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "bad webhook secret"})
	}
	var req struct {
		Reference   string `json:"reference"`
		Status      string `json:"status"`
		AmountCents int64  `json:"amount_cents"`
	}
	if err := c.Bind(&req); err != nil || req.Reference == "" || req.AmountCents <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reference and amount_cents required"})
	}
	if req.Status != "" && req.Status != "paid" {
		return c.NoContent(http.StatusAccepted)
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if _, err := h.Payments.MarkLinkPaid(ctx, req.Reference, req.AmountCents); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
