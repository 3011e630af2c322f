package payment

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/model"
)

// Step is the position of the wizard.
type Step string

const (
	StepTip       Step = "tip"
	StepMethod    Step = "method"
	StepCapture   Step = "capture"
	StepSignature Step = "signature"
	StepDone      Step = "done"
	// StepClosed is terminal: the repair left IN_PROGRESS without
	// completing, so nothing more can be taken.
	StepClosed Step = "closed"
)

// NFCSuccess is the return code the tap-to-pay app sends on success.
const NFCSuccess = "success"

// DefaultTipPresets are offered when none are configured.
var DefaultTipPresets = []int64{500, 1000, 1500, 2000}

// Backend persists wizard state. The server implementation writes the
// repair row; tests use an in-memory one.
type Backend interface {
	SavePayment(ctx context.Context, repairID string, f model.PaymentFields) error
	CreateLink(ctx context.Context, req LinkRequest) (string, error)
	StoreSignature(ctx context.Context, repairID string, png []byte) (string, error)
	// Finalize sets the completion signature and moves the repair to
	// COMPLETE in one conditional write.
	Finalize(ctx context.Context, repairID, signatureRef string) (model.Repair, error)
}

// Options configure a wizard.
type Options struct {
	TipPresets  []int64
	Currency    string
	RedirectURL string
	NFC         NFCConfig
}

// Wizard walks tip → method → capture → signature → done for one repair.
// It is not safe for concurrent use; the server builds one per request.
type Wizard struct {
	repair  model.Repair
	backend Backend
	opts    Options

	step    Step
	fields  model.PaymentFields
	cardVia model.PaymentMethod
	link    string
}

// Resume rebuilds the wizard from the persisted repair.
func Resume(r model.Repair, b Backend, opts Options) *Wizard {
	if len(opts.TipPresets) == 0 {
		opts.TipPresets = DefaultTipPresets
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	w := &Wizard{repair: r, backend: b, opts: opts, fields: model.PaymentFieldsOf(r)}
	switch {
	case r.Status == model.StatusComplete:
		w.step = StepDone
	case r.Status != model.StatusInProgress:
		w.step = StepClosed
	case r.PaymentStatus == model.PaymentCompleted:
		w.step = StepSignature
	case r.PaymentMethod != model.MethodNone:
		w.step = StepCapture
	default:
		w.step = StepTip
	}
	return w
}

func (w *Wizard) Step() Step                  { return w.step }
func (w *Wizard) Fields() model.PaymentFields { return w.fields }
func (w *Wizard) Repair() model.Repair        { return w.repair }
func (w *Wizard) TipPresets() []int64         { return w.opts.TipPresets }

// Due is the amount owed including the tip.
func (w *Wizard) Due() int64 {
	return w.repair.AmountDueCents() + w.fields.TipCents
}

// CardAmount is what a card leg charges: the remainder for split, the
// full due otherwise.
func (w *Wizard) CardAmount() int64 {
	if w.fields.Method == model.MethodSplit {
		return w.fields.CardChargeCents
	}
	return w.Due()
}

func (w *Wizard) logger() *log.Entry {
	return log.WithFields(log.Fields{"component": "payment", "repair_id": w.repair.ID})
}

func (w *Wizard) expect(steps ...Step) error {
	for _, s := range steps {
		if w.step == s {
			return nil
		}
	}
	return errors.Wrapf(model.ErrTransitionRejected, "payment wizard is at %s", w.step)
}

func (w *Wizard) save(ctx context.Context, f model.PaymentFields) error {
	if err := w.backend.SavePayment(ctx, w.repair.ID, f); err != nil {
		return errors.Wrapf(model.ErrPersistenceFailed, "save payment: %v", err)
	}
	w.fields = f
	return nil
}

// SelectTip accepts zero or one of the presets and moves to method.
// A failed write is logged and the wizard advances anyway, as the tip is
// rewritten with every later save.
func (w *Wizard) SelectTip(ctx context.Context, cents int64) error {
	if err := w.expect(StepTip, StepMethod); err != nil {
		return err
	}
	if cents != 0 && !w.isPreset(cents) {
		return errors.Wrapf(model.ErrPaymentCaptureFailed, "tip %s is not offered", Format(cents))
	}
	f := w.fields
	f.TipCents = cents
	if err := w.save(ctx, f); err != nil {
		w.logger().WithError(err).Warn("tip not persisted")
		w.fields = f
	}
	w.step = StepMethod
	return nil
}

func (w *Wizard) isPreset(cents int64) bool {
	for _, p := range w.opts.TipPresets {
		if p == cents {
			return true
		}
	}
	return false
}

// SelectMethod records the method and moves to capture. Choosing a
// method while still on tip keeps the current tip. Going back from
// capture to choose another method is allowed until money moved.
func (w *Wizard) SelectMethod(ctx context.Context, m model.PaymentMethod) error {
	if err := w.expect(StepTip, StepMethod, StepCapture); err != nil {
		return err
	}
	if !m.Valid() {
		return errors.Wrapf(model.ErrInvalidInput, "payment method %q", m)
	}
	f := w.fields
	f.Method = m
	f.Status = model.PaymentPending
	f.CashReceivedCents, f.CashPortionCents, f.CardChargeCents = 0, 0, 0
	if err := w.save(ctx, f); err != nil {
		return err
	}
	w.cardVia, w.link = "", ""
	w.step = StepCapture
	return nil
}

// CashQuote is the result of comparing received cash with the due.
type CashQuote struct {
	Due        int64 `json:"due_cents"`
	Received   int64 `json:"received_cents"`
	Change     int64 `json:"change_cents"`
	Shortfall  int64 `json:"shortfall_cents"`
	Sufficient bool  `json:"sufficient"`
}

// QuoteCash parses what the technician typed and computes change or
// shortfall. It does not write anything.
func (w *Wizard) QuoteCash(input string) (CashQuote, error) {
	received, err := ParseAmount(input)
	if err != nil {
		return CashQuote{}, err
	}
	return quote(w.Due(), received), nil
}

func quote(due, received int64) CashQuote {
	q := CashQuote{Due: due, Received: received}
	if received >= due {
		q.Change = received - due
		q.Sufficient = true
	} else {
		q.Shortfall = due - received
	}
	return q
}

// ConfirmCash completes a cash payment. Nothing is written while the
// received amount is short.
func (w *Wizard) ConfirmCash(ctx context.Context, input string) (CashQuote, error) {
	if err := w.expect(StepCapture); err != nil {
		return CashQuote{}, err
	}
	if w.fields.Method != model.MethodCash {
		return CashQuote{}, errors.Wrapf(model.ErrTransitionRejected, "method is %q, not cash", w.fields.Method)
	}
	q, err := w.QuoteCash(input)
	if err != nil {
		return q, err
	}
	if !q.Sufficient {
		return q, errors.Wrapf(model.ErrPaymentCaptureFailed, "cash short by %s", Format(q.Shortfall))
	}
	f := w.fields
	f.CashReceivedCents = q.Received
	f.Status = model.PaymentCompleted
	if err := w.save(ctx, f); err != nil {
		return q, err
	}
	w.step = StepSignature
	return q, nil
}

// StartSplit records the cash portion and the card remainder before the
// card leg is launched through link or nfc.
func (w *Wizard) StartSplit(ctx context.Context, cashCents int64, via model.PaymentMethod) error {
	if err := w.expect(StepCapture); err != nil {
		return err
	}
	if w.fields.Method != model.MethodSplit {
		return errors.Wrapf(model.ErrTransitionRejected, "method is %q, not split", w.fields.Method)
	}
	if via != model.MethodLink && via != model.MethodNFC {
		return errors.Wrapf(model.ErrInvalidInput, "split card leg via %q", via)
	}
	due := w.Due()
	if cashCents <= 0 || cashCents >= due {
		return errors.Wrapf(model.ErrPaymentCaptureFailed,
			"cash portion %s must be between $0.00 and %s", Format(cashCents), Format(due))
	}
	f := w.fields
	f.CashPortionCents = cashCents
	f.CashReceivedCents = cashCents
	f.CardChargeCents = due - cashCents
	if err := w.save(ctx, f); err != nil {
		return err
	}
	w.cardVia, w.link = via, ""
	return nil
}

func (w *Wizard) cardLeg(via model.PaymentMethod) error {
	if err := w.expect(StepCapture); err != nil {
		return err
	}
	switch w.fields.Method {
	case via:
		return nil
	case model.MethodSplit:
		if w.fields.CardChargeCents <= 0 {
			return errors.Wrap(model.ErrTransitionRejected, "split amounts not recorded")
		}
		if w.cardVia != "" && w.cardVia != via {
			return errors.Wrapf(model.ErrTransitionRejected, "split card leg is %s", w.cardVia)
		}
		return nil
	}
	return errors.Wrapf(model.ErrTransitionRejected, "method is %q", w.fields.Method)
}

// StartLink creates (or reuses) the hosted payment link for the card
// amount. Completion arrives later through Observe.
func (w *Wizard) StartLink(ctx context.Context) (string, error) {
	if err := w.cardLeg(model.MethodLink); err != nil {
		return "", err
	}
	if w.link != "" {
		return w.link, nil
	}
	req := LinkRequest{
		Reference:   w.repair.ID,
		AmountCents: w.CardAmount(),
		Currency:    w.opts.Currency,
		Description: fmt.Sprintf("%s %s repair", w.repair.DeviceBrand, w.repair.DeviceModel),
		RedirectURL: w.opts.RedirectURL,
	}
	u, err := w.backend.CreateLink(ctx, req)
	if err != nil {
		return "", errors.Wrapf(model.ErrPaymentCaptureFailed, "create payment link: %v", err)
	}
	w.link = u
	return u, nil
}

// NFCDeepLink builds the hand-off link to the tap-to-pay app.
func (w *Wizard) NFCDeepLink() (string, error) {
	if err := w.cardLeg(model.MethodNFC); err != nil {
		return "", err
	}
	currency := w.opts.NFC.Currency
	if currency == "" {
		currency = w.opts.Currency
	}
	return w.opts.NFC.DeepLink(NFCPayload{
		AmountCents: w.CardAmount(),
		Currency:    currency,
		Reference:   w.repair.ID,
		Callback:    w.opts.NFC.Callback,
	})
}

// HandleNFCReturn processes the callback of the tap-to-pay app. The app
// never writes payment_status itself, so success is persisted here.
func (w *Wizard) HandleNFCReturn(ctx context.Context, code string) error {
	if err := w.cardLeg(model.MethodNFC); err != nil {
		return err
	}
	if code != NFCSuccess {
		return errors.Wrapf(model.ErrPaymentCaptureFailed, "nfc payment returned %q", code)
	}
	f := w.fields
	f.Status = model.PaymentCompleted
	if err := w.save(ctx, f); err != nil {
		return err
	}
	w.step = StepSignature
	return nil
}

// Observe feeds a fresh repair row into the wizard. It reports whether
// the step changed, which happens when the provider webhook marked the
// payment completed while the wizard waited on capture, or when the
// repair completed or was cancelled elsewhere.
func (w *Wizard) Observe(r model.Repair) bool {
	if r.ID != w.repair.ID {
		return false
	}
	w.repair = r
	before := w.step
	switch {
	case r.Status == model.StatusComplete:
		w.step = StepDone
	case r.Status != model.StatusInProgress:
		w.step = StepClosed
	case w.step == StepCapture && r.PaymentStatus == model.PaymentCompleted:
		w.fields = model.PaymentFieldsOf(r)
		w.step = StepSignature
	}
	return w.step != before
}

// SubmitSignature stores the customer's signature and finalizes the
// repair.
func (w *Wizard) SubmitSignature(ctx context.Context, png []byte) (model.Repair, error) {
	if err := w.expect(StepSignature); err != nil {
		return w.repair, err
	}
	if len(png) == 0 {
		return w.repair, errors.Wrap(model.ErrSignatureMissing, "completion signature is empty")
	}
	ref, err := w.backend.StoreSignature(ctx, w.repair.ID, png)
	if err != nil {
		return w.repair, errors.Wrapf(model.ErrPersistenceFailed, "store signature: %v", err)
	}
	r, err := w.backend.Finalize(ctx, w.repair.ID, ref)
	if err != nil {
		return w.repair, err
	}
	w.repair = r
	w.step = StepDone
	w.logger().WithField("tip_cents", r.TipCents).Info("repair completed")
	return r, nil
}
