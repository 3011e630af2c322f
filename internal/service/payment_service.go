package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/lifecycle"
	"github.com/iliyamo/repair-sync/internal/model"
	"github.com/iliyamo/repair-sync/internal/payment"
	"github.com/iliyamo/repair-sync/internal/queue"
	"github.com/iliyamo/repair-sync/internal/storage"
)

// PaymentService backs the payment wizard with the repair row. Every
// request resumes a fresh wizard from the database, so nothing is kept
// between calls.
type PaymentService struct {
	repairs  RepairStore
	users    UserLookup
	blobs    storage.BlobStore
	links    payment.LinkProvider
	notifier Notifier
	events   events
	opts     payment.Options

	// NotifyTimeout bounds the invoice publish after completion.
	NotifyTimeout time.Duration
}

func NewPaymentService(repairs RepairStore, users UserLookup, blobs storage.BlobStore, links payment.LinkProvider,
	notifier Notifier, feed Publisher, opts payment.Options) *PaymentService {
	return &PaymentService{
		repairs:       repairs,
		users:         users,
		blobs:         blobs,
		links:         links,
		notifier:      notifier,
		events:        events{feed: feed},
		opts:          opts,
		NotifyTimeout: 5 * time.Second,
	}
}

// Options returns the wizard options handed to every resumed wizard.
func (s *PaymentService) Options() payment.Options { return s.opts }

// Wizard resumes the wizard of an IN_PROGRESS or COMPLETE repair for its
// assigned technician.
func (s *PaymentService) Wizard(ctx context.Context, actor lifecycle.Actor, repairID string) (*payment.Wizard, error) {
	r, err := s.repairs.Get(ctx, repairID)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleTechnician || !r.AssignedTo(actor.UserID) {
		return nil, errors.Wrap(model.ErrForbidden, "only the assigned technician takes payment")
	}
	if r.Status != model.StatusInProgress && r.Status != model.StatusComplete {
		return nil, errors.Wrapf(model.ErrTransitionRejected, "payment is taken while IN_PROGRESS, repair is %s", r.Status)
	}
	return payment.Resume(r, s.BackendFor(actor), s.opts), nil
}

// MarkLinkPaid is called by the hosted-link provider webhook with the
// amount actually charged. The wizard waiting on capture sees the change
// through the feed.
func (s *PaymentService) MarkLinkPaid(ctx context.Context, repairID string, amountCents int64) (model.Repair, error) {
	logger := log.WithFields(log.Fields{"component": "payment", "repair_id": repairID, "amount_cents": amountCents})
	if amountCents <= 0 {
		return model.Repair{}, errors.Wrap(model.ErrInvalidInput, "paid amount required")
	}
	r, err := s.repairs.MarkLinkPaid(ctx, repairID, amountCents)
	if err != nil {
		logger.WithError(err).Warn("link payment not applied")
		return model.Repair{}, err
	}
	logger.Info("link payment completed")
	s.events.repair(ctx, r)
	return r, nil
}

// BackendFor returns the payment.Backend acting as actor.
func (s *PaymentService) BackendFor(actor lifecycle.Actor) payment.Backend {
	return paymentBackend{svc: s, actor: actor}
}

type paymentBackend struct {
	svc   *PaymentService
	actor lifecycle.Actor
}

func (b paymentBackend) SavePayment(ctx context.Context, repairID string, f model.PaymentFields) error {
	r, err := b.svc.repairs.SavePayment(ctx, repairID, f)
	if err != nil {
		return err
	}
	b.svc.events.repair(ctx, r)
	return nil
}

func (b paymentBackend) CreateLink(ctx context.Context, req payment.LinkRequest) (string, error) {
	if b.svc.links == nil {
		return "", errors.New("no payment link provider configured")
	}
	return b.svc.links.CreateLink(ctx, req)
}

func (b paymentBackend) StoreSignature(ctx context.Context, repairID string, png []byte) (string, error) {
	return storage.SaveSignature(ctx, b.svc.blobs, repairID, storage.SignatureCompletion, png)
}

func (b paymentBackend) Finalize(ctx context.Context, repairID, signatureRef string) (model.Repair, error) {
	s := b.svc
	r, err := s.repairs.Get(ctx, repairID)
	if err != nil {
		return model.Repair{}, err
	}
	r.CompletionSignatureRef = &signatureRef
	t, err := lifecycle.Plan(r, b.actor, lifecycle.ActionComplete)
	if err != nil {
		return model.Repair{}, err
	}
	r, err = s.repairs.Complete(ctx, repairID, b.actor.UserID, signatureRef)
	if err != nil {
		return model.Repair{}, err
	}
	s.events.repair(ctx, r)
	if t.Has(lifecycle.EffectNotifyInvoice) {
		s.notifyInvoice(ctx, r)
	}
	return r, nil
}

// notifyInvoice is best effort: the repair is already COMPLETE.
func (s *PaymentService) notifyInvoice(ctx context.Context, r model.Repair) {
	if s.notifier == nil {
		return
	}
	logger := log.WithFields(log.Fields{"component": "payment", "repair_id": r.ID})
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.NotifyTimeout)
	defer cancel()

	ev := queue.InvoiceRequested{
		RepairID:      r.ID,
		CustomerID:    r.CustomerID,
		Device:        fmt.Sprintf("%s %s", r.DeviceBrand, r.DeviceModel),
		ServiceFee:    r.ServiceFeeCents,
		LaborFee:      r.LaborFeeCents,
		Tip:           r.TipCents,
		Total:         r.AmountDueCents() + r.TipCents,
		PaymentMethod: string(r.PaymentMethod),
		CashPortion:   r.CashPortionCents,
		CardCharge:    r.CardChargeCents,
		CompletedAt:   r.UpdatedAt,
	}
	if r.TechnicianID != nil {
		ev.TechnicianID = *r.TechnicianID
	}
	if r.CompletionSignatureRef != nil {
		ev.SignatureRef = *r.CompletionSignatureRef
	}
	if s.users != nil {
		if u, err := s.users.GetByID(nctx, r.CustomerID); err == nil {
			ev.CustomerEmail = u.Email
		} else {
			logger.WithError(err).Warn("invoice without customer email")
		}
	}
	if err := s.notifier.PublishInvoice(nctx, ev); err != nil {
		logger.WithError(err).Warn("invoice request not published")
	}
}
