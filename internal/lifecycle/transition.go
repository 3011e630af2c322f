package lifecycle

import (
	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// Action is what an actor asks the machine to do.
type Action string

const (
	ActionClaim    Action = "claim"
	ActionAdvance  Action = "advance"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// Effect is a side effect implied by a planned transition. The caller
// executes them; the machine only names them.
type Effect string

const (
	EffectStartLocation    Effect = "start_location"
	EffectStopLocation     Effect = "stop_location"
	EffectRequireIntake    Effect = "require_intake_signature"
	EffectNotifyInvoice    Effect = "notify_invoice"
	EffectAssignTechnician Effect = "assign_technician"
)

// Actor is the authenticated party requesting a transition.
type Actor struct {
	UserID uint64
	Role   model.Role
}

// Transition is an authorised, guard-checked status change.
type Transition struct {
	Action  Action
	From    model.RepairStatus
	To      model.RepairStatus
	Effects []Effect
}

// Has reports whether the transition carries effect e.
func (t Transition) Has(e Effect) bool {
	for _, x := range t.Effects {
		if x == e {
			return true
		}
	}
	return false
}

func reject(format string, args ...any) error {
	return errors.Wrapf(model.ErrTransitionRejected, format, args...)
}

// Plan validates that actor may perform action on r and returns the
// resulting transition. Plan is pure: the store must still apply it with
// a conditional write so that concurrent writers cannot both succeed.
func Plan(r model.Repair, actor Actor, action Action) (Transition, error) {
	switch action {
	case ActionClaim:
		return planClaim(r, actor)
	case ActionAdvance:
		return planAdvance(r, actor)
	case ActionCancel:
		return planCancel(r, actor)
	case ActionComplete:
		return planComplete(r, actor)
	}
	return Transition{}, reject("unknown action %q", action)
}

func planClaim(r model.Repair, actor Actor) (Transition, error) {
	if actor.Role != model.RoleTechnician {
		return Transition{}, errors.Wrap(model.ErrForbidden, "only technicians claim repairs")
	}
	if r.Status != model.StatusPending {
		return Transition{}, reject("claim: repair is %s", r.Status)
	}
	if r.TechnicianID != nil {
		return Transition{}, reject("claim: repair already has a technician")
	}
	to, err := Next(r)
	if err != nil {
		return Transition{}, err
	}
	return finish(Transition{Action: ActionClaim, From: r.Status, To: to, Effects: []Effect{EffectAssignTechnician}}), nil
}

func planAdvance(r model.Repair, actor Actor) (Transition, error) {
	if !r.AssignedTo(actor.UserID) || actor.Role != model.RoleTechnician {
		return Transition{}, errors.Wrap(model.ErrForbidden, "only the assigned technician advances a repair")
	}
	if r.Status == model.StatusPending {
		return Transition{}, reject("advance: pending repairs must be claimed")
	}
	to, err := Next(r)
	if err != nil {
		return Transition{}, err
	}
	if to == model.StatusComplete {
		return Transition{}, reject("advance: completion goes through payment and signature")
	}
	if r.Status == model.StatusArrived && r.IntakeSignatureRef == nil {
		return Transition{}, reject("advance: intake signature required before work starts")
	}
	return finish(Transition{Action: ActionAdvance, From: r.Status, To: to}), nil
}

func planCancel(r model.Repair, actor Actor) (Transition, error) {
	owner := actor.Role == model.RoleCustomer && r.CustomerID == actor.UserID
	tech := actor.Role == model.RoleTechnician && r.AssignedTo(actor.UserID)
	if !owner && !tech {
		return Transition{}, errors.Wrap(model.ErrForbidden, "cancel: not a party to this repair")
	}
	if r.Status.Terminal() {
		return Transition{}, reject("cancel: repair is %s", r.Status)
	}
	return finish(Transition{Action: ActionCancel, From: r.Status, To: model.StatusCancelled}), nil
}

func planComplete(r model.Repair, actor Actor) (Transition, error) {
	if !r.AssignedTo(actor.UserID) || actor.Role != model.RoleTechnician {
		return Transition{}, errors.Wrap(model.ErrForbidden, "only the assigned technician completes a repair")
	}
	if r.Status != model.StatusInProgress {
		return Transition{}, reject("complete: repair is %s", r.Status)
	}
	if r.PaymentStatus != model.PaymentCompleted {
		return Transition{}, reject("complete: payment is %q", r.PaymentStatus)
	}
	if r.CompletionSignatureRef == nil || *r.CompletionSignatureRef == "" {
		return Transition{}, reject("complete: completion signature missing")
	}
	return finish(Transition{Action: ActionComplete, From: r.Status, To: model.StatusComplete}), nil
}

// finish appends the effects implied by entering and leaving statuses.
func finish(t Transition) Transition {
	if t.From == model.StatusEnRoute {
		t.Effects = append(t.Effects, EffectStopLocation)
	}
	switch t.To {
	case model.StatusEnRoute:
		t.Effects = append(t.Effects, EffectStartLocation)
	case model.StatusArrived:
		t.Effects = append(t.Effects, EffectRequireIntake)
	case model.StatusComplete:
		t.Effects = append(t.Effects, EffectNotifyInvoice)
	}
	return t
}
