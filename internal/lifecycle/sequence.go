// Package lifecycle holds the repair status machine: the per-repair
// effective sequence, transition planning with its guards, and the side
// effects a transition implies.
package lifecycle

import (
	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

var (
	withParts = []model.RepairStatus{
		model.StatusPending,
		model.StatusConfirmed,
		model.StatusPartsOrdered,
		model.StatusPartsReceived,
		model.StatusScheduled,
		model.StatusEnRoute,
		model.StatusArrived,
		model.StatusInProgress,
		model.StatusComplete,
	}
	partsInStock = []model.RepairStatus{
		model.StatusPending,
		model.StatusConfirmed,
		model.StatusScheduled,
		model.StatusEnRoute,
		model.StatusArrived,
		model.StatusInProgress,
		model.StatusComplete,
	}
)

// EffectiveSequence returns the ordered statuses for a repair. The parts
// ordering pair is skipped only when parts are known to be in stock;
// legacy rows with an unknown flag take the long path. The result is a
// fresh slice on every call.
func EffectiveSequence(inStock *bool) []model.RepairStatus {
	src := withParts
	if inStock != nil && *inStock {
		src = partsInStock
	}
	out := make([]model.RepairStatus, len(src))
	copy(out, src)
	return out
}

// Position is the index of s in the repair's effective sequence, or -1
// when s is not part of it (CANCELLED, or a parts state on the short path).
func Position(r model.Repair, s model.RepairStatus) int {
	for i, st := range EffectiveSequence(r.PartsInStock) {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the status that follows r.Status on its effective sequence.
func Next(r model.Repair) (model.RepairStatus, error) {
	if r.Status.Terminal() {
		return "", errors.Wrapf(model.ErrTransitionRejected, "%s is terminal", r.Status)
	}
	seq := EffectiveSequence(r.PartsInStock)
	i := Position(r, r.Status)
	if i < 0 {
		return "", errors.Wrapf(model.ErrTransitionRejected, "%s is not on this repair's sequence", r.Status)
	}
	return seq[i+1], nil
}

// IsForward reports whether moving from one status to another respects
// the forward-only rule: either the immediate successor on the effective
// sequence or a cancellation out of a non-terminal state.
func IsForward(r model.Repair, from, to model.RepairStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == model.StatusCancelled {
		return true
	}
	i, j := Position(r, from), Position(r, to)
	return i >= 0 && j == i+1
}
