package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/repair-sync/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func TestEffectiveSequence(t *testing.T) {
	tests := []struct {
		name    string
		inStock *bool
		want    int
		hasPart bool
	}{
		{"parts in stock", boolPtr(true), 7, false},
		{"parts must be ordered", boolPtr(false), 9, true},
		{"legacy unknown", nil, 9, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := EffectiveSequence(tt.inStock)
			assert.Len(t, seq, tt.want)
			assert.Equal(t, model.StatusPending, seq[0])
			assert.Equal(t, model.StatusComplete, seq[len(seq)-1])
			assert.Equal(t, tt.hasPart, contains(seq, model.StatusPartsOrdered))
			assert.Equal(t, tt.hasPart, contains(seq, model.StatusPartsReceived))
			assert.False(t, contains(seq, model.StatusCancelled))
		})
	}
}

func TestEffectiveSequenceIsNotShared(t *testing.T) {
	a := EffectiveSequence(boolPtr(true))
	a[0] = model.StatusCancelled
	b := EffectiveSequence(boolPtr(true))
	assert.Equal(t, model.StatusPending, b[0])
}

func TestNextFollowsFlag(t *testing.T) {
	r := model.Repair{Status: model.StatusConfirmed, PartsInStock: boolPtr(true)}
	next, err := Next(r)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, next)

	r.PartsInStock = boolPtr(false)
	next, err = Next(r)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartsOrdered, next)
}

func TestNextRejectsTerminalAndOffPath(t *testing.T) {
	for _, s := range []model.RepairStatus{model.StatusComplete, model.StatusCancelled} {
		_, err := Next(model.Repair{Status: s})
		assert.ErrorIs(t, err, model.ErrTransitionRejected)
	}
	_, err := Next(model.Repair{Status: model.StatusPartsOrdered, PartsInStock: boolPtr(true)})
	assert.ErrorIs(t, err, model.ErrTransitionRejected)
}

func TestIsForward(t *testing.T) {
	r := model.Repair{PartsInStock: boolPtr(true)}
	assert.True(t, IsForward(r, model.StatusScheduled, model.StatusEnRoute))
	assert.False(t, IsForward(r, model.StatusScheduled, model.StatusArrived), "skips a state")
	assert.False(t, IsForward(r, model.StatusEnRoute, model.StatusScheduled), "reverses")
	assert.True(t, IsForward(r, model.StatusArrived, model.StatusCancelled))
	assert.False(t, IsForward(r, model.StatusComplete, model.StatusCancelled))
}

func contains(seq []model.RepairStatus, s model.RepairStatus) bool {
	for _, x := range seq {
		if x == s {
			return true
		}
	}
	return false
}
