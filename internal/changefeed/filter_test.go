package changefeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilters(t *testing.T) {
	// Rows as they arrive from JSON: numbers are float64.
	pending := Row{"id": "r-1", "technician_id": nil, "status": "PENDING"}
	mine := Row{"id": "r-2", "technician_id": float64(7), "status": "SCHEDULED"}
	theirs := Row{"id": "r-3", "technician_id": float64(8), "status": "SCHEDULED"}

	queue := Or(
		Eq("technician_id", uint64(7)),
		And(IsNull("technician_id"), Eq("status", "PENDING")),
	)

	tests := []struct {
		name string
		row  Row
		want bool
	}{
		{"unassigned pending", pending, true},
		{"assigned to me", mine, true},
		{"assigned elsewhere", theirs, false},
		{"patch without the column", Row{"id": "r-4"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queue.Match(tt.row))
		})
	}
}

func TestEqNormalizesNumbers(t *testing.T) {
	assert.True(t, Eq("n", 5).Match(Row{"n": float64(5)}))
	assert.True(t, Eq("n", int64(5)).Match(Row{"n": uint64(5)}))
	assert.True(t, Eq("n", "5").Match(Row{"n": float64(5)}))
	assert.False(t, Eq("id", "1e5").Match(Row{"id": float64(100000)}))
}

func TestRowRoundTrip(t *testing.T) {
	type item struct {
		ID    string  `json:"id"`
		Price int64   `json:"price"`
		Ref   *string `json:"ref"`
	}
	row, err := RowOf(item{ID: "a", Price: 250})
	assert.NoError(t, err)
	assert.Contains(t, row, "ref")
	assert.Nil(t, row["ref"])

	var back item
	assert.NoError(t, DecodeRow(row, &back))
	assert.Equal(t, int64(250), back.Price)
}
