// Package changefeed delivers row-level change notifications. A consumer
// subscribes to a table with a row predicate and receives INSERT, UPDATE
// and DELETE events in publish order until it unsubscribes. There is no
// replay: after a reconnect or a buffer overflow the consumer is told to
// resync and must fetch a fresh snapshot.
package changefeed

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Row is a column→value map. An UPDATE row may be a full image or a
// partial patch; consumers must not assume either.
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Event is one change notification.
type Event struct {
	Table string    `json:"table"`
	Op    Op        `json:"op"`
	Row   Row       `json:"row"`
	At    time.Time `json:"at"`
}

// Decode copies the event row into v through its JSON field names.
func (e Event) Decode(v any) error {
	return DecodeRow(e.Row, v)
}

// RowOf converts a tagged struct into a Row keyed by its JSON names.
func RowOf(v any) (Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "changefeed: encode row")
	}
	var r Row
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrap(err, "changefeed: encode row")
	}
	return r, nil
}

// DecodeRow is the inverse of RowOf.
func DecodeRow(r Row, v any) error {
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "changefeed: decode row")
	}
	return errors.Wrap(json.Unmarshal(b, v), "changefeed: decode row")
}
