// Package syncview builds client read-models on top of the change feed.
// A detail view keeps one row current by merging pushed events into a
// fetched snapshot; a list view refetches its projection on any change.
// Both refetch after a resync because the feed does not replay.
package syncview

import (
	"reflect"
	"time"

	"github.com/iliyamo/repair-sync/internal/changefeed"
)

// Merge overwrites fields of base with those present in patch and keeps
// every field the patch does not mention. base is not modified.
func Merge(base, patch changefeed.Row) changefeed.Row {
	out := base.Clone()
	if out == nil {
		out = make(changefeed.Row, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// sameValue compares two row values after a JSON round trip has possibly
// changed their Go types.
func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ra, err := changefeed.RowOf(map[string]any{"v": a})
	if err != nil {
		return false
	}
	rb, err := changefeed.RowOf(map[string]any{"v": b})
	if err != nil {
		return false
	}
	return reflect.DeepEqual(ra["v"], rb["v"])
}

// older reports whether patch carries an updated_at strictly before the
// one already held in base. Rows without timestamps are never older.
func older(patch, base changefeed.Row) bool {
	pt, ok := rowTime(patch, "updated_at")
	if !ok {
		return false
	}
	bt, ok := rowTime(base, "updated_at")
	return ok && pt.Before(bt)
}

func rowTime(r changefeed.Row, key string) (time.Time, bool) {
	switch v := r[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	return time.Time{}, false
}
