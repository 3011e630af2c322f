package changefeed

import (
	"fmt"
	"strconv"
)

// Filter is a row predicate evaluated on the consumer side.
type Filter interface {
	Match(Row) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(Row) bool

// Match implements Filter.
func (f FilterFunc) Match(r Row) bool { return f(r) }

// All matches every row.
func All() Filter { return FilterFunc(func(Row) bool { return true }) }

// Eq matches rows whose column equals v. Numbers compare by value so a
// uint64 id matches the float64 a JSON decoder produces.
func Eq(column string, v any) Filter {
	want := normalize(v)
	return FilterFunc(func(r Row) bool {
		got, ok := r[column]
		return ok && normalize(got) == want
	})
}

// IsNull matches rows whose column is present and null.
func IsNull(column string) Filter {
	return FilterFunc(func(r Row) bool {
		v, ok := r[column]
		return ok && v == nil
	})
}

// And matches when every filter matches.
func And(fs ...Filter) Filter {
	return FilterFunc(func(r Row) bool {
		for _, f := range fs {
			if !f.Match(r) {
				return false
			}
		}
		return true
	})
}

// Or matches when any filter matches.
func Or(fs ...Filter) Filter {
	return FilterFunc(func(r Row) bool {
		for _, f := range fs {
			if f.Match(r) {
				return true
			}
		}
		return false
	})
}

func normalize(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil && looksNumeric(n) {
			return f
		}
		return n
	case bool:
		return n
	case fmt.Stringer:
		return n.String()
	}
	return fmt.Sprint(v)
}

// looksNumeric keeps ids like "1e5" or "inf" from being read as numbers.
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c != '.' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
