// Package payment implements the resumable payment and completion wizard
// that gates the COMPLETE transition.
package payment

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// ParseAmount parses a dollar amount typed by a person into cents.
// "50", "$50", "42.5" and "42.50" are accepted; more than two decimals
// are not.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, errors.Wrap(model.ErrInvalidInput, "amount is empty")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, errors.Wrapf(model.ErrInvalidInput, "amount %q", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if !digits(whole) || !digits(frac) {
		return 0, errors.Wrapf(model.ErrInvalidInput, "amount %q", s)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > math.MaxInt64/100-1 {
		return 0, errors.Wrapf(model.ErrInvalidInput, "amount %q is out of range", s)
	}
	f, _ := strconv.ParseInt(frac, 10, 64)
	return w*100 + f, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Format renders cents as "$7.50".
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
