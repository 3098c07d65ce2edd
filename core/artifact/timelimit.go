package artifact

import (
	"time"

	"github.com/cyqddx/shuyuan/core/fault"
)

// TimeLimit is a caller-selected artifact lifetime.
type TimeLimit string

const (
	TimeLimitDay       TimeLimit = "1d"
	TimeLimitWeek      TimeLimit = "7d"
	TimeLimitMonth     TimeLimit = "1m"
	TimeLimitPermanent TimeLimit = "perm"

	// DefaultTimeLimit applies when the caller does not pick one:
	// omitted lifetimes mean keep forever, not a silent short TTL.
	DefaultTimeLimit = TimeLimitPermanent
)

// ParseTimeLimit maps the wire form to a TimeLimit. Empty input takes
// the default.
func ParseTimeLimit(s string) (TimeLimit, error) {
	switch TimeLimit(s) {
	case "":
		return DefaultTimeLimit, nil
	case TimeLimitDay, TimeLimitWeek, TimeLimitMonth, TimeLimitPermanent:
		return TimeLimit(s), nil
	default:
		return "", fault.Newf(fault.KindValidation, "unknown time limit %q", s)
	}
}

// Expiry returns the expiry instant for an artifact created now, or the
// zero time for a permanent artifact.
func (l TimeLimit) Expiry(now time.Time) time.Time {
	switch l {
	case TimeLimitDay:
		return now.Add(24 * time.Hour)
	case TimeLimitWeek:
		return now.Add(7 * 24 * time.Hour)
	case TimeLimitMonth:
		return now.Add(30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}
