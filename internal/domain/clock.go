package domain

import (
	"fmt"
	"strings"
	"time"
)

// timeLayout accepts "YYYY-MM-DDTHH:MM:SS[.frac]Z" — fractional seconds are
// accepted and ignored for comparison, the trailing "Z" is mandatory.
const timeLayout = "2006-01-02T15:04:05Z"
const timeLayoutFrac = "2006-01-02T15:04:05.999999999Z"

// ErrBadTimestamp is returned for any string that isn't a well-formed
// RFC-3339-ish UTC timestamp with a literal trailing "Z".
var ErrBadTimestamp = fmt.Errorf("timestamp must match YYYY-MM-DDTHH:MM:SS[.frac]Z")

// parseUTCTimestamp parses t per the grammar above. Dates outside the range
// time.Time can faithfully round-trip through the host's epoch are treated
// as "in the past" by the caller (see FutureUTC), not as a parse error —
// this preserves the legacy "very old date" behavior of the system this
// gateway fronts.
func parseUTCTimestamp(t string) (time.Time, error) {
	if !strings.HasSuffix(t, "Z") {
		return time.Time{}, ErrBadTimestamp
	}
	if parsed, err := time.Parse(timeLayout, t); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(timeLayoutFrac, t)
	if err != nil {
		return time.Time{}, ErrBadTimestamp
	}
	return parsed, nil
}

// FutureUTC reports whether t, an RFC-3339-ish UTC timestamp, is strictly
// after wall-clock now. A malformed timestamp is reported via err; a
// well-formed but out-of-epoch-range timestamp is reported as not-future
// with no error, matching the legacy "very old date" fallback.
func FutureUTC(t string, now time.Time) (bool, error) {
	parsed, err := parseUTCTimestamp(t)
	if err != nil {
		return false, err
	}
	return parsed.After(now), nil
}
