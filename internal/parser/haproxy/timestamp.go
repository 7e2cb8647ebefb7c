package haproxy

import (
	"fmt"
	"time"
)

// acceptDateLayout matches the balancer's fixed accept timestamp format,
// e.g. "09/Dec/2013:12:59:46.633". The layout omits the fractional part on
// purpose: time.Parse accepts a fractional second after the seconds field
// whether the layout declares one or not, so both ".633" and ".633000" parse.
const acceptDateLayout = "02/Jan/2006:15:04:05"

// ParseAcceptDate parses the bracket-delimited accept timestamp into a
// comparable instant with up to microsecond precision. The outer grammar
// guarantees the shape of its input, so a failure here means a calendar-
// invalid value (day 32, month 13) or a grammar/layout drift, and is
// reported as a hard error rather than an invalid record.
func ParseAcceptDate(raw string) (time.Time, error) {
	t, err := time.Parse(acceptDateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("accept date %q: %w", raw, err)
	}
	return t, nil
}
