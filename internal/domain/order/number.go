package order

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultNumberPrefix starts every order number unless configured otherwise.
const DefaultNumberPrefix = "ORD"

// FormatNumber builds a human-readable order number: prefix, the day as
// YYMMDD, then the serial zero-padded to four digits. Serials past 9999 widen.
func FormatNumber(prefix string, day time.Time, serial int64) string {
	return fmt.Sprintf("%s%s%04d", prefix, day.Format("060102"), serial)
}

// ParseNumber splits an order number produced by FormatNumber.
func ParseNumber(prefix, number string) (day time.Time, serial int64, ok bool) {
	rest, found := strings.CutPrefix(number, prefix)
	if !found || len(rest) < 10 {
		return time.Time{}, 0, false
	}
	day, err := time.Parse("060102", rest[:6])
	if err != nil {
		return time.Time{}, 0, false
	}
	serial, err = strconv.ParseInt(rest[6:], 10, 64)
	if err != nil || serial < 1 {
		return time.Time{}, 0, false
	}
	return day, serial, true
}

// Day truncates t to local midnight in loc. Counters are keyed by this value.
func Day(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
