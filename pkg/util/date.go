package util

import (
	"strconv"
	"time"
)

// unix timestamps above this are taken as milliseconds
const millisThreshold = 1e11

// ParseTime accepts RFC3339 (with or without fractional seconds) and unix
// timestamps in seconds or milliseconds. Browser agents report milliseconds.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}, false
	}
	if ts > millisThreshold {
		return time.UnixMilli(ts), true
	}
	return time.Unix(ts, 0), true
}
