package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDate accepts a relative offset in days such as "-2d" or "+1d", a
// YYYY-MM-DD date or an RFC 3339 timestamp.
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > 1 && strings.HasSuffix(s, "d") && (s[0] == '+' || s[0] == '-') {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return time.Time{}, fmt.Errorf("relative date %q: %w", s, err)
		}
		return now.AddDate(0, 0, n), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := ParseTimestamp(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
