package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"-2d":                  time.Date(2025, 3, 8, 8, 0, 0, 0, time.UTC),
		"+1d":                  time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC),
		"2025-02-01":           time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		"2025-02-01T06:30:00Z": time.Date(2025, 2, 1, 6, 30, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseDate(in, now)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(want), "%s: %v", in, got)
	}
	for _, bad := range []string{"", "tomorrow", "+xd"} {
		_, err := ParseDate(bad, now)
		assert.Error(t, err, bad)
	}
}
