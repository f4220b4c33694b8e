package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExchange(t *testing.T) {
	for _, code := range []string{"LSE", "CME", "NYQ"} {
		e, ok := ParseExchange(code)
		require.True(t, ok)
		assert.Equal(t, Exchange(code), e)
	}

	_, ok := ParseExchange("NASDAQ")
	assert.False(t, ok)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusStarted.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusSkipped.IsTerminal())
}

func TestWeekEndingFor(t *testing.T) {
	cases := []struct {
		name string
		day  string
		want string
	}{
		{"sunday maps to itself", "2026-07-26", "2026-07-26"},
		{"monday maps to previous sunday", "2026-07-27", "2026-07-26"},
		{"saturday maps to previous sunday", "2026-08-01", "2026-07-26"},
		{"following sunday resets", "2026-08-02", "2026-08-02"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			day, err := time.Parse("2006-01-02", c.day)
			require.NoError(t, err)
			want, err := time.Parse("2006-01-02", c.want)
			require.NoError(t, err)

			got := WeekEndingFor(day)
			assert.True(t, got.Equal(want), "WeekEndingFor(%s) = %s, want %s", c.day, got, want)
			assert.Equal(t, time.Sunday, got.Weekday())
		})
	}
}
