package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDurationLiteral_Valid(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
	}{
		{"1s", time.Second},
		{"30s", 30 * time.Second},
		{"1second", time.Second},
		{"2 seconds", 2 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"500 MILLISECONDS", 500 * time.Millisecond},
		{"1 millisecond", time.Millisecond},
		{"250μs", 250 * time.Microsecond},
		{"1 microsecond", time.Microsecond},
		{"3 microseconds", 3 * time.Microsecond},
		{"1m", time.Minute},
		{"2 minutes", 2 * time.Minute},
		{"1 Minute", time.Minute},
		{"0s", 0},
		{"10  s", 10 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseDurationLiteral(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseDurationLiteral_Invalid(t *testing.T) {
	cases := []string{
		"",
		"s",          // no digit run
		" 1s",        // leading whitespace
		"1",          // missing unit
		"1x",         // unknown unit
		"1h",         // hours are not a recognized unit
		"1s extra",   // trailing characters
		"1ss",        // trailing characters after unit
		"-1s",        // negative counts are not digits
		"1.5s",       // fractions are not digits
		"4294967296s", // exceeds 32 bits
	}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			_, err := ParseDurationLiteral(input)
			require.Error(t, err)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestParseDurationLiteral_LongestUnitWins(t *testing.T) {
	// "seconds" must not be cut short by "s" leaving "econds" as trailing
	// garbage.
	got, err := ParseDurationLiteral("5seconds")
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, got)

	got, err = ParseDurationLiteral("5minutes")
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, got)
}
