package rules

import (
	"strconv"
	"time"
)

// durationUnits holds the recognized unit spellings, longest alternative
// first within each group so that "seconds" is never cut short by "s".
var durationUnits = []struct {
	forms [3]string
	base  time.Duration
}{
	{[3]string{"seconds", "second", "s"}, time.Second},
	{[3]string{"milliseconds", "millisecond", "ms"}, time.Millisecond},
	{[3]string{"microseconds", "microsecond", "μs"}, time.Microsecond},
	{[3]string{"minutes", "minute", "m"}, time.Minute},
}

// ParseDurationLiteral parses a human time literal of the form
// "<digits><unit>", e.g. "30s", "1500 milliseconds" or "2m". The digit run is
// mandatory and must fit in 32 bits; the unit is matched case-insensitively;
// nothing may follow the unit.
func ParseDurationLiteral(input string) (time.Duration, error) {
	s := &scanner{input: input}
	d, err := s.duration()
	if err != nil {
		return 0, err
	}
	if !s.eof() {
		return 0, s.errorf("unexpected trailing characters after duration")
	}
	return d, nil
}

func (s *scanner) duration() (time.Duration, error) {
	start := s.pos
	digits := s.digits()
	count, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, &ParseError{Input: s.input, Offset: start, Msg: "expected a duration count"}
	}
	s.spaces()
	unit, err := s.durationUnit()
	if err != nil {
		return 0, err
	}
	return time.Duration(count) * unit, nil
}

func (s *scanner) durationUnit() (time.Duration, error) {
	for _, u := range durationUnits {
		for _, form := range u.forms {
			if s.lit(form) {
				return u.base, nil
			}
		}
	}
	return 0, s.errorf("expected a duration unit (s, ms, μs or m)")
}
