package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseError reports the first grammar violation in a rule expression or
// duration literal, with the byte offset of the offending token.
type ParseError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d of %q: %s", e.Offset, e.Input, e.Msg)
}

// scanner is a minimal cursor over the expression text. All productions
// consume on success; productions that need lookahead save and restore pos.
type scanner struct {
	input string
	pos   int
}

func (s *scanner) rest() string { return s.input[s.pos:] }
func (s *scanner) eof() bool    { return s.pos >= len(s.input) }

func (s *scanner) errorf(format string, args ...any) *ParseError {
	return &ParseError{Input: s.input, Offset: s.pos, Msg: fmt.Sprintf(format, args...)}
}

// lit consumes a case-insensitive literal prefix.
func (s *scanner) lit(word string) bool {
	rest := s.rest()
	if len(rest) < len(word) || !strings.EqualFold(rest[:len(word)], word) {
		return false
	}
	s.pos += len(word)
	return true
}

// spaces consumes a possibly empty run of spaces and tabs.
func (s *scanner) spaces() {
	for !s.eof() && (s.input[s.pos] == ' ' || s.input[s.pos] == '\t') {
		s.pos++
	}
}

// spaces1 consumes a run of at least one space or tab.
func (s *scanner) spaces1() bool {
	start := s.pos
	s.spaces()
	return s.pos > start
}

// word consumes a keyword followed by mandatory whitespace, or nothing.
func (s *scanner) word(keyword string) bool {
	save := s.pos
	if s.lit(keyword) && s.spaces1() {
		return true
	}
	s.pos = save
	return false
}

// sep consumes whitespace-delimited "and"/"or" between rules, or nothing.
func (s *scanner) sep(keyword string) bool {
	save := s.pos
	if s.spaces1() && s.lit(keyword) && s.spaces1() {
		return true
	}
	s.pos = save
	return false
}

func (s *scanner) digits() string {
	start := s.pos
	for !s.eof() && s.input[s.pos] >= '0' && s.input[s.pos] <= '9' {
		s.pos++
	}
	return s.input[start:s.pos]
}

// Parse parses a full readiness expression into an OrRules tree. Keywords are
// case-insensitive; "and" binds tighter than "or". The whole input must be
// consumed.
func Parse(input string) (*OrRules, error) {
	s := &scanner{input: input}
	var groups []*AndRules
	for {
		group, last, err := s.andGroup()
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
		if last {
			return &OrRules{Groups: groups}, nil
		}
		s.sep("or")
	}
}

// andGroup parses one "and"-joined run of rules. It stops, reporting
// last=true, when the expression ends; it stops without consuming when an
// "or" separator follows.
func (s *scanner) andGroup() (*AndRules, bool, error) {
	var members []Rule
	for {
		rule, err := s.rule()
		if err != nil {
			return nil, false, err
		}
		members = append(members, rule)

		save := s.pos
		s.spaces()
		if s.eof() {
			return &AndRules{Rules: members}, true, nil
		}
		s.pos = save

		if s.peekSep("or") {
			return &AndRules{Rules: members}, false, nil
		}
		if !s.sep("and") {
			s.spaces()
			return nil, false, s.errorf("expected 'and', 'or', or end of expression")
		}
	}
}

func (s *scanner) peekSep(keyword string) bool {
	save := s.pos
	ok := s.sep(keyword)
	s.pos = save
	return ok
}

func (s *scanner) rule() (Rule, error) {
	switch {
	case s.word("after"):
		d, err := s.duration()
		if err != nil {
			return nil, err
		}
		return After{Duration: d}, nil

	case s.word("tcp"):
		port, err := s.portClause()
		if err != nil {
			return nil, err
		}
		if !s.spaces1() || !s.lit("ready") {
			return nil, s.errorf("expected 'ready'")
		}
		return TCP{Port: port}, nil

	case s.word("http"):
		port, err := s.httpTail()
		if err != nil {
			return nil, err
		}
		return HTTP{Port: port}, nil

	case s.word("https"):
		port, err := s.httpTail()
		if err != nil {
			return nil, err
		}
		return HTTPS{Port: port}, nil

	case s.word("matches"):
		return s.pattern()

	default:
		return nil, s.errorf("expected a rule ('after', 'tcp', 'http', 'https' or 'matches')")
	}
}

// portClause parses "port <digits>" into a non-zero 16-bit port.
func (s *scanner) portClause() (uint16, error) {
	if !s.word("port") {
		return 0, s.errorf("expected 'port'")
	}
	start := s.pos
	digits := s.digits()
	port, err := strconv.ParseUint(digits, 10, 16)
	if err != nil || port == 0 {
		return 0, &ParseError{Input: s.input, Offset: start, Msg: "expected a port number between 1 and 65535"}
	}
	return uint16(port), nil
}

// httpTail parses the remainder of an http/https rule: an optional port
// clause followed by "ready". Returns 0 when the port was omitted.
func (s *scanner) httpTail() (uint16, error) {
	if s.lit("ready") {
		return 0, nil
	}
	port, err := s.portClause()
	if err != nil {
		return 0, err
	}
	if !s.spaces1() || !s.lit("ready") {
		return 0, s.errorf("expected 'ready'")
	}
	return port, nil
}

// pattern parses a quoted or bare regular expression and compiles it. Quoted
// patterns un-escape only the \" sequence; bare patterns run to the next
// whitespace.
func (s *scanner) pattern() (Rule, error) {
	start := s.pos
	var text string
	if s.lit(`"`) {
		var sb strings.Builder
		for {
			if s.eof() {
				return nil, s.errorf("unterminated quoted pattern")
			}
			switch c := s.input[s.pos]; c {
			case '"':
				s.pos++
				if sb.Len() == 0 {
					return nil, &ParseError{Input: s.input, Offset: start, Msg: "empty pattern"}
				}
				text = sb.String()
				return compilePattern(s, start, text)
			case '\\':
				if s.pos+1 >= len(s.input) || s.input[s.pos+1] != '"' {
					return nil, s.errorf(`only \" may be escaped in a quoted pattern`)
				}
				sb.WriteByte('"')
				s.pos += 2
			default:
				sb.WriteByte(c)
				s.pos++
			}
		}
	}

	for !s.eof() && s.input[s.pos] != ' ' && s.input[s.pos] != '\t' {
		s.pos++
	}
	text = s.input[start:s.pos]
	if text == "" {
		return nil, s.errorf("expected a pattern")
	}
	return compilePattern(s, start, text)
}

func compilePattern(s *scanner, offset int, text string) (Rule, error) {
	re, err := regexp.Compile(text)
	if err != nil {
		return nil, &ParseError{Input: s.input, Offset: offset, Msg: fmt.Sprintf("invalid pattern: %v", err)}
	}
	return Matches{Pattern: re}, nil
}
