package scanner

import (
	"fmt"
	"strings"
)

/*
 * A tiny cursor over a single protocol line. The first failed
 * expectation latches into Err and turns every later call into
 * a no-op, so parsing code can run a series of steps and check
 * the error once at the end.
 */
type Scanner struct {
	str string
	pos int
	err error
}

func New(s string) *Scanner {
	return &Scanner{str: s}
}

func (s *Scanner) More() bool {
	if s.err != nil {
		return false
	}
	return s.pos < len(s.str)
}

// Peek returns the current byte without consuming it, zero at the end.
func (s *Scanner) Peek() byte {
	if !s.More() {
		return 0
	}
	return s.str[s.pos]
}

// Take consumes and returns the current byte, zero at the end.
func (s *Scanner) Take() byte {
	if !s.More() {
		return 0
	}
	ch := s.str[s.pos]
	s.pos++
	return ch
}

// Expect consumes the given byte or latches an error.
func (s *Scanner) Expect(ch byte) bool {
	if s.err != nil {
		return false
	}
	n := s.Take()
	if n != ch {
		s.err = fmt.Errorf("expected %q, got %q", ch, n)
		return false
	}
	return true
}

// SkipFold consumes the given literal, matching case-insensitively.
func (s *Scanner) SkipFold(str string) bool {
	if s.err != nil {
		return false
	}
	for i := 0; i < len(str); i++ {
		if toUpper(s.Take()) != toUpper(str[i]) {
			s.err = fmt.Errorf("expected %q", str)
			return false
		}
	}
	return true
}

// SkipSpaces consumes a run of space characters, if any.
func (s *Scanner) SkipSpaces() {
	for s.Peek() == ' ' {
		s.Take()
	}
}

// ReadWord consumes a run of letters. Command verbs are words.
func (s *Scanner) ReadWord() string {
	var b strings.Builder
	for isAlpha(s.Peek()) {
		b.WriteByte(s.Take())
	}
	return b.String()
}

// ReadAddress consumes a mailbox address, a dotted name with an
// optional host part. Stops at the first byte that can't be part
// of one.
func (s *Scanner) ReadAddress() string {
	var b strings.Builder
	for isAddressByte(s.Peek()) {
		b.WriteByte(s.Take())
	}
	return b.String()
}

// Rest returns whatever has not been consumed yet.
func (s *Scanner) Rest() string {
	if s.err != nil {
		return ""
	}
	return s.str[s.pos:]
}

func (s *Scanner) Err() error {
	return s.err
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	return c
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isAddressByte(ch byte) bool {
	if isAlpha(ch) || isDigit(ch) {
		return true
	}
	switch ch {
	case '.', '-', '_', '+', '@', '=':
		return true
	}
	return false
}
