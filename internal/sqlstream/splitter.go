// Package sqlstream splits, classifies and renders the SQL text carried by
// dump files.
package sqlstream

import "strings"

type scanState int

const (
	stateNormal scanState = iota
	stateSingleQuote
	stateDoubleQuote
	stateBacktick
	stateBlockComment
	stateLineComment
)

// Splitter turns a byte stream of SQL text into complete statements.
// Feed may be called with chunks split at any byte offset; the statements
// returned are the same as for the whole text fed at once.
//
// Boundaries are unquoted, uncommented semicolons. `--` line comments at the
// start of a line are dropped, block comments (including /*! */) are kept
// verbatim. A Splitter is not safe for concurrent use.
type Splitter struct {
	buf   strings.Builder
	state scanState

	lineStart    bool
	escaped      bool
	pendingDash  bool
	pendingSlash bool
	pendingStar  bool
}

// NewSplitter returns a splitter positioned at the start of a statement
func NewSplitter() *Splitter {
	return &Splitter{lineStart: true}
}

// Feed consumes a chunk and returns the statements it completed
func (s *Splitter) Feed(chunk []byte) []string {
	var out []string
	for _, c := range chunk {
		if stmt, ok := s.step(c); ok {
			out = append(out, stmt)
		}
	}
	return out
}

// Flush returns the trailing partial statement, if any, and resets the
// splitter.
func (s *Splitter) Flush() []string {
	if s.pendingDash {
		s.buf.WriteByte('-')
	}
	if s.pendingSlash {
		s.buf.WriteByte('/')
	}

	var out []string
	if stmt, ok := s.emit(); ok {
		out = append(out, stmt)
	}
	*s = Splitter{lineStart: true}
	return out
}

func (s *Splitter) step(c byte) (string, bool) {
	switch s.state {
	case stateLineComment:
		if c == '\n' {
			s.state = stateNormal
			s.lineStart = true
			s.buf.WriteByte(c)
		}
		return "", false

	case stateSingleQuote, stateDoubleQuote:
		s.buf.WriteByte(c)
		switch {
		case s.escaped:
			s.escaped = false
		case c == '\\':
			s.escaped = true
		case c == '\'' && s.state == stateSingleQuote, c == '"' && s.state == stateDoubleQuote:
			s.state = stateNormal
		}
		return "", false

	case stateBacktick:
		s.buf.WriteByte(c)
		if c == '`' {
			s.state = stateNormal
		}
		return "", false

	case stateBlockComment:
		s.buf.WriteByte(c)
		if s.pendingStar && c == '/' {
			s.state = stateNormal
			s.pendingStar = false
			return "", false
		}
		s.pendingStar = c == '*'
		return "", false
	}

	if s.pendingDash {
		s.pendingDash = false
		if c == '-' {
			s.state = stateLineComment
			return "", false
		}
		s.buf.WriteByte('-')
		s.lineStart = false
	}

	if s.pendingSlash {
		s.pendingSlash = false
		if c == '*' {
			s.buf.WriteString("/*")
			s.state = stateBlockComment
			s.lineStart = false
			return "", false
		}
		s.buf.WriteByte('/')
		s.lineStart = false
	}

	switch c {
	case ';':
		stmt, ok := s.emit()
		s.lineStart = true
		return stmt, ok
	case '-':
		if s.lineStart {
			s.pendingDash = true
			return "", false
		}
	case '/':
		s.pendingSlash = true
		return "", false
	case '\'':
		s.state = stateSingleQuote
	case '"':
		s.state = stateDoubleQuote
	case '`':
		s.state = stateBacktick
	case '\n':
		s.buf.WriteByte(c)
		s.lineStart = true
		return "", false
	case ' ', '\t', '\r':
		s.buf.WriteByte(c)
		return "", false
	}

	s.buf.WriteByte(c)
	s.lineStart = false
	return "", false
}

func (s *Splitter) emit() (string, bool) {
	stmt := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return stmt, stmt != ""
}

// SplitAll splits a complete text in one call
func SplitAll(text string) []string {
	s := NewSplitter()
	out := s.Feed([]byte(text))
	return append(out, s.Flush()...)
}
