package transport

import (
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrInvalidFilter = errors.New("invalid filter")

const predicateCacheSize = 512

type operator string

const (
	opEq  operator = "eq"
	opNeq operator = "neq"
)

type clause struct {
	column string
	op     operator
	value  string
}

// Predicate is a parsed row filter. The zero value matches every row.
type Predicate struct {
	clauses []clause
}

// predicateCache holds parsed filters keyed by their text. Many channels share
// the same filter text (one per project), so parsing happens once per filter.
var predicateCache, _ = lru.New[string, Predicate](predicateCacheSize)

// ParseFilter parses col=op.value clauses separated by commas.
// Supported operators are eq and neq. An empty filter matches every row.
// A column or value may be double-quoted, with backslash escaping the next
// character, so it can carry commas, dots and quotes.
func ParseFilter(filter string) (Predicate, error) {
	if filter == "" {
		return Predicate{}, nil
	}
	if p, ok := predicateCache.Get(filter); ok {
		return p, nil
	}

	s := filterScanner{src: filter}
	var p Predicate
	for {
		col, err := s.field('=')
		if err != nil {
			return Predicate{}, err
		}
		if col == "" {
			return Predicate{}, fmt.Errorf("%w: clause %d has no column", ErrInvalidFilter, len(p.clauses))
		}
		op, err := s.field('.')
		if err != nil {
			return Predicate{}, err
		}
		switch operator(op) {
		case opEq, opNeq:
		default:
			return Predicate{}, fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, op)
		}
		value, err := s.field(',')
		if err != nil {
			return Predicate{}, err
		}
		p.clauses = append(p.clauses, clause{column: col, op: operator(op), value: value})
		if s.done() {
			break
		}
	}

	predicateCache.Add(filter, p)
	return p, nil
}

type filterScanner struct {
	src string
	pos int
}

func (s *filterScanner) done() bool {
	return s.pos >= len(s.src)
}

// field reads up to and consumes delim. Only the value field (delim ',') may
// end at the end of input.
func (s *filterScanner) field(delim byte) (string, error) {
	var out string
	if !s.done() && s.src[s.pos] == '"' {
		unquoted, err := s.quoted()
		if err != nil {
			return "", err
		}
		out = unquoted
	} else {
		i := strings.IndexByte(s.src[s.pos:], delim)
		if i < 0 {
			if delim != ',' {
				return "", fmt.Errorf("%w: missing %q at offset %d", ErrInvalidFilter, delim, s.pos)
			}
			out = s.src[s.pos:]
			s.pos = len(s.src)
			return out, nil
		}
		out = s.src[s.pos : s.pos+i]
		s.pos += i
	}

	if s.done() {
		if delim != ',' {
			return "", fmt.Errorf("%w: missing %q at offset %d", ErrInvalidFilter, delim, s.pos)
		}
		return out, nil
	}
	if s.src[s.pos] != delim {
		return "", fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidFilter, s.src[s.pos], s.pos)
	}
	s.pos++
	if delim == ',' && s.done() {
		return "", fmt.Errorf("%w: trailing comma", ErrInvalidFilter)
	}
	return out, nil
}

func (s *filterScanner) quoted() (string, error) {
	var b strings.Builder
	for i := s.pos + 1; i < len(s.src); i++ {
		switch c := s.src[i]; c {
		case '\\':
			i++
			if i == len(s.src) {
				return "", fmt.Errorf("%w: dangling escape", ErrInvalidFilter)
			}
			b.WriteByte(s.src[i])
		case '"':
			s.pos = i + 1
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
	return "", fmt.Errorf("%w: unterminated quote at offset %d", ErrInvalidFilter, s.pos)
}

// Match reports whether row satisfies every clause. Values compare by their
// fmt.Sprint form; a missing column never satisfies eq.
func (p Predicate) Match(row map[string]any) bool {
	for _, c := range p.clauses {
		v, present := row[c.column]
		equal := present && v != nil && fmt.Sprint(v) == c.value
		switch c.op {
		case opEq:
			if !equal {
				return false
			}
		case opNeq:
			if equal {
				return false
			}
		}
	}
	return true
}

// Matcher evaluates a ChangeSpec against wire messages
type Matcher struct {
	spec      ChangeSpec
	predicate Predicate
}

// Compile parses spec.Filter once for repeated matching
func Compile(spec ChangeSpec) (Matcher, error) {
	p, err := ParseFilter(spec.Filter)
	if err != nil {
		return Matcher{}, err
	}
	return Matcher{spec: spec, predicate: p}, nil
}

// Match reports whether msg belongs to the spec's schema, table and event
// and satisfies its filter.
func (m Matcher) Match(msg Message) bool {
	if msg.Schema != m.spec.Schema || msg.Table != m.spec.Table {
		return false
	}
	if !m.spec.Event.Matches(msg.Type) {
		return false
	}
	return m.predicate.Match(msg.MatchRow())
}
