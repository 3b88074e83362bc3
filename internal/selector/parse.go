// Copyright 2025 Joseph Cumines
//
// Selector parser

package selector

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	criterionSeparator = '|'
	chainOperator      = ">>"
	containsKeyword    = "contains:"
)

// SyntaxError reports a malformed selector. Offset is the byte offset of the
// first token that could not be parsed.
type SyntaxError struct {
	Selector string
	Reason   string
	Offset   int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid selector %q at offset %d: %s", e.Selector, e.Offset, e.Reason)
}

// Parse parses a selector string into a Chain.
func Parse(s string) (Chain, error) {
	p := &parser{src: s}
	segments, err := p.parseChain()
	if err != nil {
		return Chain{}, err
	}
	return Chain{Source: s, Segments: segments}, nil
}

// MustParse is like Parse but panics on error. It is intended for
// selectors that are compile-time constants.
func MustParse(s string) Chain {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseAll parses each selector in order, stopping at the first error.
func ParseAll(selectors []string) ([]Chain, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	out := make([]Chain, 0, len(selectors))
	for _, s := range selectors {
		c, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(offset int, format string, args ...any) error {
	return &SyntaxError{Selector: p.src, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) atEnd() bool {
	return p.pos >= len(p.src)
}

// atBoundary reports whether the cursor sits on a criterion separator, the
// chain operator, or the end of input.
func (p *parser) atBoundary() bool {
	return p.atEnd() || p.src[p.pos] == criterionSeparator || strings.HasPrefix(p.src[p.pos:], chainOperator)
}

func (p *parser) parseChain() ([]Segment, error) {
	var segments []Segment
	for {
		seg, err := p.parseSegment()
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
		if p.atEnd() {
			return segments, nil
		}
		// parseSegment only returns early on the chain operator
		p.pos += len(chainOperator)
	}
}

func (p *parser) parseSegment() (Segment, error) {
	p.skipSpace()
	seg := Segment{Offset: p.pos}
	indexSeen := false
	for {
		c, err := p.parseCriterion()
		if err != nil {
			return Segment{}, err
		}
		if c.Kind == KindIndex {
			if indexSeen {
				return Segment{}, p.errorf(c.Offset, "segment has more than one nth criterion")
			}
			indexSeen = true
		}
		seg.Criteria = append(seg.Criteria, c)

		p.skipSpace()
		switch {
		case p.atEnd(), strings.HasPrefix(p.src[p.pos:], chainOperator):
			if len(seg.Predicates()) == 0 {
				return Segment{}, p.errorf(seg.Offset, "segment needs a role, name or attr criterion")
			}
			return seg, nil
		case p.src[p.pos] == criterionSeparator:
			p.pos++
		default:
			return Segment{}, p.errorf(p.pos, "unexpected %q", p.src[p.pos])
		}
	}
}

func (p *parser) parseCriterion() (Criterion, error) {
	p.skipSpace()
	start := p.pos
	if p.atBoundary() {
		return Criterion{}, p.errorf(start, "expected criterion")
	}

	colon := -1
	for i := p.pos; i < len(p.src); i++ {
		ch := p.src[i]
		if ch == ':' {
			colon = i
			break
		}
		if !isKeyChar(ch) {
			break
		}
	}
	if colon <= p.pos {
		return Criterion{}, p.errorf(start, "expected key:value")
	}
	key := strings.ToLower(p.src[p.pos:colon])
	p.pos = colon + 1

	c := Criterion{Offset: start}
	switch key {
	case "role":
		c.Kind = KindRole
	case "name":
		c.Kind = KindName
		c.Contains = p.consumeContains()
	case "attr":
		c.Kind = KindAttribute
		attr, err := p.parseAttributeKey()
		if err != nil {
			return Criterion{}, err
		}
		c.Key = attr
		c.Contains = p.consumeContains()
	case "nth":
		c.Kind = KindIndex
		return p.parseIndex(c)
	default:
		return Criterion{}, p.errorf(start, "unknown selector key %q", key)
	}

	v, err := p.parseValue()
	if err != nil {
		return Criterion{}, err
	}
	c.Value = v
	return c, nil
}

func (p *parser) consumeContains() bool {
	if hasPrefixFold(p.src[p.pos:], containsKeyword) {
		p.pos += len(containsKeyword)
		return true
	}
	return false
}

func (p *parser) parseAttributeKey() (string, error) {
	start := p.pos
	for p.pos < len(p.src) && isKeyChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf(start, "expected attribute name")
	}
	if p.atEnd() || p.src[p.pos] != '=' {
		return "", p.errorf(p.pos, "expected '=' after attribute name")
	}
	key := strings.ToLower(p.src[start:p.pos])
	p.pos++
	return key, nil
}

func (p *parser) parseIndex(c Criterion) (Criterion, error) {
	p.skipSpace()
	start := p.pos
	for !p.atBoundary() && !isSpace(p.src[p.pos]) {
		p.pos++
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		return Criterion{}, p.errorf(start, "nth expects an integer")
	}
	c.Index = n
	return c, nil
}

func (p *parser) parseValue() (string, error) {
	p.skipSpace()
	start := p.pos
	if !p.atEnd() && p.src[p.pos] == '"' {
		return p.parseQuoted()
	}
	for !p.atBoundary() {
		p.pos++
	}
	v := strings.TrimSpace(p.src[start:p.pos])
	if v == "" {
		return "", p.errorf(start, "empty value")
	}
	return v, nil
}

func (p *parser) parseQuoted() (string, error) {
	start := p.pos
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		switch ch {
		case '\\':
			if p.pos+1 >= len(p.src) {
				return "", p.errorf(p.pos, "dangling escape")
			}
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case '"':
			p.pos++
			p.skipSpace()
			if !p.atBoundary() {
				return "", p.errorf(p.pos, "unexpected %q after quoted value", p.src[p.pos])
			}
			return b.String(), nil
		default:
			b.WriteByte(ch)
			p.pos++
		}
	}
	return "", p.errorf(start, "unterminated quoted value")
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isKeyChar(ch byte) bool {
	return ch == '_' || ch == '-' || ch == '.' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
