// Copyright 2025 Joseph Cumines

// Package selector implements the selector language used to describe a
// target accessibility node, e.g. `role:listitem|name:Florida >> role:hyperlink`.
//
// A selector is parsed into a [Chain] of [Segment]s. Each segment is a set of
// [Criterion] values that must all hold for a single node; every segment after
// the first is searched for within the node matched by the previous segment.
// Parsing is pure and never touches the accessibility tree.
package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the predicate a Criterion applies.
type Kind int

const (
	// KindRole matches the node's normalized or native role (case-insensitive).
	KindRole Kind = iota + 1
	// KindName matches the node's accessible name.
	KindName
	// KindAttribute matches a named backend attribute.
	KindAttribute
	// KindIndex selects the N-th node satisfying the rest of the segment.
	KindIndex
)

// String returns the selector keyword for the kind.
func (k Kind) String() string {
	switch k {
	case KindRole:
		return "role"
	case KindName:
		return "name"
	case KindAttribute:
		return "attr"
	case KindIndex:
		return "nth"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Criterion is one predicate of a segment.
type Criterion struct {
	// Key is the attribute name, lower-cased. Only set for KindAttribute.
	Key string
	// Value is the expected role, name, or attribute value.
	Value string
	Kind  Kind
	// Index is the positional index for KindIndex. Negative values count
	// from the last match.
	Index int
	// Offset is the byte offset of the criterion in the source selector.
	Offset int
	// Contains selects case-insensitive substring matching instead of an
	// exact comparison. Only valid for KindName and KindAttribute.
	Contains bool
}

// MatchString applies the criterion's comparison mode to s.
// It is meaningful for KindName and KindAttribute.
func (c Criterion) MatchString(s string) bool {
	if c.Contains {
		return strings.Contains(strings.ToLower(s), strings.ToLower(c.Value))
	}
	return s == c.Value
}

// String renders the criterion in canonical selector syntax.
func (c Criterion) String() string {
	switch c.Kind {
	case KindRole:
		return "role:" + quoteValue(c.Value)
	case KindName:
		return "name:" + containsPrefix(c.Contains) + quoteValue(c.Value)
	case KindAttribute:
		return "attr:" + c.Key + "=" + containsPrefix(c.Contains) + quoteValue(c.Value)
	case KindIndex:
		return "nth:" + strconv.Itoa(c.Index)
	default:
		return fmt.Sprintf("<invalid criterion %d>", int(c.Kind))
	}
}

func (c Criterion) equal(o Criterion) bool {
	return c.Kind == o.Kind &&
		c.Key == o.Key &&
		c.Value == o.Value &&
		c.Contains == o.Contains &&
		c.Index == o.Index
}

// Segment is the set of criteria that a single node must satisfy.
type Segment struct {
	Criteria []Criterion
	// Offset is the byte offset of the segment in the source selector.
	Offset int
}

// Index returns the positional index of the segment and whether one was
// given. Without one the first match in traversal order is used.
func (s Segment) Index() (int, bool) {
	for _, c := range s.Criteria {
		if c.Kind == KindIndex {
			return c.Index, true
		}
	}
	return 0, false
}

// Predicates returns the criteria that are tested per node, i.e. all but
// the positional index.
func (s Segment) Predicates() []Criterion {
	out := make([]Criterion, 0, len(s.Criteria))
	for _, c := range s.Criteria {
		if c.Kind != KindIndex {
			out = append(out, c)
		}
	}
	return out
}

// String renders the segment in canonical selector syntax.
func (s Segment) String() string {
	parts := make([]string, len(s.Criteria))
	for i, c := range s.Criteria {
		parts[i] = c.String()
	}
	return strings.Join(parts, "|")
}

// Chain is a parsed selector.
type Chain struct {
	// Source is the selector text the chain was parsed from.
	Source   string
	Segments []Segment
}

// String renders the chain in canonical selector syntax. Parsing the result
// yields a chain that is Equal to c.
func (c Chain) String() string {
	parts := make([]string, len(c.Segments))
	for i, s := range c.Segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, " >> ")
}

// IsZero reports whether the chain has no segments.
func (c Chain) IsZero() bool {
	return len(c.Segments) == 0
}

// Equal reports whether two chains describe the same criteria, ignoring
// source text and offsets.
func (c Chain) Equal(o Chain) bool {
	if len(c.Segments) != len(o.Segments) {
		return false
	}
	for i := range c.Segments {
		a, b := c.Segments[i].Criteria, o.Segments[i].Criteria
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if !a[j].equal(b[j]) {
				return false
			}
		}
	}
	return true
}

func containsPrefix(contains bool) string {
	if contains {
		return containsKeyword
	}
	return ""
}

// quoteValue quotes v when the bare form would not parse back to v.
func quoteValue(v string) string {
	if !needsQuote(v) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('"')
	for i := 0; i < len(v); i++ {
		if v[i] == '"' || v[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
	b.WriteByte('"')
	return b.String()
}

func needsQuote(v string) bool {
	if v == "" || strings.TrimSpace(v) != v {
		return true
	}
	if strings.ContainsAny(v, `|"\`) || strings.Contains(v, chainOperator) {
		return true
	}
	return hasPrefixFold(v, containsKeyword)
}
