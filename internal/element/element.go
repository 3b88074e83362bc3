// Copyright 2025 Joseph Cumines

// Package element holds the point-in-time view of an accessibility node:
// geometry, state flags, value payloads and the capability set derived from
// them.
//
// A [Snapshot] is a read-only copy. It keeps an opaque [Ref] to the native
// node for re-query only; anything that acts on the node must go back
// through the platform adapter.
package element

import (
	"math"
	"time"
)

// Ref is an opaque reference to a native accessibility node.
//
// Key returns a string identifying the node for as long as the backend can
// re-query it. Two refs obtained by separate resolutions of the same node
// have the same key.
type Ref interface {
	Key() string
}

// Point is a screen coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a screen rectangle in pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rectangle has no area or holds non-finite
// values.
func (r Rect) Empty() bool {
	for _, v := range [...]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return r.Width <= 0 || r.Height <= 0
}

// Max returns the bottom-right corner.
func (r Rect) Max() Point {
	return Point{X: r.X + r.Width, Y: r.Y + r.Height}
}

// Center returns the centre point.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether o lies entirely within r.
func (r Rect) Contains(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	rm, om := r.Max(), o.Max()
	return o.X >= r.X && o.Y >= r.Y && om.X <= rm.X && om.Y <= rm.Y
}

// Overlaps reports whether r and o share any area.
func (r Rect) Overlaps(o Rect) bool {
	return !r.Intersect(o).Empty()
}

// Intersect returns the overlap of r and o, or the zero Rect.
func (r Rect) Intersect(o Rect) Rect {
	if r.Empty() || o.Empty() {
		return Rect{}
	}
	rm, om := r.Max(), o.Max()
	x0, y0 := math.Max(r.X, o.X), math.Max(r.Y, o.Y)
	x1, y1 := math.Min(rm.X, om.X), math.Min(rm.Y, om.Y)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Union returns the smallest rectangle containing r and o. Empty inputs are
// ignored.
func (r Rect) Union(o Rect) Rect {
	switch {
	case r.Empty():
		return o
	case o.Empty():
		return r
	}
	rm, om := r.Max(), o.Max()
	x0, y0 := math.Min(r.X, o.X), math.Min(r.Y, o.Y)
	x1, y1 := math.Max(rm.X, om.X), math.Max(rm.Y, om.Y)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Outset grows the rectangle by d on every side.
func (r Rect) Outset(d float64) Rect {
	return Rect{X: r.X - d, Y: r.Y - d, Width: r.Width + 2*d, Height: r.Height + 2*d}
}

// State holds the boolean state flags of a node.
type State struct {
	Enabled  bool `json:"enabled"`
	Visible  bool `json:"visible"`
	Focused  bool `json:"focused"`
	Toggled  bool `json:"toggled"`
	Selected bool `json:"selected"`
	// Focusable, Checkable and Editable feed capability derivation.
	Focusable bool `json:"focusable,omitempty"`
	Checkable bool `json:"checkable,omitempty"`
	Editable  bool `json:"editable,omitempty"`
	// Protected marks password-style fields whose text must not be logged.
	Protected bool `json:"protected,omitempty"`
}

// Range is the payload of a range-valued node (slider, spinner, progress).
type Range struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	// Bounded is false when the backend cannot report Min and Max.
	Bounded bool `json:"bounded"`
}

// Properties is what a backend reads from a node in one pass.
type Properties struct {
	Attributes map[string]string
	Text       *string
	Range      *Range
	Role       string
	NativeRole string
	Name       string
	Bounds     Rect
	State      State
}

// Snapshot is an immutable, point-in-time copy of one accessibility node.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Snapshot struct {
	// Ref is the native reference, usable only to re-query the node.
	Ref Ref `json:"-"`

	Key          string        `json:"key"`
	Role         string        `json:"role"`
	NativeRole   string        `json:"native_role,omitempty"`
	Name         string        `json:"name"`
	Bounds       Rect          `json:"bounds"`
	Capabilities CapabilitySet `json:"capabilities"`
	State        State         `json:"state"`
	Text         *string       `json:"text,omitempty"`
	Range        *Range        `json:"range,omitempty"`
	CapturedAt   time.Time     `json:"captured_at"`
}

// NewSnapshot assembles a snapshot from freshly read properties.
func NewSnapshot(ref Ref, props Properties, caps CapabilitySet, at time.Time) *Snapshot {
	s := &Snapshot{
		Ref:          ref,
		Role:         props.Role,
		NativeRole:   props.NativeRole,
		Name:         props.Name,
		Bounds:       props.Bounds,
		Capabilities: caps,
		State:        props.State,
		CapturedAt:   at,
	}
	if ref != nil {
		s.Key = ref.Key()
	}
	if props.Text != nil {
		text := *props.Text
		s.Text = &text
	}
	if props.Range != nil {
		r := *props.Range
		s.Range = &r
	}
	return s
}
