// Copyright 2025 Joseph Cumines
//
// Element model unit tests

package element

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

type testRef string

func (r testRef) Key() string { return string(r) }

func TestRect_Geometry(t *testing.T) {
	viewport := Rect{X: 0, Y: 0, Width: 800, Height: 600}

	tests := []struct {
		name     string
		r        Rect
		empty    bool
		contains bool
		overlaps bool
	}{
		{"inside", Rect{X: 10, Y: 10, Width: 100, Height: 20}, false, true, true},
		{"edge aligned", Rect{X: 700, Y: 580, Width: 100, Height: 20}, false, true, true},
		{"partially below", Rect{X: 10, Y: 590, Width: 100, Height: 20}, false, false, true},
		{"fully below", Rect{X: 10, Y: 900, Width: 100, Height: 20}, false, false, false},
		{"zero width", Rect{X: 10, Y: 10, Width: 0, Height: 20}, true, false, false},
		{"negative height", Rect{X: 10, Y: 10, Width: 10, Height: -1}, true, false, false},
		{"nan", Rect{X: math.NaN(), Y: 10, Width: 10, Height: 10}, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Empty(); got != tt.empty {
				t.Errorf("Empty() = %v, want %v", got, tt.empty)
			}
			if got := viewport.Contains(tt.r); got != tt.contains {
				t.Errorf("Contains() = %v, want %v", got, tt.contains)
			}
			if got := viewport.Overlaps(tt.r); got != tt.overlaps {
				t.Errorf("Overlaps() = %v, want %v", got, tt.overlaps)
			}
		})
	}
}

func TestRect_OutsetAndUnion(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 30, Height: 40}
	if got, want := r.Outset(4), (Rect{X: 6, Y: 16, Width: 38, Height: 48}); got != want {
		t.Errorf("Outset(4) = %+v, want %+v", got, want)
	}
	if got, want := r.Center(), (Point{X: 25, Y: 40}); got != want {
		t.Errorf("Center() = %+v, want %+v", got, want)
	}
	u := r.Union(Rect{X: 0, Y: 0, Width: 5, Height: 5})
	if want := (Rect{X: 0, Y: 0, Width: 40, Height: 60}); u != want {
		t.Errorf("Union() = %+v, want %+v", u, want)
	}
	if got := (Rect{}).Union(r); got != r {
		t.Errorf("empty.Union(r) = %+v, want %+v", got, r)
	}
}

func TestCapabilitySet_JSON(t *testing.T) {
	s := NewCapabilitySet(Toggleable, Invocable)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `["invocable","toggleable"]` {
		t.Errorf("Marshal() = %s", data)
	}
	var back CapabilitySet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back != s {
		t.Errorf("Unmarshal() = %v, want %v", back, s)
	}
	if err := json.Unmarshal([]byte(`["flying"]`), &back); err == nil {
		t.Error("expected error for unknown capability")
	}
}

func TestDeriveCapabilities(t *testing.T) {
	tests := []struct {
		role     string
		state    State
		hasRange bool
		want     CapabilitySet
	}{
		{RoleButton, State{}, false, NewCapabilitySet(Invocable)},
		{RoleCheckBox, State{}, false, NewCapabilitySet(Invocable, Toggleable)},
		{RoleListItem, State{}, false, NewCapabilitySet(Selectable)},
		{RoleSlider, State{}, true, NewCapabilitySet(RangeValued)},
		{RoleEdit, State{}, false, NewCapabilitySet(Textual)},
		{RoleList, State{}, false, NewCapabilitySet(Scrollable)},
		{RoleText, State{Editable: true}, false, NewCapabilitySet(Textual)},
		{RoleMenuItem, State{Checkable: true}, false, NewCapabilitySet(Invocable, Toggleable)},
		{RoleImage, State{}, false, 0},
	}
	for _, tt := range tests {
		if got := DeriveCapabilities(tt.role, tt.state, tt.hasRange); got != tt.want {
			t.Errorf("DeriveCapabilities(%q, %+v) = %v, want %v", tt.role, tt.state, got, tt.want)
		}
	}
}

func TestNewSnapshot_CopiesPayloads(t *testing.T) {
	text := "hello"
	props := Properties{
		Role:  RoleEdit,
		Name:  "Field",
		Text:  &text,
		Range: &Range{Value: 1, Max: 2, Bounded: true},
	}
	at := time.Unix(100, 0)
	s := NewSnapshot(testRef("k1"), props, NewCapabilitySet(Textual), at)
	text = "mutated"
	props.Range.Value = 9

	if s.Key != "k1" {
		t.Errorf("Key = %q, want k1", s.Key)
	}
	if *s.Text != "hello" {
		t.Errorf("Text = %q, want hello", *s.Text)
	}
	if s.Range.Value != 1 {
		t.Errorf("Range.Value = %v, want 1", s.Range.Value)
	}
	if !s.CapturedAt.Equal(at) {
		t.Errorf("CapturedAt = %v, want %v", s.CapturedAt, at)
	}
}
