// Copyright 2025 Joseph Cumines
//
// MSAA role and state mapping unit tests

package msaa

import (
	"testing"

	"github.com/joeycumines/uilocator/internal/element"
)

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		role int32
		want string
	}{
		{rolePushButton, element.RoleButton},
		{roleCheckButton, element.RoleCheckBox},
		{roleOutlineItem, element.RoleTreeItem},
		{roleText, element.RoleEdit},
		{roleClient, element.RolePane},
		{0x3b, element.RoleUnknown},
	}
	for _, tt := range tests {
		if got := normalizeRole(tt.role); got != tt.want {
			t.Errorf("normalizeRole(%#x) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		name  string
		flags uint32
		role  int32
		want  element.State
	}{
		{"plain", 0, rolePushButton, element.State{Enabled: true, Visible: true}},
		{"unavailable offscreen", stateUnavailable | stateOffscreen, rolePushButton, element.State{}},
		{"invisible", stateInvisible | stateFocusable, roleListItem, element.State{Enabled: true, Focusable: true}},
		{"checked box", stateChecked, roleCheckButton, element.State{Enabled: true, Visible: true, Toggled: true, Checkable: true}},
		{"pressed button", statePressed | stateFocused, rolePushButton, element.State{Enabled: true, Visible: true, Toggled: true, Focused: true}},
		{"editable text", stateSelected, roleText, element.State{Enabled: true, Visible: true, Selected: true, Editable: true}},
		{"read-only password", stateReadOnly | stateProtected, roleText, element.State{Enabled: true, Visible: true, Protected: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stateOf(tt.flags, tt.role); got != tt.want {
				t.Errorf("stateOf(%#x) = %+v, want %+v", tt.flags, got, tt.want)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"42", 42, true},
		{" 12.5 ", 12.5, true},
		{"75%", 75, true},
		{"-3", -3, true},
		{"", 0, false},
		{"NaN", 0, false},
		{"loud", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseRange(tt.in)
		if ok != tt.wantOK {
			t.Errorf("parseRange(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && (got.Value != tt.want || got.Bounded) {
			t.Errorf("parseRange(%q) = %+v", tt.in, got)
		}
	}
	if !hasRange(roleSlider) || hasRange(rolePushButton) {
		t.Error("hasRange() misclassified roles")
	}
	if got := formatValue(12.5); got != "12.5" {
		t.Errorf("formatValue() = %q", got)
	}
}

func TestPathKey(t *testing.T) {
	if got := pathKey(nil); got != "msaa:/" {
		t.Errorf("pathKey(nil) = %q", got)
	}
	if got := pathKey([]int{3, 0, 12}); got != "msaa:/3/0/12" {
		t.Errorf("pathKey() = %q", got)
	}
}

func TestWheelData(t *testing.T) {
	tests := []struct {
		delta    float64
		vertical bool
		want     int32
	}{
		{120, true, -360},
		{-40, true, 120},
		{5, true, -120},
		{80, false, 240},
		{-3, false, -120},
		{0, true, 0},
	}
	for _, tt := range tests {
		if got := wheelData(tt.delta, tt.vertical); got != tt.want {
			t.Errorf("wheelData(%v, %v) = %d, want %d", tt.delta, tt.vertical, got, tt.want)
		}
	}
}
