// Copyright 2025 Joseph Cumines
//
// Adapter helper unit tests

package platform

import (
	"encoding/json"
	"testing"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/lucasb-eyer/go-colorful"
)

func TestMatchProperties(t *testing.T) {
	props := element.Properties{
		Role:       element.RoleButton,
		NativeRole: "push button",
		Name:       "Submit Order",
		Attributes: map[string]string{"AutomationId": "btnSubmit"},
	}

	tests := []struct {
		name string
		c    selector.Criterion
		want bool
	}{
		{"normalized role", selector.Criterion{Kind: selector.KindRole, Value: "Button"}, true},
		{"native role", selector.Criterion{Kind: selector.KindRole, Value: "PUSH BUTTON"}, true},
		{"wrong role", selector.Criterion{Kind: selector.KindRole, Value: "link"}, false},
		{"exact name", selector.Criterion{Kind: selector.KindName, Value: "Submit Order"}, true},
		{"exact name is case-sensitive", selector.Criterion{Kind: selector.KindName, Value: "submit order"}, false},
		{"contains name", selector.Criterion{Kind: selector.KindName, Value: "order", Contains: true}, true},
		{"attribute folded key", selector.Criterion{Kind: selector.KindAttribute, Key: "automationid", Value: "btnSubmit"}, true},
		{"missing attribute", selector.Criterion{Kind: selector.KindAttribute, Key: "class", Value: ""}, false},
		{"index", selector.Criterion{Kind: selector.KindIndex, Index: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchProperties(props, tt.c); got != tt.want {
				t.Errorf("MatchProperties(%s) = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestActionKind_Names(t *testing.T) {
	for k := ActionInvoke; k <= ActionScroll; k++ {
		got, ok := ParseActionKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseActionKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseActionKind("explode"); ok {
		t.Error("unexpected kind")
	}
}

func TestPermission_JSON(t *testing.T) {
	var v struct {
		P Permission `json:"p"`
	}
	if err := json.Unmarshal([]byte(`{"p":"denied"}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.P != PermissionDenied {
		t.Errorf("P = %v", v.P)
	}
	data, _ := json.Marshal(v)
	if string(data) != `{"p":"denied"}` {
		t.Errorf("Marshal() = %s", data)
	}
	if err := json.Unmarshal([]byte(`{"p":"maybe"}`), &v); err == nil {
		t.Error("expected error")
	}
}

func TestBorderEdges(t *testing.T) {
	edges := BorderEdges(element.Rect{X: 10, Y: 20, Width: 100, Height: 50}, 3)
	want := [4]element.Rect{
		{X: 10, Y: 20, Width: 100, Height: 3},
		{X: 10, Y: 67, Width: 100, Height: 3},
		{X: 10, Y: 23, Width: 3, Height: 44},
		{X: 107, Y: 23, Width: 3, Height: 44},
	}
	if edges != want {
		t.Errorf("BorderEdges() = %+v, want %+v", edges, want)
	}

	thin := BorderEdges(element.Rect{Width: 4, Height: 4}, 10)
	if thin[0].Height != 2 || thin[2].Height != 0 {
		t.Errorf("thickness not clamped to half the border: %+v", thin)
	}
}

func TestLabelForeground(t *testing.T) {
	white := colorful.Color{R: 1, G: 1, B: 1}
	if got := LabelForeground(colorful.Color{R: 1}); got != white {
		t.Errorf("LabelForeground(red) = %v, want white", got)
	}
	if got := LabelForeground(colorful.Color{R: 1, G: 1, B: 0.6}); got != (colorful.Color{}) {
		t.Errorf("LabelForeground(pale yellow) = %v, want black", got)
	}
}
