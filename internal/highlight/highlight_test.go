// Copyright 2025 Joseph Cumines
//
// Highlight overlay unit tests

package highlight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/locator"
	"github.com/joeycumines/uilocator/internal/metrics"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/memtree"
	"github.com/joeycumines/uilocator/internal/uierr"
)

var viewport = element.Rect{Width: 800, Height: 600}

func setup(t *testing.T) (*memtree.Tree, *clock.Fake, *Highlighter, *metrics.Registry) {
	t.Helper()
	tree := memtree.New(
		&memtree.Node{ID: "save", Role: element.RoleButton, Name: "Save", Bounds: element.Rect{X: 100, Y: 100, Width: 80, Height: 20}},
		&memtree.Node{ID: "far", Role: element.RoleListItem, Name: "Row 500", Bounds: element.Rect{X: 0, Y: 9000, Width: 300, Height: 20}},
		&memtree.Node{ID: "corner", Role: element.RoleButton, Name: "Corner", Bounds: element.Rect{X: 0, Y: 0, Width: 10, Height: 10}},
	)
	tree.SetViewport(viewport)
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := metrics.New()
	h := New(locator.New(tree, locator.WithClock(clk)), WithMetrics(m))
	return tree, clk, h, m
}

func request(t *testing.T, sel string) Request {
	t.Helper()
	s, err := locator.NewSpec(sel, nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return Request{Spec: s}
}

func scrolls(tree *memtree.Tree) int {
	n := 0
	for _, a := range tree.Actions() {
		if a.Action.Kind == platform.ActionScrollIntoView {
			n++
		}
	}
	return n
}

func TestHighlight_InViewDoesNotScroll(t *testing.T) {
	tree, _, h, _ := setup(t)
	res, err := h.Highlight(context.Background(), request(t, "name:Save"))
	if err != nil {
		t.Fatalf("Highlight() error = %v", err)
	}
	if res.Scrolled || scrolls(tree) != 0 {
		t.Errorf("scrolled = %v, scroll calls = %d, want none", res.Scrolled, scrolls(tree))
	}
	if want := (element.Rect{X: 96, Y: 96, Width: 88, Height: 28}); res.Border != want {
		t.Errorf("Border = %+v, want %+v", res.Border, want)
	}
	overlays := tree.Overlays()
	if len(overlays) != 1 {
		t.Fatalf("len(Overlays()) = %d", len(overlays))
	}
	if r, g, b := overlays[0].Overlay.Color.RGB255(); r != 255 || g != 0 || b != 0 {
		t.Errorf("default colour = %d,%d,%d, want red", r, g, b)
	}
	if overlays[0].Overlay.Thickness != DefaultThickness {
		t.Errorf("Thickness = %v", overlays[0].Overlay.Thickness)
	}
}

func TestHighlight_OffViewScrollsExactlyOnce(t *testing.T) {
	tree, _, h, _ := setup(t)
	res, err := h.Highlight(context.Background(), request(t, "name:Row 500"))
	if err != nil {
		t.Fatalf("Highlight() error = %v", err)
	}
	if !res.Scrolled {
		t.Error("Scrolled = false")
	}
	if got := scrolls(tree); got != 1 {
		t.Errorf("scroll calls = %d, want 1", got)
	}
	if res.Element.Bounds.Y != 0 {
		t.Errorf("bounds not re-read after scroll: %+v", res.Element.Bounds)
	}
	if want := (element.Rect{X: -4, Y: -4, Width: 308, Height: 28}); res.Border != want {
		t.Errorf("Border = %+v, want %+v", res.Border, want)
	}
}

func TestHighlight_TimerRemovesOverlay(t *testing.T) {
	tree, clk, h, m := setup(t)
	req := request(t, "name:Save")
	req.Duration = 2 * time.Second
	res, err := h.Highlight(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.ExpiresAt.Equal(clk.Now().Add(2 * time.Second)) {
		t.Errorf("ExpiresAt = %v", res.ExpiresAt)
	}
	if h.Active() != 1 || m.Gauge(metrics.OverlaysActive, "") != 1 {
		t.Fatalf("active = %d, gauge = %v", h.Active(), m.Gauge(metrics.OverlaysActive, ""))
	}
	clk.Advance(1999 * time.Millisecond)
	if tree.Overlays()[0].Closed() {
		t.Fatal("overlay removed early")
	}
	clk.Advance(time.Millisecond)
	if !tree.Overlays()[0].Closed() {
		t.Error("overlay not removed after its duration")
	}
	if h.Active() != 0 || m.Gauge(metrics.OverlaysActive, "") != 0 {
		t.Errorf("active = %d, gauge = %v", h.Active(), m.Gauge(metrics.OverlaysActive, ""))
	}
	res.Cancel()
}

func TestHighlight_ReplacesOverlayOnSameElement(t *testing.T) {
	tree, clk, h, m := setup(t)
	first, err := h.Highlight(context.Background(), request(t, "name:Save"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.Highlight(context.Background(), request(t, "role:button|name:Save"))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Error("overlay ids should differ")
	}
	overlays := tree.Overlays()
	if len(overlays) != 2 || !overlays[0].Closed() || overlays[1].Closed() {
		t.Fatalf("overlays = %+v, want first closed and second shown", overlays)
	}
	if h.Active() != 1 || m.Gauge(metrics.OverlaysActive, "") != 1 {
		t.Errorf("active = %d, gauge = %v", h.Active(), m.Gauge(metrics.OverlaysActive, ""))
	}
	if clk.Pending() != 1 {
		t.Errorf("pending timers = %d, want 1 (replaced timer stopped)", clk.Pending())
	}

	first.Cancel()
	if tree.Overlays()[1].Closed() {
		t.Error("cancelling a replaced overlay must not touch its replacement")
	}
	second.Cancel()
	if !tree.Overlays()[1].Closed() || h.Active() != 0 {
		t.Error("Cancel() did not remove the overlay")
	}
}

func TestHighlight_DifferentElementsCoexist(t *testing.T) {
	tree, _, h, _ := setup(t)
	if _, err := h.Highlight(context.Background(), request(t, "name:Save")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Highlight(context.Background(), request(t, "name:Corner")); err != nil {
		t.Fatal(err)
	}
	if h.Active() != 2 {
		t.Errorf("Active() = %d, want 2", h.Active())
	}
	h.Close()
	for _, o := range tree.Overlays() {
		if !o.Closed() {
			t.Error("Close() left an overlay up")
		}
	}
}

func TestHighlight_Label(t *testing.T) {
	_, _, h, _ := setup(t)
	req := request(t, "name:Corner")
	req.Text = "Step 1"
	res, err := h.Highlight(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	// the top-left label would sit above the screen edge, so it is clamped
	if want := (element.Rect{X: 0, Y: 0, Width: 56, Height: 18}); res.Label == nil || *res.Label != want {
		t.Errorf("Label = %+v, want %+v", res.Label, want)
	}
}

func TestLabelRect_Corners(t *testing.T) {
	border := element.Rect{X: 100, Y: 100, Width: 200, Height: 50}
	tests := []struct {
		corner Corner
		want   element.Rect
	}{
		{TopLeft, element.Rect{X: 100, Y: 82, Width: 24, Height: 18}},
		{TopRight, element.Rect{X: 276, Y: 82, Width: 24, Height: 18}},
		{BottomLeft, element.Rect{X: 100, Y: 150, Width: 24, Height: 18}},
		{BottomRight, element.Rect{X: 276, Y: 150, Width: 24, Height: 18}},
		{Inside, element.Rect{X: 103, Y: 103, Width: 24, Height: 18}},
	}
	for _, tt := range tests {
		if got := labelRect(border, "OK", tt.corner, viewport, true); got != tt.want {
			t.Errorf("%s: labelRect() = %+v, want %+v", tt.corner, got, tt.want)
		}
	}
	wide := labelRect(border, "世界", TopLeft, viewport, true)
	if wide.Width != 40 {
		t.Errorf("wide label width = %v, want 40 (two double-width cells)", wide.Width)
	}
}

func TestHighlight_Errors(t *testing.T) {
	tree, _, h, _ := setup(t)

	req := request(t, "name:Save")
	req.Color = "not-a-colour"
	if _, err := h.Highlight(context.Background(), req); err == nil {
		t.Error("expected colour error")
	}
	req = request(t, "name:Save")
	req.Corner = "middle"
	if _, err := h.Highlight(context.Background(), req); err == nil {
		t.Error("expected corner error")
	}

	req = request(t, "name:Missing")
	req.Spec.Timeout = 0
	if _, err := h.Highlight(context.Background(), req); !errors.Is(err, uierr.ErrElementNotFound) {
		t.Errorf("error = %v, want not found", err)
	}

	_ = tree.Update("far", func(n *memtree.Node) { n.Unsupported = []string{"scroll_into_view"} })
	if _, err := h.Highlight(context.Background(), request(t, "name:Row 500")); !errors.Is(err, uierr.ErrUnsupported) {
		t.Errorf("error = %v, want unsupported scroll", err)
	}

	tree.DisableOverlays()
	if _, err := h.Highlight(context.Background(), request(t, "name:Save")); !errors.Is(err, uierr.ErrUnsupported) {
		t.Errorf("error = %v, want unsupported overlay", err)
	}
	if len(tree.Overlays()) != 0 {
		t.Error("no overlay should have been recorded")
	}
}

func TestParseColorAccepts(t *testing.T) {
	for _, s := range []string{"", "#00ff00", "00FF00"} {
		if _, err := parseColor(s); err != nil {
			t.Errorf("parseColor(%q) error = %v", s, err)
		}
	}
}
