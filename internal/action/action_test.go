// Copyright 2025 Joseph Cumines
//
// Action dispatch unit tests

package action

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/uilocator/internal/audit"
	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/metrics"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/memtree"
	"github.com/joeycumines/uilocator/internal/uierr"
)

func fixture() *memtree.Tree {
	empty := ""
	return memtree.New(
		&memtree.Node{ID: "ok", Role: element.RoleButton, Name: "OK", Bounds: element.Rect{X: 0, Y: 0, Width: 40, Height: 20}},
		&memtree.Node{ID: "logo", Role: element.RoleImage, Name: "Logo", Bounds: element.Rect{X: 100, Y: 50, Width: 20, Height: 10}},
		&memtree.Node{ID: "label", Role: element.RoleText, Name: "Static"},
		&memtree.Node{ID: "agree", Role: element.RoleCheckBox, Name: "Agree"},
		&memtree.Node{ID: "pw", Role: element.RoleEdit, Name: "Password", Text: &empty, State: element.State{Protected: true}},
		&memtree.Node{ID: "vol", Role: element.RoleSlider, Name: "Volume", Range: &element.Range{Max: 100, Bounded: true}},
		&memtree.Node{ID: "dial", Role: element.RoleSlider, Name: "Dial"},
		&memtree.Node{ID: "row", Role: element.RoleListItem, Name: "Row"},
	)
}

func newDispatcher(tree *memtree.Tree, opts ...Option) *Dispatcher {
	return New(tree, append([]Option{WithClock(clock.NewFake(time.Unix(0, 0)))}, opts...)...)
}

func TestPerform_CapabilityMissingSkipsAdapter(t *testing.T) {
	tree := fixture()
	m := metrics.New()
	d := newDispatcher(tree, WithMetrics(m))

	for _, tc := range []struct {
		id   string
		kind Kind
		want element.Capability
	}{
		{"ok", Toggle, element.Toggleable},
		{"ok", GetToggleState, element.Toggleable},
		{"label", SetText, element.Textual},
		{"label", Select, element.Selectable},
		{"agree", SetRangeValue, element.RangeValued},
		{"ok", Scroll, element.Scrollable},
		{"label", Click, element.Invocable},
	} {
		_, err := d.Perform(context.Background(), tree.RefOf(tc.id), tc.kind, Args{})
		var ce *uierr.CapabilityError
		if !errors.As(err, &ce) {
			t.Errorf("%s on %s: error = %v, want CapabilityError", tc.kind, tc.id, err)
			continue
		}
		if ce.Required != tc.want || ce.Action != string(tc.kind) {
			t.Errorf("%s on %s: CapabilityError = %+v", tc.kind, tc.id, ce)
		}
	}
	if got := tree.Calls(memtree.MethodPerform); got != 0 {
		t.Errorf("adapter Perform called %d times, want 0", got)
	}
	if got := m.Counter(metrics.ActionsTotal, metrics.Labels("action", "toggle", "outcome", uierr.CodeCapabilityMissing)); got != 1 {
		t.Errorf("capability counter = %d", got)
	}
}

func TestPerform_ClickPrefersInvoke(t *testing.T) {
	tree := fixture()
	d := newDispatcher(tree)

	res, err := d.Perform(context.Background(), tree.RefOf("ok"), Click, Args{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != "invoke" {
		t.Errorf("Method = %q, want invoke", res.Method)
	}
	res, err = d.Perform(context.Background(), tree.RefOf("logo"), Click, Args{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != "pointer" {
		t.Errorf("Method = %q, want pointer", res.Method)
	}

	actions := tree.Actions()
	if len(actions) != 2 {
		t.Fatalf("len(Actions()) = %d", len(actions))
	}
	if actions[0].Action.Kind != platform.ActionInvoke {
		t.Errorf("first action = %v", actions[0].Action.Kind)
	}
	if a := actions[1].Action; a.Kind != platform.ActionClick || a.Point != (element.Point{X: 110, Y: 55}) {
		t.Errorf("pointer action = %+v, want click at centre (110,55)", a)
	}
}

func TestPerform_WritesReturnFreshSnapshot(t *testing.T) {
	tree := fixture()
	d := newDispatcher(tree)
	ctx := context.Background()

	res, err := d.Perform(ctx, tree.RefOf("agree"), Toggle, Args{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Toggled == nil || !*res.Toggled || !res.Element.State.Toggled {
		t.Errorf("toggle result = %+v", res)
	}
	res, err = d.Perform(ctx, tree.RefOf("agree"), GetToggleState, Args{})
	if err != nil || !*res.Toggled {
		t.Errorf("get_toggle_state = %+v, %v", res, err)
	}

	res, err = d.Perform(ctx, tree.RefOf("vol"), SetRangeValue, Args{Value: 42})
	if err != nil || res.Range == nil || res.Range.Value != 42 {
		t.Errorf("set_range_value = %+v, %v", res, err)
	}
	res, err = d.Perform(ctx, tree.RefOf("row"), Select, Args{})
	if err != nil || !*res.Selected {
		t.Errorf("select = %+v, %v", res, err)
	}
	res, err = d.Perform(ctx, tree.RefOf("pw"), SetText, Args{Text: "hunter2"})
	if err != nil || *res.Text != "hunter2" {
		t.Errorf("set_text = %+v, %v", res, err)
	}
	res, err = d.Perform(ctx, tree.RefOf("pw"), GetText, Args{})
	if err != nil || *res.Text != "hunter2" {
		t.Errorf("get_text = %+v, %v", res, err)
	}
	before := tree.Calls(memtree.MethodPerform)
	if _, err := d.Perform(ctx, tree.RefOf("vol"), GetRangeValue, Args{}); err != nil {
		t.Fatal(err)
	}
	if tree.Calls(memtree.MethodPerform) != before {
		t.Error("reads must not call the native action")
	}
}

func TestPerform_ReadWithoutPayloadIsUnsupported(t *testing.T) {
	tree := fixture()
	d := newDispatcher(tree)
	_, err := d.Perform(context.Background(), tree.RefOf("dial"), GetRangeValue, Args{})
	if !errors.Is(err, uierr.ErrUnsupported) {
		t.Errorf("error = %v, want unsupported", err)
	}
}

func TestPerform_UsesLiveCapabilities(t *testing.T) {
	tree := fixture()
	d := newDispatcher(tree)
	if err := tree.Update("agree", func(n *memtree.Node) { n.Role = element.RoleText }); err != nil {
		t.Fatal(err)
	}
	_, err := d.Perform(context.Background(), tree.RefOf("agree"), Toggle, Args{})
	if !errors.Is(err, uierr.ErrCapabilityMissing) {
		t.Errorf("error = %v, want capability missing after role change", err)
	}
}

func TestPerform_AdapterErrors(t *testing.T) {
	tree := fixture()
	d := newDispatcher(tree)
	if err := tree.Update("agree", func(n *memtree.Node) { n.Unsupported = []string{"toggle"} }); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Perform(context.Background(), tree.RefOf("agree"), Toggle, Args{}); !errors.Is(err, uierr.ErrUnsupported) {
		t.Errorf("error = %v, want unsupported", err)
	}
	if _, err := d.Perform(context.Background(), tree.RefOf("gone"), Invoke, Args{}); !errors.Is(err, memtree.ErrStale) {
		t.Errorf("error = %v, want stale", err)
	}
	if _, err := d.Perform(context.Background(), tree.RefOf("ok"), Kind("explode"), Args{}); err == nil {
		t.Error("expected unknown action error")
	}
}

func TestPerform_AuditRedactsProtectedText(t *testing.T) {
	tree := fixture()
	var buf bytes.Buffer
	d := newDispatcher(tree, WithAudit(audit.NewWriter(&buf)))
	if _, err := d.Perform(context.Background(), tree.RefOf("pw"), SetText, Args{Text: "hunter2"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("audit log leaked protected text: %s", out)
	}
	for _, want := range []string{`"action":"set_text"`, `"element_name":"Password"`, `[REDACTED]`, `"status":"ok"`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %s: %s", want, out)
		}
	}
}

func TestPerform_Cancelled(t *testing.T) {
	tree := fixture()
	d := newDispatcher(tree)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Perform(ctx, tree.RefOf("ok"), Invoke, Args{}); !errors.Is(err, uierr.ErrCancelled) {
		t.Errorf("error = %v, want cancelled", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		if got, err := ParseKind(string(k)); err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k, got, err)
		}
	}
	if _, err := ParseKind("teleport"); err == nil {
		t.Error("expected error")
	}
}
