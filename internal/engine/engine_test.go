// Copyright 2025 Joseph Cumines
//
// Engine facade unit tests

package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/uilocator/internal/action"
	"github.com/joeycumines/uilocator/internal/audit"
	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/memtree"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/joeycumines/uilocator/internal/uierr"
	"github.com/joeycumines/uilocator/internal/wait"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"
)

type harness struct {
	tree   *memtree.Tree
	clock  *clock.Fake
	engine *Engine
	audit  *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tree := memtree.New(&memtree.Node{
		ID:     "win",
		Role:   element.RoleWindow,
		Name:   "Settings",
		Bounds: element.Rect{Width: 800, Height: 600},
		State:  element.State{Enabled: true, Visible: true},
		Children: []*memtree.Node{
			{ID: "apply", Role: element.RoleButton, Name: "Apply", Bounds: element.Rect{X: 10, Y: 10, Width: 60, Height: 20}, State: element.State{Visible: true}},
			{ID: "dark", Role: element.RoleCheckBox, Name: "Dark mode", Bounds: element.Rect{X: 10, Y: 40, Width: 100, Height: 20}, State: element.State{Enabled: true, Visible: true}},
		},
	})
	tree.SetViewport(element.Rect{Width: 800, Height: 600})
	clk := clock.NewFake(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC))
	var buf bytes.Buffer
	e, err := New(tree, nil, WithClock(clk), WithAudit(audit.NewWriter(&buf)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return &harness{tree: tree, clock: clk, engine: e, audit: &buf}
}

func TestNew_NilAdapter(t *testing.T) {
	if _, err := New(nil, config.Default()); err == nil {
		t.Error("expected error for nil adapter")
	}
}

func TestEngine_Resolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	snap, err := h.engine.Resolve(ctx, Query{Primary: "role:window >> role:checkbox|name:contains:dark", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if snap.Name != "Dark mode" || snap.Key != "memory:dark" {
		t.Errorf("Resolve() = %+v", snap)
	}

	_, err = h.engine.Resolve(ctx, Query{Primary: "role:button|", Timeout: time.Second})
	var syntaxErr *selector.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Errorf("error = %v, want SyntaxError", err)
	}

	_, err = h.engine.Resolve(ctx, Query{Primary: "name:Cancel", Alternatives: []string{"name:Close"}, Timeout: 500 * time.Millisecond})
	if !errors.Is(err, uierr.ErrElementNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
	if got := h.clock.Now().Sub(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)); got < 500*time.Millisecond || got > 600*time.Millisecond {
		t.Errorf("not-found resolve took %v, want within one poll of 500ms", got)
	}
}

func TestEngine_ResolveScoped(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Resolve(context.Background(), Query{Primary: "role:window", Scope: h.tree.RefOf("dark")})
	if !errors.Is(err, uierr.ErrElementNotFound) {
		t.Errorf("error = %v, want not found below a leaf scope", err)
	}
}

func TestEngine_Validate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if got := h.engine.Validate(ctx, "name:Apply", nil, 0); !got.Exists || got.Element == nil {
		t.Errorf("Validate(found) = %+v", got)
	}
	if got := h.engine.Validate(ctx, "name:Nope", nil, 0); got.Exists || got.Error != "" {
		t.Errorf("Validate(missing) = %+v", got)
	}
	if got := h.engine.Validate(ctx, "bogus:", nil, 0); got.Exists || got.Code != uierr.CodeInvalidSelector {
		t.Errorf("Validate(invalid) = %+v", got)
	}
}

func TestEngine_PerformAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.PerformAction(ctx, h.tree.RefOf("dark"), action.Toggle, action.Args{})
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}
	if !*res.Toggled {
		t.Error("checkbox not toggled")
	}

	_, err = h.engine.PerformAction(ctx, h.tree.RefOf("dark"), action.SetText, action.Args{Text: "x"})
	if !errors.Is(err, uierr.ErrCapabilityMissing) {
		t.Errorf("error = %v, want capability missing", err)
	}
	if !strings.Contains(h.audit.String(), `"action":"toggle"`) {
		t.Errorf("audit log = %s", h.audit.String())
	}
}

func TestEngine_Wait(t *testing.T) {
	h := newHarness(t)
	h.clock.AfterFunc(2*time.Second, func() {
		_ = h.tree.Update("apply", func(n *memtree.Node) { n.State.Enabled = true })
	})
	start := h.clock.Now()

	snap, err := h.engine.Wait(context.Background(), Query{Primary: "name:Apply", Timeout: 5 * time.Second}, wait.Enabled)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !snap.State.Enabled {
		t.Error("snapshot does not reflect enabled")
	}
	if got := h.clock.Now().Sub(start); got < 2*time.Second || got > 2100*time.Millisecond {
		t.Errorf("Wait() returned after %v, want about 2s", got)
	}
}

func TestEngine_Highlight(t *testing.T) {
	h := newHarness(t)
	res, err := h.engine.Highlight(context.Background(), HighlightRequest{
		Query: Query{Primary: "name:Apply"},
		Color: "#00ff00",
		Text:  "here",
	})
	if err != nil {
		t.Fatalf("Highlight() error = %v", err)
	}
	if res.Label == nil || res.ID == "" {
		t.Errorf("Highlight() = %+v", res)
	}
	overlays := h.tree.Overlays()
	if len(overlays) != 1 || overlays[0].Overlay.Label != "here" {
		t.Fatalf("overlays = %+v", overlays)
	}

	var buf bytes.Buffer
	if err := h.engine.Metrics(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "uilocator_overlays_active 1") {
		t.Errorf("metrics missing active overlay:\n%s", buf.String())
	}

	h.clock.Advance(time.Second)
	if !h.tree.Overlays()[0].Closed() {
		t.Error("overlay outlived its default duration")
	}
}

func TestEngine_StartWait(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	op, err := h.engine.StartWait(ctx, Query{Primary: "name:Dark mode", Timeout: time.Second}, wait.Visible)
	if err != nil {
		t.Fatalf("StartWait() error = %v", err)
	}
	if !strings.HasPrefix(op.GetName(), "operations/wait-") {
		t.Errorf("Name = %q", op.GetName())
	}
	done, err := h.engine.WaitOperation(ctx, op.GetName(), 0)
	if err != nil {
		t.Fatal(err)
	}
	var resp structpb.Struct
	if err := done.GetResponse().UnmarshalTo(&resp); err != nil {
		t.Fatalf("response: %v (error %v)", err, done.GetError())
	}
	if resp.GetFields()["name"].GetStringValue() != "Dark mode" {
		t.Errorf("response = %v", &resp)
	}
	var md structpb.Struct
	if err := done.GetMetadata().UnmarshalTo(&md); err != nil {
		t.Fatal(err)
	}
	if md.GetFields()["condition"].GetStringValue() != "visible" {
		t.Errorf("metadata = %v", &md)
	}

	got, err := h.engine.GetOperation(op.GetName())
	if err != nil || !got.GetDone() {
		t.Errorf("GetOperation() = %v, %v", got, err)
	}
	if ops := h.engine.ListOperations(); len(ops) != 1 {
		t.Errorf("len(ListOperations()) = %d", len(ops))
	}
	if err := h.engine.DeleteOperation(op.GetName()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.GetOperation(op.GetName()); err == nil {
		t.Error("deleted operation still found")
	}
}

func TestEngine_StartWaitTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	op, err := h.engine.StartWait(ctx, Query{Primary: "name:Apply", Timeout: time.Second}, wait.Enabled)
	if err != nil {
		t.Fatal(err)
	}
	done, err := h.engine.WaitOperation(ctx, op.GetName(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if codes.Code(done.GetError().GetCode()) != codes.DeadlineExceeded {
		t.Errorf("error = %v, want DeadlineExceeded", done.GetError())
	}
}

func TestEngine_StartWaitInvalidSelector(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.StartWait(context.Background(), Query{Primary: ">>"}, wait.Exists); err == nil {
		t.Error("expected selector error")
	}
	if err := h.engine.CancelOperation("operations/wait-missing"); err == nil {
		t.Error("expected not found")
	}
}

func TestEngine_Permission(t *testing.T) {
	h := newHarness(t)
	h.tree.SetPermission(platform.PermissionDenied)
	p, err := h.engine.Permission(context.Background())
	if err != nil || p != platform.PermissionDenied {
		t.Errorf("Permission() = %v, %v", p, err)
	}
	if h.engine.Backend() != memtree.BackendName {
		t.Errorf("Backend() = %q", h.engine.Backend())
	}
}
