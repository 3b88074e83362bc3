// Copyright 2025 Joseph Cumines
//
// Resolution engine unit tests

package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/metrics"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/memtree"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/joeycumines/uilocator/internal/uierr"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func visible() element.State {
	return element.State{Enabled: true, Visible: true}
}

func button(id, name string) *memtree.Node {
	return &memtree.Node{
		ID:     id,
		Role:   element.RoleButton,
		Name:   name,
		Bounds: element.Rect{X: 10, Y: 10, Width: 80, Height: 24},
		State:  visible(),
	}
}

func window(children ...*memtree.Node) *memtree.Node {
	return &memtree.Node{
		ID:       "win",
		Role:     element.RoleWindow,
		Name:     "Main",
		Bounds:   element.Rect{Width: 800, Height: 600},
		State:    visible(),
		Children: children,
	}
}

func newResolver(tree *memtree.Tree, clk *clock.Fake, opts ...Option) *Resolver {
	return New(tree, append([]Option{WithClock(clk)}, opts...)...)
}

func spec(t *testing.T, primary string, timeout time.Duration, alternatives ...string) Spec {
	t.Helper()
	s, err := NewSpec(primary, alternatives, timeout)
	if err != nil {
		t.Fatalf("NewSpec() error = %v", err)
	}
	return s
}

func TestResolve_ElementAppearsMidWindow(t *testing.T) {
	tree := memtree.New(window())
	clk := clock.NewFake(epoch)
	clk.AfterFunc(400*time.Millisecond, func() {
		if _, err := tree.Add("win", button("submit", "Submit")); err != nil {
			t.Error(err)
		}
	})

	snap, err := newResolver(tree, clk).Resolve(context.Background(), spec(t, "role:button|name:Submit", time.Second))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if snap.Key != "memory:submit" {
		t.Errorf("Key = %q", snap.Key)
	}
	elapsed := clk.Now().Sub(epoch)
	if elapsed < 400*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("elapsed = %v, want 400ms..500ms", elapsed)
	}
}

func TestResolve_AlternativeAfterPrimaryWindow(t *testing.T) {
	tree := memtree.New(window())
	clk := clock.NewFake(epoch)
	m := metrics.New()
	clk.AfterFunc(3500*time.Millisecond, func() {
		_, _ = tree.Add("win", &memtree.Node{ID: "fl", Role: element.RoleHyperlink, Name: "Florida (FL)", State: visible()})
	})

	s := spec(t, "role:hyperlink|name:Florida", 8*time.Second, "role:hyperlink|name:contains:florida")
	snap, err := newResolver(tree, clk, WithMetrics(m)).Resolve(context.Background(), s)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if snap.Name != "Florida (FL)" {
		t.Errorf("Name = %q", snap.Name)
	}
	if elapsed := clk.Now().Sub(epoch); elapsed != 3500*time.Millisecond {
		t.Errorf("elapsed = %v, want 3.5s", elapsed)
	}
	if got := m.Counter(metrics.ResolveAttemptsTotal, metrics.Labels("chain", "primary")); got != 31 {
		t.Errorf("primary attempts = %d, want 31 (0s..3s every 100ms)", got)
	}
	if got := m.Counter(metrics.ResolveAttemptsTotal, metrics.Labels("chain", "alternative")); got != 6 {
		t.Errorf("alternative attempts = %d, want 6 (3.0s..3.5s)", got)
	}
}

func TestResolve_ZeroTimeoutSingleAttempt(t *testing.T) {
	tree := memtree.New(window())
	clk := clock.NewFake(epoch)

	_, err := newResolver(tree, clk).Resolve(context.Background(), spec(t, "role:button", 0))
	var nf *uierr.ElementNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Resolve() error = %v, want ElementNotFoundError", err)
	}
	if nf.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", nf.Attempts)
	}
	if got := tree.Calls(memtree.MethodRoot); got != 1 {
		t.Errorf("traversals = %d, want 1", got)
	}
	if got := clk.Sleeps(); len(got) != 0 {
		t.Errorf("Sleeps() = %v, want none", got)
	}
}

func TestResolve_NeverMatchingFailsAtDeadline(t *testing.T) {
	for _, timeout := range []time.Duration{time.Second, 250 * time.Millisecond, 1050 * time.Millisecond} {
		t.Run(timeout.String(), func(t *testing.T) {
			tree := memtree.New(window())
			clk := clock.NewFake(epoch)
			_, err := newResolver(tree, clk).Resolve(context.Background(), spec(t, "role:button|name:Nope", timeout))
			if !errors.Is(err, uierr.ErrElementNotFound) {
				t.Fatalf("Resolve() error = %v", err)
			}
			elapsed := clk.Now().Sub(epoch)
			if elapsed < timeout || elapsed > timeout+DefaultPollInterval {
				t.Errorf("elapsed = %v, want [%v, %v]", elapsed, timeout, timeout+DefaultPollInterval)
			}
			for _, d := range clk.Sleeps() {
				if d > DefaultPollInterval {
					t.Errorf("slept %v, longer than the poll interval", d)
				}
			}
		})
	}
}

func TestResolve_AlternativeBudgets(t *testing.T) {
	tests := []struct {
		name   string
		budget Budget
		want   time.Duration
	}{
		// primary 1s; first alternative 1s; second alternative gets the rest
		{"shared", BudgetShared, 2500 * time.Millisecond},
		// primary 1s; first alternative polls to the deadline; second gets one attempt
		{"greedy", BudgetGreedy, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := memtree.New(window())
			clk := clock.NewFake(epoch)
			clk.AfterFunc(2500*time.Millisecond, func() {
				_, _ = tree.Add("win", &memtree.Node{ID: "late", Role: element.RoleText, Name: "Late"})
			})
			s := spec(t, "role:button|name:A", 3*time.Second, "role:button|name:B", "role:text|name:Late")
			snap, err := newResolver(tree, clk, WithBudget(tt.budget)).Resolve(context.Background(), s)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if snap.Name != "Late" {
				t.Errorf("Name = %q", snap.Name)
			}
			if elapsed := clk.Now().Sub(epoch); elapsed != tt.want {
				t.Errorf("elapsed = %v, want %v", elapsed, tt.want)
			}
		})
	}
}

func TestResolve_AlternativesNeverExceedTimeout(t *testing.T) {
	for _, budget := range []Budget{BudgetShared, BudgetGreedy} {
		tree := memtree.New(window())
		clk := clock.NewFake(epoch)
		s := spec(t, "name:a", 2*time.Second, "name:b", "name:c", "name:d")
		_, err := newResolver(tree, clk, WithBudget(budget)).Resolve(context.Background(), s)
		if !errors.Is(err, uierr.ErrElementNotFound) {
			t.Fatalf("%s: Resolve() error = %v", budget, err)
		}
		if elapsed := clk.Now().Sub(epoch); elapsed > 2*time.Second+DefaultPollInterval {
			t.Errorf("%s: elapsed = %v", budget, elapsed)
		}
	}
}

func TestResolve_AdapterFailureAbortsOnlyTheAttempt(t *testing.T) {
	tree := memtree.New(window(button("ok", "OK")))
	clk := clock.NewFake(epoch)
	failures := 2
	tree.SetHook(func(method string, ref element.Ref) error {
		if method == memtree.MethodChildren && failures > 0 {
			failures--
			return errors.New("transient COM failure")
		}
		return nil
	})

	snap, err := newResolver(tree, clk).Resolve(context.Background(), spec(t, "name:OK", time.Second))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if snap.Name != "OK" {
		t.Errorf("Name = %q", snap.Name)
	}
	if elapsed := clk.Now().Sub(epoch); elapsed != 200*time.Millisecond {
		t.Errorf("elapsed = %v, want 200ms", elapsed)
	}
}

func TestResolve_LastAdapterErrorIsReported(t *testing.T) {
	tree := memtree.New(window())
	clk := clock.NewFake(epoch)
	boom := errors.New("bus disconnected")
	tree.SetHook(func(method string, ref element.Ref) error {
		if method == memtree.MethodChildren {
			return boom
		}
		return nil
	})
	_, err := newResolver(tree, clk).Resolve(context.Background(), spec(t, "name:x", 300*time.Millisecond))
	var nf *uierr.ElementNotFoundError
	if !errors.As(err, &nf) || !errors.Is(nf.Cause, boom) {
		t.Fatalf("Resolve() error = %v, want not found caused by %v", err, boom)
	}
}

func TestResolve_UnsupportedIsTerminal(t *testing.T) {
	tree := memtree.New(window(button("a", "A")))
	clk := clock.NewFake(epoch)
	tree.SetHook(func(method string, ref element.Ref) error {
		if method == memtree.MethodMatch {
			return uierr.Unsupported("memory", "attribute match")
		}
		return nil
	})
	_, err := newResolver(tree, clk).Resolve(context.Background(), spec(t, "attr:id=x", 5*time.Second))
	if !errors.Is(err, uierr.ErrUnsupported) {
		t.Fatalf("Resolve() error = %v, want unsupported", err)
	}
	if tree.Calls(memtree.MethodRoot) != 1 || len(clk.Sleeps()) != 0 {
		t.Error("unsupported error should end resolution after one attempt")
	}
}

func TestResolve_PermissionDenied(t *testing.T) {
	tree := memtree.New(window())
	tree.SetPermission(platform.PermissionDenied)
	clk := clock.NewFake(epoch)
	_, err := newResolver(tree, clk).Resolve(context.Background(), spec(t, "role:button", 200*time.Millisecond))
	var pd *uierr.PermissionDeniedError
	if !errors.As(err, &pd) || pd.Backend != memtree.BackendName {
		t.Fatalf("Resolve() error = %v, want PermissionDeniedError", err)
	}
}

func TestResolve_Cancelled(t *testing.T) {
	tree := memtree.New(window())
	clk := clock.NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk.AfterFunc(250*time.Millisecond, cancel)

	_, err := newResolver(tree, clk).Resolve(ctx, spec(t, "role:button", 10*time.Second))
	if !errors.Is(err, uierr.ErrCancelled) {
		t.Fatalf("Resolve() error = %v, want cancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("cancelled error should wrap context.Canceled")
	}
	if elapsed := clk.Now().Sub(epoch); elapsed > 300*time.Millisecond {
		t.Errorf("elapsed = %v, cancellation should stop the loop", elapsed)
	}
}

func TestAttempt_Traversal(t *testing.T) {
	link := func(id, name string) *memtree.Node {
		return &memtree.Node{ID: id, Role: element.RoleHyperlink, Name: name}
	}
	item := func(id, name string, children ...*memtree.Node) *memtree.Node {
		return &memtree.Node{ID: id, Role: element.RoleListItem, Name: name, Children: children}
	}
	tree := memtree.New(window(
		&memtree.Node{ID: "list", Role: element.RoleList, Children: []*memtree.Node{
			item("ga", "Georgia", link("ga-link", "Georgia")),
			item("fl", "Florida", link("fl-link", "Florida")),
			item("tx", "Texas", link("tx-link", "Texas")),
		}},
		&memtree.Node{ID: "deep1", Role: element.RoleGroup, Children: []*memtree.Node{
			{ID: "deep2", Role: element.RoleGroup, Children: []*memtree.Node{
				{ID: "deep3", Role: element.RoleButton, Name: "Deep"},
			}},
		}},
	))
	r := newResolver(tree, clock.NewFake(epoch))

	tests := []struct {
		selector string
		maxDepth int
		want     string
	}{
		{"role:listitem|name:Florida >> role:hyperlink", 0, "memory:fl-link"},
		{"role:hyperlink", 0, "memory:ga-link"},
		{"role:hyperlink|nth:1", 0, "memory:fl-link"},
		{"role:hyperlink|nth:-1", 0, "memory:tx-link"},
		{"role:hyperlink|nth:-3", 0, "memory:ga-link"},
		{"role:hyperlink|nth:3", 0, ""},
		{"role:hyperlink|nth:-4", 0, ""},
		{"role:list >> role:listitem|nth:2 >> role:hyperlink", 0, "memory:tx-link"},
		{"name:contains:DEE", 0, "memory:deep3"},
		{"name:Deep", 3, ""},
		{"name:Deep", 4, "memory:deep3"},
		{"role:hyperlink >> role:listitem", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			snap, err := r.Attempt(context.Background(), selector.MustParse(tt.selector), nil, tt.maxDepth)
			if err != nil {
				t.Fatalf("Attempt() error = %v", err)
			}
			got := ""
			if snap != nil {
				got = snap.Key
			}
			if got != tt.want {
				t.Errorf("Attempt() = %q, want %q", got, tt.want)
			}
		})
	}

	scoped, err := r.Attempt(context.Background(), selector.MustParse("role:hyperlink"), tree.RefOf("tx"), 0)
	if err != nil || scoped == nil || scoped.Key != "memory:tx-link" {
		t.Errorf("scoped Attempt() = %v, %v", scoped, err)
	}
}

func TestAttempt_DoesNotMatchScopeRoot(t *testing.T) {
	tree := memtree.New(window())
	r := newResolver(tree, clock.NewFake(epoch))
	snap, err := r.Attempt(context.Background(), selector.MustParse("role:window"), tree.RefOf("win"), 0)
	if err != nil || snap != nil {
		t.Errorf("Attempt() = %v, %v, want no match", snap, err)
	}
}

func TestAttemptAll(t *testing.T) {
	tree := memtree.New(window(button("b", "B")))
	r := newResolver(tree, clock.NewFake(epoch))
	snap, idx, err := r.AttemptAll(context.Background(), spec(t, "name:A", 0, "name:B"))
	if err != nil || snap == nil || idx != 1 {
		t.Errorf("AttemptAll() = %v, %d, %v", snap, idx, err)
	}
}

func TestValidate_NeverFails(t *testing.T) {
	tree := memtree.New(window(button("ok", "OK")))
	r := newResolver(tree, clock.NewFake(epoch))
	ctx := context.Background()

	if got := r.Validate(ctx, "name:OK", nil, 0); !got.Exists || got.Element == nil || got.Error != "" {
		t.Errorf("found: %+v", got)
	}
	if got := r.Validate(ctx, "name:Missing", nil, 200*time.Millisecond); got.Exists || got.Error != "" || got.Element != nil {
		t.Errorf("not found: %+v", got)
	}
	if got := r.Validate(ctx, "role:|", nil, 0); got.Exists || got.Error == "" || got.Code != uierr.CodeInvalidSelector {
		t.Errorf("syntax error: %+v", got)
	}
	if got := r.Validate(ctx, "name:OK", []string{">>"}, 0); got.Exists || got.Code != uierr.CodeInvalidSelector {
		t.Errorf("bad alternative: %+v", got)
	}

	tree.SetPermission(platform.PermissionDenied)
	if got := r.Validate(ctx, "name:Missing", nil, 0); got.Exists || got.Code != uierr.CodePermissionDenied {
		t.Errorf("permission denied: %+v", got)
	}

	tree.SetHook(func(string, element.Ref) error { panic("adapter bug") })
	if got := r.Validate(ctx, "name:OK", nil, 0); got.Exists || got.Code != uierr.CodeInternal {
		t.Errorf("panic: %+v", got)
	}
}

func TestParseBudget(t *testing.T) {
	for in, want := range map[string]Budget{"": BudgetShared, "Shared": BudgetShared, "greedy": BudgetGreedy} {
		got, err := ParseBudget(in)
		if err != nil || got != want {
			t.Errorf("ParseBudget(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseBudget("lavish"); err == nil {
		t.Error("expected error")
	}
}
