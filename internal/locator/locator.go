// Copyright 2025 Joseph Cumines

// Package locator resolves selector chains against a live accessibility tree.
//
// Resolution is a deadline plus fixed-interval poll loop. Each attempt is a
// fresh, depth-bounded, document-order traversal through the adapter: the
// first node satisfying a segment becomes the search root of the next one.
// The primary chain polls for its window; alternatives follow in declared
// order, sharing whatever time the primary left. Nothing is cached between
// attempts.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/metrics"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// Spec describes what to resolve.
type Spec struct {
	// Scope, if set, replaces the desktop root as the traversal root.
	Scope        element.Ref
	Primary      selector.Chain
	Alternatives []selector.Chain
	// Timeout is the total budget. Zero means exactly one attempt.
	Timeout time.Duration
	// MaxDepth bounds traversal depth below each segment root. Zero uses
	// the resolver default.
	MaxDepth int
}

// NewSpec parses the primary and alternative selectors into a Spec.
func NewSpec(primary string, alternatives []string, timeout time.Duration) (Spec, error) {
	p, err := selector.Parse(primary)
	if err != nil {
		return Spec{}, err
	}
	alts, err := selector.ParseAll(alternatives)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Primary: p, Alternatives: alts, Timeout: timeout}, nil
}

// Chains returns the primary followed by the alternatives.
func (s Spec) Chains() []selector.Chain {
	out := make([]selector.Chain, 0, 1+len(s.Alternatives))
	out = append(out, s.Primary)
	return append(out, s.Alternatives...)
}

// Describe returns the selector text used in errors and logs.
func (s Spec) Describe() string {
	if s.Primary.Source != "" {
		return s.Primary.Source
	}
	return s.Primary.String()
}

// Resolver resolves specs through one adapter. It holds no per-call state
// and is safe for concurrent use.
type Resolver struct {
	adapter        platform.Adapter
	clock          clock.Clock
	logger         *slog.Logger
	metrics        *metrics.Registry
	poll           time.Duration
	primaryTimeout time.Duration
	maxDepth       int
	budget         Budget
}

// New returns a resolver over a.
func New(a platform.Adapter, opts ...Option) *Resolver {
	r := &Resolver{
		adapter:        a,
		clock:          clock.Real{},
		logger:         slog.Default(),
		poll:           DefaultPollInterval,
		primaryTimeout: DefaultPrimaryTimeout,
		maxDepth:       DefaultMaxDepth,
		budget:         BudgetShared,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Adapter returns the adapter the resolver traverses.
func (r *Resolver) Adapter() platform.Adapter { return r.adapter }

// Clock returns the resolver's time source.
func (r *Resolver) Clock() clock.Clock { return r.clock }

// PollInterval returns the fixed poll interval.
func (r *Resolver) PollInterval() time.Duration { return r.poll }

// Logger returns the resolver's logger.
func (r *Resolver) Logger() *slog.Logger { return r.logger }

// Resolve polls until a chain of spec matches or the budget is exhausted.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (*element.Snapshot, error) {
	start := r.clock.Now()
	timeout := max(spec.Timeout, 0)
	deadline := start.Add(timeout)
	chains := spec.Chains()

	st := &resolveState{}
	for i, chain := range chains {
		now := r.clock.Now()
		end := r.windowEnd(i, len(chains), start, now, deadline, timeout)
		if i > 0 {
			r.logger.Info("falling back to alternative selector",
				"selector", spec.Describe(),
				"alternative", chain.String(),
				"index", i,
				"window", end.Sub(now))
		}
		snap, err := r.pollChain(ctx, spec, i, chain, end, st)
		if snap != nil || err != nil {
			r.finish(start, snap, err)
			return snap, err
		}
	}

	err := r.exhausted(ctx, spec, st, r.clock.Now().Sub(start))
	r.finish(start, nil, err)
	return nil, err
}

// windowEnd returns when chain i of n stops polling.
func (r *Resolver) windowEnd(i, n int, start, now, deadline time.Time, timeout time.Duration) time.Time {
	if i == 0 {
		if n == 1 {
			return deadline
		}
		return start.Add(min(r.primaryTimeout, timeout/time.Duration(n)))
	}
	if r.budget == BudgetGreedy {
		return deadline
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return now
	}
	return now.Add(remaining / time.Duration(n-i))
}

type resolveState struct {
	lastErr  error
	attempts int
}

// pollChain attempts chain until it matches or end passes, always making at
// least one attempt. It returns (nil, nil) when the window closes unmatched.
func (r *Resolver) pollChain(ctx context.Context, spec Spec, index int, chain selector.Chain, end time.Time, st *resolveState) (*element.Snapshot, error) {
	label := "primary"
	if index > 0 {
		label = "alternative"
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, uierr.Cancelled("resolve", err)
		}
		st.attempts++
		r.metrics.RecordResolveAttempt(label)
		snap, err := r.Attempt(ctx, chain, spec.Scope, spec.MaxDepth)
		r.logger.Debug("resolve attempt",
			"chain", chain.String(),
			"attempt", st.attempts,
			"matched", snap != nil,
			"error", err)
		switch {
		case snap != nil:
			return snap, nil
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, uierr.Cancelled("resolve", ctxErr)
			}
			if uierr.IsTerminal(err) {
				return nil, err
			}
			r.logger.Warn("adapter call failed during traversal",
				"backend", r.adapter.Name(),
				"chain", chain.String(),
				"error", err)
			st.lastErr = err
		}

		now := r.clock.Now()
		if !now.Before(end) {
			return nil, nil
		}
		if err := r.clock.Sleep(ctx, min(r.poll, end.Sub(now))); err != nil {
			return nil, uierr.Cancelled("resolve", err)
		}
	}
}

// exhausted builds the failure once every chain's window has closed,
// distinguishing denied accessibility access from a plain miss.
func (r *Resolver) exhausted(ctx context.Context, spec Spec, st *resolveState, elapsed time.Duration) error {
	perm, err := r.adapter.Permission(ctx)
	if err == nil && perm == platform.PermissionDenied {
		return &uierr.PermissionDeniedError{Backend: r.adapter.Name(), Detail: "accessibility access is not granted to this process"}
	}
	return &uierr.ElementNotFoundError{
		Selector: spec.Describe(),
		Attempts: st.attempts,
		Elapsed:  elapsed,
		Cause:    st.lastErr,
	}
}

func (r *Resolver) finish(start time.Time, snap *element.Snapshot, err error) {
	outcome := "found"
	switch {
	case snap != nil:
	case errors.Is(err, uierr.ErrElementNotFound):
		outcome = "not_found"
	case errors.Is(err, uierr.ErrCancelled):
		outcome = "cancelled"
	default:
		outcome = uierr.Code(err)
	}
	r.metrics.RecordResolve(outcome, r.clock.Now().Sub(start))
}

// Attempt performs one traversal of chain with no waiting. It returns
// (nil, nil) when the chain does not match. A nil scope starts at the
// desktop root; maxDepth <= 0 uses the resolver default.
func (r *Resolver) Attempt(ctx context.Context, chain selector.Chain, scope element.Ref, maxDepth int) (*element.Snapshot, error) {
	if chain.IsZero() {
		return nil, errors.New("locator: empty selector chain")
	}
	if maxDepth <= 0 {
		maxDepth = r.maxDepth
	}
	root := scope
	if root == nil {
		var err error
		if root, err = r.adapter.Root(ctx); err != nil {
			return nil, fmt.Errorf("root: %w", err)
		}
	}
	for i, seg := range chain.Segments {
		next, err := r.findInSegment(ctx, root, seg, maxDepth)
		if err != nil {
			return nil, fmt.Errorf("segment %d (%s): %w", i, seg, err)
		}
		if next == nil {
			return nil, nil
		}
		root = next
	}
	return platform.Describe(ctx, r.adapter, root, r.clock.Now())
}

// AttemptAll makes one attempt of each chain of spec in order and returns
// the first match along with the index of the chain that matched. The
// first adapter error is returned only if no chain matches.
func (r *Resolver) AttemptAll(ctx context.Context, spec Spec) (*element.Snapshot, int, error) {
	var firstErr error
	for i, chain := range spec.Chains() {
		if err := ctx.Err(); err != nil {
			return nil, -1, err
		}
		snap, err := r.Attempt(ctx, chain, spec.Scope, spec.MaxDepth)
		if snap != nil {
			return snap, i, nil
		}
		if err != nil {
			if uierr.IsTerminal(err) {
				return nil, -1, err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return nil, -1, firstErr
}

// findInSegment returns the node below root selected by seg, or nil.
func (r *Resolver) findInSegment(ctx context.Context, root element.Ref, seg selector.Segment, maxDepth int) (element.Ref, error) {
	preds := seg.Predicates()
	index, hasIndex := seg.Index()
	collectAll := hasIndex && index < 0
	want := 1
	if hasIndex && index >= 0 {
		want = index + 1
	}

	var matches []element.Ref
	_, err := r.walk(ctx, root, maxDepth, func(ref element.Ref) (bool, error) {
		ok, err := r.matchAll(ctx, ref, preds)
		if err != nil || !ok {
			return false, err
		}
		matches = append(matches, ref)
		return !collectAll && len(matches) >= want, nil
	})
	if err != nil {
		return nil, err
	}
	switch {
	case collectAll:
		if i := len(matches) + index; i >= 0 {
			return matches[i], nil
		}
	case len(matches) >= want:
		return matches[want-1], nil
	}
	return nil, nil
}

// walk visits the descendants of ref in document order down to depth
// levels, stopping when visit says so or fails.
func (r *Resolver) walk(ctx context.Context, ref element.Ref, depth int, visit func(element.Ref) (bool, error)) (bool, error) {
	if depth <= 0 {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return true, err
	}
	children, err := r.adapter.Children(ctx, ref)
	if err != nil {
		return true, fmt.Errorf("children of %s: %w", ref.Key(), err)
	}
	for _, child := range children {
		if stop, err := visit(child); stop || err != nil {
			return true, err
		}
		if stop, err := r.walk(ctx, child, depth-1, visit); stop || err != nil {
			return true, err
		}
	}
	return false, nil
}

func (r *Resolver) matchAll(ctx context.Context, ref element.Ref, preds []selector.Criterion) (bool, error) {
	for _, c := range preds {
		ok, err := r.adapter.Match(ctx, ref, c)
		if err != nil {
			return false, fmt.Errorf("match %s against %s: %w", ref.Key(), c, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
