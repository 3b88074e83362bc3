// Copyright 2025 Joseph Cumines

// Package wait blocks until a located element satisfies a condition.
//
// Every cycle re-resolves the selectors from scratch (one attempt per
// chain) and evaluates the condition against that fresh snapshot, so the
// snapshot returned is the one observed when the condition first held.
package wait

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/locator"
	"github.com/joeycumines/uilocator/internal/metrics"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// Condition is the predicate waited for.
type Condition int

const (
	Exists Condition = iota + 1
	Visible
	Enabled
	Focused
)

func (c Condition) String() string {
	switch c {
	case Exists:
		return "exists"
	case Visible:
		return "visible"
	case Enabled:
		return "enabled"
	case Focused:
		return "focused"
	default:
		return fmt.Sprintf("Condition(%d)", int(c))
	}
}

// ParseCondition is the inverse of Condition.String.
func ParseCondition(s string) (Condition, error) {
	for c := Exists; c <= Focused; c++ {
		if strings.EqualFold(strings.TrimSpace(s), c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("invalid wait condition %q (want exists, visible, enabled or focused)", s)
}

// Waiter evaluates wait conditions through a resolver.
type Waiter struct {
	resolver *locator.Resolver
	metrics  *metrics.Registry
}

// New returns a waiter. A nil registry records nothing.
func New(r *locator.Resolver, m *metrics.Registry) *Waiter {
	return &Waiter{resolver: r, metrics: m}
}

// Wait polls until cond holds for the element spec resolves to, returning
// the snapshot of the cycle it first held in. It fails with a TimeoutError
// carrying the last observed state once spec.Timeout has elapsed.
func (w *Waiter) Wait(ctx context.Context, spec locator.Spec, cond Condition) (*element.Snapshot, error) {
	snap, err := w.wait(ctx, spec, cond)
	outcome := "ok"
	if err != nil {
		outcome = uierr.Code(err)
	}
	w.metrics.RecordWait(cond.String(), outcome)
	return snap, err
}

func (w *Waiter) wait(ctx context.Context, spec locator.Spec, cond Condition) (*element.Snapshot, error) {
	if cond < Exists || cond > Focused {
		return nil, fmt.Errorf("wait: unknown condition %d", int(cond))
	}
	clk := w.resolver.Clock()
	logger := w.resolver.Logger()
	poll := w.resolver.PollInterval()
	timeout := max(spec.Timeout, 0)
	start := clk.Now()
	deadline := start.Add(timeout)

	var (
		last    uierr.Observed
		lastErr error
		cycles  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, uierr.Cancelled("wait", err)
		}
		cycles++
		snap, _, err := w.resolver.AttemptAll(ctx, spec)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, uierr.Cancelled("wait", ctxErr)
			}
			if uierr.IsTerminal(err) {
				return nil, err
			}
			lastErr = err
		}
		obs, err := w.observe(ctx, snap)
		if err != nil {
			if uierr.IsTerminal(err) {
				return nil, err
			}
			lastErr = err
		}
		last = obs
		logger.Debug("wait cycle",
			"selector", spec.Describe(),
			"condition", cond.String(),
			"cycle", cycles,
			"exists", obs.Exists,
			"visible", obs.Visible,
			"enabled", obs.Enabled,
			"focused", obs.Focused)
		if holds(cond, obs) {
			return snap, nil
		}

		now := clk.Now()
		if !now.Before(deadline) {
			break
		}
		if err := clk.Sleep(ctx, min(poll, deadline.Sub(now))); err != nil {
			return nil, uierr.Cancelled("wait", err)
		}
	}
	return nil, &uierr.TimeoutError{
		Selector:  spec.Describe(),
		Condition: cond.String(),
		Timeout:   timeout,
		Last:      last,
		Cause:     lastErr,
	}
}

// observe derives the condition flags from a fresh snapshot. Visibility
// requires non-empty bounds overlapping the adapter's viewport; adapters
// without a viewport fall back to the visible state flag alone.
func (w *Waiter) observe(ctx context.Context, snap *element.Snapshot) (uierr.Observed, error) {
	if snap == nil {
		return uierr.Observed{}, nil
	}
	obs := uierr.Observed{
		Exists:  true,
		Enabled: snap.State.Enabled,
		Focused: snap.State.Focused,
	}
	if !snap.State.Visible || snap.Bounds.Empty() {
		return obs, nil
	}
	viewport, err := w.resolver.Adapter().Viewport(ctx)
	switch {
	case errors.Is(err, uierr.ErrUnsupported):
		obs.Visible = true
		return obs, nil
	case err != nil:
		return obs, fmt.Errorf("viewport: %w", err)
	}
	obs.Visible = viewport.Overlaps(snap.Bounds)
	return obs, nil
}

func holds(cond Condition, obs uierr.Observed) bool {
	switch cond {
	case Exists:
		return obs.Exists
	case Visible:
		return obs.Visible
	case Enabled:
		return obs.Exists && obs.Enabled
	case Focused:
		return obs.Exists && obs.Focused
	default:
		return false
	}
}
