// Copyright 2025 Joseph Cumines
//
// Resolver configuration

package locator

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/metrics"
)

// Defaults for a Resolver.
const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultPrimaryTimeout = 3 * time.Second
	DefaultMaxDepth       = 50
)

// Budget selects how the time left after the primary chain is divided
// between alternatives.
type Budget int

const (
	// BudgetShared gives each alternative an even share of the time still
	// remaining when it starts; the last alternative gets all of it.
	BudgetShared Budget = iota
	// BudgetGreedy lets each alternative poll until the overall deadline.
	// Later alternatives still get one attempt each if time remains.
	BudgetGreedy
)

func (b Budget) String() string {
	if b == BudgetGreedy {
		return "greedy"
	}
	return "shared"
}

// ParseBudget is the inverse of Budget.String.
func ParseBudget(s string) (Budget, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared":
		return BudgetShared, nil
	case "greedy":
		return BudgetGreedy, nil
	default:
		return 0, fmt.Errorf("invalid alternative budget %q (want shared or greedy)", s)
	}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithPollInterval sets the fixed interval between attempts.
func WithPollInterval(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithPrimaryTimeout caps the primary chain's window when alternatives are
// given.
func WithPrimaryTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.primaryTimeout = d
		}
	}
}

// WithBudget sets the alternative budget policy.
func WithBudget(b Budget) Option {
	return func(r *Resolver) { r.budget = b }
}

// WithMaxDepth sets the default traversal depth bound.
func WithMaxDepth(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics sets the metrics registry. A nil registry records nothing.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Resolver) { r.metrics = m }
}
