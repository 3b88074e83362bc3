// Copyright 2025 Joseph Cumines

// Package engine is the in-process surface of the locator: resolve, wait,
// validate, act on and highlight elements of one accessibility backend.
//
// An Engine owns the dispatch pool that native calls run on, the overlays
// it has drawn, the wait operations it has started, its metrics and its
// audit log. Calls may run concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/joeycumines/uilocator/internal/action"
	"github.com/joeycumines/uilocator/internal/audit"
	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/dispatch"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/highlight"
	"github.com/joeycumines/uilocator/internal/locator"
	"github.com/joeycumines/uilocator/internal/metrics"
	"github.com/joeycumines/uilocator/internal/operation"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/wait"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	clock      clock.Clock
	logger     *slog.Logger
	audit      *audit.Logger
	threadInit dispatch.ThreadInit
}

// WithClock sets the time source of every component.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger sets the logger of every component.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithAudit sets the audit logger, replacing the one opened from
// Config.AuditFile.
func WithAudit(a *audit.Logger) Option { return func(o *options) { o.audit = a } }

// WithThreadInit sets the per-thread init of the dispatch workers.
func WithThreadInit(init dispatch.ThreadInit) Option {
	return func(o *options) { o.threadInit = init }
}

// Engine serves the locator operations over one backend.
type Engine struct {
	native      platform.Adapter
	adapter     platform.Adapter
	pool        *dispatch.Pool
	resolver    *locator.Resolver
	waiter      *wait.Waiter
	actions     *action.Dispatcher
	highlighter *highlight.Highlighter
	ops         *operation.Manager
	metrics     *metrics.Registry
	audit       *audit.Logger
	logger      *slog.Logger
}

// New builds an engine over a. A nil cfg uses config.Default.
func New(a platform.Adapter, cfg *config.Config, opts ...Option) (*Engine, error) {
	if a == nil {
		return nil, errors.New("engine: nil adapter")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{clock: clock.Real{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	auditLog := o.audit
	if auditLog == nil {
		var err error
		if auditLog, err = audit.New(cfg.AuditFile); err != nil {
			return nil, err
		}
	}

	poolOpts := []dispatch.Option{dispatch.WithLogger(o.logger)}
	if o.threadInit != nil {
		poolOpts = append(poolOpts, dispatch.WithThreadInit(o.threadInit))
	}
	pool, err := dispatch.New(cfg.Workers, poolOpts...)
	if err != nil {
		_ = auditLog.Close()
		return nil, fmt.Errorf("start dispatch pool: %w", err)
	}

	m := metrics.New()
	adapter := dispatch.Wrap(a, pool)
	resolver := locator.New(adapter,
		locator.WithClock(o.clock),
		locator.WithLogger(o.logger),
		locator.WithMetrics(m),
		locator.WithPollInterval(cfg.PollInterval),
		locator.WithPrimaryTimeout(cfg.PrimaryTimeout),
		locator.WithBudget(cfg.Budget),
		locator.WithMaxDepth(cfg.MaxDepth),
	)

	e := &Engine{
		native:   a,
		adapter:  adapter,
		pool:     pool,
		resolver: resolver,
		waiter:   wait.New(resolver, m),
		actions: action.New(adapter,
			action.WithClock(o.clock),
			action.WithAudit(auditLog),
			action.WithMetrics(m),
			action.WithLogger(o.logger),
		),
		highlighter: highlight.New(resolver,
			highlight.WithPadding(cfg.HighlightPadding),
			highlight.WithMetrics(m),
		),
		ops:     operation.New(operation.WithClock(o.clock), operation.WithLogger(o.logger)),
		metrics: m,
		audit:   auditLog,
		logger:  o.logger,
	}
	e.logger.Debug("engine started", "backend", a.Name(), "workers", cfg.Workers, "budget", cfg.Budget.String())
	return e, nil
}

// Query locates an element.
type Query struct {
	// Scope, if set, replaces the desktop root as the search root.
	Scope        element.Ref
	Primary      string
	Alternatives []string
	Timeout      time.Duration
	// MaxDepth bounds traversal depth. Zero uses the configured default.
	MaxDepth int
}

func (q Query) spec() (locator.Spec, error) {
	spec, err := locator.NewSpec(q.Primary, q.Alternatives, q.Timeout)
	if err != nil {
		return locator.Spec{}, err
	}
	spec.Scope = q.Scope
	spec.MaxDepth = q.MaxDepth
	return spec, nil
}

// Backend returns the name of the backend.
func (e *Engine) Backend() string { return e.native.Name() }

// Resolve returns a snapshot of the element q selects.
func (e *Engine) Resolve(ctx context.Context, q Query) (*element.Snapshot, error) {
	spec, err := q.spec()
	if err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, spec)
}

// Wait blocks until cond holds for the element q selects.
func (e *Engine) Wait(ctx context.Context, q Query, cond wait.Condition) (*element.Snapshot, error) {
	spec, err := q.spec()
	if err != nil {
		return nil, err
	}
	return e.waiter.Wait(ctx, spec, cond)
}

// Validate reports whether the selectors resolve. It never fails.
func (e *Engine) Validate(ctx context.Context, primary string, alternatives []string, timeout time.Duration) locator.ValidationResult {
	return e.resolver.Validate(ctx, primary, alternatives, timeout)
}

// PerformAction dispatches kind against the element ref refers to.
func (e *Engine) PerformAction(ctx context.Context, ref element.Ref, kind action.Kind, args action.Args) (*action.Result, error) {
	return e.actions.Perform(ctx, ref, kind, args)
}

// HighlightRequest describes a highlight.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type HighlightRequest struct {
	Query
	Color    string
	Text     string
	Corner   highlight.Corner
	Duration time.Duration
}

// Highlight draws an overlay around the element req selects.
func (e *Engine) Highlight(ctx context.Context, req HighlightRequest) (*highlight.Result, error) {
	spec, err := req.spec()
	if err != nil {
		return nil, err
	}
	return e.highlighter.Highlight(ctx, highlight.Request{
		Spec:     spec,
		Color:    req.Color,
		Text:     req.Text,
		Corner:   req.Corner,
		Duration: req.Duration,
	})
}

// Permission reports the OS accessibility permission of the backend.
func (e *Engine) Permission(ctx context.Context) (platform.Permission, error) {
	return e.adapter.Permission(ctx)
}

// Metrics writes the engine metrics in Prometheus text format.
func (e *Engine) Metrics(w io.Writer) error {
	return e.metrics.WritePrometheus(w)
}

// Close removes overlays, cancels running operations and releases the
// backend. The engine must not be used afterwards.
func (e *Engine) Close() error {
	e.highlighter.Close()
	e.ops.Close()
	e.pool.Close()
	errs := []error{e.audit.Close()}
	if c, ok := e.native.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
