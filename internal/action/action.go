// Copyright 2025 Joseph Cumines

// Package action dispatches capability-gated operations against elements.
//
// Every dispatch re-reads the element through its native reference and
// checks the live capability set before acting. A missing capability fails
// with a CapabilityError and the adapter's native action is never called.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joeycumines/uilocator/internal/audit"
	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/metrics"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// Kind names an element action.
type Kind string

const (
	Click             Kind = "click"
	Invoke            Kind = "invoke"
	Toggle            Kind = "toggle"
	GetToggleState    Kind = "get_toggle_state"
	Select            Kind = "select"
	GetSelectionState Kind = "get_selection_state"
	SetRangeValue     Kind = "set_range_value"
	GetRangeValue     Kind = "get_range_value"
	SetText           Kind = "set_text"
	GetText           Kind = "get_text"
	Scroll            Kind = "scroll"
	Focus             Kind = "focus"
	ScrollIntoView    Kind = "scroll_into_view"
)

// kindSpec maps an action to the capability it requires (zero for none) and
// the native action performing it (zero for reads).
type kindSpec struct {
	required element.Capability
	native   platform.ActionKind
}

var kinds = map[Kind]kindSpec{
	Click:             {required: element.Invocable},
	Invoke:            {required: element.Invocable, native: platform.ActionInvoke},
	Toggle:            {required: element.Toggleable, native: platform.ActionToggle},
	GetToggleState:    {required: element.Toggleable},
	Select:            {required: element.Selectable, native: platform.ActionSelect},
	GetSelectionState: {required: element.Selectable},
	SetRangeValue:     {required: element.RangeValued, native: platform.ActionSetValue},
	GetRangeValue:     {required: element.RangeValued},
	SetText:           {required: element.Textual, native: platform.ActionSetText},
	GetText:           {required: element.Textual},
	Scroll:            {required: element.Scrollable, native: platform.ActionScroll},
	Focus:             {native: platform.ActionSetFocus},
	ScrollIntoView:    {native: platform.ActionScrollIntoView},
}

// Kinds lists every action kind.
func Kinds() []Kind {
	return []Kind{Click, Invoke, Toggle, GetToggleState, Select, GetSelectionState,
		SetRangeValue, GetRangeValue, SetText, GetText, Scroll, Focus, ScrollIntoView}
}

// ParseKind validates an action name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return k, nil
}

// Args carries the arguments of an action.
type Args struct {
	Text  string  `json:"text,omitempty"`
	Value float64 `json:"value,omitempty"`
	DX    float64 `json:"dx,omitempty"`
	DY    float64 `json:"dy,omitempty"`
}

// Result is the outcome of a successful dispatch. Element is the snapshot
// read after acting for writes, or the one read it was answered from.
type Result struct {
	Element  *element.Snapshot `json:"element"`
	Toggled  *bool             `json:"toggled,omitempty"`
	Selected *bool             `json:"selected,omitempty"`
	Range    *element.Range    `json:"range,omitempty"`
	Text     *string           `json:"text,omitempty"`
	Action   Kind              `json:"action"`
	// Method is "invoke" or "pointer" for a click.
	Method string `json:"method,omitempty"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option { return func(d *Dispatcher) { d.clock = c } }

// WithAudit sets the audit logger.
func WithAudit(a *audit.Logger) Option { return func(d *Dispatcher) { d.audit = a } }

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// Dispatcher performs actions through one adapter.
type Dispatcher struct {
	adapter platform.Adapter
	clock   clock.Clock
	audit   *audit.Logger
	metrics *metrics.Registry
	logger  *slog.Logger
}

// New returns a dispatcher over a.
func New(a platform.Adapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{adapter: a, clock: clock.Real{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Perform runs kind against the element ref refers to.
func (d *Dispatcher) Perform(ctx context.Context, ref element.Ref, kind Kind, args Args) (*Result, error) {
	start := d.clock.Now()
	res, snap, err := d.perform(ctx, ref, kind, args)
	status := "ok"
	if err != nil {
		status = uierr.Code(err)
	}
	d.metrics.RecordAction(string(kind), status)

	entry := audit.Entry{
		Action:    string(kind),
		Arguments: args.auditMap(kind),
		Status:    status,
		Duration:  d.clock.Now().Sub(start),
		Timestamp: start,
	}
	if snap != nil {
		entry.Role, entry.Name, entry.Protected = snap.Role, snap.Name, snap.State.Protected
	}
	d.audit.LogAction(entry)
	if err != nil {
		d.logger.Debug("action failed", "action", kind, "error", err)
	}
	return res, err
}

// perform returns the result plus the pre-action snapshot, for auditing.
func (d *Dispatcher) perform(ctx context.Context, ref element.Ref, kind Kind, args Args) (*Result, *element.Snapshot, error) {
	ks, ok := kinds[kind]
	if !ok {
		return nil, nil, fmt.Errorf("unknown action %q", kind)
	}
	if ref == nil {
		return nil, nil, errors.New("action: nil element reference")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, uierr.Cancelled(string(kind), err)
	}

	snap, err := platform.Describe(ctx, d.adapter, ref, d.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	res := &Result{Action: kind, Element: snap}

	native := platform.Action{Kind: ks.native, Text: args.Text, Value: args.Value, DX: args.DX, DY: args.DY}
	switch kind {
	case Click:
		switch {
		case snap.Capabilities.Has(element.Invocable):
			native.Kind, res.Method = platform.ActionInvoke, "invoke"
		case !snap.Bounds.Empty():
			native.Kind, res.Method = platform.ActionClick, "pointer"
			native.Point = snap.Bounds.Center()
		default:
			return nil, snap, d.missing(kind, snap, element.Invocable)
		}
	default:
		if ks.required != 0 && !snap.Capabilities.Has(ks.required) {
			return nil, snap, d.missing(kind, snap, ks.required)
		}
	}

	if ks.native == 0 && kind != Click {
		return d.read(kind, snap, res)
	}
	if err := d.adapter.Perform(ctx, ref, native); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, snap, uierr.Cancelled(string(kind), ctxErr)
		}
		return nil, snap, fmt.Errorf("%s: %w", kind, err)
	}
	after, err := platform.Describe(ctx, d.adapter, ref, d.clock.Now())
	if err != nil {
		return nil, snap, fmt.Errorf("%s: re-read after action: %w", kind, err)
	}
	res.Element = after
	fillPayload(kind, after, res)
	return res, snap, nil
}

func (d *Dispatcher) missing(kind Kind, snap *element.Snapshot, required element.Capability) error {
	return &uierr.CapabilityError{
		Action:   string(kind),
		Role:     snap.Role,
		Required: required,
		Have:     snap.Capabilities,
	}
}

// read answers a query from the snapshot just taken.
func (d *Dispatcher) read(kind Kind, snap *element.Snapshot, res *Result) (*Result, *element.Snapshot, error) {
	switch kind {
	case GetRangeValue:
		if snap.Range == nil {
			return nil, snap, uierr.Unsupported(d.adapter.Name(), "range value of "+snap.Role)
		}
	case GetText:
		if snap.Text == nil {
			return nil, snap, uierr.Unsupported(d.adapter.Name(), "text of "+snap.Role)
		}
	}
	fillPayload(kind, snap, res)
	return res, snap, nil
}

func fillPayload(kind Kind, snap *element.Snapshot, res *Result) {
	switch kind {
	case Toggle, GetToggleState:
		v := snap.State.Toggled
		res.Toggled = &v
	case Select, GetSelectionState:
		v := snap.State.Selected
		res.Selected = &v
	case SetRangeValue, GetRangeValue:
		res.Range = snap.Range
	case SetText, GetText:
		res.Text = snap.Text
	}
}

func (a Args) auditMap(kind Kind) map[string]any {
	switch kind {
	case SetText:
		return map[string]any{"text": a.Text}
	case SetRangeValue:
		return map[string]any{"value": a.Value}
	case Scroll:
		return map[string]any{"dx": a.DX, "dy": a.DY}
	default:
		return nil
	}
}
