// Copyright 2025 Joseph Cumines

// Package highlight draws timed, click-through overlays around located
// elements.
//
// An overlay reflects the element's geometry at resolution time and is
// removed by its own cancellable timer. Highlighting an element that already
// has an overlay replaces it. Overlays are tracked per Highlighter, keyed by
// the element's native reference.
package highlight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/locator"
	"github.com/joeycumines/uilocator/internal/metrics"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/uierr"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/mattn/go-runewidth"
	"github.com/oklog/ulid/v2"
)

// Defaults for a highlight.
const (
	DefaultColor     = "#ff0000"
	DefaultDuration  = time.Second
	DefaultPadding   = 4
	DefaultThickness = 3
)

// Label metrics, in pixels.
const (
	labelCellWidth = 8
	labelPadding   = 8
	labelHeight    = 18
)

// Corner anchors the label relative to the border.
type Corner string

const (
	TopLeft     Corner = "top_left"
	TopRight    Corner = "top_right"
	BottomLeft  Corner = "bottom_left"
	BottomRight Corner = "bottom_right"
	// Inside places the label inside the border's top-left corner.
	Inside Corner = "inside"
)

// ParseCorner validates a corner name. The empty string is TopLeft.
func ParseCorner(s string) (Corner, error) {
	switch c := Corner(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return TopLeft, nil
	case TopLeft, TopRight, BottomLeft, BottomRight, Inside:
		return c, nil
	default:
		return "", fmt.Errorf("invalid label corner %q", s)
	}
}

// Request describes a highlight.
type Request struct {
	Spec locator.Spec
	// Color is a hex colour, "#rrggbb" or "rrggbb". Empty means red.
	Color string
	Text  string
	// Corner is the label anchor. Empty means TopLeft.
	Corner Corner
	// Duration is how long the overlay stays up. Zero means one second.
	Duration time.Duration
}

// Result describes a rendered overlay.
type Result struct {
	ExpiresAt time.Time         `json:"expires_at"`
	Element   *element.Snapshot `json:"element"`
	Label     *element.Rect     `json:"label,omitempty"`
	// Cancel removes the overlay early. It is a no-op once it has expired
	// or been replaced.
	Cancel   func()       `json:"-"`
	ID       string       `json:"id"`
	Border   element.Rect `json:"border"`
	Scrolled bool         `json:"scrolled"`
}

// Option configures a Highlighter.
type Option func(*Highlighter)

// WithPadding sets the gap between the element bounds and the border.
func WithPadding(px float64) Option {
	return func(h *Highlighter) {
		if px >= 0 {
			h.padding = px
		}
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option { return func(h *Highlighter) { h.metrics = m } }

// WithRenderer overrides the overlay renderer, which otherwise is the
// resolver's adapter if that implements platform.OverlayRenderer.
func WithRenderer(r platform.OverlayRenderer) Option { return func(h *Highlighter) { h.renderer = r } }

// Highlighter renders highlights through a resolver's adapter.
type Highlighter struct {
	resolver *locator.Resolver
	renderer platform.OverlayRenderer
	clock    clock.Clock
	metrics  *metrics.Registry
	logger   *slog.Logger
	active   map[string]*overlay
	padding  float64
	mu       sync.Mutex
}

type overlay struct {
	handle platform.OverlayHandle
	timer  clock.Timer
	id     string
}

// New returns a highlighter over r.
func New(r *locator.Resolver, opts ...Option) *Highlighter {
	h := &Highlighter{
		resolver: r,
		clock:    r.Clock(),
		logger:   r.Logger(),
		active:   make(map[string]*overlay),
		padding:  DefaultPadding,
	}
	if renderer, ok := r.Adapter().(platform.OverlayRenderer); ok {
		h.renderer = renderer
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Highlight resolves req.Spec and draws an overlay around the element. An
// element outside the viewport is scrolled into view first, with exactly
// one scroll-into-view action.
func (h *Highlighter) Highlight(ctx context.Context, req Request) (*Result, error) {
	color, err := parseColor(req.Color)
	if err != nil {
		return nil, err
	}
	corner, err := ParseCorner(string(req.Corner))
	if err != nil {
		return nil, err
	}
	duration := req.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	if h.renderer == nil {
		return nil, uierr.Unsupported(h.resolver.Adapter().Name(), "overlay")
	}

	snap, err := h.resolver.Resolve(ctx, req.Spec)
	if err != nil {
		return nil, err
	}
	adapter := h.resolver.Adapter()
	viewport, hasViewport, err := h.viewport(ctx)
	if err != nil {
		return nil, err
	}

	scrolled := false
	if hasViewport && !viewport.Contains(snap.Bounds) {
		if err := adapter.Perform(ctx, snap.Ref, platform.Action{Kind: platform.ActionScrollIntoView}); err != nil {
			return nil, fmt.Errorf("scroll into view: %w", err)
		}
		scrolled = true
		if snap, err = platform.Describe(ctx, adapter, snap.Ref, h.clock.Now()); err != nil {
			return nil, fmt.Errorf("re-read after scroll: %w", err)
		}
	}
	if snap.Bounds.Empty() {
		return nil, uierr.Unsupported(adapter.Name(), "highlight of an element without bounds")
	}

	border := snap.Bounds.Outset(h.padding)
	spec := platform.Overlay{Color: color, Border: border, Thickness: DefaultThickness, Label: req.Text}
	var label *element.Rect
	if req.Text != "" {
		r := labelRect(border, req.Text, corner, viewport, hasViewport)
		label = &r
		spec.LabelRect = r
	}

	key := snap.Ref.Key()
	h.remove(key, "")

	handle, err := h.renderer.ShowOverlay(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("show overlay: %w", err)
	}
	now := h.clock.Now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	o := &overlay{handle: handle, id: id}

	h.mu.Lock()
	if prev := h.active[key]; prev != nil {
		// raced with a concurrent highlight of the same element
		h.mu.Unlock()
		h.discard(prev)
		h.mu.Lock()
	}
	h.active[key] = o
	h.mu.Unlock()
	h.metrics.AddOverlays(1)

	timer := h.clock.AfterFunc(duration, func() { h.remove(key, id) })
	h.mu.Lock()
	if h.active[key] == o {
		o.timer = timer
	} else {
		timer.Stop()
	}
	h.mu.Unlock()

	h.logger.Debug("overlay shown", "id", id, "element", key, "border", border, "duration", duration, "scrolled", scrolled)
	return &Result{
		Element:   snap,
		Border:    border,
		Label:     label,
		Scrolled:  scrolled,
		ID:        id,
		ExpiresAt: now.Add(duration),
		Cancel:    func() { h.remove(key, id) },
	}, nil
}

// viewport returns the adapter viewport, reporting false if the adapter has
// none.
func (h *Highlighter) viewport(ctx context.Context) (element.Rect, bool, error) {
	vp, err := h.resolver.Adapter().Viewport(ctx)
	switch {
	case errors.Is(err, uierr.ErrUnsupported):
		return element.Rect{}, false, nil
	case err != nil:
		return element.Rect{}, false, fmt.Errorf("viewport: %w", err)
	case vp.Empty():
		return element.Rect{}, false, nil
	}
	return vp, true, nil
}

// Active returns the number of overlays currently shown.
func (h *Highlighter) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// Close removes every overlay.
func (h *Highlighter) Close() {
	h.mu.Lock()
	active := h.active
	h.active = make(map[string]*overlay)
	h.mu.Unlock()
	for _, o := range active {
		h.discard(o)
	}
}

// remove drops the overlay for key if its id matches, or any overlay for
// key when id is empty.
func (h *Highlighter) remove(key, id string) {
	h.mu.Lock()
	o := h.active[key]
	if o == nil || (id != "" && o.id != id) {
		h.mu.Unlock()
		return
	}
	delete(h.active, key)
	h.mu.Unlock()
	h.discard(o)
}

func (h *Highlighter) discard(o *overlay) {
	if o.timer != nil {
		o.timer.Stop()
	}
	if err := o.handle.Close(); err != nil {
		h.logger.Warn("failed to remove overlay", "id", o.id, "error", err)
	}
	h.metrics.AddOverlays(-1)
}

func parseColor(s string) (colorful.Color, error) {
	if s == "" {
		s = DefaultColor
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return colorful.Color{}, fmt.Errorf("invalid highlight colour %q: %w", s, err)
	}
	return c, nil
}

// labelRect places a label for text at corner of border, kept inside the
// viewport when there is one.
func labelRect(border element.Rect, text string, corner Corner, viewport element.Rect, clamp bool) element.Rect {
	w := float64(runewidth.StringWidth(text)*labelCellWidth + labelPadding)
	r := element.Rect{Width: w, Height: labelHeight}
	bmax := border.Max()
	switch corner {
	case TopRight:
		r.X, r.Y = bmax.X-w, border.Y-labelHeight
	case BottomLeft:
		r.X, r.Y = border.X, bmax.Y
	case BottomRight:
		r.X, r.Y = bmax.X-w, bmax.Y
	case Inside:
		r.X, r.Y = border.X+DefaultThickness, border.Y+DefaultThickness
	default:
		r.X, r.Y = border.X, border.Y-labelHeight
	}
	if !clamp {
		return r
	}
	vmax := viewport.Max()
	r.X = max(viewport.X, min(r.X, vmax.X-r.Width))
	r.Y = max(viewport.Y, min(r.Y, vmax.Y-r.Height))
	return r
}
