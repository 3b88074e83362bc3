// Copyright 2025 Joseph Cumines

// Package platform defines the boundary between the locator engine and a
// native accessibility API.
//
// One [Adapter] implementation exists per backend and is selected at process
// start. Backends differ in what they support: anything a backend cannot do
// natively is reported as a [uierr.UnsupportedError], never approximated.
package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/lucasb-eyer/go-colorful"
)

// Adapter wraps one native accessibility API.
//
// All methods may block on OS calls and must be safe for concurrent use.
// The refs passed in are ones the same adapter handed out; a ref whose node
// has since disappeared yields an error, not a panic.
type Adapter interface {
	// Name identifies the backend, e.g. "atspi".
	Name() string
	// Root returns the desktop root node.
	Root(ctx context.Context) (element.Ref, error)
	// Children returns the immediate children of ref in document order.
	Children(ctx context.Context, ref element.Ref) ([]element.Ref, error)
	// Match tests ref against a single criterion. KindIndex criteria are
	// positional and always match.
	Match(ctx context.Context, ref element.Ref, c selector.Criterion) (bool, error)
	// Read returns the current properties of ref.
	Read(ctx context.Context, ref element.Ref) (element.Properties, error)
	// Capabilities returns the live capability set of ref.
	Capabilities(ctx context.Context, ref element.Ref) (element.CapabilitySet, error)
	// Perform executes a native action on ref.
	Perform(ctx context.Context, ref element.Ref, action Action) error
	// Viewport returns the on-screen region used for visibility checks.
	Viewport(ctx context.Context) (element.Rect, error)
	// Permission reports whether the OS grants accessibility access.
	Permission(ctx context.Context) (Permission, error)
}

// OverlayRenderer is implemented by backends able to draw a click-through
// highlight border on screen.
type OverlayRenderer interface {
	ShowOverlay(ctx context.Context, overlay Overlay) (OverlayHandle, error)
}

// OverlayHandle removes a rendered overlay. Close is idempotent.
type OverlayHandle interface {
	Close() error
}

// Overlay describes a highlight border plus an optional text label.
type Overlay struct {
	Label     string
	Color     colorful.Color
	Border    element.Rect
	LabelRect element.Rect
	Thickness float64
}

// Pointer synthesizes pointer input at screen coordinates. Backends without
// a native pointer path delegate to one.
type Pointer interface {
	Click(ctx context.Context, at element.Point) error
	Scroll(ctx context.Context, at element.Point, dx, dy float64) error
}

// ActionKind is a native action an adapter can perform.
type ActionKind int

const (
	ActionInvoke ActionKind = iota + 1
	ActionToggle
	ActionSelect
	ActionSetValue
	ActionSetFocus
	ActionSetText
	ActionScrollIntoView
	// ActionClick synthesizes a pointer click at Action.Point.
	ActionClick
	// ActionScroll scrolls the node's content by Action.DX/DY.
	ActionScroll
)

var actionKindNames = map[ActionKind]string{
	ActionInvoke:         "invoke",
	ActionToggle:         "toggle",
	ActionSelect:         "select",
	ActionSetValue:       "set_value",
	ActionSetFocus:       "set_focus",
	ActionSetText:        "set_text",
	ActionScrollIntoView: "scroll_into_view",
	ActionClick:          "click",
	ActionScroll:         "scroll",
}

func (k ActionKind) String() string {
	if name, ok := actionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// ParseActionKind resolves an action kind by name.
func ParseActionKind(name string) (ActionKind, bool) {
	for k, n := range actionKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Action is a native action and its arguments.
type Action struct {
	Text  string
	Point element.Point
	Kind  ActionKind
	Value float64
	DX    float64
	DY    float64
}

// Permission is the OS accessibility permission state.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ParsePermission is the inverse of Permission.String.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown":
		return PermissionUnknown, nil
	case "granted":
		return PermissionGranted, nil
	case "denied":
		return PermissionDenied, nil
	default:
		return PermissionUnknown, fmt.Errorf("invalid permission %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(text []byte) error {
	v, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MatchProperties applies one criterion to already-read properties. Backends
// whose native API has no cheaper per-criterion test implement Match with it.
func MatchProperties(props element.Properties, c selector.Criterion) bool {
	switch c.Kind {
	case selector.KindRole:
		return strings.EqualFold(props.Role, c.Value) ||
			(props.NativeRole != "" && strings.EqualFold(props.NativeRole, c.Value))
	case selector.KindName:
		return c.MatchString(props.Name)
	case selector.KindAttribute:
		v, ok := lookupAttribute(props.Attributes, c.Key)
		return ok && c.MatchString(v)
	case selector.KindIndex:
		return true
	default:
		return false
	}
}

func lookupAttribute(attrs map[string]string, key string) (string, bool) {
	if v, ok := attrs[key]; ok {
		return v, true
	}
	for k, v := range attrs {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Describe reads ref and its live capabilities into a snapshot taken at at.
func Describe(ctx context.Context, a Adapter, ref element.Ref, at time.Time) (*element.Snapshot, error) {
	props, err := a.Read(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref.Key(), err)
	}
	caps, err := a.Capabilities(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("capabilities %s: %w", ref.Key(), err)
	}
	return element.NewSnapshot(ref, props, caps, at), nil
}

// BorderEdges splits border into its top, bottom, left and right
// bars, each thickness pixels wide. Backends that cannot draw a hollow
// window render the border as these four.
func BorderEdges(border element.Rect, thickness float64) [4]element.Rect {
	t := max(1, min(thickness, border.Width/2, border.Height/2))
	inner := border.Height - 2*t
	return [4]element.Rect{
		{X: border.X, Y: border.Y, Width: border.Width, Height: t},
		{X: border.X, Y: border.Y + border.Height - t, Width: border.Width, Height: t},
		{X: border.X, Y: border.Y + t, Width: t, Height: inner},
		{X: border.X + border.Width - t, Y: border.Y + t, Width: t, Height: inner},
	}
}

// LabelForeground picks a readable text colour, black or white, for a
// label drawn on bg.
func LabelForeground(bg colorful.Color) colorful.Color {
	_, _, l := bg.Hsl()
	if l > 0.55 {
		return colorful.Color{}
	}
	return colorful.Color{R: 1, G: 1, B: 1}
}
