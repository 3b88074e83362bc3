// Copyright 2025 Joseph Cumines

//go:build linux

package atspi

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/display"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// ErrStale is returned for a ref whose D-Bus object no longer exists.
var ErrStale = errors.New("atspi: stale element reference")

// Option configures an Adapter.
type Option func(*Adapter)

// WithPointer sets the pointer used for click and scroll actions.
func WithPointer(p platform.Pointer) Option { return func(a *Adapter) { a.pointer = p } }

// WithOverlays sets the renderer used for highlight overlays.
func WithOverlays(r platform.OverlayRenderer) Option { return func(a *Adapter) { a.overlays = r } }

// WithDisplays sets the source of the viewport.
func WithDisplays(src display.Source) Option { return func(a *Adapter) { a.displays = src } }

// Adapter talks to the AT-SPI2 registry on the accessibility bus.
type Adapter struct {
	session  *dbus.Conn
	conn     *dbus.Conn
	pointer  platform.Pointer
	overlays platform.OverlayRenderer
	displays display.Source
}

var (
	_ platform.Adapter         = (*Adapter)(nil)
	_ platform.OverlayRenderer = (*Adapter)(nil)
)

// New connects to the accessibility bus, whose address the session bus
// publishes.
func New(ctx context.Context, opts ...Option) (*Adapter, error) {
	session, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("atspi: connect session bus: %w", err)
	}
	var address string
	if err := session.Object(busName, busPath).CallWithContext(ctx, busName+".GetAddress", 0).Store(&address); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("atspi: get accessibility bus address: %w", err)
	}
	conn, err := dbus.Connect(address)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("atspi: connect accessibility bus: %w", err)
	}
	a := &Adapter{session: session, conn: conn, displays: display.System}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Close disconnects from both buses.
func (a *Adapter) Close() error {
	return errors.Join(a.conn.Close(), a.session.Close())
}

func (a *Adapter) Name() string { return BackendName }

func (a *Adapter) Root(ctx context.Context) (element.Ref, error) {
	return Ref{Bus: registryName, Path: rootPath}, ctx.Err()
}

func (a *Adapter) Children(ctx context.Context, ref element.Ref) ([]element.Ref, error) {
	r, err := asRef(ref)
	if err != nil {
		return nil, err
	}
	var children []struct {
		Bus  string
		Path dbus.ObjectPath
	}
	if err := a.call(ctx, r, ifaceAccessible+".GetChildren").Store(&children); err != nil {
		return nil, a.mapErr(r, "children", err)
	}
	out := make([]element.Ref, 0, len(children))
	for _, c := range children {
		// toolkits report missing children as the null object
		if c.Path == "" || c.Path == "/org/a11y/atspi/null" {
			continue
		}
		out = append(out, Ref{Bus: c.Bus, Path: c.Path})
	}
	return out, nil
}

func (a *Adapter) Match(ctx context.Context, ref element.Ref, c selector.Criterion) (bool, error) {
	r, err := asRef(ref)
	if err != nil {
		return false, err
	}
	var props element.Properties
	switch c.Kind {
	case selector.KindIndex:
		return true, nil
	case selector.KindRole:
		native, err := a.roleName(ctx, r)
		if err != nil {
			return false, err
		}
		props.NativeRole, props.Role = native, normalizeRole(native)
	case selector.KindName:
		if props.Name, err = a.name(ctx, r); err != nil {
			return false, err
		}
	case selector.KindAttribute:
		if props.Attributes, err = a.attributes(ctx, r); err != nil {
			return false, err
		}
	}
	return platform.MatchProperties(props, c), nil
}

func (a *Adapter) Read(ctx context.Context, ref element.Ref) (element.Properties, error) {
	r, err := asRef(ref)
	if err != nil {
		return element.Properties{}, err
	}
	native, err := a.roleName(ctx, r)
	if err != nil {
		return element.Properties{}, err
	}
	props := element.Properties{NativeRole: native, Role: normalizeRole(native)}
	if props.Name, err = a.name(ctx, r); err != nil {
		return element.Properties{}, err
	}
	var bits stateSet
	if err := a.call(ctx, r, ifaceAccessible+".GetState").Store((*[]uint32)(&bits)); err != nil {
		return element.Properties{}, a.mapErr(r, "state", err)
	}
	if bits.has(stateDefunct) {
		return element.Properties{}, fmt.Errorf("%s: %w", r.Key(), ErrStale)
	}
	props.State = bits.state(native)
	if props.Attributes, err = a.attributes(ctx, r); err != nil {
		return element.Properties{}, err
	}

	ifaces, err := a.interfaces(ctx, r)
	if err != nil {
		return element.Properties{}, err
	}
	if hasInterface(ifaces, ifaceComponent) {
		if props.Bounds, err = a.extents(ctx, r); err != nil {
			return element.Properties{}, err
		}
	}
	if hasInterface(ifaces, ifaceText) && !props.State.Protected {
		var text string
		if err := a.call(ctx, r, ifaceText+".GetText", int32(0), int32(-1)).Store(&text); err != nil {
			return element.Properties{}, a.mapErr(r, "text", err)
		}
		props.Text = &text
	}
	if hasInterface(ifaces, ifaceValue) {
		rng, err := a.value(ctx, r)
		if err != nil {
			return element.Properties{}, err
		}
		props.Range = rng
	}
	return props, nil
}

func (a *Adapter) Capabilities(ctx context.Context, ref element.Ref) (element.CapabilitySet, error) {
	props, err := a.Read(ctx, ref)
	if err != nil {
		return 0, err
	}
	caps := element.DeriveCapabilities(props.Role, props.State, props.Range != nil)
	r := ref.(Ref)
	ifaces, err := a.interfaces(ctx, r)
	if err != nil {
		return 0, err
	}
	if hasInterface(ifaces, ifaceEditableText) {
		caps = caps.With(element.Textual)
	}
	if hasInterface(ifaces, ifaceAction) {
		actions, err := a.actions(ctx, r)
		if err != nil {
			return 0, err
		}
		if _, ok := actionIndex(actions, invokeActions...); ok {
			caps = caps.With(element.Invocable)
		}
	}
	return caps, nil
}

func (a *Adapter) Perform(ctx context.Context, ref element.Ref, action platform.Action) error {
	r, err := asRef(ref)
	if err != nil {
		return err
	}
	switch action.Kind {
	case platform.ActionInvoke:
		return a.doAction(ctx, r, action.Kind, invokeActions)
	case platform.ActionToggle:
		return a.doAction(ctx, r, action.Kind, toggleActions)
	case platform.ActionSelect:
		return a.selectChild(ctx, r)
	case platform.ActionSetValue:
		call := a.call(ctx, r, ifaceProperties+".Set", ifaceValue, "CurrentValue", dbus.MakeVariant(action.Value))
		return a.mapErr(r, action.Kind.String(), call.Err)
	case platform.ActionSetText:
		return a.expectTrue(ctx, r, action.Kind, ifaceEditableText+".SetTextContents", action.Text)
	case platform.ActionSetFocus:
		return a.expectTrue(ctx, r, action.Kind, ifaceComponent+".GrabFocus")
	case platform.ActionScrollIntoView:
		return a.expectTrue(ctx, r, action.Kind, ifaceComponent+".ScrollTo", uint32(scrollAnywhere))
	case platform.ActionClick:
		if a.pointer == nil {
			return uierr.Unsupported(BackendName, "pointer click")
		}
		return a.pointer.Click(ctx, action.Point)
	case platform.ActionScroll:
		if a.pointer == nil {
			return uierr.Unsupported(BackendName, "pointer scroll")
		}
		bounds, err := a.extents(ctx, r)
		if err != nil {
			return err
		}
		return a.pointer.Scroll(ctx, bounds.Center(), action.DX, action.DY)
	default:
		return uierr.Unsupported(BackendName, action.Kind.String())
	}
}

func (a *Adapter) Viewport(ctx context.Context) (element.Rect, error) {
	if err := ctx.Err(); err != nil {
		return element.Rect{}, err
	}
	return display.Bounds(a.displays)
}

// Permission reports whether assistive technology support is enabled on
// the desktop. Toolkits export no tree while it is off.
func (a *Adapter) Permission(ctx context.Context) (platform.Permission, error) {
	var v dbus.Variant
	err := a.session.Object(busName, busPath).CallWithContext(ctx, ifaceProperties+".Get", 0, ifaceStatus, "IsEnabled").Store(&v)
	if err != nil {
		return platform.PermissionUnknown, fmt.Errorf("atspi: read IsEnabled: %w", err)
	}
	enabled, ok := v.Value().(bool)
	switch {
	case !ok:
		return platform.PermissionUnknown, nil
	case enabled:
		return platform.PermissionGranted, nil
	default:
		return platform.PermissionDenied, nil
	}
}

// ShowOverlay delegates to the renderer given by WithOverlays.
func (a *Adapter) ShowOverlay(ctx context.Context, overlay platform.Overlay) (platform.OverlayHandle, error) {
	if a.overlays == nil {
		return nil, uierr.Unsupported(BackendName, "overlay")
	}
	return a.overlays.ShowOverlay(ctx, overlay)
}

func asRef(ref element.Ref) (Ref, error) {
	r, ok := ref.(Ref)
	if !ok {
		return Ref{}, fmt.Errorf("atspi: foreign element reference %T", ref)
	}
	return r, nil
}

func (a *Adapter) call(ctx context.Context, r Ref, method string, args ...any) *dbus.Call {
	return a.conn.Object(r.Bus, r.Path).CallWithContext(ctx, method, 0, args...)
}

func (a *Adapter) property(ctx context.Context, r Ref, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := a.call(ctx, r, ifaceProperties+".Get", iface, name).Store(&v)
	return v, err
}

func (a *Adapter) roleName(ctx context.Context, r Ref) (string, error) {
	var name string
	if err := a.call(ctx, r, ifaceAccessible+".GetRoleName").Store(&name); err != nil {
		return "", a.mapErr(r, "role", err)
	}
	return name, nil
}

func (a *Adapter) name(ctx context.Context, r Ref) (string, error) {
	v, err := a.property(ctx, r, ifaceAccessible, "Name")
	if err != nil {
		return "", a.mapErr(r, "name", err)
	}
	s, _ := v.Value().(string)
	return s, nil
}

func (a *Adapter) attributes(ctx context.Context, r Ref) (map[string]string, error) {
	var attrs map[string]string
	if err := a.call(ctx, r, ifaceAccessible+".GetAttributes").Store(&attrs); err != nil {
		return nil, a.mapErr(r, "attributes", err)
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

func (a *Adapter) interfaces(ctx context.Context, r Ref) ([]string, error) {
	var ifaces []string
	if err := a.call(ctx, r, ifaceAccessible+".GetInterfaces").Store(&ifaces); err != nil {
		return nil, a.mapErr(r, "interfaces", err)
	}
	return ifaces, nil
}

func (a *Adapter) extents(ctx context.Context, r Ref) (element.Rect, error) {
	var box struct{ X, Y, Width, Height int32 }
	if err := a.call(ctx, r, ifaceComponent+".GetExtents", uint32(coordScreen)).Store(&box); err != nil {
		return element.Rect{}, a.mapErr(r, "extents", err)
	}
	return element.Rect{X: float64(box.X), Y: float64(box.Y), Width: float64(box.Width), Height: float64(box.Height)}, nil
}

func (a *Adapter) value(ctx context.Context, r Ref) (*element.Range, error) {
	read := func(name string) (float64, bool, error) {
		v, err := a.property(ctx, r, ifaceValue, name)
		if err != nil {
			return 0, false, a.mapErr(r, "value", err)
		}
		f, ok := v.Value().(float64)
		return f, ok, nil
	}
	cur, ok, err := read("CurrentValue")
	if err != nil || !ok {
		return nil, err
	}
	lo, okLo, err := read("MinimumValue")
	if err != nil {
		return nil, err
	}
	hi, okHi, err := read("MaximumValue")
	if err != nil {
		return nil, err
	}
	return &element.Range{Value: cur, Min: lo, Max: hi, Bounded: okLo && okHi && lo <= hi}, nil
}

func (a *Adapter) actions(ctx context.Context, r Ref) ([]string, error) {
	var list []struct{ Name, Description, KeyBinding string }
	if err := a.call(ctx, r, ifaceAction+".GetActions").Store(&list); err != nil {
		return nil, a.mapErr(r, "actions", err)
	}
	names := make([]string, len(list))
	for i, act := range list {
		names[i] = act.Name
	}
	return names, nil
}

func (a *Adapter) doAction(ctx context.Context, r Ref, kind platform.ActionKind, preferred []string) error {
	actions, err := a.actions(ctx, r)
	if err != nil {
		return err
	}
	i, ok := actionIndex(actions, preferred...)
	if !ok {
		return uierr.Unsupported(BackendName, kind.String()+" without a matching action")
	}
	return a.expectTrue(ctx, r, kind, ifaceAction+".DoAction", int32(i))
}

// selectChild selects r through the Selection interface of its parent,
// falling back to a "select" action on r itself.
func (a *Adapter) selectChild(ctx context.Context, r Ref) error {
	v, err := a.property(ctx, r, ifaceAccessible, "Parent")
	if err != nil {
		return a.mapErr(r, "parent", err)
	}
	var parent Ref
	parentOK := false
	if s, ok := v.Value().([]any); ok && len(s) == 2 {
		bus, _ := s[0].(string)
		path, _ := s[1].(dbus.ObjectPath)
		parent, parentOK = Ref{Bus: bus, Path: path}, bus != "" && path != ""
	}
	if parentOK {
		ifaces, err := a.interfaces(ctx, parent)
		if err != nil {
			return err
		}
		if hasInterface(ifaces, ifaceSelection) {
			var index int32
			if err := a.call(ctx, r, ifaceAccessible+".GetIndexInParent").Store(&index); err != nil {
				return a.mapErr(r, "index", err)
			}
			return a.expectTrue(ctx, parent, platform.ActionSelect, ifaceSelection+".SelectChild", index)
		}
	}
	return a.doAction(ctx, r, platform.ActionSelect, selectActions)
}

// expectTrue calls a method returning a success boolean.
func (a *Adapter) expectTrue(ctx context.Context, r Ref, kind platform.ActionKind, method string, args ...any) error {
	var ok bool
	if err := a.call(ctx, r, method, args...).Store(&ok); err != nil {
		return a.mapErr(r, kind.String(), err)
	}
	if !ok {
		return fmt.Errorf("atspi: %s refused by %s", kind, r.Key())
	}
	return nil
}

// mapErr translates D-Bus errors: a vanished object is stale, a missing
// interface is unsupported.
func (a *Adapter) mapErr(r Ref, what string, err error) error {
	if err == nil {
		return nil
	}
	switch errorName(err) {
	case "org.freedesktop.DBus.Error.UnknownObject", "org.freedesktop.DBus.Error.ServiceUnknown":
		return fmt.Errorf("%s %s: %w", what, r.Key(), ErrStale)
	case "org.freedesktop.DBus.Error.UnknownMethod", "org.freedesktop.DBus.Error.UnknownInterface":
		return uierr.Unsupported(BackendName, what)
	}
	return fmt.Errorf("atspi: %s %s: %w", what, r.Key(), err)
}

func errorName(err error) string {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name
	}
	var p *dbus.Error
	if errors.As(err, &p) && p != nil {
		return p.Name
	}
	return ""
}
