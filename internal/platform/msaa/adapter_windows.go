// Copyright 2025 Joseph Cumines

//go:build windows && amd64

package msaa

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/display"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/joeycumines/uilocator/internal/uierr"
	"github.com/lxn/win"
)

// ErrStale is returned for a ref whose object has been disconnected.
var ErrStale = errors.New("msaa: stale element reference")

// HRESULTs given special meaning.
const (
	sFalse                  = 0x00000001
	eNotImpl                = 0x80004001
	dispEMemberNotFound     = 0x80020003
	coEObjNotConnected      = 0x800401FD
	rpcEDisconnected        = 0x80010108
	rpcEServerUnavailable   = 0x800706BA
	eInvalidArg             = 0x80070057
	eAccessDenied           = 0x80070005
	uiaEElementNotAvailable = 0x80040201
)

// ThreadInit enters the multithreaded COM apartment. It is the
// dispatch.ThreadInit of the pool serving this adapter.
func ThreadInit() (func(), error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || oleErr.Code() != sFalse {
			return nil, fmt.Errorf("msaa: CoInitializeEx: %w", err)
		}
	}
	return ole.CoUninitialize, nil
}

// Ref is the element.Ref handed out by the adapter. It holds a reference
// on its IAccessible until collected.
type Ref struct {
	acc   *iAccessible
	path  []int
	child int32
}

// Key implements element.Ref.
func (r *Ref) Key() string { return pathKey(r.path) }

func newRef(acc *iAccessible, child int32, path []int) *Ref {
	r := &Ref{acc: acc, child: child, path: path}
	runtime.AddCleanup(r, func(acc *iAccessible) { acc.Release() }, acc)
	return r
}

func childPath(parent []int, i int) []int {
	path := make([]int, len(parent)+1)
	copy(path, parent)
	path[len(parent)] = i
	return path
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPointer replaces the SendInput pointer.
func WithPointer(p platform.Pointer) Option { return func(a *Adapter) { a.pointer = p } }

// WithOverlays replaces the layered-window overlay renderer.
func WithOverlays(r platform.OverlayRenderer) Option { return func(a *Adapter) { a.overlays = r } }

// WithDisplays sets the source of the viewport.
func WithDisplays(src display.Source) Option { return func(a *Adapter) { a.displays = src } }

// Adapter reads the MSAA tree below the desktop window.
type Adapter struct {
	pointer  platform.Pointer
	overlays platform.OverlayRenderer
	displays display.Source
}

var (
	_ platform.Adapter         = (*Adapter)(nil)
	_ platform.OverlayRenderer = (*Adapter)(nil)
)

// New returns an adapter. Its methods must be called from threads set up
// by ThreadInit.
func New(opts ...Option) *Adapter {
	a := &Adapter{pointer: &Pointer{}, overlays: NewOverlays(), displays: display.System}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return BackendName }

func (a *Adapter) Root(ctx context.Context) (element.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acc, err := accessibleFromWindow(uintptr(win.GetDesktopWindow()))
	if err != nil {
		return nil, mapErr("root", err)
	}
	return newRef(acc, childSelf, nil), nil
}

func (a *Adapter) Children(ctx context.Context, ref element.Ref) ([]element.Ref, error) {
	r, err := asRef(ref)
	if err != nil {
		return nil, err
	}
	if r.child != childSelf {
		return nil, nil
	}
	variants, err := r.acc.children()
	if err != nil {
		return nil, mapErr("children "+r.Key(), err)
	}
	out := make([]element.Ref, 0, len(variants))
	for i := range variants {
		v := &variants[i]
		switch v.VT {
		case ole.VT_DISPATCH:
			disp := v.ToIDispatch()
			if disp == nil {
				continue
			}
			unk, err := disp.QueryInterface(iidIAccessible)
			ole.VariantClear(v)
			if err != nil {
				// not every child object supports IAccessible
				continue
			}
			out = append(out, newRef((*iAccessible)(unsafe.Pointer(unk)), childSelf, childPath(r.path, i)))
		case ole.VT_I4:
			r.acc.AddRef()
			out = append(out, newRef(r.acc, int32(v.Val), childPath(r.path, i)))
		default:
			ole.VariantClear(v)
		}
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
		role, err := r.acc.role(r.child)
		if err != nil {
			return false, mapErr("role "+r.Key(), err)
		}
		props.Role, props.NativeRole = normalizeRole(role), roleTextName(role)
	case selector.KindName:
		if props.Name, err = r.acc.name(r.child); err != nil {
			return false, mapErr("name "+r.Key(), err)
		}
	default:
		if props, err = a.Read(ctx, ref); err != nil {
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
	if err := ctx.Err(); err != nil {
		return element.Properties{}, err
	}
	role, err := r.acc.role(r.child)
	if err != nil {
		return element.Properties{}, mapErr("role "+r.Key(), err)
	}
	flags, err := r.acc.state(r.child)
	if err != nil {
		return element.Properties{}, mapErr("state "+r.Key(), err)
	}
	props := element.Properties{
		Role:       normalizeRole(role),
		NativeRole: roleTextName(role),
		State:      stateOf(flags, role),
	}
	if props.Name, err = r.acc.name(r.child); err != nil {
		return element.Properties{}, mapErr("name "+r.Key(), err)
	}
	if x, y, w, h, err := r.acc.location(r.child); err == nil {
		props.Bounds = element.Rect{X: float64(x), Y: float64(y), Width: float64(w), Height: float64(h)}
	} else if err := optional(err); err != nil {
		return element.Properties{}, mapErr("location "+r.Key(), err)
	}

	value, err := r.acc.value(r.child)
	if err = optional(err); err != nil {
		return element.Properties{}, mapErr("value "+r.Key(), err)
	}
	action, err := r.acc.defaultAction(r.child)
	if err = optional(err); err != nil {
		return element.Properties{}, mapErr("default action "+r.Key(), err)
	}
	attrs := make(map[string]string, 2)
	if action != "" {
		attrs["default_action"] = action
	}
	if !props.State.Protected {
		if value != "" {
			attrs["value"] = value
		}
		switch role {
		case roleText, roleComboBox, roleDocument:
			text := value
			props.Text = &text
		}
	}
	if hasRange(role) {
		props.Range, _ = parseRange(value)
	}
	if len(attrs) != 0 {
		props.Attributes = attrs
	}
	return props, nil
}

func (a *Adapter) Capabilities(ctx context.Context, ref element.Ref) (element.CapabilitySet, error) {
	props, err := a.Read(ctx, ref)
	if err != nil {
		return 0, err
	}
	caps := element.DeriveCapabilities(props.Role, props.State, props.Range != nil)
	if props.Attributes["default_action"] != "" {
		caps = caps.With(element.Invocable)
	}
	return caps, nil
}

func (a *Adapter) Perform(ctx context.Context, ref element.Ref, action platform.Action) error {
	r, err := asRef(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch action.Kind {
	case platform.ActionInvoke, platform.ActionToggle:
		err = r.acc.doDefaultAction(r.child)
	case platform.ActionSelect:
		err = r.acc.accSelect(selTakeFocus|selTakeSelection, r.child)
	case platform.ActionSetFocus:
		err = r.acc.accSelect(selTakeFocus, r.child)
	case platform.ActionSetValue:
		err = r.acc.putValue(r.child, formatValue(action.Value))
	case platform.ActionSetText:
		err = r.acc.putValue(r.child, action.Text)
	case platform.ActionClick:
		return a.pointer.Click(ctx, action.Point)
	case platform.ActionScroll:
		x, y, w, h, err := r.acc.location(r.child)
		if err != nil {
			return mapErr("location "+r.Key(), err)
		}
		center := element.Rect{X: float64(x), Y: float64(y), Width: float64(w), Height: float64(h)}.Center()
		return a.pointer.Scroll(ctx, center, action.DX, action.DY)
	default:
		// IAccessible has no scroll-into-view
		return uierr.Unsupported(BackendName, action.Kind.String())
	}
	if err != nil {
		return mapErr(action.Kind.String()+" "+r.Key(), err)
	}
	return nil
}

func (a *Adapter) Viewport(ctx context.Context) (element.Rect, error) {
	if err := ctx.Err(); err != nil {
		return element.Rect{}, err
	}
	return display.Bounds(a.displays)
}

// Permission is always granted: MSAA clients need no OS consent.
func (a *Adapter) Permission(ctx context.Context) (platform.Permission, error) {
	return platform.PermissionGranted, ctx.Err()
}

func (a *Adapter) ShowOverlay(ctx context.Context, overlay platform.Overlay) (platform.OverlayHandle, error) {
	if a.overlays == nil {
		return nil, uierr.Unsupported(BackendName, "overlay")
	}
	return a.overlays.ShowOverlay(ctx, overlay)
}

func asRef(ref element.Ref) (*Ref, error) {
	r, ok := ref.(*Ref)
	if !ok || r == nil {
		return nil, fmt.Errorf("msaa: foreign element reference %T", ref)
	}
	return r, nil
}

func hresultOf(err error) (uintptr, bool) {
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) {
		return oleErr.Code() & 0xFFFFFFFF, true
	}
	return 0, false
}

// optional drops the errors of a property the object does not implement.
func optional(err error) error {
	if code, ok := hresultOf(err); ok {
		switch code {
		case eNotImpl, dispEMemberNotFound, eInvalidArg:
			return nil
		}
	}
	return err
}

// mapErr translates COM failures: a disconnected object is stale, an
// unimplemented method is unsupported and a denied call is a permission
// failure.
func mapErr(what string, err error) error {
	code, ok := hresultOf(err)
	if !ok {
		return fmt.Errorf("msaa: %s: %w", what, err)
	}
	switch code {
	case coEObjNotConnected, rpcEDisconnected, rpcEServerUnavailable, uiaEElementNotAvailable:
		return fmt.Errorf("%s: %w", what, ErrStale)
	case eNotImpl, dispEMemberNotFound:
		return uierr.Unsupported(BackendName, what)
	case eAccessDenied:
		return &uierr.PermissionDeniedError{Backend: BackendName, Detail: what}
	}
	return fmt.Errorf("msaa: %s: %w", what, err)
}
