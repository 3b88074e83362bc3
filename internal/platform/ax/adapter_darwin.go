// Copyright 2025 Joseph Cumines

//go:build darwin && cgo

package ax

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>
#include <stdlib.h>

static CFStringRef cfstr(const char *s) {
	return CFStringCreateWithCString(kCFAllocatorDefault, s, kCFStringEncodingUTF8);
}

static void release(CFTypeRef v) {
	if (v != NULL) CFRelease(v);
}

static AXError copyAttr(CFTypeRef el, const char *name, CFTypeRef *out) {
	CFStringRef attr = cfstr(name);
	AXError err = AXUIElementCopyAttributeValue((AXUIElementRef)el, attr, out);
	CFRelease(attr);
	return err;
}

// stringAttr stores a malloc'd UTF-8 copy of a string attribute in out.
static AXError stringAttr(CFTypeRef el, const char *name, char **out) {
	CFTypeRef v = NULL;
	*out = NULL;
	AXError err = copyAttr(el, name, &v);
	if (err != kAXErrorSuccess) return err;
	if (CFGetTypeID(v) == CFStringGetTypeID()) {
		CFIndex n = CFStringGetMaximumSizeForEncoding(CFStringGetLength((CFStringRef)v), kCFStringEncodingUTF8) + 1;
		*out = malloc(n);
		if (!CFStringGetCString((CFStringRef)v, *out, n, kCFStringEncodingUTF8)) {
			free(*out);
			*out = NULL;
		}
	} else {
		err = kAXErrorNoValue;
	}
	CFRelease(v);
	return err;
}

static AXError numberAttr(CFTypeRef el, const char *name, double *out) {
	CFTypeRef v = NULL;
	*out = 0;
	AXError err = copyAttr(el, name, &v);
	if (err != kAXErrorSuccess) return err;
	if (CFGetTypeID(v) == CFNumberGetTypeID()) {
		CFNumberGetValue((CFNumberRef)v, kCFNumberDoubleType, out);
	} else if (CFGetTypeID(v) == CFBooleanGetTypeID()) {
		*out = CFBooleanGetValue((CFBooleanRef)v) ? 1 : 0;
	} else {
		err = kAXErrorNoValue;
	}
	CFRelease(v);
	return err;
}

static AXError frameAttr(CFTypeRef el, CGPoint *pos, CGSize *size) {
	CFTypeRef v = NULL;
	AXError err = copyAttr(el, "AXPosition", &v);
	if (err != kAXErrorSuccess) return err;
	Boolean ok = AXValueGetValue((AXValueRef)v, kAXValueTypeCGPoint, pos);
	CFRelease(v);
	if (!ok) return kAXErrorNoValue;
	err = copyAttr(el, "AXSize", &v);
	if (err != kAXErrorSuccess) return err;
	ok = AXValueGetValue((AXValueRef)v, kAXValueTypeCGSize, size);
	CFRelease(v);
	return ok ? kAXErrorSuccess : kAXErrorNoValue;
}

static AXError copyChildren(CFTypeRef el, CFTypeRef *out) {
	AXError err = copyAttr(el, "AXChildren", out);
	if (err != kAXErrorSuccess) return err;
	if (CFGetTypeID(*out) != CFArrayGetTypeID()) {
		CFRelease(*out);
		*out = NULL;
		return kAXErrorNoValue;
	}
	return err;
}

static CFIndex arrayCount(CFTypeRef a) {
	return CFArrayGetCount((CFArrayRef)a);
}

// arrayElement returns a retained element of a.
static CFTypeRef arrayElement(CFTypeRef a, CFIndex i) {
	CFTypeRef v = CFArrayGetValueAtIndex((CFArrayRef)a, i);
	if (v != NULL) CFRetain(v);
	return v;
}

static CFTypeRef application(int pid) {
	return AXUIElementCreateApplication((pid_t)pid);
}

static int settable(CFTypeRef el, const char *name) {
	CFStringRef attr = cfstr(name);
	Boolean ok = 0;
	AXError err = AXUIElementIsAttributeSettable((AXUIElementRef)el, attr, &ok);
	CFRelease(attr);
	return err == kAXErrorSuccess && ok;
}

static AXError setAttr(CFTypeRef el, const char *name, CFTypeRef v) {
	CFStringRef attr = cfstr(name);
	AXError err = AXUIElementSetAttributeValue((AXUIElementRef)el, attr, v);
	CFRelease(attr);
	return err;
}

static AXError setString(CFTypeRef el, const char *name, const char *s) {
	CFStringRef v = cfstr(s);
	AXError err = setAttr(el, name, v);
	CFRelease(v);
	return err;
}

static AXError setNumber(CFTypeRef el, const char *name, double d) {
	CFNumberRef v = CFNumberCreate(kCFAllocatorDefault, kCFNumberDoubleType, &d);
	AXError err = setAttr(el, name, v);
	CFRelease(v);
	return err;
}

static AXError setTrue(CFTypeRef el, const char *name) {
	return setAttr(el, name, kCFBooleanTrue);
}

static AXError perform(CFTypeRef el, const char *name) {
	CFStringRef action = cfstr(name);
	AXError err = AXUIElementPerformAction((AXUIElementRef)el, action);
	CFRelease(action);
	return err;
}

static int hasAction(CFTypeRef el, const char *name) {
	CFArrayRef names = NULL;
	if (AXUIElementCopyActionNames((AXUIElementRef)el, &names) != kAXErrorSuccess || names == NULL) return 0;
	CFStringRef want = cfstr(name);
	int found = CFArrayContainsValue(names, CFRangeMake(0, CFArrayGetCount(names)), want);
	CFRelease(want);
	CFRelease(names);
	return found;
}

static int trusted(void) {
	return AXIsProcessTrusted();
}

// windowOwners stores the distinct owners of on-screen, normal-layer
// windows in pids, front to back.
static int windowOwners(int *pids, int max) {
	CFArrayRef list = CGWindowListCopyWindowInfo(kCGWindowListOptionOnScreenOnly | kCGWindowListExcludeDesktopElements, kCGNullWindowID);
	if (list == NULL) return 0;
	int n = 0;
	for (CFIndex i = 0; i < CFArrayGetCount(list) && n < max; i++) {
		CFDictionaryRef info = (CFDictionaryRef)CFArrayGetValueAtIndex(list, i);
		int layer = -1, pid = 0;
		CFNumberRef v = (CFNumberRef)CFDictionaryGetValue(info, kCGWindowLayer);
		if (v != NULL) CFNumberGetValue(v, kCFNumberIntType, &layer);
		if (layer != 0) continue;
		v = (CFNumberRef)CFDictionaryGetValue(info, kCGWindowOwnerPID);
		if (v == NULL || !CFNumberGetValue(v, kCFNumberIntType, &pid)) continue;
		int seen = 0;
		for (int j = 0; j < n; j++) {
			if (pids[j] == pid) {
				seen = 1;
				break;
			}
		}
		if (!seen) pids[n++] = pid;
	}
	CFRelease(list);
	return n;
}

static int click(double x, double y) {
	CGPoint p = CGPointMake(x, y);
	CGEventRef down = CGEventCreateMouseEvent(NULL, kCGEventLeftMouseDown, p, kCGMouseButtonLeft);
	CGEventRef up = CGEventCreateMouseEvent(NULL, kCGEventLeftMouseUp, p, kCGMouseButtonLeft);
	int ok = down != NULL && up != NULL;
	if (ok) {
		CGEventPost(kCGHIDEventTap, down);
		CGEventPost(kCGHIDEventTap, up);
	}
	if (down != NULL) CFRelease(down);
	if (up != NULL) CFRelease(up);
	return ok;
}

// scroll posts one pixel wheel event; positive deltas move content up and
// left, as the wheel does.
static int scroll(double x, double y, int vertical, int horizontal) {
	CGWarpMouseCursorPosition(CGPointMake(x, y));
	CGEventRef ev = CGEventCreateScrollWheelEvent(NULL, kCGScrollEventUnitPixel, 2, vertical, horizontal);
	if (ev == NULL) return 0;
	CGEventPost(kCGHIDEventTap, ev);
	CFRelease(ev);
	return 1;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"unsafe"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/display"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// ErrStale is returned for a ref whose element no longer exists.
var ErrStale = errStale

// maxApplications bounds the desktop's children.
const maxApplications = 256

var (
	attrRole        = C.CString("AXRole")
	attrSubrole     = C.CString("AXSubrole")
	attrTitle       = C.CString("AXTitle")
	attrDescription = C.CString("AXDescription")
	attrIdentifier  = C.CString("AXIdentifier")
	attrEnabled     = C.CString("AXEnabled")
	attrFocused     = C.CString("AXFocused")
	attrSelected    = C.CString("AXSelected")
	attrValue       = C.CString("AXValue")
	attrMinValue    = C.CString("AXMinValue")
	attrMaxValue    = C.CString("AXMaxValue")

	actionPress           = C.CString("AXPress")
	actionScrollToVisible = C.CString("AXScrollToVisible")
)

// Ref is the element.Ref handed out by the adapter. The desktop root has
// no element; every other ref holds a retained AXUIElementRef until
// collected.
type Ref struct {
	el   C.CFTypeRef
	path []int
	pid  int
}

// Key implements element.Ref.
func (r *Ref) Key() string { return pathKey(r.pid, r.path) }

func newRef(el C.CFTypeRef, pid int, path []int) *Ref {
	r := &Ref{el: el, pid: pid, path: path}
	runtime.AddCleanup(r, func(el C.CFTypeRef) { C.release(el) }, el)
	return r
}

func (r *Ref) root() bool { return r.pid == 0 }

// Option configures an Adapter.
type Option func(*Adapter)

// WithPointer replaces the CGEvent pointer.
func WithPointer(p platform.Pointer) Option { return func(a *Adapter) { a.pointer = p } }

// WithDisplays sets the source of the viewport.
func WithDisplays(src display.Source) Option { return func(a *Adapter) { a.displays = src } }

// Adapter reads the AXUIElement trees of applications with on-screen
// windows.
type Adapter struct {
	pointer  platform.Pointer
	displays display.Source
}

var _ platform.Adapter = (*Adapter)(nil)

// New returns an adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{pointer: &Pointer{}, displays: display.System}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return BackendName }

func (a *Adapter) Root(ctx context.Context) (element.Ref, error) {
	if err := a.trusted(); err != nil {
		return nil, err
	}
	return &Ref{}, ctx.Err()
}

func (a *Adapter) Children(ctx context.Context, ref element.Ref) ([]element.Ref, error) {
	r, err := asRef(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.root() {
		var pids [maxApplications]C.int
		n := int(C.windowOwners(&pids[0], maxApplications))
		out := make([]element.Ref, 0, n)
		for _, pid := range pids[:n] {
			el := C.application(pid)
			if el == 0 {
				continue
			}
			out = append(out, newRef(el, int(pid), nil))
		}
		return out, nil
	}
	var arr C.CFTypeRef
	if code := int32(C.copyChildren(r.el, &arr)); code != axSuccess {
		if absent(code) {
			return nil, nil
		}
		return nil, mapError("children "+r.Key(), code)
	}
	defer C.release(arr)
	n := int(C.arrayCount(arr))
	out := make([]element.Ref, 0, n)
	for i := range n {
		el := C.arrayElement(arr, C.CFIndex(i))
		if el == 0 {
			continue
		}
		path := make([]int, len(r.path)+1)
		copy(path, r.path)
		path[len(r.path)] = i
		out = append(out, newRef(el, r.pid, path))
	}
	return out, nil
}

func (a *Adapter) Match(ctx context.Context, ref element.Ref, c selector.Criterion) (bool, error) {
	r, err := asRef(ref)
	if err != nil {
		return false, err
	}
	var props element.Properties
	switch {
	case c.Kind == selector.KindIndex:
		return true, nil
	case c.Kind == selector.KindRole && !r.root():
		role, err := stringAttr(r, attrRole, "role")
		if err != nil {
			return false, err
		}
		subrole, err := stringAttr(r, attrSubrole, "subrole")
		if err != nil {
			return false, err
		}
		props.Role, props.NativeRole = normalizeRole(role, subrole), role
	case c.Kind == selector.KindName && !r.root():
		if props.Name, err = a.name(r); err != nil {
			return false, err
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
	if r.root() {
		bounds, err := display.Bounds(a.displays)
		if err != nil {
			return element.Properties{}, err
		}
		return element.Properties{
			Role:   element.RoleDesktop,
			Bounds: bounds,
			State:  element.State{Enabled: true, Visible: true},
		}, nil
	}

	role, err := stringAttr(r, attrRole, "role")
	if err != nil {
		return element.Properties{}, err
	}
	subrole, err := stringAttr(r, attrSubrole, "subrole")
	if err != nil {
		return element.Properties{}, err
	}
	props := element.Properties{Role: normalizeRole(role, subrole), NativeRole: role}
	if props.Name, err = a.name(r); err != nil {
		return element.Properties{}, err
	}
	var pos C.CGPoint
	var size C.CGSize
	if code := int32(C.frameAttr(r.el, &pos, &size)); code == axSuccess {
		props.Bounds = element.Rect{X: float64(pos.x), Y: float64(pos.y), Width: float64(size.width), Height: float64(size.height)}
	} else if !absent(code) {
		return element.Properties{}, mapError("frame "+r.Key(), code)
	}

	enabled, ok, err := numberAttr(r, attrEnabled, "enabled")
	if err != nil {
		return element.Properties{}, err
	}
	focused, _, err := numberAttr(r, attrFocused, "focused")
	if err != nil {
		return element.Properties{}, err
	}
	selected, _, err := numberAttr(r, attrSelected, "selected")
	if err != nil {
		return element.Properties{}, err
	}
	props.State = element.State{
		Enabled:   !ok || enabled != 0,
		Visible:   !props.Bounds.Empty(),
		Focused:   focused != 0,
		Selected:  selected != 0,
		Focusable: C.settable(r.el, attrFocused) != 0,
		Checkable: role == "AXCheckBox" || subrole == "AXToggle" || subrole == "AXSwitch",
		Protected: role == "AXSecureTextField" || subrole == "AXSecureTextField",
	}
	if isToggleRole(role) {
		v, _, err := numberAttr(r, attrValue, "value")
		if err != nil {
			return element.Properties{}, err
		}
		props.State.Toggled = v != 0
	}
	if isTextRole(role) {
		props.State.Editable = role != "AXStaticText" && C.settable(r.el, attrValue) != 0
		if !props.State.Protected {
			text, err := stringAttr(r, attrValue, "value")
			if err != nil {
				return element.Properties{}, err
			}
			props.Text = &text
		}
	}
	if isRangeRole(role) {
		if props.Range, err = rangeOf(r); err != nil {
			return element.Properties{}, err
		}
	}

	attrs := make(map[string]string, 2)
	if subrole != "" {
		attrs["subrole"] = subrole
	}
	id, err := stringAttr(r, attrIdentifier, "identifier")
	if err != nil {
		return element.Properties{}, err
	}
	if id != "" {
		attrs["identifier"] = id
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
	if r := ref.(*Ref); !r.root() && C.hasAction(r.el, actionPress) != 0 {
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
	if r.root() {
		return uierr.Unsupported(BackendName, action.Kind.String()+" on the desktop")
	}
	var code C.AXError
	switch action.Kind {
	case platform.ActionInvoke, platform.ActionToggle:
		code = C.perform(r.el, actionPress)
	case platform.ActionSelect:
		code = C.setTrue(r.el, attrSelected)
	case platform.ActionSetFocus:
		code = C.setTrue(r.el, attrFocused)
	case platform.ActionSetValue:
		code = C.setNumber(r.el, attrValue, C.double(action.Value))
	case platform.ActionSetText:
		text := C.CString(action.Text)
		defer C.free(unsafe.Pointer(text))
		code = C.setString(r.el, attrValue, text)
	case platform.ActionScrollIntoView:
		code = C.perform(r.el, actionScrollToVisible)
	case platform.ActionClick:
		return a.pointer.Click(ctx, action.Point)
	case platform.ActionScroll:
		props, err := a.Read(ctx, ref)
		if err != nil {
			return err
		}
		return a.pointer.Scroll(ctx, props.Bounds.Center(), action.DX, action.DY)
	default:
		return uierr.Unsupported(BackendName, action.Kind.String())
	}
	return mapError(action.Kind.String()+" "+r.Key(), int32(code))
}

func (a *Adapter) Viewport(ctx context.Context) (element.Rect, error) {
	if err := ctx.Err(); err != nil {
		return element.Rect{}, err
	}
	return display.Bounds(a.displays)
}

// Permission reports whether the process is trusted for accessibility.
func (a *Adapter) Permission(ctx context.Context) (platform.Permission, error) {
	if err := ctx.Err(); err != nil {
		return platform.PermissionUnknown, err
	}
	if C.trusted() == 0 {
		return platform.PermissionDenied, nil
	}
	return platform.PermissionGranted, nil
}

func (a *Adapter) trusted() error {
	if C.trusted() == 0 {
		return &uierr.PermissionDeniedError{Backend: BackendName, Detail: "process is not trusted for accessibility"}
	}
	return nil
}

func (a *Adapter) name(r *Ref) (string, error) {
	title, err := stringAttr(r, attrTitle, "title")
	if err != nil || title != "" {
		return title, err
	}
	return stringAttr(r, attrDescription, "description")
}

func rangeOf(r *Ref) (*element.Range, error) {
	v, ok, err := numberAttr(r, attrValue, "value")
	if err != nil || !ok {
		return nil, err
	}
	rng := &element.Range{Value: v}
	lo, okLo, err := numberAttr(r, attrMinValue, "min value")
	if err != nil {
		return nil, err
	}
	hi, okHi, err := numberAttr(r, attrMaxValue, "max value")
	if err != nil {
		return nil, err
	}
	if okLo && okHi {
		rng.Min, rng.Max, rng.Bounded = lo, hi, true
	}
	return rng, nil
}

// stringAttr reads a string attribute; an absent one is empty.
func stringAttr(r *Ref, name *C.char, what string) (string, error) {
	var out *C.char
	code := int32(C.stringAttr(r.el, name, &out))
	if out != nil {
		defer C.free(unsafe.Pointer(out))
	}
	if code != axSuccess {
		if absent(code) {
			return "", nil
		}
		return "", mapError(what+" "+r.Key(), code)
	}
	if out == nil {
		return "", nil
	}
	return C.GoString(out), nil
}

// numberAttr reads a numeric or boolean attribute, reporting whether it
// was present.
func numberAttr(r *Ref, name *C.char, what string) (float64, bool, error) {
	var out C.double
	code := int32(C.numberAttr(r.el, name, &out))
	if code != axSuccess {
		if absent(code) {
			return 0, false, nil
		}
		return 0, false, mapError(what+" "+r.Key(), code)
	}
	return float64(out), true, nil
}

func asRef(ref element.Ref) (*Ref, error) {
	r, ok := ref.(*Ref)
	if !ok || r == nil {
		return nil, fmt.Errorf("ax: foreign element reference %T", ref)
	}
	return r, nil
}

// Pointer synthesizes mouse input with CGEvent.
type Pointer struct {
	mu sync.Mutex
}

var _ platform.Pointer = (*Pointer)(nil)

func (p *Pointer) Click(ctx context.Context, at element.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if C.click(C.double(at.X), C.double(at.Y)) == 0 {
		return errors.New("ax: CGEventCreateMouseEvent failed")
	}
	return nil
}

func (p *Pointer) Scroll(ctx context.Context, at element.Point, dx, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if C.scroll(C.double(at.X), C.double(at.Y), C.int(-math.Round(dy)), C.int(-math.Round(dx))) == 0 {
		return errors.New("ax: CGEventCreateScrollWheelEvent failed")
	}
	return nil
}
