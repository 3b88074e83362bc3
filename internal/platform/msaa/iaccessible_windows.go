// Copyright 2025 Joseph Cumines

//go:build windows && amd64

package msaa

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

var (
	oleacc                         = windows.NewLazySystemDLL("oleacc.dll")
	procAccessibleObjectFromWindow = oleacc.NewProc("AccessibleObjectFromWindow")
	procAccessibleChildren         = oleacc.NewProc("AccessibleChildren")
	procGetRoleTextW               = oleacc.NewProc("GetRoleTextW")

	iidIAccessible = ole.NewGUID("{618736E0-3C3D-11CF-810C-00AA00389B71}")
)

// objidClient is OBJID_CLIENT.
const objidClient = 0xFFFFFFFC

// iAccessible is the IAccessible COM interface.
type iAccessible struct {
	ole.IDispatch
}

// iAccessibleVtbl follows the IDispatch slots in declaration order.
type iAccessibleVtbl struct {
	ole.IDispatchVtbl
	GetAccParent           uintptr
	GetAccChildCount       uintptr
	GetAccChild            uintptr
	GetAccName             uintptr
	GetAccValue            uintptr
	GetAccDescription      uintptr
	GetAccRole             uintptr
	GetAccState            uintptr
	GetAccHelp             uintptr
	GetAccHelpTopic        uintptr
	GetAccKeyboardShortcut uintptr
	GetAccFocus            uintptr
	GetAccSelection        uintptr
	GetAccDefaultAction    uintptr
	AccSelect              uintptr
	AccLocation            uintptr
	AccNavigate            uintptr
	AccHitTest             uintptr
	AccDoDefaultAction     uintptr
	PutAccName             uintptr
	PutAccValue            uintptr
}

func (a *iAccessible) vtbl() *iAccessibleVtbl {
	return (*iAccessibleVtbl)(unsafe.Pointer(a.RawVTable))
}

// hresult converts a failed HRESULT; S_FALSE counts as success.
func hresult(method string, hr uintptr) error {
	if int32(hr) < 0 {
		return fmt.Errorf("%s: %w", method, ole.NewError(hr))
	}
	return nil
}

func childVariant(child int32) ole.VARIANT {
	return ole.NewVariant(ole.VT_I4, int64(child))
}

// accessibleFromWindow returns the client object of hwnd.
func accessibleFromWindow(hwnd uintptr) (*iAccessible, error) {
	var acc *iAccessible
	hr, _, _ := procAccessibleObjectFromWindow.Call(hwnd, objidClient,
		uintptr(unsafe.Pointer(iidIAccessible)), uintptr(unsafe.Pointer(&acc)))
	if err := hresult("AccessibleObjectFromWindow", hr); err != nil {
		return nil, err
	}
	return acc, nil
}

// children returns the children of a as variants the caller must clear.
func (a *iAccessible) children() ([]ole.VARIANT, error) {
	var count int32
	hr, _, _ := syscall.SyscallN(a.vtbl().GetAccChildCount, uintptr(unsafe.Pointer(a)), uintptr(unsafe.Pointer(&count)))
	if err := hresult("get_accChildCount", hr); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}
	out := make([]ole.VARIANT, count)
	var obtained int32
	hr, _, _ = procAccessibleChildren.Call(uintptr(unsafe.Pointer(a)), 0, uintptr(count),
		uintptr(unsafe.Pointer(&out[0])), uintptr(unsafe.Pointer(&obtained)))
	if err := hresult("AccessibleChildren", hr); err != nil {
		return nil, err
	}
	return out[:obtained], nil
}

// bstr calls a getter of the form (VARIANT child, BSTR *out).
func (a *iAccessible) bstr(method string, fn uintptr, child int32) (string, error) {
	v := childVariant(child)
	var out *uint16
	hr, _, _ := syscall.SyscallN(fn, uintptr(unsafe.Pointer(a)), uintptr(unsafe.Pointer(&v)), uintptr(unsafe.Pointer(&out)))
	if err := hresult(method, hr); err != nil {
		return "", err
	}
	if out == nil {
		return "", nil
	}
	s := ole.BstrToString(out)
	ole.SysFreeString((*int16)(unsafe.Pointer(out)))
	return s, nil
}

// variantInt calls a getter of the form (VARIANT child, VARIANT *out)
// whose result is VT_I4.
func (a *iAccessible) variantInt(method string, fn uintptr, child int32) (int64, error) {
	v := childVariant(child)
	var out ole.VARIANT
	ole.VariantInit(&out)
	hr, _, _ := syscall.SyscallN(fn, uintptr(unsafe.Pointer(a)), uintptr(unsafe.Pointer(&v)), uintptr(unsafe.Pointer(&out)))
	if err := hresult(method, hr); err != nil {
		return 0, err
	}
	defer ole.VariantClear(&out)
	if out.VT != ole.VT_I4 {
		return 0, nil
	}
	return out.Val, nil
}

func (a *iAccessible) name(child int32) (string, error) {
	return a.bstr("get_accName", a.vtbl().GetAccName, child)
}

func (a *iAccessible) value(child int32) (string, error) {
	return a.bstr("get_accValue", a.vtbl().GetAccValue, child)
}

func (a *iAccessible) defaultAction(child int32) (string, error) {
	return a.bstr("get_accDefaultAction", a.vtbl().GetAccDefaultAction, child)
}

func (a *iAccessible) role(child int32) (int32, error) {
	v, err := a.variantInt("get_accRole", a.vtbl().GetAccRole, child)
	return int32(v), err
}

func (a *iAccessible) state(child int32) (uint32, error) {
	v, err := a.variantInt("get_accState", a.vtbl().GetAccState, child)
	return uint32(v), err
}

func (a *iAccessible) location(child int32) (x, y, w, h int32, err error) {
	v := childVariant(child)
	hr, _, _ := syscall.SyscallN(a.vtbl().AccLocation, uintptr(unsafe.Pointer(a)),
		uintptr(unsafe.Pointer(&x)), uintptr(unsafe.Pointer(&y)),
		uintptr(unsafe.Pointer(&w)), uintptr(unsafe.Pointer(&h)),
		uintptr(unsafe.Pointer(&v)))
	err = hresult("accLocation", hr)
	return
}

func (a *iAccessible) doDefaultAction(child int32) error {
	v := childVariant(child)
	hr, _, _ := syscall.SyscallN(a.vtbl().AccDoDefaultAction, uintptr(unsafe.Pointer(a)), uintptr(unsafe.Pointer(&v)))
	return hresult("accDoDefaultAction", hr)
}

func (a *iAccessible) accSelect(flags int32, child int32) error {
	v := childVariant(child)
	hr, _, _ := syscall.SyscallN(a.vtbl().AccSelect, uintptr(unsafe.Pointer(a)), uintptr(flags), uintptr(unsafe.Pointer(&v)))
	return hresult("accSelect", hr)
}

func (a *iAccessible) putValue(child int32, s string) error {
	v := childVariant(child)
	b := ole.SysAllocString(s)
	defer ole.SysFreeString(b)
	hr, _, _ := syscall.SyscallN(a.vtbl().PutAccValue, uintptr(unsafe.Pointer(a)), uintptr(unsafe.Pointer(&v)), uintptr(unsafe.Pointer(b)))
	return hresult("put_accValue", hr)
}

// roleTextName returns the localized name of role.
func roleTextName(role int32) string {
	var buf [128]uint16
	n, _, _ := procGetRoleTextW.Call(uintptr(uint32(role)), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}
