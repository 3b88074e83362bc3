// Copyright 2025 Joseph Cumines

//go:build windows && amd64

package msaa

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

// Extended window styles, see WS_EX_*.
const (
	wsExTopmost     = 0x00000008
	wsExTransparent = 0x00000020
	wsExToolWindow  = 0x00000080
	wsExLayered     = 0x00080000
	wsExNoActivate  = 0x08000000

	lwaAlpha   = 0x2
	pmNoRemove = 0x0
	// wmRun wakes the UI thread to drain its work queue.
	wmRun = win.WM_APP + 1
)

var (
	user32                         = windows.NewLazySystemDLL("user32.dll")
	procPostThreadMessageW         = user32.NewProc("PostThreadMessageW")
	procSetLayeredWindowAttributes = user32.NewProc("SetLayeredWindowAttributes")
)

var overlayClass, _ = windows.UTF16PtrFromString("UILocatorOverlay")

// overlayWindow is the paint state of one window, owned by the UI thread.
type overlayWindow struct {
	brush win.HBRUSH
	text  *uint16
	fg    win.COLORREF
}

// Overlays draws highlight rectangles as click-through, topmost layered
// windows. All window calls happen on one locked OS thread running a
// message loop, started on first use.
type Overlays struct {
	work     chan func()
	windows  map[win.HWND]*overlayWindow
	startErr error
	once     sync.Once
	threadID uint32
	instance win.HINSTANCE
}

var _ platform.OverlayRenderer = (*Overlays)(nil)

// NewOverlays returns a renderer; its UI thread starts on the first overlay.
func NewOverlays() *Overlays {
	return &Overlays{work: make(chan func(), 64), windows: make(map[win.HWND]*overlayWindow)}
}

func (o *Overlays) start() error {
	o.once.Do(func() {
		ready := make(chan error, 1)
		go o.loop(ready)
		o.startErr = <-ready
	})
	return o.startErr
}

func (o *Overlays) loop(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	o.threadID = windows.GetCurrentThreadId()
	o.instance = win.GetModuleHandle(nil)
	wc := win.WNDCLASSEX{
		LpfnWndProc:   syscall.NewCallback(o.wndProc),
		HInstance:     o.instance,
		LpszClassName: overlayClass,
	}
	wc.CbSize = uint32(unsafe.Sizeof(wc))
	if win.RegisterClassEx(&wc) == 0 {
		ready <- fmt.Errorf("msaa: RegisterClassEx: %w", windows.GetLastError())
		return
	}
	// the thread has a message queue once it has peeked
	var msg win.MSG
	win.PeekMessage(&msg, 0, 0, 0, pmNoRemove)
	ready <- nil

	for win.GetMessage(&msg, 0, 0, 0) > 0 {
		if msg.HWnd == 0 && msg.Message == wmRun {
			o.drain()
			continue
		}
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}
}

func (o *Overlays) drain() {
	for {
		select {
		case fn := <-o.work:
			fn()
		default:
			return
		}
	}
}

// do runs fn on the UI thread and waits for it.
func (o *Overlays) do(ctx context.Context, fn func() error) error {
	if err := o.start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	select {
	case o.work <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r, _, err := procPostThreadMessageW.Call(uintptr(o.threadID), wmRun, 0, 0); r == 0 {
		return fmt.Errorf("msaa: PostThreadMessage: %w", err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Overlays) wndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	if msg == win.WM_PAINT {
		if w, ok := o.windows[hwnd]; ok {
			w.paint(hwnd)
			return 0
		}
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

func (w *overlayWindow) paint(hwnd win.HWND) {
	var ps win.PAINTSTRUCT
	hdc := win.BeginPaint(hwnd, &ps)
	defer win.EndPaint(hwnd, &ps)
	var rc win.RECT
	win.GetClientRect(hwnd, &rc)
	win.FillRect(hdc, &rc, w.brush)
	if w.text != nil {
		win.SetBkMode(hdc, win.TRANSPARENT)
		win.SetTextColor(hdc, w.fg)
		rc.Left += 4
		win.DrawTextEx(hdc, w.text, -1, &rc, win.DT_SINGLELINE|win.DT_VCENTER|win.DT_LEFT|win.DT_NOPREFIX, nil)
	}
}

// ShowOverlay creates one window per border edge, plus one for the label.
func (o *Overlays) ShowOverlay(ctx context.Context, ov platform.Overlay) (platform.OverlayHandle, error) {
	h := &overlayHandle{overlays: o}
	err := o.do(ctx, func() error {
		bg := colorRef(ov.Color)
		for _, edge := range platform.BorderEdges(ov.Border, ov.Thickness) {
			hwnd, err := o.create(edge.X, edge.Y, edge.Width, edge.Height, &overlayWindow{brush: win.CreateSolidBrush(bg)})
			if err != nil {
				o.destroy(h.hwnds)
				return err
			}
			h.hwnds = append(h.hwnds, hwnd)
		}
		if ov.Label != "" && !ov.LabelRect.Empty() {
			text, err := windows.UTF16PtrFromString(ov.Label)
			if err != nil {
				o.destroy(h.hwnds)
				return err
			}
			r := ov.LabelRect
			hwnd, err := o.create(r.X, r.Y, r.Width, r.Height, &overlayWindow{
				brush: win.CreateSolidBrush(bg),
				text:  text,
				fg:    colorRef(platform.LabelForeground(ov.Color)),
			})
			if err != nil {
				o.destroy(h.hwnds)
				return err
			}
			h.hwnds = append(h.hwnds, hwnd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// create makes and shows one overlay window. UI thread only.
func (o *Overlays) create(x, y, width, height float64, w *overlayWindow) (win.HWND, error) {
	hwnd := win.CreateWindowEx(
		wsExTopmost|wsExTransparent|wsExToolWindow|wsExLayered|wsExNoActivate,
		overlayClass, nil, win.WS_POPUP,
		int32(x), int32(y), max(int32(width), 1), max(int32(height), 1),
		0, 0, o.instance, nil,
	)
	if hwnd == 0 {
		win.DeleteObject(win.HGDIOBJ(w.brush))
		return 0, fmt.Errorf("msaa: CreateWindowEx: %w", windows.GetLastError())
	}
	o.windows[hwnd] = w
	if r, _, err := procSetLayeredWindowAttributes.Call(uintptr(hwnd), 0, 255, lwaAlpha); r == 0 {
		o.destroy([]win.HWND{hwnd})
		return 0, fmt.Errorf("msaa: SetLayeredWindowAttributes: %w", err)
	}
	win.ShowWindow(hwnd, win.SW_SHOWNOACTIVATE)
	win.UpdateWindow(hwnd)
	return hwnd, nil
}

// destroy removes windows. UI thread only.
func (o *Overlays) destroy(hwnds []win.HWND) error {
	var errs []error
	for _, hwnd := range hwnds {
		w, ok := o.windows[hwnd]
		if !ok {
			continue
		}
		delete(o.windows, hwnd)
		if !win.DestroyWindow(hwnd) {
			errs = append(errs, fmt.Errorf("msaa: DestroyWindow: %w", windows.GetLastError()))
		}
		win.DeleteObject(win.HGDIOBJ(w.brush))
	}
	return errors.Join(errs...)
}

type overlayHandle struct {
	overlays *Overlays
	hwnds    []win.HWND
	once     sync.Once
	err      error
}

func (h *overlayHandle) Close() error {
	h.once.Do(func() {
		h.err = h.overlays.do(context.Background(), func() error { return h.overlays.destroy(h.hwnds) })
	})
	return h.err
}

func colorRef(c colorful.Color) win.COLORREF {
	r, g, b := c.Clamped().RGB255()
	return win.COLORREF(uint32(r) | uint32(g)<<8 | uint32(b)<<16)
}
