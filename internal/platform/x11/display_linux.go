// Copyright 2025 Joseph Cumines

//go:build linux

package x11

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/shape"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/uierr"
	"github.com/lucasb-eyer/go-colorful"
)

// labelFont is a core font present on every X server.
const labelFont = "fixed"

// Display is a connection to an X server. It implements platform.Pointer
// and platform.OverlayRenderer.
type Display struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	// xtest and shape report whether the extensions are available.
	xtest bool
	shape bool
	mu    sync.Mutex
}

var (
	_ platform.Pointer         = (*Display)(nil)
	_ platform.OverlayRenderer = (*Display)(nil)
)

// Open connects to the display named by $DISPLAY.
func Open() (*Display, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("x11: connect: %w", err)
	}
	d := &Display{
		conn:   conn,
		screen: xproto.Setup(conn).DefaultScreen(conn),
		xtest:  xtest.Init(conn) == nil,
		shape:  shape.Init(conn) == nil,
	}
	return d, nil
}

// Close disconnects from the server, destroying any overlay still shown.
func (d *Display) Close() error {
	d.conn.Close()
	return nil
}

// Viewport returns the bounds of the default screen.
func (d *Display) Viewport() element.Rect {
	return element.Rect{Width: float64(d.screen.WidthInPixels), Height: float64(d.screen.HeightInPixels)}
}

// Click moves the pointer to at and clicks the left button.
func (d *Display) Click(ctx context.Context, at element.Point) error {
	return d.pointer(ctx, at, []byte{buttonLeft})
}

// Scroll moves the pointer to at and turns the wheel by dx, dy pixels.
func (d *Display) Scroll(ctx context.Context, at element.Point, dx, dy float64) error {
	return d.pointer(ctx, at, wheelClicks(dx, dy))
}

func (d *Display) pointer(ctx context.Context, at element.Point, buttons []byte) error {
	if !d.xtest {
		return uierr.Unsupported("x11", "pointer input without the XTEST extension")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	x, y := point(at)
	root := d.screen.Root
	if err := xproto.WarpPointerChecked(d.conn, xproto.WindowNone, root, 0, 0, 0, 0, x, y).Check(); err != nil {
		return fmt.Errorf("x11: warp pointer: %w", err)
	}
	for _, b := range buttons {
		if err := xtest.FakeInputChecked(d.conn, xproto.ButtonPress, b, 0, root, x, y, 0).Check(); err != nil {
			return fmt.Errorf("x11: button %d press: %w", b, err)
		}
		if err := xtest.FakeInputChecked(d.conn, xproto.ButtonRelease, b, 0, root, x, y, 0).Check(); err != nil {
			return fmt.Errorf("x11: button %d release: %w", b, err)
		}
	}
	return nil
}

// ShowOverlay maps one window per border edge, plus one for the label.
func (d *Display) ShowOverlay(ctx context.Context, o platform.Overlay) (platform.OverlayHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	border, err := d.pixel(o.Color)
	if err != nil {
		return nil, err
	}
	h := &overlay{display: d}
	for _, edge := range platform.BorderEdges(o.Border, o.Thickness) {
		r, ok := toRect(edge)
		if !ok {
			continue
		}
		w, err := d.window(r, border)
		if err != nil {
			h.destroyLocked()
			return nil, err
		}
		h.windows = append(h.windows, w)
	}
	if o.Label != "" {
		if err := d.label(h, o, border); err != nil {
			h.destroyLocked()
			return nil, err
		}
	}
	// round trip so the windows are up before returning
	if _, err := xproto.GetInputFocus(d.conn).Reply(); err != nil {
		h.destroyLocked()
		return nil, fmt.Errorf("x11: sync: %w", err)
	}
	return h, nil
}

func (d *Display) pixel(c colorful.Color) (uint32, error) {
	r, g, b := rgb16(c)
	reply, err := xproto.AllocColor(d.conn, d.screen.DefaultColormap, r, g, b).Reply()
	if err != nil {
		return 0, fmt.Errorf("x11: alloc colour: %w", err)
	}
	return reply.Pixel, nil
}

// window creates and maps an override-redirect window filled with pixel
// that ignores pointer input.
func (d *Display) window(r rect, pixel uint32) (xproto.Window, error) {
	wid, err := xproto.NewWindowId(d.conn)
	if err != nil {
		return 0, fmt.Errorf("x11: window id: %w", err)
	}
	err = xproto.CreateWindowChecked(d.conn, d.screen.RootDepth, wid, d.screen.Root,
		r.X, r.Y, r.Width, r.Height, 0,
		xproto.WindowClassInputOutput, d.screen.RootVisual,
		xproto.CwBackPixel|xproto.CwOverrideRedirect|xproto.CwEventMask,
		[]uint32{pixel, 1, xproto.EventMaskExposure},
	).Check()
	if err != nil {
		return 0, fmt.Errorf("x11: create window: %w", err)
	}
	if d.shape {
		// an empty input region passes every click through
		if err := shape.RectanglesChecked(d.conn, shape.SoSet, shape.SkInput, xproto.ClipOrderingUnsorted, wid, 0, 0, nil).Check(); err != nil {
			xproto.DestroyWindow(d.conn, wid)
			return 0, fmt.Errorf("x11: input shape: %w", err)
		}
	}
	if err := xproto.MapWindowChecked(d.conn, wid).Check(); err != nil {
		xproto.DestroyWindow(d.conn, wid)
		return 0, fmt.Errorf("x11: map window: %w", err)
	}
	return wid, nil
}

func (d *Display) label(h *overlay, o platform.Overlay, background uint32) error {
	r, ok := toRect(o.LabelRect)
	if !ok {
		return nil
	}
	w, err := d.window(r, background)
	if err != nil {
		return err
	}
	h.windows = append(h.windows, w)

	fg, err := d.pixel(platform.LabelForeground(o.Color))
	if err != nil {
		return err
	}
	font, err := xproto.NewFontId(d.conn)
	if err != nil {
		return fmt.Errorf("x11: font id: %w", err)
	}
	if err := xproto.OpenFontChecked(d.conn, font, uint16(len(labelFont)), labelFont).Check(); err != nil {
		return fmt.Errorf("x11: open font: %w", err)
	}
	defer xproto.CloseFont(d.conn, font)
	gc, err := xproto.NewGcontextId(d.conn)
	if err != nil {
		return fmt.Errorf("x11: gc id: %w", err)
	}
	if err := xproto.CreateGCChecked(d.conn, gc, xproto.Drawable(w),
		xproto.GcForeground|xproto.GcBackground|xproto.GcFont,
		[]uint32{fg, background, uint32(font)},
	).Check(); err != nil {
		return fmt.Errorf("x11: create gc: %w", err)
	}
	defer xproto.FreeGC(d.conn, gc)

	text := o.Label
	if len(text) > 255 {
		text = text[:255]
	}
	baseline := int16(r.Height) - 5
	return xproto.ImageText8Checked(d.conn, byte(len(text)), xproto.Drawable(w), gc, 4, baseline, text).Check()
}

type overlay struct {
	display *Display
	windows []xproto.Window
	closed  bool
}

func (h *overlay) Close() error {
	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	return h.destroyLocked()
}

func (h *overlay) destroyLocked() error {
	if h.closed {
		return nil
	}
	h.closed = true
	var errs []error
	for _, w := range h.windows {
		if err := xproto.DestroyWindowChecked(h.display.conn, w).Check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
