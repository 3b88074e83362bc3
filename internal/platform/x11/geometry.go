// Copyright 2025 Joseph Cumines

// Package x11 synthesizes pointer input through the XTEST extension and
// draws click-through highlight overlays as override-redirect windows on an
// X11 display. It serves the AT-SPI backend, which has neither.
package x11

import (
	"math"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/lucasb-eyer/go-colorful"
)

// Core pointer buttons.
const (
	buttonLeft       = 1
	buttonWheelUp    = 4
	buttonWheelDown  = 5
	buttonWheelLeft  = 6
	buttonWheelRight = 7
)

// scrollStep is the pixel distance one wheel click stands for.
const scrollStep = 40

// wheelClicks converts a scroll delta into wheel button presses. Positive
// dy scrolls down, positive dx scrolls right.
func wheelClicks(dx, dy float64) []byte {
	var out []byte
	add := func(delta float64, neg, pos byte) {
		n := int(math.Round(math.Abs(delta) / scrollStep))
		if n == 0 && delta != 0 {
			n = 1
		}
		b := pos
		if delta < 0 {
			b = neg
		}
		for range n {
			out = append(out, b)
		}
	}
	add(dy, buttonWheelUp, buttonWheelDown)
	add(dx, buttonWheelLeft, buttonWheelRight)
	return out
}

// rect is a window geometry in X protocol units.
type rect struct {
	X, Y          int16
	Width, Height uint16
}

// toRect rounds r outwards to whole pixels, reporting false if nothing of
// it remains.
func toRect(r element.Rect) (rect, bool) {
	if r.Empty() {
		return rect{}, false
	}
	x0, y0 := math.Floor(r.X), math.Floor(r.Y)
	end := r.Max()
	x1, y1 := math.Ceil(end.X), math.Ceil(end.Y)
	if x1-x0 < 1 || y1-y0 < 1 {
		return rect{}, false
	}
	return rect{
		X:      int16(clamp(x0, math.MinInt16, math.MaxInt16)),
		Y:      int16(clamp(y0, math.MinInt16, math.MaxInt16)),
		Width:  uint16(clamp(x1-x0, 1, math.MaxUint16)),
		Height: uint16(clamp(y1-y0, 1, math.MaxUint16)),
	}, true
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

// rgb16 returns the 16-bit channels the X server expects.
func rgb16(c colorful.Color) (r, g, b uint16) {
	cc := c.Clamped()
	return uint16(math.Round(cc.R * 0xffff)), uint16(math.Round(cc.G * 0xffff)), uint16(math.Round(cc.B * 0xffff))
}

// point converts p to protocol coordinates.
func point(p element.Point) (int16, int16) {
	return int16(clamp(math.Round(p.X), math.MinInt16, math.MaxInt16)),
		int16(clamp(math.Round(p.Y), math.MinInt16, math.MaxInt16))
}
