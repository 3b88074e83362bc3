// Copyright 2025 Joseph Cumines

// Package display reports the screen region covered by the active displays,
// which backends use as their viewport.
package display

import (
	"errors"
	"image"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/kbinani/screenshot"
)

// ErrNoDisplays is returned when no display is active.
var ErrNoDisplays = errors.New("display: no active displays found")

// Source enumerates displays.
type Source interface {
	NumActiveDisplays() int
	GetDisplayBounds(i int) image.Rectangle
}

type system struct{}

func (system) NumActiveDisplays() int                 { return screenshot.NumActiveDisplays() }
func (system) GetDisplayBounds(i int) image.Rectangle { return screenshot.GetDisplayBounds(i) }

// System is the Source backed by the OS display configuration.
var System Source = system{}

// Bounds returns the union of the bounds of all active displays of src, the
// virtual screen.
func Bounds(src Source) (element.Rect, error) {
	n := src.NumActiveDisplays()
	if n <= 0 {
		return element.Rect{}, ErrNoDisplays
	}
	union := src.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(src.GetDisplayBounds(i))
	}
	return FromImage(union), nil
}

// FromImage converts an integer rectangle.
func FromImage(r image.Rectangle) element.Rect {
	return element.Rect{
		X:      float64(r.Min.X),
		Y:      float64(r.Min.Y),
		Width:  float64(r.Dx()),
		Height: float64(r.Dy()),
	}
}

// ToImage converts r to an integer rectangle covering it.
func ToImage(r element.Rect) image.Rectangle {
	end := r.Max()
	return image.Rect(floor(r.X), floor(r.Y), ceil(end.X), ceil(end.Y))
}

func floor(v float64) int {
	i := int(v)
	if float64(i) > v {
		i--
	}
	return i
}

func ceil(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}
