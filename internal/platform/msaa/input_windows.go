// Copyright 2025 Joseph Cumines

//go:build windows && amd64

package msaa

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/lxn/win"
)

// SendInput mouse flags, see MOUSEEVENTF_*.
const (
	inputMouse         = 0
	mouseEventLeftDown = 0x0002
	mouseEventLeftUp   = 0x0004
	mouseEventWheel    = 0x0800
	mouseEventHWheel   = 0x1000
)

// mouseInput is INPUT with the MOUSEINPUT member.
type mouseInput struct {
	Type uint32
	Mi   struct {
		Dx          int32
		Dy          int32
		MouseData   uint32
		DwFlags     uint32
		Time        uint32
		DwExtraInfo uintptr
	}
}

// Pointer synthesizes mouse input with SendInput.
type Pointer struct {
	mu sync.Mutex
}

var _ platform.Pointer = (*Pointer)(nil)

func (p *Pointer) Click(ctx context.Context, at element.Point) error {
	return p.send(ctx, at, mouseEventLeftDown, mouseEventLeftUp)
}

func (p *Pointer) Scroll(ctx context.Context, at element.Point, dx, dy float64) error {
	var events []mouseInput
	if d := wheelData(dy, true); d != 0 {
		events = append(events, mouseEvent(mouseEventWheel, d))
	}
	if d := wheelData(dx, false); d != 0 {
		events = append(events, mouseEvent(mouseEventHWheel, d))
	}
	return p.sendEvents(ctx, at, events)
}

func (p *Pointer) send(ctx context.Context, at element.Point, flags ...uint32) error {
	events := make([]mouseInput, len(flags))
	for i, f := range flags {
		events[i] = mouseEvent(f, 0)
	}
	return p.sendEvents(ctx, at, events)
}

func (p *Pointer) sendEvents(ctx context.Context, at element.Point, events []mouseInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !win.SetCursorPos(int32(math.Round(at.X)), int32(math.Round(at.Y))) {
		return fmt.Errorf("msaa: SetCursorPos(%v, %v) failed", at.X, at.Y)
	}
	if len(events) == 0 {
		return nil
	}
	n := win.SendInput(uint32(len(events)), unsafe.Pointer(&events[0]), int32(unsafe.Sizeof(events[0])))
	if int(n) != len(events) {
		return fmt.Errorf("msaa: SendInput sent %d of %d events", n, len(events))
	}
	return nil
}

func mouseEvent(flags uint32, data int32) mouseInput {
	var in mouseInput
	in.Type = inputMouse
	in.Mi.DwFlags = flags
	in.Mi.MouseData = uint32(data)
	return in
}
