// Copyright 2025 Joseph Cumines

//go:build linux

package backend

import (
	"context"
	"log/slog"

	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/platform/atspi"
	"github.com/joeycumines/uilocator/internal/platform/x11"
)

const nativeBackend = config.BackendATSPI

// openNative connects to AT-SPI2. Click, scroll and highlight go through
// the X server; without one those actions are unsupported.
func openNative(ctx context.Context, logger *slog.Logger) (*Backend, error) {
	var (
		opts    []atspi.Option
		display *x11.Display
	)
	if d, err := x11.Open(); err != nil {
		logger.Warn("no X display, pointer input and highlights are unavailable", "error", err)
	} else {
		display = d
		opts = append(opts, atspi.WithPointer(d), atspi.WithOverlays(d))
	}
	a, err := atspi.New(ctx, opts...)
	if err != nil {
		if display != nil {
			_ = display.Close()
		}
		return nil, err
	}
	b := &Backend{Adapter: a}
	if display != nil {
		b.closers = append(b.closers, display)
	}
	return b, nil
}
