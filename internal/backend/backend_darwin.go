// Copyright 2025 Joseph Cumines

//go:build darwin && cgo

package backend

import (
	"context"
	"log/slog"

	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/ax"
)

const nativeBackend = config.BackendAX

func openNative(ctx context.Context, logger *slog.Logger) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a := ax.New()
	if p, err := a.Permission(ctx); err == nil && p != platform.PermissionGranted {
		logger.Warn("process is not trusted for accessibility; grant access in System Settings")
	}
	return &Backend{Adapter: a}, nil
}
