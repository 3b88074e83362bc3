// Copyright 2025 Joseph Cumines

//go:build windows && amd64

package backend

import (
	"context"
	"log/slog"

	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/platform/msaa"
)

const nativeBackend = config.BackendMSAA

// openNative returns the MSAA adapter, whose calls need a COM apartment on
// every dispatch worker.
func openNative(ctx context.Context, logger *slog.Logger) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Backend{Adapter: msaa.New(), ThreadInit: msaa.ThreadInit}, nil
}
