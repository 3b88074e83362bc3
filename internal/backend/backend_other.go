// Copyright 2025 Joseph Cumines

//go:build !linux && !(windows && amd64) && !(darwin && cgo)

package backend

import (
	"context"
	"log/slog"

	"github.com/joeycumines/uilocator/internal/config"
)

// nativeBackend is empty: this build has no native backend.
const nativeBackend config.Backend = ""

func openNative(ctx context.Context, logger *slog.Logger) (*Backend, error) {
	return nil, ErrUnavailable
}
