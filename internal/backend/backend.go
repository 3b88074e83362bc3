// Copyright 2025 Joseph Cumines

// Package backend opens the accessibility adapter named by the
// configuration. Native backends are compiled in per platform; asking for
// one the build lacks is an error.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/dispatch"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/memtree"
)

// ErrUnavailable is returned for a backend not compiled into this build.
var ErrUnavailable = errors.New("backend not available on this platform")

// Backend is an opened adapter plus what the engine needs to drive it.
type Backend struct {
	Adapter platform.Adapter
	// ThreadInit, if non-nil, prepares each dispatch worker thread.
	ThreadInit dispatch.ThreadInit
	// closers hold resources besides the adapter, e.g. a display
	// connection. The engine closes the adapter itself.
	closers []io.Closer
}

// Close releases the resources held besides the adapter.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Native returns the backend chosen for BackendAuto on this platform, or the
// empty string if there is none.
func Native() config.Backend { return nativeBackend }

// Open opens the backend cfg names.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Backend
	if name == config.BackendAuto {
		if nativeBackend == "" {
			return nil, fmt.Errorf("auto: %w", ErrUnavailable)
		}
		name = nativeBackend
	}
	switch name {
	case config.BackendMemory:
		tree, err := memtree.LoadFile(cfg.TreeFile)
		if err != nil {
			return nil, err
		}
		logger.Debug("opened backend", "backend", name, "tree_file", cfg.TreeFile)
		return &Backend{Adapter: tree}, nil
	case config.BackendATSPI, config.BackendMSAA, config.BackendAX:
		if name != nativeBackend {
			return nil, fmt.Errorf("%s: %w", name, ErrUnavailable)
		}
		b, err := openNative(ctx, logger)
		if err != nil {
			return nil, err
		}
		logger.Debug("opened backend", "backend", name)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
