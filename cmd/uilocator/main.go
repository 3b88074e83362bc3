// Copyright 2025 Joseph Cumines
//
// Operator probe CLI: resolve, validate, wait on, act on and highlight UI
// elements from the command line, printing JSON

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// errReported is returned by a command that has already written its
// failure to stdout.
var errReported = errors.New("failure reported")

type errorOutput struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = runWithArgs(ctx, cfg, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		if !errors.Is(err, errReported) {
			_ = writeJSON(os.Stdout, errorOutput{Error: err.Error(), Code: uierr.Code(err)})
		}
		os.Exit(1)
	}
}

func runWithArgs(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	cmd := newRootCmd(cfg, out)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	return cmd.ExecuteContext(ctx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
