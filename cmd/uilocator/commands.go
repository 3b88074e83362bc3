// Copyright 2025 Joseph Cumines

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/joeycumines/uilocator/internal/action"
	"github.com/joeycumines/uilocator/internal/backend"
	"github.com/joeycumines/uilocator/internal/config"
	"github.com/joeycumines/uilocator/internal/engine"
	"github.com/joeycumines/uilocator/internal/highlight"
	"github.com/joeycumines/uilocator/internal/wait"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
)

type cliOptions struct {
	backend      string
	treeFile     string
	alternatives []string
	timeout      time.Duration
	depth        int
}

type cli struct {
	cfg  *config.Config
	out  io.Writer
	opts cliOptions
}

func newRootCmd(cfg *config.Config, out io.Writer) *cobra.Command {
	c := &cli{cfg: cfg, out: out}
	cmd := &cobra.Command{
		Use:           "uilocator",
		Short:         "Locate and act on UI elements through the OS accessibility API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&c.opts.backend, "backend", "", "Backend to use (overrides UILOCATOR_BACKEND)")
	flags.StringVar(&c.opts.treeFile, "tree-file", "", "Tree fixture for the memory backend (overrides UILOCATOR_TREE_FILE)")
	flags.StringArrayVar(&c.opts.alternatives, "alt", nil, "Alternative selector, tried in order after the primary (repeatable)")
	flags.DurationVar(&c.opts.timeout, "timeout", cfg.DefaultTimeout, "Overall resolution timeout")
	flags.IntVar(&c.opts.depth, "depth", 0, "Traversal depth bound (0 uses UILOCATOR_MAX_DEPTH)")

	cmd.AddCommand(
		c.resolveCmd(),
		c.validateCmd(),
		c.waitCmd(),
		c.actCmd(),
		c.highlightCmd(),
		c.permissionCmd(),
	)
	return cmd
}

func (c *cli) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <selector>",
		Short: "Resolve a selector and print the element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				snap, err := e.Resolve(ctx, c.query(args[0]))
				if err != nil {
					return err
				}
				return writeJSON(c.out, snap)
			})
		},
	}
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <selector>",
		Short: "Report whether a selector resolves, without failing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return writeJSON(c.out, e.Validate(ctx, args[0], c.opts.alternatives, c.opts.timeout))
			})
		},
	}
}

func (c *cli) waitCmd() *cobra.Command {
	var (
		condition string
		asOp      bool
	)
	cmd := &cobra.Command{
		Use:   "wait <selector>",
		Short: "Wait until the element satisfies a condition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := wait.ParseCondition(condition)
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				q := c.query(args[0])
				if !asOp {
					snap, err := e.Wait(ctx, q, cond)
					if err != nil {
						return err
					}
					return writeJSON(c.out, snap)
				}
				op, err := e.StartWait(ctx, q, cond)
				if err != nil {
					return err
				}
				if op, err = e.WaitOperation(ctx, op.GetName(), q.Timeout+time.Second); err != nil {
					return err
				}
				b, err := protojson.MarshalOptions{Multiline: true}.Marshal(op)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(c.out, string(b)); err != nil {
					return err
				}
				if op.GetError() != nil {
					return errReported
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&condition, "condition", wait.Exists.String(), "Condition: exists, visible, enabled or focused")
	cmd.Flags().BoolVar(&asOp, "operation", false, "Run as a long-running operation and print it")
	return cmd
}

func (c *cli) actCmd() *cobra.Command {
	var actionArgs action.Args
	cmd := &cobra.Command{
		Use:   "act <selector> <action>",
		Short: "Resolve an element and perform an action on it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := action.ParseKind(args[1])
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				snap, err := e.Resolve(ctx, c.query(args[0]))
				if err != nil {
					return err
				}
				res, err := e.PerformAction(ctx, snap.Ref, kind, actionArgs)
				if err != nil {
					return err
				}
				return writeJSON(c.out, res)
			})
		},
	}
	cmd.Flags().StringVar(&actionArgs.Text, "text", "", "Text for set_text")
	cmd.Flags().Float64Var(&actionArgs.Value, "value", 0, "Value for set_range_value")
	cmd.Flags().Float64Var(&actionArgs.DX, "dx", 0, "Horizontal scroll delta in pixels")
	cmd.Flags().Float64Var(&actionArgs.DY, "dy", 0, "Vertical scroll delta in pixels")
	return cmd
}

func (c *cli) highlightCmd() *cobra.Command {
	var (
		req    engine.HighlightRequest
		corner string
	)
	cmd := &cobra.Command{
		Use:   "highlight <selector>",
		Short: "Draw an overlay around an element until it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Corner, err = highlight.ParseCorner(corner); err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				req.Query = c.query(args[0])
				res, err := e.Highlight(ctx, req)
				if err != nil {
					return err
				}
				if err := writeJSON(c.out, res); err != nil {
					return err
				}
				// the overlay goes when the process does
				timer := time.NewTimer(time.Until(res.ExpiresAt))
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-ctx.Done():
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Color, "color", "", "Border colour, #rrggbb (default red)")
	cmd.Flags().StringVar(&req.Text, "text", "", "Label text")
	cmd.Flags().StringVar(&corner, "corner", string(highlight.TopLeft), "Label corner: top_left, top_right, bottom_left, bottom_right or inside")
	cmd.Flags().DurationVar(&req.Duration, "duration", time.Second, "How long the overlay stays up")
	return cmd
}

func (c *cli) permissionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permission",
		Short: "Print the accessibility permission state of the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.Permission(ctx)
				if err != nil {
					return err
				}
				return writeJSON(c.out, map[string]any{"backend": e.Backend(), "permission": p})
			})
		},
	}
}

func (c *cli) query(selector string) engine.Query {
	return engine.Query{
		Primary:      selector,
		Alternatives: c.opts.alternatives,
		Timeout:      c.opts.timeout,
		MaxDepth:     c.opts.depth,
	}
}

// withEngine opens the configured backend and an engine over it for the
// duration of fn.
func (c *cli) withEngine(ctx context.Context, fn func(ctx context.Context, e *engine.Engine) error) (err error) {
	cfg := *c.cfg
	if c.opts.backend != "" {
		cfg.Backend = config.Backend(c.opts.backend)
	}
	if c.opts.treeFile != "" {
		cfg.TreeFile = c.opts.treeFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := slog.Default()
	b, err := backend.Open(ctx, &cfg, logger)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer func() { err = errors.Join(err, b.Close()) }()

	e, err := engine.New(b.Adapter, &cfg, engine.WithLogger(logger), engine.WithThreadInit(b.ThreadInit))
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, e.Close()) }()
	return fn(ctx, e)
}
