// Copyright 2025 Joseph Cumines

// Package dispatch runs blocking native accessibility calls on a fixed set
// of OS-thread-locked worker goroutines, so that a slow or hung OS call
// never blocks an unrelated caller's poll loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("dispatch: pool closed")

// ThreadInit prepares a locked OS thread for native calls, e.g. entering a
// COM apartment. The returned cleanup runs when the worker exits.
type ThreadInit func() (cleanup func(), err error)

// Option configures a Pool.
type Option func(*Pool)

// WithThreadInit runs init once on each worker thread before it accepts work.
func WithThreadInit(init ThreadInit) Option {
	return func(p *Pool) { p.init = init }
}

// WithLogger sets the logger used for worker lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// Pool is a fixed-size pool of thread-locked workers.
type Pool struct {
	jobs      chan job
	done      chan struct{}
	init      ThreadInit
	logger    *slog.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// New starts size workers (at least one) and waits for each to finish its
// thread init. If any init fails the pool is closed and the error returned.
func New(size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		jobs:   make(chan job),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	ready := make(chan error, size)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i, ready)
	}
	var errs []error
	for i := 0; i < size; i++ {
		if err := <-ready; err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 {
		p.Close()
		return nil, errors.Join(errs...)
	}
	return p, nil
}

func (p *Pool) worker(id int, ready chan<- error) {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if p.init != nil {
		cleanup, err := p.init()
		if err != nil {
			ready <- fmt.Errorf("dispatch worker %d: thread init: %w", id, err)
			return
		}
		if cleanup != nil {
			defer cleanup()
		}
	}
	ready <- nil
	p.logger.Debug("dispatch worker started", "worker", id)
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			j.result <- runJob(j)
		}
	}
}

func runJob(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: native call panicked: %v", r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn(j.ctx)
}

// Do runs fn on a worker and waits for it or for ctx. When ctx ends first
// Do returns ctx.Err() and fn keeps running to completion in the background.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case p.jobs <- j:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-j.result:
		return err
	}
}

// Call is Do for a function returning a value.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Close stops the workers once their current call returns.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}
