// Copyright 2025 Joseph Cumines
//
// Adapter decorator running every native call on the pool

package dispatch

import (
	"context"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/selector"
)

// Wrap returns an adapter that runs each call of inner on p. If inner is an
// OverlayRenderer so is the result.
func Wrap(inner platform.Adapter, p *Pool) platform.Adapter {
	a := &adapter{inner: inner, pool: p}
	if r, ok := inner.(platform.OverlayRenderer); ok {
		return &overlayAdapter{adapter: a, renderer: r}
	}
	return a
}

type adapter struct {
	inner platform.Adapter
	pool  *Pool
}

func (a *adapter) Name() string { return a.inner.Name() }

func (a *adapter) Root(ctx context.Context) (element.Ref, error) {
	return Call(ctx, a.pool, a.inner.Root)
}

func (a *adapter) Children(ctx context.Context, ref element.Ref) ([]element.Ref, error) {
	return Call(ctx, a.pool, func(ctx context.Context) ([]element.Ref, error) {
		return a.inner.Children(ctx, ref)
	})
}

func (a *adapter) Match(ctx context.Context, ref element.Ref, c selector.Criterion) (bool, error) {
	return Call(ctx, a.pool, func(ctx context.Context) (bool, error) {
		return a.inner.Match(ctx, ref, c)
	})
}

func (a *adapter) Read(ctx context.Context, ref element.Ref) (element.Properties, error) {
	return Call(ctx, a.pool, func(ctx context.Context) (element.Properties, error) {
		return a.inner.Read(ctx, ref)
	})
}

func (a *adapter) Capabilities(ctx context.Context, ref element.Ref) (element.CapabilitySet, error) {
	return Call(ctx, a.pool, func(ctx context.Context) (element.CapabilitySet, error) {
		return a.inner.Capabilities(ctx, ref)
	})
}

func (a *adapter) Perform(ctx context.Context, ref element.Ref, action platform.Action) error {
	return a.pool.Do(ctx, func(ctx context.Context) error {
		return a.inner.Perform(ctx, ref, action)
	})
}

func (a *adapter) Viewport(ctx context.Context) (element.Rect, error) {
	return Call(ctx, a.pool, a.inner.Viewport)
}

func (a *adapter) Permission(ctx context.Context) (platform.Permission, error) {
	return Call(ctx, a.pool, a.inner.Permission)
}

type overlayAdapter struct {
	*adapter
	renderer platform.OverlayRenderer
}

func (a *overlayAdapter) ShowOverlay(ctx context.Context, overlay platform.Overlay) (platform.OverlayHandle, error) {
	return Call(ctx, a.pool, func(ctx context.Context) (platform.OverlayHandle, error) {
		return a.renderer.ShowOverlay(ctx, overlay)
	})
}
