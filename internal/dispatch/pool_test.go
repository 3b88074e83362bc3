// Copyright 2025 Joseph Cumines
//
// Dispatch pool unit tests

package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/platform/memtree"
)

func TestPool_Do(t *testing.T) {
	p, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	got, err := Call(context.Background(), p, func(ctx context.Context) (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Errorf("Call() = %d, %v", got, err)
	}
	boom := errors.New("boom")
	if err := p.Do(context.Background(), func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Do() error = %v", err)
	}
	if err := p.Do(context.Background(), func(ctx context.Context) error { panic("native crash") }); err == nil {
		t.Error("expected panic to surface as error")
	}
}

func TestPool_ContextAbandonsSlowCall(t *testing.T) {
	p, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Do(ctx, func(context.Context) error {
			<-release
			return nil
		})
	}()
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
	close(release)
}

func TestPool_ThreadInit(t *testing.T) {
	var inits, cleanups atomic.Int32
	p, err := New(3, WithThreadInit(func() (func(), error) {
		inits.Add(1)
		return func() { cleanups.Add(1) }, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	p.Close()
	if inits.Load() != 3 || cleanups.Load() != 3 {
		t.Errorf("inits=%d cleanups=%d, want 3 each", inits.Load(), cleanups.Load())
	}
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Do() after Close error = %v, want ErrClosed", err)
	}

	_, err = New(2, WithThreadInit(func() (func(), error) { return nil, errors.New("no apartment") }))
	if err == nil {
		t.Error("expected init failure")
	}
}

func TestWrap_ForwardsCalls(t *testing.T) {
	p, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	tree := memtree.New(&memtree.Node{ID: "b", Role: element.RoleButton, Name: "OK"})
	a := Wrap(tree, p)
	if a.Name() != memtree.BackendName {
		t.Errorf("Name() = %q", a.Name())
	}
	ctx := context.Background()
	root, err := a.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	kids, err := a.Children(ctx, root)
	if err != nil || len(kids) != 1 {
		t.Fatalf("Children() = %v, %v", kids, err)
	}
	props, err := a.Read(ctx, kids[0])
	if err != nil || props.Name != "OK" {
		t.Errorf("Read() = %+v, %v", props, err)
	}
	if err := a.Perform(ctx, kids[0], platform.Action{Kind: platform.ActionInvoke}); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(platform.OverlayRenderer); !ok {
		t.Error("wrapped memtree should render overlays")
	}
	if tree.Calls(memtree.MethodPerform) != 1 {
		t.Errorf("Calls(Perform) = %d", tree.Calls(memtree.MethodPerform))
	}
}
