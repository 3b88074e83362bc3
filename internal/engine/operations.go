// Copyright 2025 Joseph Cumines
//
// Wait operations

package engine

import (
	"context"
	"time"

	longrunningpb "cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/joeycumines/uilocator/internal/operation"
	"github.com/joeycumines/uilocator/internal/wait"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// StartWait starts Wait as a long-running operation. The operation response
// is the snapshot as a Struct; its metadata records the query.
func (e *Engine) StartWait(ctx context.Context, q Query, cond wait.Condition) (*longrunningpb.Operation, error) {
	spec, err := q.spec()
	if err != nil {
		return nil, err
	}
	alternatives := make([]any, len(q.Alternatives))
	for i, alt := range q.Alternatives {
		alternatives[i] = alt
	}
	metadata, err := structpb.NewStruct(map[string]any{
		"selector":     q.Primary,
		"alternatives": alternatives,
		"condition":    cond.String(),
		"timeout":      q.Timeout.String(),
		"start_time":   e.resolver.Clock().Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return e.ops.Start(ctx, "wait", metadata, func(ctx context.Context) (proto.Message, error) {
		snap, err := e.waiter.Wait(ctx, spec, cond)
		if err != nil {
			return nil, err
		}
		return operation.SnapshotStruct(snap)
	})
}

// GetOperation returns the latest state of a started operation.
func (e *Engine) GetOperation(name string) (*longrunningpb.Operation, error) {
	return e.ops.Get(name)
}

// ListOperations returns every operation the engine has started.
func (e *Engine) ListOperations() []*longrunningpb.Operation {
	return e.ops.List()
}

// CancelOperation asks a running operation to stop.
func (e *Engine) CancelOperation(name string) error {
	return e.ops.Cancel(name)
}

// DeleteOperation forgets an operation, cancelling it if still running.
func (e *Engine) DeleteOperation(name string) error {
	return e.ops.Delete(name)
}

// WaitOperation blocks until the operation is done or timeout elapses,
// then returns its latest state.
func (e *Engine) WaitOperation(ctx context.Context, name string, timeout time.Duration) (*longrunningpb.Operation, error) {
	return e.ops.Wait(ctx, name, timeout)
}
