// Copyright 2025 Joseph Cumines

// Package operation runs engine calls in the background as
// google.longrunning operations.
//
// Clients start an operation, then poll it with Get or block on it with
// Wait; the finished operation carries either the response message packed
// in an Any or the google.rpc.Status of the failure.
package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	longrunningpb "cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/joeycumines/uilocator/internal/clock"
	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/uierr"
	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Prefix is the collection all operation names live in.
const Prefix = "operations/"

// Func is the body of an operation. Its result becomes the operation
// response.
type Func func(ctx context.Context) (proto.Message, error)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source used for names and Wait timeouts.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// Manager tracks the operations it started.
type Manager struct {
	clock  clock.Clock
	logger *slog.Logger
	ops    map[string]*entry
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type entry struct {
	op     *longrunningpb.Operation
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an empty manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		clock:  clock.Real{},
		logger: slog.Default(),
		ops:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs fn in the background as a new operation named
// "operations/<kind>-<ulid>". The operation outlives ctx: only its values
// are inherited, and it ends when fn returns or it is cancelled.
func (m *Manager) Start(ctx context.Context, kind string, metadata proto.Message, fn Func) (*longrunningpb.Operation, error) {
	op := &longrunningpb.Operation{
		Name: Prefix + kind + "-" + strings.ToLower(ulid.MustNew(ulid.Timestamp(m.clock.Now()), ulid.DefaultEntropy()).String()),
	}
	if metadata != nil {
		md, err := anypb.New(metadata)
		if err != nil {
			return nil, fmt.Errorf("pack operation metadata: %w", err)
		}
		op.Metadata = md
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{op: op, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, status.Error(codes.Unavailable, "operation manager closed")
	}
	m.ops[op.Name] = e
	m.wg.Add(1)
	snapshot := proto.Clone(op).(*longrunningpb.Operation)
	m.mu.Unlock()

	go m.run(runCtx, e, fn)
	m.logger.Debug("operation started", "name", op.Name)
	return snapshot, nil
}

func (m *Manager) run(ctx context.Context, e *entry, fn Func) {
	defer m.wg.Done()
	defer e.cancel()

	resp, err := m.call(ctx, fn)
	var anyResp *anypb.Any
	if err == nil && resp != nil {
		if anyResp, err = anypb.New(resp); err != nil {
			err = fmt.Errorf("pack operation response: %w", err)
		}
	}

	m.mu.Lock()
	if err != nil {
		e.op.Result = &longrunningpb.Operation_Error{Error: uierr.Status(err).Proto()}
	} else {
		e.op.Result = &longrunningpb.Operation_Response{Response: anyResp}
	}
	e.op.Done = true
	m.mu.Unlock()
	close(e.done)

	if err != nil {
		m.logger.Debug("operation failed", "name", e.op.GetName(), "error", err)
	} else {
		m.logger.Debug("operation done", "name", e.op.GetName())
	}
}

func (m *Manager) call(ctx context.Context, fn Func) (resp proto.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (m *Manager) lookup(name string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ops[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "operation %q not found", name)
	}
	return e, nil
}

// Get returns the current state of the named operation.
func (m *Manager) Get(name string) (*longrunningpb.Operation, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return m.clone(e), nil
}

func (m *Manager) clone(e *entry) *longrunningpb.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return proto.Clone(e.op).(*longrunningpb.Operation)
}

// List returns every tracked operation, ordered by name.
func (m *Manager) List() []*longrunningpb.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*longrunningpb.Operation, 0, len(m.ops))
	for _, e := range m.ops {
		out = append(out, proto.Clone(e.op).(*longrunningpb.Operation))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// Cancel asks the named operation to stop. It is not an error to cancel an
// operation that has already finished.
func (m *Manager) Cancel(name string) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}
	e.cancel()
	return nil
}

// Delete forgets the named operation, cancelling it if it is still running.
func (m *Manager) Delete(name string) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}
	e.cancel()
	m.mu.Lock()
	delete(m.ops, name)
	m.mu.Unlock()
	return nil
}

// Wait blocks until the named operation is done, timeout elapses, or ctx is
// done, then returns its latest state. A non-positive timeout waits without
// limit.
func (m *Manager) Wait(ctx context.Context, name string, timeout time.Duration) (*longrunningpb.Operation, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	var expired chan struct{}
	if timeout > 0 {
		expired = make(chan struct{})
		timer := m.clock.AfterFunc(timeout, func() { close(expired) })
		defer timer.Stop()
	}
	select {
	case <-e.done:
	case <-expired:
	case <-ctx.Done():
		return nil, uierr.Cancelled("wait operation", ctx.Err())
	}
	return m.clone(e), nil
}

// Close cancels every running operation and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for _, e := range m.ops {
		e.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// SnapshotStruct converts a snapshot to a protobuf Struct with the same
// shape as its JSON encoding.
func SnapshotStruct(s *element.Snapshot) (*structpb.Struct, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("snapshot to struct: %w", err)
	}
	return out, nil
}

// Result returns the error of a finished operation as a Go error, and its
// response unpacked into dst. It fails for an unfinished operation.
func Result(op *longrunningpb.Operation, dst proto.Message) error {
	if !op.GetDone() {
		return status.Errorf(codes.FailedPrecondition, "operation %q is not done", op.GetName())
	}
	if st := op.GetError(); st != nil {
		return status.ErrorProto(st)
	}
	if dst == nil || op.GetResponse() == nil {
		return nil
	}
	return op.GetResponse().UnmarshalTo(dst)
}
