// Copyright 2025 Joseph Cumines

// Package memtree implements [platform.Adapter] over an in-memory
// accessibility tree.
//
// It backs the test suites of the engine packages and the "memory" backend
// of the CLI, which replays a tree captured as a JSON fixture. The tree may
// be mutated concurrently with queries, just as a live OS tree would be.
// Every adapter call is counted, can be intercepted by a hook, and can be
// made to fail.
package memtree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/platform"
	"github.com/joeycumines/uilocator/internal/selector"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// BackendName is the Name of every Tree.
const BackendName = "memory"

// RootID is the id of the synthetic desktop root.
const RootID = "root"

// ErrStale is returned for a ref whose node is no longer in the tree.
var ErrStale = errors.New("memtree: stale element reference")

// Adapter method names, as counted by Calls and passed to Hook.
const (
	MethodRoot         = "Root"
	MethodChildren     = "Children"
	MethodMatch        = "Match"
	MethodRead         = "Read"
	MethodCapabilities = "Capabilities"
	MethodPerform      = "Perform"
	MethodViewport     = "Viewport"
	MethodPermission   = "Permission"
	MethodShowOverlay  = "ShowOverlay"
)

// Node is one node of the tree, also the JSON fixture shape.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Node struct {
	ID         string            `json:"id,omitempty"`
	Role       string            `json:"role"`
	NativeRole string            `json:"native_role,omitempty"`
	Name       string            `json:"name,omitempty"`
	Bounds     element.Rect      `json:"bounds"`
	State      element.State     `json:"state"`
	Text       *string           `json:"text,omitempty"`
	Range      *element.Range    `json:"range,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	// Capabilities, if set, replaces the derived capability set.
	Capabilities *element.CapabilitySet `json:"capabilities,omitempty"`
	// Unsupported lists action kinds (platform.ActionKind names) that fail
	// with an UnsupportedError on this node.
	Unsupported []string `json:"unsupported,omitempty"`
	Children    []*Node  `json:"children,omitempty"`
}

// Fixture is the JSON document loaded by Load.
type Fixture struct {
	Viewport   *element.Rect       `json:"viewport,omitempty"`
	Permission platform.Permission `json:"permission"`
	Root       *Node               `json:"root"`
}

// Hook is called at the start of every adapter call. A non-nil error is
// returned from the call instead of performing it.
type Hook func(method string, ref element.Ref) error

// PerformedAction is an action recorded by Perform.
type PerformedAction struct {
	NodeID string
	Action platform.Action
}

// RenderedOverlay is an overlay recorded by ShowOverlay.
type RenderedOverlay struct {
	Overlay platform.Overlay
	closed  *bool
}

// Closed reports whether the overlay has been removed.
func (o RenderedOverlay) Closed() bool { return *o.closed }

// Ref is the element.Ref handed out by a Tree.
type Ref struct {
	ID string
}

// Key implements element.Ref.
func (r Ref) Key() string { return BackendName + ":" + r.ID }

// Tree is an in-memory accessibility tree and adapter.
type Tree struct {
	nodes       map[string]*Node
	parents     map[string]string
	calls       map[string]int
	hook        Hook
	actions     []PerformedAction
	overlays    []RenderedOverlay
	root        *Node
	viewport    element.Rect
	nextID      int
	permission  platform.Permission
	overlaysOff bool
	mu          sync.Mutex
}

var (
	_ platform.Adapter         = (*Tree)(nil)
	_ platform.OverlayRenderer = (*Tree)(nil)
)

// DefaultViewport is the viewport of a tree that does not set one.
var DefaultViewport = element.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}

// New builds a tree under a synthetic desktop root holding children. Nodes
// without an ID are assigned one.
func New(children ...*Node) *Tree {
	t := &Tree{
		nodes:      make(map[string]*Node),
		parents:    make(map[string]string),
		calls:      make(map[string]int),
		viewport:   DefaultViewport,
		permission: platform.PermissionGranted,
	}
	t.root = &Node{ID: RootID, Role: element.RoleDesktop, Bounds: DefaultViewport, State: element.State{Enabled: true, Visible: true}}
	t.nodes[RootID] = t.root
	for _, c := range children {
		t.attachLocked(t.root, c)
	}
	return t
}

// Load decodes a fixture.
func Load(r io.Reader) (*Tree, error) {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode tree fixture: %w", err)
	}
	var children []*Node
	if f.Root != nil {
		children = f.Root.Children
	}
	t := New(children...)
	if f.Viewport != nil {
		t.viewport = *f.Viewport
	}
	if f.Permission != platform.PermissionUnknown {
		t.permission = f.Permission
	}
	return t, nil
}

// LoadFile decodes the fixture at path.
func LoadFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tree fixture: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (t *Tree) attachLocked(parent, n *Node) {
	if n.ID == "" || n.ID == RootID {
		t.nextID++
		n.ID = "n" + strconv.Itoa(t.nextID)
	}
	for {
		if _, dup := t.nodes[n.ID]; !dup {
			break
		}
		t.nextID++
		n.ID = n.ID + "_" + strconv.Itoa(t.nextID)
	}
	t.nodes[n.ID] = n
	t.parents[n.ID] = parent.ID
	for _, c := range n.Children {
		t.attachLocked(n, c)
	}
	if !containsNode(parent.Children, n) {
		parent.Children = append(parent.Children, n)
	}
}

func containsNode(nodes []*Node, n *Node) bool {
	for _, c := range nodes {
		if c == n {
			return true
		}
	}
	return false
}

// Add appends n (and its subtree) as the last child of parentID.
func (t *Tree) Add(parentID string, n *Node) (Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.nodes[parentID]
	if !ok {
		return Ref{}, fmt.Errorf("add under %q: %w", parentID, ErrStale)
	}
	t.attachLocked(parent, n)
	return Ref{ID: n.ID}, nil
}

// Remove detaches the node id and its subtree.
func (t *Tree) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok || id == RootID {
		return fmt.Errorf("remove %q: %w", id, ErrStale)
	}
	parent := t.nodes[t.parents[id]]
	for i, c := range parent.Children {
		if c == n {
			parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
			break
		}
	}
	t.forgetLocked(n)
	return nil
}

func (t *Tree) forgetLocked(n *Node) {
	delete(t.nodes, n.ID)
	delete(t.parents, n.ID)
	for _, c := range n.Children {
		t.forgetLocked(c)
	}
}

// Update mutates the node id under the tree lock.
func (t *Tree) Update(id string, fn func(n *Node)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("update %q: %w", id, ErrStale)
	}
	fn(n)
	return nil
}

// SetViewport replaces the viewport.
func (t *Tree) SetViewport(r element.Rect) {
	t.mu.Lock()
	t.viewport = r
	t.mu.Unlock()
}

// SetPermission replaces the reported permission state.
func (t *Tree) SetPermission(p platform.Permission) {
	t.mu.Lock()
	t.permission = p
	t.mu.Unlock()
}

// SetHook installs h, replacing any previous hook.
func (t *Tree) SetHook(h Hook) {
	t.mu.Lock()
	t.hook = h
	t.mu.Unlock()
}

// DisableOverlays makes ShowOverlay fail as unsupported.
func (t *Tree) DisableOverlays() {
	t.mu.Lock()
	t.overlaysOff = true
	t.mu.Unlock()
}

// Calls returns how many times method was called.
func (t *Tree) Calls(method string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[method]
}

// ResetCalls zeroes every call counter.
func (t *Tree) ResetCalls() {
	t.mu.Lock()
	t.calls = make(map[string]int)
	t.mu.Unlock()
}

// Actions returns the actions performed so far.
func (t *Tree) Actions() []PerformedAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PerformedAction(nil), t.actions...)
}

// Overlays returns the overlays rendered so far.
func (t *Tree) Overlays() []RenderedOverlay {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RenderedOverlay(nil), t.overlays...)
}

// RefOf returns a ref for the node id.
func (t *Tree) RefOf(id string) Ref {
	return Ref{ID: id}
}

// enter counts the call and runs the hook, outside the lock so hooks may
// mutate the tree.
func (t *Tree) enter(method string, ref element.Ref) error {
	t.mu.Lock()
	t.calls[method]++
	hook := t.hook
	t.mu.Unlock()
	if hook != nil {
		return hook(method, ref)
	}
	return nil
}

func (t *Tree) lookupLocked(ref element.Ref) (*Node, error) {
	r, ok := ref.(Ref)
	if !ok {
		return nil, fmt.Errorf("memtree: foreign element reference %T", ref)
	}
	n, ok := t.nodes[r.ID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", r.ID, ErrStale)
	}
	return n, nil
}

func (t *Tree) Name() string { return BackendName }

func (t *Tree) Root(ctx context.Context) (element.Ref, error) {
	if err := t.enter(MethodRoot, nil); err != nil {
		return nil, err
	}
	return Ref{ID: RootID}, ctx.Err()
}

func (t *Tree) Children(ctx context.Context, ref element.Ref) ([]element.Ref, error) {
	if err := t.enter(MethodChildren, ref); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.lookupLocked(ref)
	if err != nil {
		return nil, err
	}
	out := make([]element.Ref, len(n.Children))
	for i, c := range n.Children {
		out[i] = Ref{ID: c.ID}
	}
	return out, nil
}

func (t *Tree) Match(ctx context.Context, ref element.Ref, c selector.Criterion) (bool, error) {
	if err := t.enter(MethodMatch, ref); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.lookupLocked(ref)
	if err != nil {
		return false, err
	}
	return platform.MatchProperties(propertiesOf(n), c), nil
}

func (t *Tree) Read(ctx context.Context, ref element.Ref) (element.Properties, error) {
	if err := t.enter(MethodRead, ref); err != nil {
		return element.Properties{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.lookupLocked(ref)
	if err != nil {
		return element.Properties{}, err
	}
	return propertiesOf(n), nil
}

func (t *Tree) Capabilities(ctx context.Context, ref element.Ref) (element.CapabilitySet, error) {
	if err := t.enter(MethodCapabilities, ref); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.lookupLocked(ref)
	if err != nil {
		return 0, err
	}
	if n.Capabilities != nil {
		return *n.Capabilities, nil
	}
	return element.DeriveCapabilities(n.Role, n.State, n.Range != nil), nil
}

func (t *Tree) Perform(ctx context.Context, ref element.Ref, action platform.Action) error {
	if err := t.enter(MethodPerform, ref); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.lookupLocked(ref)
	if err != nil {
		return err
	}
	for _, name := range n.Unsupported {
		if name == action.Kind.String() {
			return uierr.Unsupported(BackendName, action.Kind.String())
		}
	}
	switch action.Kind {
	case platform.ActionInvoke, platform.ActionClick, platform.ActionScroll:
	case platform.ActionToggle:
		n.State.Toggled = !n.State.Toggled
	case platform.ActionSelect:
		n.State.Selected = true
	case platform.ActionSetValue:
		if n.Range == nil {
			n.Range = &element.Range{}
		}
		n.Range.Value = action.Value
	case platform.ActionSetText:
		text := action.Text
		n.Text = &text
	case platform.ActionSetFocus:
		for _, other := range t.nodes {
			other.State.Focused = false
		}
		n.State.Focused = true
	case platform.ActionScrollIntoView:
		t.scrollIntoViewLocked(n)
	default:
		return uierr.Unsupported(BackendName, action.Kind.String())
	}
	t.actions = append(t.actions, PerformedAction{NodeID: n.ID, Action: action})
	return nil
}

// scrollIntoViewLocked moves n (and its subtree) vertically so that it
// starts at the top of the viewport.
func (t *Tree) scrollIntoViewLocked(n *Node) {
	if n.Bounds.Empty() || t.viewport.Contains(n.Bounds) {
		return
	}
	dx, dy := 0.0, t.viewport.Y-n.Bounds.Y
	if n.Bounds.X < t.viewport.X || n.Bounds.Max().X > t.viewport.Max().X {
		dx = t.viewport.X - n.Bounds.X
	}
	shift(n, dx, dy)
}

func shift(n *Node, dx, dy float64) {
	n.Bounds.X += dx
	n.Bounds.Y += dy
	for _, c := range n.Children {
		shift(c, dx, dy)
	}
}

func (t *Tree) Viewport(ctx context.Context) (element.Rect, error) {
	if err := t.enter(MethodViewport, nil); err != nil {
		return element.Rect{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewport, nil
}

func (t *Tree) Permission(ctx context.Context) (platform.Permission, error) {
	if err := t.enter(MethodPermission, nil); err != nil {
		return platform.PermissionUnknown, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.permission, nil
}

// ShowOverlay records the overlay. The returned handle marks it closed.
func (t *Tree) ShowOverlay(ctx context.Context, overlay platform.Overlay) (platform.OverlayHandle, error) {
	if err := t.enter(MethodShowOverlay, nil); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.overlaysOff {
		return nil, uierr.Unsupported(BackendName, "overlay")
	}
	closed := new(bool)
	t.overlays = append(t.overlays, RenderedOverlay{Overlay: overlay, closed: closed})
	return &overlayHandle{tree: t, closed: closed}, nil
}

type overlayHandle struct {
	tree   *Tree
	closed *bool
}

func (h *overlayHandle) Close() error {
	h.tree.mu.Lock()
	*h.closed = true
	h.tree.mu.Unlock()
	return nil
}

func propertiesOf(n *Node) element.Properties {
	props := element.Properties{
		Role:       n.Role,
		NativeRole: n.NativeRole,
		Name:       n.Name,
		Bounds:     n.Bounds,
		State:      n.State,
	}
	if n.Text != nil {
		text := *n.Text
		props.Text = &text
	}
	if n.Range != nil {
		r := *n.Range
		props.Range = &r
	}
	if len(n.Attributes) != 0 {
		props.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			props.Attributes[k] = v
		}
	}
	return props
}
