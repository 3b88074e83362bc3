// Copyright 2025 Joseph Cumines
//
// Capabilities and the normalized role vocabulary

package element

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is a declared ability of an element that gates which actions
// may be dispatched against it.
type Capability uint8

const (
	Invocable Capability = 1 << iota
	Toggleable
	Selectable
	RangeValued
	Textual
	Scrollable
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{Invocable, "invocable"},
	{Toggleable, "toggleable"},
	{Selectable, "selectable"},
	{RangeValued, "range_valued"},
	{Textual, "textual"},
	{Scrollable, "scrollable"},
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.c == c {
			return n.name
		}
	}
	return fmt.Sprintf("Capability(%d)", uint8(c))
}

// CapabilitySet is a subset of the capabilities.
type CapabilitySet uint8

// NewCapabilitySet returns the set holding caps.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// With returns the set plus c.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | CapabilitySet(c)
}

// Without returns the set minus c.
func (s CapabilitySet) Without(c Capability) CapabilitySet {
	return s &^ CapabilitySet(c)
}

// Names lists the capabilities in declaration order.
func (s CapabilitySet) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, n := range capabilityNames {
		if s.Has(n.c) {
			names = append(names, n.name)
		}
	}
	return names
}

func (s CapabilitySet) String() string {
	return "{" + strings.Join(s.Names(), ",") + "}"
}

// MarshalJSON encodes the set as a list of names.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes a list of names.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out CapabilitySet
	for _, name := range names {
		c, ok := ParseCapability(name)
		if !ok {
			return fmt.Errorf("unknown capability %q", name)
		}
		out = out.With(c)
	}
	*s = out
	return nil
}

// ParseCapability resolves a capability by name.
func ParseCapability(name string) (Capability, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, n := range capabilityNames {
		if n.name == name {
			return n.c, true
		}
	}
	return 0, false
}

// Normalized roles shared by all backends. Backends map their native role
// names onto these; a selector's role criterion matches either form.
const (
	RoleUnknown     = "unknown"
	RoleDesktop     = "desktop"
	RoleApplication = "application"
	RoleWindow      = "window"
	RoleDialog      = "dialog"
	RolePane        = "pane"
	RoleGroup       = "group"
	RoleButton      = "button"
	RoleCheckBox    = "checkbox"
	RoleRadioButton = "radiobutton"
	RoleHyperlink   = "hyperlink"
	RoleList        = "list"
	RoleListItem    = "listitem"
	RoleTree        = "tree"
	RoleTreeItem    = "treeitem"
	RoleTab         = "tab"
	RoleTabItem     = "tabitem"
	RoleMenu        = "menu"
	RoleMenuBar     = "menubar"
	RoleMenuItem    = "menuitem"
	RoleComboBox    = "combobox"
	RoleEdit        = "edit"
	RoleDocument    = "document"
	RoleText        = "text"
	RoleSlider      = "slider"
	RoleSpinner     = "spinner"
	RoleProgressBar = "progressbar"
	RoleScrollBar   = "scrollbar"
	RoleScrollPane  = "scrollpane"
	RoleTable       = "table"
	RoleRow         = "row"
	RoleCell        = "cell"
	RoleImage       = "image"
	RoleToolBar     = "toolbar"
	RoleTitleBar    = "titlebar"
	RoleStatusBar   = "statusbar"
	RoleHeader      = "header"
	RoleToggle      = "togglebutton"
)

// DeriveCapabilities computes a capability set from the role and state of a
// node plus the value payloads it carries. Backends may add capabilities
// their native API reports but never remove derived ones.
func DeriveCapabilities(role string, state State, hasRange bool) CapabilitySet {
	var caps CapabilitySet
	switch role {
	case RoleButton, RoleHyperlink, RoleMenuItem, RoleTabItem:
		caps = caps.With(Invocable)
	case RoleCheckBox, RoleToggle:
		caps = caps.With(Invocable).With(Toggleable)
	case RoleRadioButton:
		caps = caps.With(Invocable).With(Selectable)
	case RoleListItem, RoleTreeItem, RoleRow, RoleCell:
		caps = caps.With(Selectable)
	case RoleSlider, RoleSpinner, RoleProgressBar, RoleScrollBar:
		caps = caps.With(RangeValued)
	case RoleEdit, RoleComboBox, RoleDocument:
		caps = caps.With(Textual)
	case RoleList, RoleTree, RoleTable, RoleScrollPane:
		caps = caps.With(Scrollable)
	}
	if state.Checkable {
		caps = caps.With(Toggleable)
	}
	if state.Editable {
		caps = caps.With(Textual)
	}
	if hasRange {
		caps = caps.With(RangeValued)
	}
	return caps
}
