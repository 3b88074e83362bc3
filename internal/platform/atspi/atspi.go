// Copyright 2025 Joseph Cumines

// Package atspi implements [platform.Adapter] over AT-SPI2, the Linux
// accessibility bus.
//
// Nodes are addressed by their D-Bus (bus name, object path) pair, which
// stays valid for as long as the owning application keeps the object
// exported. AT-SPI2 cannot synthesize pointer input or draw on screen, so
// both are delegated to the optional [platform.Pointer] and
// [platform.OverlayRenderer] passed to New.
package atspi

import (
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/joeycumines/uilocator/internal/element"
)

// BackendName is the Name of the adapter.
const BackendName = "atspi"

// D-Bus names of the accessibility bus and its registry.
const (
	busName      = "org.a11y.Bus"
	busPath      = "/org/a11y/bus"
	registryName = "org.a11y.atspi.Registry"
	rootPath     = "/org/a11y/atspi/accessible/root"

	ifaceAccessible   = "org.a11y.atspi.Accessible"
	ifaceAction       = "org.a11y.atspi.Action"
	ifaceComponent    = "org.a11y.atspi.Component"
	ifaceEditableText = "org.a11y.atspi.EditableText"
	ifaceSelection    = "org.a11y.atspi.Selection"
	ifaceText         = "org.a11y.atspi.Text"
	ifaceValue        = "org.a11y.atspi.Value"
	ifaceStatus       = "org.a11y.Status"
	ifaceProperties   = "org.freedesktop.DBus.Properties"
)

// Ref is the element.Ref handed out by the adapter.
type Ref struct {
	Bus  string
	Path dbus.ObjectPath
}

// Key implements element.Ref.
func (r Ref) Key() string { return BackendName + ":" + r.Bus + string(r.Path) }

// Component coordinate types and scroll types.
const (
	coordScreen    = 0
	scrollAnywhere = 6
)

// AT-SPI state bits, see AtspiStateType.
const (
	stateChecked   = 4
	stateDefunct   = 6
	stateEditable  = 7
	stateEnabled   = 8
	stateFocusable = 11
	stateFocused   = 12
	statePressed   = 20
	stateSelected  = 23
	stateShowing   = 25
	stateVisible   = 30
	stateCheckable = 41
)

// roles maps AT-SPI role names (GetRoleName) to normalized roles.
var roles = map[string]string{
	"desktop frame":   element.RoleDesktop,
	"application":     element.RoleApplication,
	"frame":           element.RoleWindow,
	"window":          element.RoleWindow,
	"dialog":          element.RoleDialog,
	"alert":           element.RoleDialog,
	"file chooser":    element.RoleDialog,
	"panel":           element.RolePane,
	"filler":          element.RolePane,
	"viewport":        element.RolePane,
	"split pane":      element.RolePane,
	"grouping":        element.RoleGroup,
	"section":         element.RoleGroup,
	"form":            element.RoleGroup,
	"push button":     element.RoleButton,
	"button":          element.RoleButton,
	"toggle button":   element.RoleToggle,
	"check box":       element.RoleCheckBox,
	"check menu item": element.RoleMenuItem,
	"radio button":    element.RoleRadioButton,
	"radio menu item": element.RoleMenuItem,
	"link":            element.RoleHyperlink,
	"list":            element.RoleList,
	"list box":        element.RoleList,
	"list item":       element.RoleListItem,
	"tree":            element.RoleTree,
	"tree table":      element.RoleTree,
	"tree item":       element.RoleTreeItem,
	"page tab list":   element.RoleTab,
	"page tab":        element.RoleTabItem,
	"menu":            element.RoleMenu,
	"menu bar":        element.RoleMenuBar,
	"menu item":       element.RoleMenuItem,
	"combo box":       element.RoleComboBox,
	"text":            element.RoleEdit,
	"entry":           element.RoleEdit,
	"password text":   element.RoleEdit,
	"editbar":         element.RoleEdit,
	"document frame":  element.RoleDocument,
	"document web":    element.RoleDocument,
	"document text":   element.RoleDocument,
	"label":           element.RoleText,
	"static":          element.RoleText,
	"heading":         element.RoleText,
	"paragraph":       element.RoleText,
	"slider":          element.RoleSlider,
	"spin button":     element.RoleSpinner,
	"progress bar":    element.RoleProgressBar,
	"level bar":       element.RoleProgressBar,
	"scroll bar":      element.RoleScrollBar,
	"scroll pane":     element.RoleScrollPane,
	"table":           element.RoleTable,
	"table row":       element.RoleRow,
	"table cell":      element.RoleCell,
	"image":           element.RoleImage,
	"icon":            element.RoleImage,
	"tool bar":        element.RoleToolBar,
	"title bar":       element.RoleTitleBar,
	"status bar":      element.RoleStatusBar,
	"header":          element.RoleHeader,
	"column header":   element.RoleHeader,
	"row header":      element.RoleHeader,
}

// normalizeRole maps an AT-SPI role name onto the shared vocabulary.
func normalizeRole(name string) string {
	if r, ok := roles[strings.ToLower(name)]; ok {
		return r
	}
	return element.RoleUnknown
}

// stateSet is the two-word AT-SPI state bitfield returned by GetState.
type stateSet []uint32

func (s stateSet) has(bit uint) bool {
	word := int(bit / 32)
	return word < len(s) && s[word]&(1<<(bit%32)) != 0
}

// state converts the bitfield. A node is visible only when it is both
// VISIBLE and SHOWING; toggled covers CHECKED and PRESSED.
func (s stateSet) state(role string) element.State {
	return element.State{
		Enabled:   s.has(stateEnabled),
		Visible:   s.has(stateVisible) && s.has(stateShowing),
		Focused:   s.has(stateFocused),
		Toggled:   s.has(stateChecked) || s.has(statePressed),
		Selected:  s.has(stateSelected),
		Focusable: s.has(stateFocusable),
		Checkable: s.has(stateCheckable),
		Editable:  s.has(stateEditable),
		Protected: strings.EqualFold(role, "password text"),
	}
}

// actionIndex returns the index of the first action whose name is one of
// names, in order of preference.
func actionIndex(actions []string, names ...string) (int, bool) {
	for _, want := range names {
		for i, a := range actions {
			if strings.EqualFold(a, want) {
				return i, true
			}
		}
	}
	return 0, false
}

var (
	invokeActions = []string{"click", "press", "activate", "jump", "open"}
	toggleActions = []string{"toggle", "click", "press", "activate"}
	selectActions = []string{"select", "click", "activate"}
)

func hasInterface(ifaces []string, name string) bool {
	for _, i := range ifaces {
		if i == name {
			return true
		}
	}
	return false
}
