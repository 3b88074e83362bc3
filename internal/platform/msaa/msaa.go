// Copyright 2025 Joseph Cumines

// Package msaa implements [platform.Adapter] over Microsoft Active
// Accessibility (IAccessible), rooted at the desktop window.
//
// Every adapter call must run on a thread that has entered the COM
// multithreaded apartment; [ThreadInit] does that for the dispatch pool.
// Nodes are keyed by their child-index path from the desktop, since
// IAccessible has no stable identity. Pointer input goes through SendInput
// and overlays are topmost layered windows owned by one UI thread.
package msaa

import (
	"math"
	"strconv"
	"strings"

	"github.com/joeycumines/uilocator/internal/element"
)

// BackendName is the Name of the adapter.
const BackendName = "msaa"

// childSelf addresses the object itself rather than a simple child.
const childSelf = 0

// MSAA object states, see STATE_SYSTEM_*.
const (
	stateUnavailable = 0x1
	stateSelected    = 0x2
	stateFocused     = 0x4
	statePressed     = 0x8
	stateChecked     = 0x10
	stateReadOnly    = 0x40
	stateInvisible   = 0x8000
	stateOffscreen   = 0x10000
	stateFocusable   = 0x100000
	stateProtected   = 0x20000000
)

// accSelect flags, see SELFLAG_*.
const (
	selTakeFocus     = 0x1
	selTakeSelection = 0x2
)

// MSAA roles, see ROLE_SYSTEM_*.
const (
	roleTitleBar     = 0x01
	roleMenuBar      = 0x02
	roleScrollBar    = 0x03
	roleAlert        = 0x08
	roleWindow       = 0x09
	roleClient       = 0x0a
	roleMenuPopup    = 0x0b
	roleMenuItem     = 0x0c
	roleApplication  = 0x0e
	roleDocument     = 0x0f
	rolePane         = 0x10
	roleDialog       = 0x12
	roleGrouping     = 0x14
	roleToolBar      = 0x16
	roleStatusBar    = 0x17
	roleTable        = 0x18
	roleColumnHeader = 0x19
	roleRowHeader    = 0x1a
	roleRow          = 0x1c
	roleCell         = 0x1d
	roleLink         = 0x1e
	roleList         = 0x21
	roleListItem     = 0x22
	roleOutline      = 0x23
	roleOutlineItem  = 0x24
	rolePageTab      = 0x25
	roleGraphic      = 0x28
	roleStaticText   = 0x29
	roleText         = 0x2a
	rolePushButton   = 0x2b
	roleCheckButton  = 0x2c
	roleRadioButton  = 0x2d
	roleComboBox     = 0x2e
	roleProgressBar  = 0x30
	roleSlider       = 0x33
	roleSpinButton   = 0x34
	roleButtonMenu   = 0x39
	rolePageTabList  = 0x3c
	roleSplitButton  = 0x3e
)

var roles = map[int32]string{
	roleTitleBar:     element.RoleTitleBar,
	roleMenuBar:      element.RoleMenuBar,
	roleScrollBar:    element.RoleScrollBar,
	roleAlert:        element.RoleDialog,
	roleWindow:       element.RoleWindow,
	roleClient:       element.RolePane,
	roleMenuPopup:    element.RoleMenu,
	roleMenuItem:     element.RoleMenuItem,
	roleApplication:  element.RoleApplication,
	roleDocument:     element.RoleDocument,
	rolePane:         element.RolePane,
	roleDialog:       element.RoleDialog,
	roleGrouping:     element.RoleGroup,
	roleToolBar:      element.RoleToolBar,
	roleStatusBar:    element.RoleStatusBar,
	roleTable:        element.RoleTable,
	roleColumnHeader: element.RoleHeader,
	roleRowHeader:    element.RoleHeader,
	roleRow:          element.RoleRow,
	roleCell:         element.RoleCell,
	roleLink:         element.RoleHyperlink,
	roleList:         element.RoleList,
	roleListItem:     element.RoleListItem,
	roleOutline:      element.RoleTree,
	roleOutlineItem:  element.RoleTreeItem,
	rolePageTab:      element.RoleTabItem,
	roleGraphic:      element.RoleImage,
	roleStaticText:   element.RoleText,
	roleText:         element.RoleEdit,
	rolePushButton:   element.RoleButton,
	roleCheckButton:  element.RoleCheckBox,
	roleRadioButton:  element.RoleRadioButton,
	roleComboBox:     element.RoleComboBox,
	roleProgressBar:  element.RoleProgressBar,
	roleSlider:       element.RoleSlider,
	roleSpinButton:   element.RoleSpinner,
	roleButtonMenu:   element.RoleButton,
	rolePageTabList:  element.RoleTab,
	roleSplitButton:  element.RoleButton,
}

func normalizeRole(role int32) string {
	if r, ok := roles[role]; ok {
		return r
	}
	return element.RoleUnknown
}

// stateOf converts STATE_SYSTEM_* flags.
func stateOf(flags uint32, role int32) element.State {
	return element.State{
		Enabled:   flags&stateUnavailable == 0,
		Visible:   flags&(stateInvisible|stateOffscreen) == 0,
		Focused:   flags&stateFocused != 0,
		Toggled:   flags&(stateChecked|statePressed) != 0,
		Selected:  flags&stateSelected != 0,
		Focusable: flags&stateFocusable != 0,
		Checkable: role == roleCheckButton,
		Editable:  role == roleText && flags&stateReadOnly == 0,
		Protected: flags&stateProtected != 0,
	}
}

// hasRange reports whether accValue of role is numeric.
func hasRange(role int32) bool {
	switch role {
	case roleSlider, roleSpinButton, roleProgressBar, roleScrollBar:
		return true
	}
	return false
}

// parseRange reads a numeric accValue. MSAA reports no bounds; a trailing
// percent sign is accepted as progress bars commonly render one.
func parseRange(value string) (*element.Range, bool) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "%"), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return &element.Range{Value: v}, true
}

// formatValue renders a range value for put_accValue.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// pathKey renders a child-index path.
func pathKey(path []int) string {
	if len(path) == 0 {
		return BackendName + ":/"
	}
	var b strings.Builder
	b.WriteString(BackendName)
	b.WriteByte(':')
	for _, i := range path {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

// Wheel input, see MOUSEEVENTF_WHEEL.
const (
	wheelDelta = 120
	scrollStep = 40
)

// wheelData converts a pixel delta to a wheel amount; positive delta means
// down or right, while the vertical wheel counts away from the user.
func wheelData(delta float64, vertical bool) int32 {
	clicks := math.Round(delta / scrollStep)
	if clicks == 0 && delta != 0 {
		clicks = math.Copysign(1, delta)
	}
	if vertical {
		clicks = -clicks
	}
	return int32(clicks) * wheelDelta
}
