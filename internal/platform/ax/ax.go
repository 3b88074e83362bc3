// Copyright 2025 Joseph Cumines

// Package ax implements [platform.Adapter] over the macOS Accessibility API
// (AXUIElement).
//
// The root is a synthetic desktop whose children are the applications that
// own on-screen windows. The process must be trusted for accessibility
// (System Settings, Privacy & Security, Accessibility); until it is, every
// query fails with a permission error. Highlight overlays are unsupported.
package ax

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// BackendName is the Name of the adapter.
const BackendName = "ax"

// AXError codes.
const (
	axSuccess                           = 0
	axIllegalArgument                   = -25201
	axInvalidUIElement                  = -25202
	axAttributeUnsupported              = -25205
	axActionUnsupported                 = -25206
	axNotImplemented                    = -25208
	axAPIDisabled                       = -25211
	axNoValue                           = -25212
	axParameterizedAttributeUnsupported = -25213
)

var roles = map[string]string{
	"AXApplication":        element.RoleApplication,
	"AXWindow":             element.RoleWindow,
	"AXSheet":              element.RoleDialog,
	"AXDrawer":             element.RolePane,
	"AXGroup":              element.RoleGroup,
	"AXRadioGroup":         element.RoleGroup,
	"AXSplitGroup":         element.RolePane,
	"AXLayoutArea":         element.RolePane,
	"AXButton":             element.RoleButton,
	"AXDisclosureTriangle": element.RoleButton,
	"AXMenuButton":         element.RoleButton,
	"AXCheckBox":           element.RoleCheckBox,
	"AXRadioButton":        element.RoleRadioButton,
	"AXLink":               element.RoleHyperlink,
	"AXList":               element.RoleList,
	"AXOutline":            element.RoleTree,
	"AXBrowser":            element.RoleTree,
	"AXTabGroup":           element.RoleTab,
	"AXMenu":               element.RoleMenu,
	"AXMenuBar":            element.RoleMenuBar,
	"AXMenuBarItem":        element.RoleMenuItem,
	"AXMenuItem":           element.RoleMenuItem,
	"AXComboBox":           element.RoleComboBox,
	"AXPopUpButton":        element.RoleComboBox,
	"AXTextField":          element.RoleEdit,
	"AXSecureTextField":    element.RoleEdit,
	"AXTextArea":           element.RoleEdit,
	"AXSearchField":        element.RoleEdit,
	"AXWebArea":            element.RoleDocument,
	"AXStaticText":         element.RoleText,
	"AXHeading":            element.RoleText,
	"AXSlider":             element.RoleSlider,
	"AXIncrementor":        element.RoleSpinner,
	"AXStepper":            element.RoleSpinner,
	"AXProgressIndicator":  element.RoleProgressBar,
	"AXBusyIndicator":      element.RoleProgressBar,
	"AXLevelIndicator":     element.RoleProgressBar,
	"AXScrollBar":          element.RoleScrollBar,
	"AXScrollArea":         element.RoleScrollPane,
	"AXTable":              element.RoleTable,
	"AXRow":                element.RoleRow,
	"AXCell":               element.RoleCell,
	"AXImage":              element.RoleImage,
	"AXToolbar":            element.RoleToolBar,
	"AXValueIndicator":     element.RoleSlider,
	"AXColumn":             element.RoleGroup,
	"AXSplitter":           element.RolePane,
	"AXTextGroup":          element.RoleGroup,
	"AXDockItem":           element.RoleButton,
}

// subroles refine a role, e.g. a dialog is an AXWindow.
var subroles = map[string]string{
	"AXDialog":          element.RoleDialog,
	"AXSystemDialog":    element.RoleDialog,
	"AXFloatingWindow":  element.RoleWindow,
	"AXTabButton":       element.RoleTabItem,
	"AXToggle":          element.RoleToggle,
	"AXSwitch":          element.RoleToggle,
	"AXOutlineRow":      element.RoleTreeItem,
	"AXSecureTextField": element.RoleEdit,
}

// normalizeRole maps AXRole and AXSubrole onto the shared vocabulary.
func normalizeRole(role, subrole string) string {
	if r, ok := subroles[subrole]; ok {
		return r
	}
	if r, ok := roles[role]; ok {
		return r
	}
	return element.RoleUnknown
}

// isTextRole reports whether AXValue of role is its text.
func isTextRole(role string) bool {
	switch role {
	case "AXTextField", "AXSecureTextField", "AXTextArea", "AXSearchField", "AXComboBox", "AXStaticText":
		return true
	}
	return false
}

// isRangeRole reports whether AXValue of role is numeric with bounds.
func isRangeRole(role string) bool {
	switch role {
	case "AXSlider", "AXIncrementor", "AXStepper", "AXProgressIndicator", "AXLevelIndicator", "AXScrollBar", "AXValueIndicator":
		return true
	}
	return false
}

// isToggleRole reports whether a numeric AXValue of role is its checked
// state.
func isToggleRole(role string) bool {
	switch role {
	case "AXCheckBox", "AXRadioButton", "AXMenuItem":
		return true
	}
	return false
}

// pathKey renders the key of the node at path below the process pid.
func pathKey(pid int, path []int) string {
	if pid == 0 {
		return BackendName + ":/"
	}
	var b strings.Builder
	b.WriteString(BackendName)
	b.WriteString(":/")
	b.WriteString(strconv.Itoa(pid))
	for _, i := range path {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

// errStale is returned for an element that no longer exists.
var errStale = errors.New("ax: stale element reference")

// absent reports whether code means the attribute simply has no value.
func absent(code int32) bool {
	switch code {
	case axAttributeUnsupported, axNoValue, axIllegalArgument:
		return true
	}
	return false
}

// mapError translates an AXError.
func mapError(what string, code int32) error {
	switch code {
	case axSuccess:
		return nil
	case axInvalidUIElement:
		return fmt.Errorf("%s: %w", what, errStale)
	case axAPIDisabled:
		return &uierr.PermissionDeniedError{Backend: BackendName, Detail: "process is not trusted for accessibility"}
	case axAttributeUnsupported, axActionUnsupported, axNotImplemented, axParameterizedAttributeUnsupported:
		return uierr.Unsupported(BackendName, what)
	default:
		return fmt.Errorf("ax: %s: AXError %d", what, code)
	}
}
