// Copyright 2025 Joseph Cumines

// Package uierr defines the error taxonomy of the locator engine.
//
// Every error type supports errors.Is against the package sentinels and
// implements GRPCStatus, so a protocol layer can hand them to
// google.golang.org/grpc/status.FromError unchanged. The attached
// errdetails.ErrorInfo carries a stable reason code and diagnostic metadata.
package uierr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/selector"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the ErrorInfo domain of every status produced by this package.
const Domain = "uilocator"

// Reason codes, stable across releases.
const (
	CodeInvalidSelector      = "INVALID_SELECTOR"
	CodeElementNotFound      = "ELEMENT_NOT_FOUND"
	CodeTimeout              = "OPERATION_TIMED_OUT"
	CodeCapabilityMissing    = "CAPABILITY_MISSING"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeCancelled            = "CANCELLED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Sentinels for errors.Is.
var (
	ErrElementNotFound   = errors.New("element not found")
	ErrTimeout           = errors.New("operation timed out")
	ErrCapabilityMissing = errors.New("capability missing")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUnsupported       = errors.New("unsupported operation")
	ErrCancelled         = errors.New("cancelled")
)

// ElementNotFoundError reports that the resolution budget was exhausted
// without any chain matching.
type ElementNotFoundError struct {
	// Cause is the last adapter failure observed, if any.
	Cause    error
	Selector string
	Attempts int
	Elapsed  time.Duration
}

func (e *ElementNotFoundError) Error() string {
	msg := fmt.Sprintf("element not found: %s (%d attempts in %v)", e.Selector, e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.Cause != nil {
		msg += ": last error: " + e.Cause.Error()
	}
	return msg
}

func (e *ElementNotFoundError) Is(target error) bool { return target == ErrElementNotFound }
func (e *ElementNotFoundError) Unwrap() error        { return e.Cause }

// GRPCStatus implements the interface used by status.FromError.
func (e *ElementNotFoundError) GRPCStatus() *status.Status {
	return newStatus(codes.NotFound, CodeElementNotFound, e.Error(), map[string]string{
		"selector": e.Selector,
		"attempts": strconv.Itoa(e.Attempts),
		"elapsed":  e.Elapsed.String(),
	})
}

// Observed is the element state seen at the final poll of a wait.
type Observed struct {
	Exists  bool `json:"exists"`
	Visible bool `json:"visible"`
	Enabled bool `json:"enabled"`
	Focused bool `json:"focused"`
}

// TimeoutError reports a wait condition that did not hold in time.
type TimeoutError struct {
	// Cause is the last resolution or adapter error, if any.
	Cause     error
	Selector  string
	Condition string
	Timeout   time.Duration
	Last      Observed
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %s to be %s (exists=%t visible=%t enabled=%t focused=%t)",
		e.Timeout, e.Selector, e.Condition, e.Last.Exists, e.Last.Visible, e.Last.Enabled, e.Last.Focused)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Unwrap() error        { return e.Cause }

// GRPCStatus implements the interface used by status.FromError.
func (e *TimeoutError) GRPCStatus() *status.Status {
	return newStatus(codes.DeadlineExceeded, CodeTimeout, e.Error(), map[string]string{
		"selector":  e.Selector,
		"condition": e.Condition,
		"timeout":   e.Timeout.String(),
		"exists":    strconv.FormatBool(e.Last.Exists),
		"visible":   strconv.FormatBool(e.Last.Visible),
		"enabled":   strconv.FormatBool(e.Last.Enabled),
		"focused":   strconv.FormatBool(e.Last.Focused),
	})
}

// CapabilityError reports an action attempted on an element lacking the
// capability it requires. The adapter is never called in that case.
type CapabilityError struct {
	Action   string
	Role     string
	Required element.Capability
	Have     element.CapabilitySet
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("cannot %s: %s element is not %s (capabilities %s)", e.Action, e.Role, e.Required, e.Have)
}

func (e *CapabilityError) Is(target error) bool { return target == ErrCapabilityMissing }

// GRPCStatus implements the interface used by status.FromError.
func (e *CapabilityError) GRPCStatus() *status.Status {
	return newStatus(codes.FailedPrecondition, CodeCapabilityMissing, e.Error(), map[string]string{
		"action":   e.Action,
		"role":     e.Role,
		"required": e.Required.String(),
		"have":     e.Have.String(),
	})
}

// PermissionDeniedError reports that the OS denies accessibility access.
type PermissionDeniedError struct {
	Backend string
	Detail  string
}

func (e *PermissionDeniedError) Error() string {
	msg := "accessibility permission denied for " + e.Backend
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// GRPCStatus implements the interface used by status.FromError.
func (e *PermissionDeniedError) GRPCStatus() *status.Status {
	return newStatus(codes.PermissionDenied, CodePermissionDenied, e.Error(), map[string]string{
		"backend": e.Backend,
	})
}

// UnsupportedError reports a query or action the current backend cannot
// perform natively.
type UnsupportedError struct {
	Backend string
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by the %s backend", e.Feature, e.Backend)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

// GRPCStatus implements the interface used by status.FromError.
func (e *UnsupportedError) GRPCStatus() *status.Status {
	return newStatus(codes.Unimplemented, CodeUnsupportedOperation, e.Error(), map[string]string{
		"backend": e.Backend,
		"feature": e.Feature,
	})
}

// Unsupported is shorthand for constructing an UnsupportedError.
func Unsupported(backend, feature string) error {
	return &UnsupportedError{Backend: backend, Feature: feature}
}

// CancelledError reports a caller-initiated abort.
type CancelledError struct {
	Cause error
	Op    string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Op, e.Cause)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }
func (e *CancelledError) Unwrap() error        { return e.Cause }

// GRPCStatus implements the interface used by status.FromError.
func (e *CancelledError) GRPCStatus() *status.Status {
	return newStatus(codes.Canceled, CodeCancelled, e.Error(), map[string]string{"op": e.Op})
}

// Cancelled wraps a context error as a CancelledError for op.
func Cancelled(op string, cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return &CancelledError{Op: op, Cause: cause}
}

// Code returns the reason code for err, or the empty string for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var syntaxErr *selector.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		return CodeInvalidSelector
	case errors.Is(err, ErrElementNotFound):
		return CodeElementNotFound
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrCapabilityMissing):
		return CodeCapabilityMissing
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrUnsupported):
		return CodeUnsupportedOperation
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}

// Status converts any error into a gRPC status. Taxonomy errors keep their
// own status; selector syntax errors become InvalidArgument; anything else
// becomes Internal.
func Status(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	var syntaxErr *selector.SyntaxError
	if errors.As(err, &syntaxErr) {
		return newStatus(codes.InvalidArgument, CodeInvalidSelector, syntaxErr.Error(), map[string]string{
			"selector": syntaxErr.Selector,
			"offset":   strconv.Itoa(syntaxErr.Offset),
			"reason":   syntaxErr.Reason,
		})
	}
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus()
	}
	if errors.Is(err, context.Canceled) {
		return newStatus(codes.Canceled, CodeCancelled, err.Error(), nil)
	}
	return newStatus(codes.Internal, CodeInternal, err.Error(), nil)
}

// IsTerminal reports whether retrying the same query cannot change the
// outcome of err.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnsupported) || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrCancelled)
}

func newStatus(code codes.Code, reason, msg string, metadata map[string]string) *status.Status {
	st := status.New(code, msg)
	withInfo, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   reason,
		Domain:   Domain,
		Metadata: metadata,
	})
	if err != nil {
		return st
	}
	return withInfo
}
