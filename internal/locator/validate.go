// Copyright 2025 Joseph Cumines
//
// Non-failing existence check

package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/uilocator/internal/element"
	"github.com/joeycumines/uilocator/internal/uierr"
)

// ValidationResult is the outcome of Validate. It is always a value.
type ValidationResult struct {
	Element *element.Snapshot `json:"element,omitempty"`
	Error   string            `json:"error,omitempty"`
	// Code is the reason code of Error, e.g. INVALID_SELECTOR.
	Code   string `json:"code,omitempty"`
	Exists bool   `json:"exists"`
}

// Validate reports whether the selectors resolve within timeout. It never
// fails: a miss yields Exists false with no error, and any other failure,
// including a malformed selector, is reported through Error.
func (r *Resolver) Validate(ctx context.Context, primary string, alternatives []string, timeout time.Duration) (result ValidationResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("validate panicked", "selector", primary, "panic", p)
			result = ValidationResult{Error: fmt.Sprintf("internal error: %v", p), Code: uierr.CodeInternal}
		}
	}()

	spec, err := NewSpec(primary, alternatives, timeout)
	if err != nil {
		return failed(err)
	}
	snap, err := r.Resolve(ctx, spec)
	switch {
	case err == nil:
		return ValidationResult{Exists: true, Element: snap}
	case errors.Is(err, uierr.ErrElementNotFound):
		return ValidationResult{}
	default:
		return failed(err)
	}
}

func failed(err error) ValidationResult {
	return ValidationResult{Error: err.Error(), Code: uierr.Code(err)}
}
