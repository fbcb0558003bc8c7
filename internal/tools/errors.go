package tools

import (
	"context"
	"errors"
	"fmt"

	"agentviewport/internal/capture"
	"agentviewport/internal/input"
)

// Category classifies a tool failure.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryTransient  Category = "transient"
	CategoryInternal   Category = "internal"
)

// ToolError is a categorized tool failure.
type ToolError struct {
	Category Category
	Err      error
}

func (e *ToolError) Error() string { return e.Err.Error() }
func (e *ToolError) Unwrap() error { return e.Err }

func validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

func notFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// classify maps an error from a tool handler onto errorInfo.
func classify(err error) *errorInfo {
	var te *ToolError
	if errors.As(err, &te) {
		return &errorInfo{Category: string(te.Category), Retryable: te.Category == CategoryTransient}
	}
	switch {
	case errors.Is(err, input.ErrInvalidCommand):
		return &errorInfo{Category: string(CategoryValidation)}
	case errors.Is(err, capture.ErrNoDisplay),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &errorInfo{Category: string(CategoryTransient), Retryable: true}
	}
	return &errorInfo{Category: string(CategoryInternal)}
}
