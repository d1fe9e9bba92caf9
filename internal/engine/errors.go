// Completion: 100% - Error handling complete, clear and helpful messages
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every failure returned by the engine wraps exactly one of these,
// so callers can branch with errors.Is.
var (
	ErrResourceExhausted        = errors.New("resource exhausted")
	ErrResourceNotFound         = errors.New("resource not found")
	ErrBlockOverflow            = errors.New("block overflow")
	ErrNoMatchingInstruction    = errors.New("no matching instruction")
	ErrNoValidOperandAssignment = errors.New("no valid operand assignment")
	ErrInvalidOperandType       = errors.New("invalid operand type")
	ErrScopeState               = errors.New("invalid scope state")
)

// ErrorCategory classifies the type of error
type ErrorCategory int

const (
	CategoryResource ErrorCategory = iota
	CategoryMemory
	CategoryCatalog
	CategoryBinding
	CategoryScope
	CategoryInternal
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryResource:
		return "resource"
	case CategoryMemory:
		return "memory"
	case CategoryCatalog:
		return "catalog"
	case CategoryBinding:
		return "binding"
	case CategoryScope:
		return "scope"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

func categoryOf(kind error) ErrorCategory {
	switch kind {
	case ErrResourceExhausted, ErrResourceNotFound:
		return CategoryResource
	case ErrBlockOverflow:
		return CategoryMemory
	case ErrNoMatchingInstruction:
		return CategoryCatalog
	case ErrNoValidOperandAssignment:
		return CategoryBinding
	case ErrScopeState:
		return CategoryScope
	default:
		return CategoryInternal
	}
}

// GenError is a single generation failure
type GenError struct {
	Kind       error
	Category   ErrorCategory
	Message    string
	Suggestion string // "Did you mean 'x'?"
}

// Error implements the error interface
func (e *GenError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the sentinel for errors.Is
func (e *GenError) Unwrap() error {
	return e.Kind
}

// Format returns a nicely formatted error message
func (e *GenError) Format(useColor bool) string {
	var sb strings.Builder

	if useColor {
		sb.WriteString("\033[1;31m") // Bold red
	}
	sb.WriteString(e.Category.String())
	sb.WriteString(" error: ")
	if useColor {
		sb.WriteString("\033[0m")
	}
	sb.WriteString(e.Kind.Error())
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if e.Suggestion != "" {
		if useColor {
			sb.WriteString("\033[1;32m") // Bold green
		}
		sb.WriteString("   help: ")
		if useColor {
			sb.WriteString("\033[0m")
		}
		sb.WriteString(e.Suggestion)
		sb.WriteString("\n")
	}

	return sb.String()
}

func newError(kind error, format string, args ...any) *GenError {
	return &GenError{
		Kind:     kind,
		Category: categoryOf(kind),
		Message:  fmt.Sprintf(format, args...),
	}
}
