// Completion: 100% - Program failure collection and reporting
package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xyproto/instgen/internal/engine"
)

// ProgramError is the failure of one generated program
type ProgramError struct {
	Index int
	Seed  int64
	Err   error
}

func (e ProgramError) Error() string {
	return fmt.Sprintf("program %d (seed %d): %v", e.Index, e.Seed, e.Err)
}

func (e ProgramError) Unwrap() error {
	return e.Err
}

// Format returns the failure with the engine diagnostic, if there is one
func (e ProgramError) Format(useColor bool) string {
	var sb strings.Builder
	if useColor {
		sb.WriteString("\033[1m")
	}
	sb.WriteString(fmt.Sprintf("program %d (seed %d):", e.Index, e.Seed))
	if useColor {
		sb.WriteString("\033[0m")
	}
	sb.WriteString(" ")

	var gen *engine.GenError
	if errors.As(e.Err, &gen) {
		if msg := e.Err.Error(); msg != gen.Error() {
			// Keep the outer context, such as the scenario name
			sb.WriteString(strings.TrimSuffix(msg, gen.Error()))
		}
		sb.WriteString(gen.Format(useColor))
		return sb.String()
	}
	sb.WriteString(e.Err.Error())
	sb.WriteString("\n")
	return sb.String()
}

// ErrorCollector accumulates program failures across parallel generation
type ErrorCollector struct {
	mu        sync.Mutex
	errors    []ProgramError
	maxErrors int
}

// NewErrorCollector creates a new error collector
func NewErrorCollector(maxErrors int) *ErrorCollector {
	if maxErrors <= 0 {
		maxErrors = 10 // Default: stop after 10 errors
	}
	return &ErrorCollector{maxErrors: maxErrors}
}

// AddError records a failure
func (ec *ErrorCollector) AddError(err ProgramError) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors = append(ec.errors, err)
}

// HasErrors returns true if any errors were collected
func (ec *ErrorCollector) HasErrors() bool {
	return ec.ErrorCount() > 0
}

// ErrorCount returns the number of errors
func (ec *ErrorCollector) ErrorCount() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.errors)
}

// ShouldStop returns true if we've hit the error limit
func (ec *ErrorCollector) ShouldStop() bool {
	return ec.ErrorCount() >= ec.maxErrors
}

// Errors returns the failures ordered by program index
func (ec *ErrorCollector) Errors() []ProgramError {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]ProgramError, len(ec.errors))
	copy(out, ec.errors)
	slices.SortFunc(out, func(a, b ProgramError) int { return a.Index - b.Index })
	return out
}

// Report formats all errors for display
func (ec *ErrorCollector) Report(useColor bool) string {
	errs := ec.Errors()
	if len(errs) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, err := range errs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(err.Format(useColor))
	}
	sb.WriteString("\n")
	if useColor {
		sb.WriteString("\033[1;31m")
	}
	sb.WriteString(fmt.Sprintf("%d error(s)", len(errs)))
	if useColor {
		sb.WriteString("\033[0m")
	}
	sb.WriteString(" found\n")
	return sb.String()
}
