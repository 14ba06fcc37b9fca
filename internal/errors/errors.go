// Package errors provides centralized error definitions and error handling utilities
// for sightline. It defines the reconciliation error taxonomy, typed errors that
// carry entity context, and classification helpers.
//
// # Error Types
//
// Sentinel errors identify the broad category of a failure:
//   - ErrMissingEntityID: an identified event arrived without its id (contract violation)
//   - ErrMalformedEvent: an inbound record could not be decoded
//   - ErrRunActive / ErrRunNotActive: re-entrant start or stop without a run
//   - ErrNodeNotFound / ErrCycle: dependency graph failures
//   - ErrRunNotFound / ErrSnapshotNotFound / ErrCacheEntryNotFound: storage lookups
//
// Typed errors carry context and unwrap to the sentinels:
//   - ContractViolationError: event type and missing field
//   - GraphError: node id and, for cycles, the nodes involved
//   - StoreError: which store and which key failed
//
// # Usage
//
//	err := errors.NewContractViolation("task_start", "task_id")
//	if errors.Is(err, errors.ErrMissingEntityID) { ... }
//
//	var cycle *errors.GraphError
//	if errors.As(err, &cycle) { fmt.Println(cycle.Nodes) }
//
// Reducers never return errors: contract violations are logged and dropped.
// These types exist for the boundary decoder, the graph engine, and storage.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Event stream sentinel errors
var (
	// ErrMissingEntityID indicates an identified event arrived without its id.
	ErrMissingEntityID = New("event is missing its entity id")
	// ErrMalformedEvent indicates an inbound record could not be decoded.
	ErrMalformedEvent = New("malformed event")
	// ErrUnknownEventType indicates an event type outside the known catalog.
	// It is informational only; unknown events are never fatal.
	ErrUnknownEventType = New("unknown event type")
)

// Run lifecycle sentinel errors
var (
	// ErrRunActive indicates a start was requested while a run is in flight.
	ErrRunActive = New("a run is already active")
	// ErrRunNotActive indicates a stop was requested with no run in flight.
	ErrRunNotActive = New("no active run")
)

// Graph sentinel errors
var (
	// ErrNodeNotFound indicates a node id does not exist in the graph.
	ErrNodeNotFound = New("node not found")
	// ErrCycle indicates a dependency cycle.
	ErrCycle = New("dependency cycle detected")
)

// Storage sentinel errors
var (
	// ErrRunNotFound indicates a persisted run does not exist.
	ErrRunNotFound = New("run not found")
	// ErrSnapshotNotFound indicates no graph snapshot exists for a project.
	ErrSnapshotNotFound = New("graph snapshot not found")
	// ErrCacheEntryNotFound indicates no execution record exists for an artifact.
	ErrCacheEntryNotFound = New("cache entry not found")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// SightlineError is the base interface for all typed errors in this module.
type SightlineError interface {
	error
	Unwrap() error
	Severity() Severity
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Contract Violations
// -----------------------------------------------------------------------------

// ContractViolationError reports an identified event that arrived without the
// field that names its entity. These are logged and dropped, never surfaced.
type ContractViolationError struct {
	baseError
	EventType string
	Field     string
}

// NewContractViolation creates a ContractViolationError for the given event
// type and missing field.
func NewContractViolation(eventType, field string) *ContractViolationError {
	return &ContractViolationError{
		baseError: baseError{
			message:  "missing required field",
			cause:    ErrMissingEntityID,
			severity: SeverityWarning,
		},
		EventType: eventType,
		Field:     field,
	}
}

// Error returns the formatted error message.
func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation [event=%s, field=%s]: %s", e.EventType, e.Field, e.message)
}

// -----------------------------------------------------------------------------
// Graph Errors
// -----------------------------------------------------------------------------

// GraphError represents a dependency graph failure.
//
// Example:
//
//	err := errors.NewGraphError("complete node", errors.ErrNodeNotFound).WithNode("build-api")
//	fmt.Println(err) // "graph error [node=build-api]: complete node: node not found"
type GraphError struct {
	baseError
	NodeID string
	Nodes  []string
}

// NewGraphError creates a new GraphError.
func NewGraphError(message string, cause error) *GraphError {
	return &GraphError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// NewCycleError creates a GraphError describing a dependency cycle among nodes.
func NewCycleError(nodes []string) *GraphError {
	e := NewGraphError("graph is not acyclic", ErrCycle)
	e.Nodes = append([]string(nil), nodes...)
	return e
}

// WithNode adds a node id to the error context.
func (e *GraphError) WithNode(id string) *GraphError {
	e.NodeID = id
	return e
}

// Error returns the formatted error message.
func (e *GraphError) Error() string {
	var parts []string
	if e.NodeID != "" {
		parts = append(parts, fmt.Sprintf("node=%s", e.NodeID))
	}
	if len(e.Nodes) > 0 {
		parts = append(parts, fmt.Sprintf("nodes=%s", strings.Join(e.Nodes, ",")))
	}

	prefix := "graph error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("graph error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Storage Errors
// -----------------------------------------------------------------------------

// StoreError represents a persistence failure in one of the stores
// (run history, execution cache, graph snapshots).
type StoreError struct {
	baseError
	Store string
	Key   string
}

// NewStoreError creates a new StoreError.
func NewStoreError(store, message string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Store: store,
	}
}

// WithKey adds the key being accessed to the error context.
func (e *StoreError) WithKey(key string) *StoreError {
	e.Key = key
	return e
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	prefix := fmt.Sprintf("%s store error", e.Store)
	if e.Key != "" {
		prefix = fmt.Sprintf("%s store error [key=%s]", e.Store, e.Key)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsContractViolation reports whether err is, or wraps, a contract violation.
func IsContractViolation(err error) bool {
	return Is(err, ErrMissingEntityID)
}

// IsUserFacing returns true if the error message is safe to display to users.
// Reconciliation problems (contract violations, malformed events) are internal
// and never user facing.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	if IsContractViolation(err) || Is(err, ErrMalformedEvent) {
		return false
	}

	var typed SightlineError
	if As(err, &typed) {
		return typed.IsUserFacing()
	}

	return Is(err, ErrRunActive) || Is(err, ErrRunNotActive) ||
		Is(err, ErrRunNotFound) || Is(err, ErrSnapshotNotFound)
}

// GetSeverity returns the severity of an error, defaulting to SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var typed SightlineError
	if As(err, &typed) {
		return typed.Severity()
	}

	return SeverityError
}

// Wrap wraps an error with additional context.
// Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
