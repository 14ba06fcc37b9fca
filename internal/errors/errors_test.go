package errors

import (
	"errors"
	"fmt"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ContractViolationError Tests
// -----------------------------------------------------------------------------

func TestNewContractViolation(t *testing.T) {
	err := NewContractViolation("task_start", "task_id")

	if err.EventType != "task_start" {
		t.Errorf("EventType = %q, want %q", err.EventType, "task_start")
	}
	if err.Field != "task_id" {
		t.Errorf("Field = %q, want %q", err.Field, "task_id")
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}
	if !errors.Is(err, ErrMissingEntityID) {
		t.Error("errors.Is(err, ErrMissingEntityID) = false, want true")
	}

	want := "contract violation [event=task_start, field=task_id]: missing required field"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsContractViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed", NewContractViolation("plan_winner", "selected_candidate_id"), true},
		{"wrapped typed", fmt.Errorf("decode: %w", NewContractViolation("task_failed", "task_id")), true},
		{"sentinel", ErrMissingEntityID, true},
		{"malformed", ErrMalformedEvent, false},
		{"other", New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsContractViolation(tt.err); got != tt.want {
				t.Errorf("IsContractViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// GraphError Tests
// -----------------------------------------------------------------------------

func TestGraphError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *GraphError
		want string
	}{
		{
			name: "node context",
			err:  NewGraphError("complete node", ErrNodeNotFound).WithNode("build-api"),
			want: "graph error [node=build-api]: complete node: node not found",
		},
		{
			name: "no context",
			err:  NewGraphError("empty graph", nil),
			want: "graph error: empty graph",
		},
		{
			name: "cycle",
			err:  NewCycleError([]string{"a", "b", "a"}),
			want: "graph error [nodes=a,b,a]: graph is not acyclic: dependency cycle detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewCycleError_CopiesNodes(t *testing.T) {
	nodes := []string{"a", "b"}
	err := NewCycleError(nodes)
	nodes[0] = "mutated"

	if err.Nodes[0] != "a" {
		t.Errorf("Nodes[0] = %q, want %q", err.Nodes[0], "a")
	}
	if !errors.Is(err, ErrCycle) {
		t.Error("errors.Is(err, ErrCycle) = false, want true")
	}

	var graphErr *GraphError
	if !errors.As(fmt.Errorf("replace: %w", err), &graphErr) {
		t.Fatal("errors.As(*GraphError) = false, want true")
	}
	if len(graphErr.Nodes) != 2 {
		t.Errorf("len(Nodes) = %d, want 2", len(graphErr.Nodes))
	}
}

// -----------------------------------------------------------------------------
// StoreError Tests
// -----------------------------------------------------------------------------

func TestStoreError_Error(t *testing.T) {
	cause := New("disk full")
	tests := []struct {
		name string
		err  *StoreError
		want string
	}{
		{
			name: "with key",
			err:  NewStoreError("run", "failed to write run", cause).WithKey("01HZX"),
			want: "run store error [key=01HZX]: failed to write run: disk full",
		},
		{
			name: "without key",
			err:  NewStoreError("cache", "failed to open", nil),
			want: "cache store error: failed to open",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStoreError_Unwrap(t *testing.T) {
	err := NewStoreError("run", "load", ErrRunNotFound).WithKey("abc")
	if !errors.Is(err, ErrRunNotFound) {
		t.Error("errors.Is(err, ErrRunNotFound) = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"contract violation", NewContractViolation("task_start", "task_id"), false},
		{"malformed event", fmt.Errorf("line 3: %w", ErrMalformedEvent), false},
		{"run active", ErrRunActive, true},
		{"run not active", ErrRunNotActive, true},
		{"run not found", fmt.Errorf("load: %w", ErrRunNotFound), true},
		{"cycle", NewCycleError([]string{"a"}), true},
		{"store error", NewStoreError("cache", "open", nil), true},
		{"plain", New("something"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityDebug},
		{"contract violation", NewContractViolation("x", "y"), SeverityWarning},
		{"graph", NewGraphError("x", nil), SeverityError},
		{"plain", New("x"), SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrap(ErrCycle, "replace graph")
	if err.Error() != "replace graph: dependency cycle detected" {
		t.Errorf("Wrap() = %q", err.Error())
	}
	if !errors.Is(err, ErrCycle) {
		t.Error("Wrap should preserve the chain")
	}

	err = Wrapf(ErrNodeNotFound, "node %q", "a")
	if err.Error() != `node "a": node not found` {
		t.Errorf("Wrapf() = %q", err.Error())
	}
}
