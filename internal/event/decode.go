package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Iron-Ham/sightline/internal/errors"
	"github.com/Iron-Ham/sightline/internal/registry"
)

// Envelope is the wire record: {"type": ..., "data": {...}, "timestamp": ...}.
// Timestamp is either RFC 3339 text or fractional Unix seconds.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// decoders maps each known wire type to a constructor for its payload. The
// constructor returns a pointer that Decode unmarshals into.
var decoders = map[string]func() Event{
	TypePlanStart:          func() Event { return &PlanStart{} },
	TypeComplete:           func() Event { return &Complete{} },
	TypeError:              func() Event { return &Error{} },
	TypeRunStopped:         func() Event { return &RunStopped{} },
	TypeTaskStart:          func() Event { return &TaskStart{} },
	TypeTaskProgress:       func() Event { return &TaskProgress{} },
	TypeTaskComplete:       func() Event { return &TaskComplete{} },
	TypeTaskFailed:         func() Event { return &TaskFailed{} },
	TypeCandidateStart:     func() Event { return &CandidateStart{} },
	TypeCandidateGenerated: func() Event { return &CandidateGenerated{} },
	TypeCandidateScored:    func() Event { return &CandidateScored{} },
	TypeCandidatesComplete: func() Event { return &CandidatesComplete{} },
	TypeScoringComplete:    func() Event { return &ScoringComplete{} },
	TypeWinner:             func() Event { return &Winner{} },
	TypeRefineStart:        func() Event { return &RefineStart{} },
	TypeRefineAttempt:      func() Event { return &RefineAttempt{} },
	TypeRefineComplete:     func() Event { return &RefineComplete{} },
	TypeRefineFinal:        func() Event { return &RefineFinal{} },
	TypeMemoryLearning:     func() Event { return &MemoryLearning{} },
	TypeConvergenceStart:   func() Event { return &ConvergenceStart{} },
	TypeIterationStart:     func() Event { return &IterationStart{} },
	TypeIterationComplete:  func() Event { return &IterationComplete{} },
	TypeConvergenceFixing:  func() Event { return &Fixing{} },
	TypeConvergenceStable:  func() Event { return &Stable{} },
	TypeConvergenceTimeout: func() Event { return &Timeout{} },
	TypeConvergenceStuck:   func() Event { return &Stuck{} },
	TypeMaxIterations:      func() Event { return &MaxIterations{} },
	TypeBudgetExceeded:     func() Event { return &BudgetExceeded{} },
}

// Known reports whether eventType is part of the known catalog.
func Known(eventType string) bool {
	_, ok := decoders[eventType]
	return ok
}

// Decode parses one wire record into a typed event. Unknown types decode to
// Unrecognized without error. Records that are not valid JSON, have no type,
// or whose payload does not match the type's shape return ErrMalformedEvent.
//
// Decode does not enforce required ids; see Validate.
func Decode(line []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope decodes an already-split wire record.
func DecodeEnvelope(env Envelope) (Event, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", errors.ErrMalformedEvent)
	}

	at, err := parseTimestamp(env.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrMalformedEvent, env.Type, err)
	}

	newEvent, ok := decoders[env.Type]
	if !ok {
		return Unrecognized{Stamp: Stamp{At: at}, Type: env.Type, Data: bytes.Clone(env.Data)}, nil
	}

	data := env.Data
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = []byte("{}")
	}

	target := newEvent()
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrMalformedEvent, env.Type, err)
	}
	if err := applyAliases(target, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrMalformedEvent, env.Type, err)
	}

	return stamp(target, at), nil
}

// taskAlias carries the legacy id field some producers send for task events.
type taskAlias struct {
	ArtifactID string `json:"artifact_id"`
}

// completeAlias carries the short count names some producers send.
type completeAlias struct {
	Completed *int `json:"completed"`
	Failed    *int `json:"failed"`
}

// applyAliases fills canonical fields from their legacy aliases.
func applyAliases(target Event, data []byte) error {
	switch e := target.(type) {
	case *TaskStart:
		return aliasTaskID(&e.TaskID, data)
	case *TaskProgress:
		return aliasTaskID(&e.TaskID, data)
	case *TaskComplete:
		return aliasTaskID(&e.TaskID, data)
	case *TaskFailed:
		return aliasTaskID(&e.TaskID, data)
	case *Complete:
		var alias completeAlias
		if err := json.Unmarshal(data, &alias); err != nil {
			return err
		}
		if e.TasksCompleted == 0 && alias.Completed != nil {
			e.TasksCompleted = *alias.Completed
		}
		if e.TasksFailed == 0 && alias.Failed != nil {
			e.TasksFailed = *alias.Failed
		}
	}
	return nil
}

func aliasTaskID(id *string, data []byte) error {
	if registry.Normalize(*id) != "" {
		return nil
	}
	var alias taskAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*id = alias.ArtifactID
	return nil
}

// stamp sets the timestamp and dereferences the decode target so callers
// always receive value types.
func stamp(target Event, at time.Time) Event {
	switch e := target.(type) {
	case *PlanStart:
		e.At = at
		return *e
	case *Complete:
		e.At = at
		return *e
	case *Error:
		e.At = at
		return *e
	case *RunStopped:
		e.At = at
		return *e
	case *TaskStart:
		e.At = at
		return *e
	case *TaskProgress:
		e.At = at
		return *e
	case *TaskComplete:
		e.At = at
		return *e
	case *TaskFailed:
		e.At = at
		return *e
	case *CandidateStart:
		e.At = at
		return *e
	case *CandidateGenerated:
		e.At = at
		return *e
	case *CandidateScored:
		e.At = at
		return *e
	case *CandidatesComplete:
		e.At = at
		return *e
	case *ScoringComplete:
		e.At = at
		return *e
	case *Winner:
		e.At = at
		return *e
	case *RefineStart:
		e.At = at
		return *e
	case *RefineAttempt:
		e.At = at
		return *e
	case *RefineComplete:
		e.At = at
		return *e
	case *RefineFinal:
		e.At = at
		return *e
	case *MemoryLearning:
		e.At = at
		return *e
	case *ConvergenceStart:
		e.At = at
		return *e
	case *IterationStart:
		e.At = at
		return *e
	case *IterationComplete:
		e.At = at
		return *e
	case *Fixing:
		e.At = at
		return *e
	case *Stable:
		e.At = at
		return *e
	case *Timeout:
		e.At = at
		return *e
	case *Stuck:
		e.At = at
		return *e
	case *MaxIterations:
		e.At = at
		return *e
	case *BudgetExceeded:
		e.At = at
		return *e
	}
	return target
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
		}
		return t, nil
	}

	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
	}
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * 1e9)
	return time.Unix(whole, nanos).UTC(), nil
}

// Encode renders e as a wire record. Decode(Encode(e)) yields an equal
// event for every known type.
func Encode(e Event) ([]byte, error) {
	env := Envelope{Type: e.EventType()}

	if u, ok := e.(Unrecognized); ok {
		env.Data = bytes.Clone(u.Data)
	} else {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", e.EventType(), err)
		}
		env.Data = data
	}

	if at := e.Timestamp(); !at.IsZero() {
		ts, err := json.Marshal(at.Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		env.Timestamp = ts
	}

	return json.Marshal(env)
}

// Validate reports a contract violation when an identified event arrives
// without its id. Events that do not identify an entity are always valid.
func Validate(e Event) error {
	id, ok := e.(Identified)
	if !ok {
		return nil
	}
	if registry.Normalize(id.EntityID()) == "" {
		return errors.NewContractViolation(e.EventType(), id.IDField())
	}
	return nil
}
