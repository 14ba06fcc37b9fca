// Package event defines the typed agent event stream and a synchronous
// pub-sub bus.
//
// The backend emits an open, versioned catalog of {type, data} records. This
// package decodes each record once, at the boundary, into a closed set of Go
// types; anything outside the catalog becomes [Unrecognized] so the reducer
// can ignore it without failing.
//
// # Main Types
//
//   - [Event]: EventType() and Timestamp(), implemented by every variant
//   - [Identified]: events that name an entity (task, candidate, round, iteration)
//   - [Decode] / [Encode]: wire records to typed events and back
//   - [Validate]: reports a contract violation for an identified event without its id
//   - [Bus]: synchronous pub-sub used by the client for side effects
//
// # Event Categories
//
// Run: [PlanStart], [Complete], [Error], [RunStopped].
//
// Tasks: [TaskStart], [TaskProgress], [TaskComplete], [TaskFailed]. The id is
// read from task_id, falling back to the legacy artifact_id.
//
// Planning: [CandidateStart], [CandidateGenerated], [CandidateScored],
// [CandidatesComplete], [ScoringComplete], [Winner], and the refinement
// rounds [RefineStart], [RefineAttempt], [RefineComplete], [RefineFinal].
//
// Convergence: [ConvergenceStart], [IterationStart], [IterationComplete],
// [Fixing], and the terminal [Stable], [Timeout], [Stuck], [MaxIterations],
// [BudgetExceeded].
//
// # Usage
//
//	ev, err := event.Decode(line)
//	if err != nil {
//	    logger.Warn("dropping malformed event", "error", err)
//	    continue
//	}
//	client.Apply(ev)
//
// # Thread Safety
//
// Events are immutable values. The [Bus] is safe for concurrent use;
// handlers run synchronously on the publishing goroutine and a panicking
// handler is recovered and logged.
package event
