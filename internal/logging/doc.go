// Package logging provides structured logging for sightline.
//
// It wraps Go's log/slog JSON handler and adds run context propagation,
// size-based rotation, and a small reader for filtering log files after the
// fact (used by `sightline logs`).
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(dataDir, "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("run started", "goal", goal)
//
// # Context Propagation
//
// Child loggers carry persistent attributes and share the parent's file:
//
//	reducerLog := logger.WithRun(runID).WithComponent("reducer")
//	reducerLog.Warn("contract violation", "event", "task_start", "field", "task_id")
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"contract violation","run_id":"01J...","component":"reducer","event":"task_start","field":"task_id"}
//
// # Levels and the reducer
//
// The reducer never returns errors. What it tolerates is visible only in the
// log, at fixed levels:
//
//   - [LevelWarn]: contract violations and synthesized tasks
//   - [LevelDebug]: unknown event types and events dropped by a terminal run
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(dataDir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named sightline.log.1 (newest) through sightline.log.N,
// gzip compressed when Compress is set.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on what was logged.
package logging
