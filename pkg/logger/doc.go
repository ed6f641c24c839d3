// Package logger provides the structured logging interface used across
// epmcquery.
//
// It wraps zerolog behind a small Logger interface:
// - Levels (Debug, Info, Warn, Error, Fatal)
// - Field-carrying child loggers (WithField, WithFields, WithError)
// - Colored console output on stderr, or JSON when a file or the json format is configured
// - A global logger initialised once by the CLI
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//
//	log := logger.GetLogger().WithField("run_id", runID)
//	log.InfoWithFields("page written", map[string]interface{}{
//	    "sequence": 42,
//	    "records":  1000,
//	})
//
// Tests use NewTestLogger to capture messages or NewNopLogger to discard them.
package logger
