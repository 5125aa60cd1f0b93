// Package logger provides structured logging for docharvest on top of zerolog.
//
// Components receive a Logger in their constructor. Passing nil falls back to
// the global logger configured by Initialize.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "acquirer")
//	log.InfoWithFields("Scan complete", map[string]interface{}{
//	    "repo":           "octo/docs",
//	    "relevant_files": 42,
//	})
//
// Console output goes to stderr so command output on stdout stays clean. When
// Logging.File is set, JSON lines are also appended to that file.
//
// Tests use NewNopLogger, or NewTestLogger to assert on captured messages.
package logger
