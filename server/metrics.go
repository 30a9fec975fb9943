package server

import "time"

// MetricsCollector is an optional hook for exporting server metrics.
//
// Methods are called inline from sessions and the supervisor, so they must
// not block. A nil collector is never called.
type MetricsCollector interface {
	// RecordCommand is called after every dispatched command.
	// success is false when the final reply was 4xx or 5xx.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer is called after a completed RETR, STOR or LIST.
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection is called for every accepted control connection.
	// reason is "accepted" or why it was turned away, e.g. "limit_reached".
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication is called for every USER/PASS decision.
	RecordAuthentication(success bool, user string)

	// RecordSessions reports the supervisor's counts after each cycle.
	RecordSessions(active, queued int)
}
