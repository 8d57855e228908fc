package notify

import "time"

// Provider defines the notification contract for scrub events. The
// interface allows different backends and mock implementations in tests.
type Provider interface {
	// ScrubStarted sends notification when a scrub run starts.
	ScrubStarted(runID, database, table, column, transformer string) error

	// ScrubCompleted sends notification when a run completes successfully.
	ScrubCompleted(runID string, startTime time.Time, duration time.Duration, windows, rowCount int64, throughput float64) error

	// ScrubFailed sends notification when a run fails.
	ScrubFailed(runID string, err error, duration time.Duration) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
