package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/dbscrub/internal/logging"
	"github.com/johndauphine/dbscrub/internal/scrub"
)

// WindowUpdate is the JSON shape emitted per completed window for
// automation consumers (Airflow and the like).
type WindowUpdate struct {
	Timestamp    string `json:"timestamp"`
	WindowLow    int64  `json:"window_low"`
	RowsAffected int64  `json:"rows_affected"`
	RowsTotal    int64  `json:"rows_total,omitempty"`
}

// JSONReporter writes one JSON line per window to a writer (typically
// stderr). Updates may be throttled; the final window always flushes.
type JSONReporter struct {
	writer     io.Writer
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
	rowsTotal  int64
}

// NewJSONReporter creates a JSON window reporter. interval is the minimum
// time between updates, zero disables throttling.
func NewJSONReporter(writer io.Writer, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{writer: writer, interval: interval}
}

// SetRowsTotal sets the total row count included in each update.
func (r *JSONReporter) SetRowsTotal(total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rowsTotal = total
}

// WindowDone implements scrub.Reporter.
func (r *JSONReporter) WindowDone(p scrub.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.interval > 0 && now.Sub(r.lastReport) < r.interval {
		return
	}
	r.lastReport = now

	update := WindowUpdate{
		Timestamp:    now.Format(time.RFC3339),
		WindowLow:    p.WindowLow,
		RowsAffected: p.RowsAffected,
		RowsTotal:    r.rowsTotal,
	}
	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
}

// LogReporter logs each completed window through the standard logger.
type LogReporter struct{}

// WindowDone implements scrub.Reporter.
func (LogReporter) WindowDone(p scrub.Progress) {
	logging.Info("Window %d done: %d rows", p.WindowLow, p.RowsAffected)
}

// Multi fans a Progress Record out to several reporters in order.
type Multi []scrub.Reporter

// WindowDone implements scrub.Reporter.
func (m Multi) WindowDone(p scrub.Progress) {
	for _, r := range m {
		r.WindowDone(p)
	}
}
