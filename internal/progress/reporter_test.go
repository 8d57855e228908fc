package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/dbscrub/internal/scrub"
)

func TestJSONReporterShape(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, 0)
	r.SetRowsTotal(2500)

	r.WindowDone(scrub.Progress{WindowLow: 1002, RowsAffected: 998})

	var update WindowUpdate
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &update); err != nil {
		t.Fatalf("invalid JSON: %v\nOutput: %s", err, buf.String())
	}
	if update.WindowLow != 1002 || update.RowsAffected != 998 || update.RowsTotal != 2500 {
		t.Errorf("update = %+v, want window_low=1002 rows_affected=998 rows_total=2500", update)
	}
	if update.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestJSONReporterThrottle(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, time.Hour)

	r.WindowDone(scrub.Progress{WindowLow: 1, RowsAffected: 10})
	r.WindowDone(scrub.Progress{WindowLow: 1002, RowsAffected: 10})
	r.WindowDone(scrub.Progress{WindowLow: 2003, RowsAffected: 10})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Errorf("throttled reporter emitted %d lines, want 1", len(lines))
	}
}

func TestMultiFanOut(t *testing.T) {
	var a, b []scrub.Progress
	collect := func(dst *[]scrub.Progress) scrub.Reporter {
		return reporterFunc(func(p scrub.Progress) { *dst = append(*dst, p) })
	}

	m := Multi{collect(&a), collect(&b)}
	p := scrub.Progress{WindowLow: 7, RowsAffected: 3}
	m.WindowDone(p)

	if len(a) != 1 || a[0] != p {
		t.Errorf("first reporter got %v", a)
	}
	if len(b) != 1 || b[0] != p {
		t.Errorf("second reporter got %v", b)
	}
}

type reporterFunc func(scrub.Progress)

func (f reporterFunc) WindowDone(p scrub.Progress) { f(p) }
