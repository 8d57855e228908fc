package scrub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
)

// fakeStore is an in-memory Store over a set of identifiers. It records
// every window request and how often each identifier was scrubbed.
type fakeStore struct {
	ids     []int64
	visited map[int64]int
	windows [][2]int64

	// failAtWindow aborts the Nth ScrubWindow call (0-based). -1 disables.
	failAtWindow int

	// insertAfterWindow appends an identifier after the Nth window commits,
	// simulating concurrent inserts during a run.
	insertAfterWindow map[int]int64
}

func newFakeStore(ids ...int64) *fakeStore {
	return &fakeStore{
		ids:          ids,
		visited:      make(map[int64]int),
		failAtWindow: -1,
	}
}

// idRange returns a closed range of identifiers lo..hi.
func idRange(lo, hi int64) []int64 {
	ids := make([]int64, 0, hi-lo+1)
	for id := lo; id <= hi; id++ {
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeStore) IDRange(ctx context.Context) (int64, int64, bool, error) {
	if len(s.ids) == 0 {
		return 0, 0, false, nil
	}
	min, max := s.ids[0], s.ids[0]
	for _, id := range s.ids {
		if id < min {
			min = id
		}
		if id > max {
			max = id
		}
	}
	return min, max, true, nil
}

func (s *fakeStore) MaxID(ctx context.Context) (int64, bool, error) {
	_, max, ok, err := s.IDRange(ctx)
	return max, ok, err
}

func (s *fakeStore) ScrubWindow(ctx context.Context, lo, hi int64) (int64, error) {
	idx := len(s.windows)
	if idx == s.failAtWindow {
		return 0, errors.New("injected failure")
	}
	s.windows = append(s.windows, [2]int64{lo, hi})

	var affected int64
	for _, id := range s.ids {
		if id >= lo && id < hi {
			s.visited[id]++
			affected++
		}
	}

	if newID, ok := s.insertAfterWindow[idx]; ok {
		s.ids = append(s.ids, newID)
	}
	return affected, nil
}

func (s *fakeStore) windowLows() []int64 {
	lows := make([]int64, len(s.windows))
	for i, w := range s.windows {
		lows[i] = w[0]
	}
	return lows
}

// recordingReporter collects Progress Records in order.
type recordingReporter struct {
	records []Progress
}

func (r *recordingReporter) WindowDone(p Progress) {
	r.records = append(r.records, p)
}

func equalInt64s(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBatchSizeValidation(t *testing.T) {
	for _, batch := range []int64{0, -1, -1000} {
		t.Run(fmt.Sprintf("batch=%d", batch), func(t *testing.T) {
			_, err := New(newFakeStore(1), nil, Options{BatchSize: batch})
			if err == nil {
				t.Errorf("New with batch size %d should fail", batch)
			}
		})
	}

	if _, err := New(newFakeStore(1), nil, Options{BatchSize: 1}); err != nil {
		t.Errorf("New with batch size 1 failed: %v", err)
	}
}

func TestUnknownRangeMode(t *testing.T) {
	_, err := New(newFakeStore(1), nil, Options{BatchSize: 10, RangeMode: "bogus"})
	if err == nil {
		t.Error("New with unknown range mode should fail")
	}
}

// The historical advance is batch+1, so window lower bounds step by 1001
// for a batch of 1000 and the identifier at each window's upper bound is
// never visited.
func TestWindowPartitionSkipsBoundary(t *testing.T) {
	store := newFakeStore(idRange(1, 2500)...)
	reporter := &recordingReporter{}

	ctrl, err := New(store, reporter, Options{BatchSize: 1000, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	summary, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantLows := []int64{1, 1002, 2003}
	if !equalInt64s(store.windowLows(), wantLows) {
		t.Errorf("window lows = %v, want %v", store.windowLows(), wantLows)
	}

	for _, skipped := range []int64{1001, 2002} {
		if store.visited[skipped] != 0 {
			t.Errorf("identifier %d should never be visited, scrubbed %d times", skipped, store.visited[skipped])
		}
	}

	// Everything except the two boundary identifiers is scrubbed once.
	wantRows := int64(2500 - 2)
	if summary.RowsAffected != wantRows {
		t.Errorf("RowsAffected = %d, want %d", summary.RowsAffected, wantRows)
	}
	if summary.Windows != 3 {
		t.Errorf("Windows = %d, want 3", summary.Windows)
	}
	if summary.MinID != 1 || summary.MaxID != 2500 {
		t.Errorf("range = [%d,%d], want [1,2500]", summary.MinID, summary.MaxID)
	}
	for id, n := range store.visited {
		if n != 1 {
			t.Errorf("identifier %d scrubbed %d times, want 1", id, n)
		}
	}
}

func TestFullCoverageVisitsEveryIdentifier(t *testing.T) {
	store := newFakeStore(idRange(1, 2500)...)

	ctrl, err := New(store, nil, Options{BatchSize: 1000, FullCoverage: true, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	summary, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantLows := []int64{1, 1001, 2001}
	if !equalInt64s(store.windowLows(), wantLows) {
		t.Errorf("window lows = %v, want %v", store.windowLows(), wantLows)
	}
	if summary.RowsAffected != 2500 {
		t.Errorf("RowsAffected = %d, want 2500", summary.RowsAffected)
	}
	for id := int64(1); id <= 2500; id++ {
		if store.visited[id] != 1 {
			t.Errorf("identifier %d scrubbed %d times, want 1", id, store.visited[id])
		}
	}
}

func TestEmptySetIsNoOp(t *testing.T) {
	store := newFakeStore()
	reporter := &recordingReporter{}

	ctrl, err := New(store, reporter, Options{BatchSize: 1000, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	summary, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !summary.Empty {
		t.Error("summary should report an empty record set")
	}
	if len(store.windows) != 0 {
		t.Errorf("no windows should be requested, got %d", len(store.windows))
	}
	if len(reporter.records) != 0 {
		t.Errorf("no progress records expected, got %d", len(reporter.records))
	}
}

func TestSingleRecord(t *testing.T) {
	store := newFakeStore(42)

	ctrl, err := New(store, nil, Options{BatchSize: 1000, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	summary, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Windows != 1 || summary.RowsAffected != 1 {
		t.Errorf("got %d windows / %d rows, want 1/1", summary.Windows, summary.RowsAffected)
	}
	if !equalInt64s(store.windowLows(), []int64{42}) {
		t.Errorf("window lows = %v, want [42]", store.windowLows())
	}
}

// A window failure aborts the run. Earlier windows stay committed and no
// later window is attempted.
func TestFailureIsFatal(t *testing.T) {
	store := newFakeStore(idRange(1, 2500)...)
	store.failAtWindow = 1
	reporter := &recordingReporter{}

	ctrl, err := New(store, reporter, Options{BatchSize: 1000, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	summary, err := ctrl.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail on the injected error")
	}

	// First window committed, failing window and everything after it did not run.
	if len(store.windows) != 1 {
		t.Errorf("%d windows committed, want 1", len(store.windows))
	}
	if summary.Windows != 1 {
		t.Errorf("summary.Windows = %d, want 1", summary.Windows)
	}
	if len(reporter.records) != 1 {
		t.Errorf("%d progress records, want 1", len(reporter.records))
	}
	for id := int64(1002); id <= 2500; id++ {
		if store.visited[id] != 0 {
			t.Errorf("identifier %d scrubbed after the failure point", id)
		}
	}
}

// Progress Records carry the window lower bound and the exact affected
// count, including zero for windows with no matching identifiers.
func TestProgressRecordAccuracy(t *testing.T) {
	// Sparse identifiers: the middle window matches nothing.
	store := newFakeStore(1, 2, 3, 2500, 2501)
	reporter := &recordingReporter{}

	ctrl, err := New(store, reporter, Options{BatchSize: 1000, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []Progress{
		{WindowLow: 1, RowsAffected: 3},
		{WindowLow: 1002, RowsAffected: 0},
		{WindowLow: 2003, RowsAffected: 2},
	}
	if len(reporter.records) != len(want) {
		t.Fatalf("%d progress records, want %d", len(reporter.records), len(want))
	}
	for i, p := range reporter.records {
		if p != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, p, want[i])
		}
	}
}

// In follow mode the controller re-queries the maximum identifier after
// each window and keeps going until it catches up with inserts.
func TestFollowModeChasesInserts(t *testing.T) {
	store := newFakeStore(idRange(1, 10)...)
	store.insertAfterWindow = map[int]int64{0: 20}

	ctrl, err := New(store, nil, Options{BatchSize: 5, RangeMode: RangeFollow, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	summary, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if store.visited[20] != 1 {
		t.Errorf("inserted identifier 20 scrubbed %d times, want 1", store.visited[20])
	}
	if summary.MaxID != 20 {
		t.Errorf("summary.MaxID = %d, want 20", summary.MaxID)
	}
}

func TestSnapshotModeIgnoresInserts(t *testing.T) {
	store := newFakeStore(idRange(1, 10)...)
	store.insertAfterWindow = map[int]int64{0: 20}

	ctrl, err := New(store, nil, Options{BatchSize: 5, RangeMode: RangeSnapshot, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	summary, err := ctrl.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if store.visited[20] != 0 {
		t.Errorf("identifier inserted mid-run should not be visited in snapshot mode, scrubbed %d times", store.visited[20])
	}
	if summary.MaxID != 10 {
		t.Errorf("summary.MaxID = %d, want 10", summary.MaxID)
	}
}

// The controller holds no state between runs: re-running over the same
// range produces the same windows.
func TestRerunProducesSameWindows(t *testing.T) {
	store := newFakeStore(idRange(1, 2500)...)

	ctrl, err := New(store, nil, Options{BatchSize: 1000, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	firstLows := append([]int64(nil), store.windowLows()...)
	store.windows = nil

	if _, err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !equalInt64s(store.windowLows(), firstLows) {
		t.Errorf("second run windows %v differ from first %v", store.windowLows(), firstLows)
	}

	for id, n := range store.visited {
		if id == 1001 || id == 2002 {
			continue
		}
		if n != 2 {
			t.Errorf("identifier %d scrubbed %d times over two runs, want 2", id, n)
		}
	}
}

func TestCancellationStopsBetweenWindows(t *testing.T) {
	store := newFakeStore(idRange(1, 2500)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl, err := New(store, nil, Options{BatchSize: 1000, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = ctrl.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	if len(store.windows) != 0 {
		t.Errorf("%d windows ran after cancellation, want 0", len(store.windows))
	}
}

func TestPlanDoesNotTouchData(t *testing.T) {
	store := newFakeStore(idRange(1, 2500)...)

	ctrl, err := New(store, nil, Options{BatchSize: 1000, TransformerIdempotent: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	lows, err := ctrl.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !equalInt64s(lows, []int64{1, 1002, 2003}) {
		t.Errorf("Plan = %v, want [1 1002 2003]", lows)
	}
	if len(store.windows) != 0 {
		t.Error("Plan must not request any window")
	}
	if len(store.visited) != 0 {
		t.Error("Plan must not scrub any row")
	}
}

func TestPlanEmptySet(t *testing.T) {
	ctrl, err := New(newFakeStore(), nil, Options{BatchSize: 1000})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	lows, err := ctrl.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(lows) != 0 {
		t.Errorf("Plan over empty set = %v, want none", lows)
	}
}

// Windows never overlap and always step by the same stride.
func TestWindowStride(t *testing.T) {
	tests := []struct {
		name         string
		batch        int64
		fullCoverage bool
		wantStride   int64
	}{
		{"default stride is batch+1", 100, false, 101},
		{"full coverage stride is batch", 100, true, 100},
		{"batch of one", 1, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(idRange(1, 1000)...)
			ctrl, err := New(store, nil, Options{BatchSize: tt.batch, FullCoverage: tt.fullCoverage, TransformerIdempotent: true})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if _, err := ctrl.Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			lows := store.windowLows()
			if !sort.SliceIsSorted(lows, func(i, j int) bool { return lows[i] < lows[j] }) {
				t.Fatalf("window lows not increasing: %v", lows)
			}
			for i := 1; i < len(lows); i++ {
				if got := lows[i] - lows[i-1]; got != tt.wantStride {
					t.Errorf("stride between windows %d and %d = %d, want %d", i-1, i, got, tt.wantStride)
				}
			}
		})
	}
}
