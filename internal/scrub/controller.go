// Package scrub implements the batch window controller that drives a
// sensitive column through an anonymizing transformer in fixed-size,
// independently committed identifier windows.
package scrub

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/dbscrub/internal/logging"
)

// boundarySkip is the extra advance applied after each window. The original
// scrub procedure moved the cursor by batch+1, so the identifier at each
// window's exclusive upper bound was never visited. Full-coverage mode
// drops the skip and produces an exact half-open partition.
const boundarySkip = 1

// RangeMode controls how the identifier range is derived during a run.
type RangeMode string

const (
	// RangeSnapshot derives [min,max] once at start. Rows inserted above
	// the original max during the run are never visited.
	RangeSnapshot RangeMode = "snapshot"

	// RangeFollow re-queries the maximum identifier after every window,
	// so rows inserted above the original max are still scrubbed.
	RangeFollow RangeMode = "follow"
)

// Store is the row store the controller drives. ScrubWindow must apply the
// transformer to every row with identifier in [lo, hi) and commit the
// update as one atomic unit before returning.
type Store interface {
	// IDRange returns the current minimum and maximum identifier.
	// ok is false when the record set is empty.
	IDRange(ctx context.Context) (min, max int64, ok bool, err error)

	// MaxID returns the current maximum identifier, used in follow mode.
	MaxID(ctx context.Context) (max int64, ok bool, err error)

	// ScrubWindow transforms rows with identifier in [lo, hi) and returns
	// the number of rows actually modified.
	ScrubWindow(ctx context.Context, lo, hi int64) (int64, error)
}

// Progress is the observational record emitted after each window's
// checkpoint. It is never read back by the controller.
type Progress struct {
	WindowLow    int64
	RowsAffected int64
}

// Reporter receives one Progress per completed window.
type Reporter interface {
	WindowDone(p Progress)
}

// NullReporter discards progress records.
type NullReporter struct{}

// WindowDone does nothing.
func (NullReporter) WindowDone(Progress) {}

// Options configures a Controller.
type Options struct {
	// BatchSize is the window width in identifier values. Must be > 0.
	BatchSize int64

	// FullCoverage switches the cursor advance from batch+1 to batch,
	// closing the historical one-identifier gap at each window edge.
	FullCoverage bool

	// RangeMode selects snapshot or follow range derivation.
	// Defaults to RangeSnapshot.
	RangeMode RangeMode

	// TransformerIdempotent declares whether the transformer applied by
	// the store is safe to reapply. Re-running after a partial failure
	// revisits committed rows; a non-idempotent transformer then
	// double-transforms them. The controller only warns.
	TransformerIdempotent bool
}

// Summary describes a completed run.
type Summary struct {
	Windows      int64
	RowsAffected int64
	MinID        int64
	MaxID        int64
	Empty        bool
	Duration     time.Duration
}

// Controller walks the identifier space window by window. It holds a single
// mutable cursor and no other state between windows.
type Controller struct {
	store    Store
	reporter Reporter
	opts     Options
}

// New creates a Controller. It fails fast on a non-positive batch size.
func New(store Store, reporter Reporter, opts Options) (*Controller, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.RangeMode == "" {
		opts.RangeMode = RangeSnapshot
	}
	if opts.RangeMode != RangeSnapshot && opts.RangeMode != RangeFollow {
		return nil, fmt.Errorf("unknown range mode %q", opts.RangeMode)
	}
	if reporter == nil {
		reporter = NullReporter{}
	}
	return &Controller{store: store, reporter: reporter, opts: opts}, nil
}

// advance returns the next window lower bound after a window at lo.
func (c *Controller) advance(lo int64) int64 {
	if c.opts.FullCoverage {
		return lo + c.opts.BatchSize
	}
	return lo + c.opts.BatchSize + boundarySkip
}

// Run scrubs every window in [min,max]. Each window is committed before the
// next starts, so an aborted run leaves a clean prefix of transformed
// windows and nothing else. Failures are fatal: no retry, no skip.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	if !c.opts.TransformerIdempotent {
		logging.Warn("Transformer is not idempotent: re-running after a partial failure will re-transform already scrubbed rows")
	}

	lo, hi, ok, err := c.store.IDRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("deriving identifier range: %w", err)
	}
	if !ok {
		logging.Info("Record set is empty, nothing to scrub")
		return &Summary{Empty: true, Duration: time.Since(start)}, nil
	}

	summary := &Summary{MinID: lo, MaxID: hi}
	logging.Info("Scrubbing identifiers %d..%d in windows of %d", lo, hi, c.opts.BatchSize)

	for lo <= hi {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		upper := lo + c.opts.BatchSize
		affected, err := c.store.ScrubWindow(ctx, lo, upper)
		if err != nil {
			return summary, fmt.Errorf("scrubbing window [%d,%d): %w", lo, upper, err)
		}

		summary.Windows++
		summary.RowsAffected += affected
		c.reporter.WindowDone(Progress{WindowLow: lo, RowsAffected: affected})
		logging.Debug("Window [%d,%d): %d rows", lo, upper, affected)

		lo = c.advance(lo)

		if c.opts.RangeMode == RangeFollow {
			max, ok, err := c.store.MaxID(ctx)
			if err != nil {
				return summary, fmt.Errorf("refreshing max identifier: %w", err)
			}
			if ok && max > hi {
				hi = max
				summary.MaxID = max
			}
		}
	}

	summary.Duration = time.Since(start)
	logging.Info("Scrub complete: %d rows in %d windows (%s)",
		summary.RowsAffected, summary.Windows, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// Plan returns the window lower bounds a run over [min,max] would visit,
// without touching any data. Used by the dry-run command.
func (c *Controller) Plan(ctx context.Context) ([]int64, error) {
	lo, hi, ok, err := c.store.IDRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("deriving identifier range: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var lows []int64
	for lo <= hi {
		lows = append(lows, lo)
		lo = c.advance(lo)
	}
	return lows, nil
}
