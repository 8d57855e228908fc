// Package orchestrator wires the configured row store, transformer,
// journal, notifier, and progress reporting around one scrub run.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/journal"
	"github.com/johndauphine/dbscrub/internal/logging"
	"github.com/johndauphine/dbscrub/internal/notify"
	"github.com/johndauphine/dbscrub/internal/progress"
	"github.com/johndauphine/dbscrub/internal/scrub"
	"github.com/johndauphine/dbscrub/internal/store"
	"github.com/johndauphine/dbscrub/internal/transform"
	"github.com/johndauphine/dbscrub/internal/verify"

	// Register row store engines.
	_ "github.com/johndauphine/dbscrub/internal/store/mssql"
	_ "github.com/johndauphine/dbscrub/internal/store/postgres"
	_ "github.com/johndauphine/dbscrub/internal/store/sqlite"
)

// Options controls optional orchestrator behavior.
type Options struct {
	// RunID overrides the generated run ID (for Airflow-style callers).
	RunID string

	// ShowProgress renders the terminal progress bar.
	ShowProgress bool

	// JSONWindows emits one JSON line per window to stderr.
	JSONWindows bool

	// Quiet suppresses per-window log lines (the TUI renders its own).
	Quiet bool

	// ExtraReporter receives Progress Records in addition to the built-in
	// sinks (used by the TUI).
	ExtraReporter scrub.Reporter
}

// RunResult is the machine-readable outcome of a run.
type RunResult struct {
	RunID        string  `json:"run_id"`
	Status       string  `json:"status"`
	Table        string  `json:"table"`
	Column       string  `json:"column"`
	Transformer  string  `json:"transformer"`
	BatchSize    int64   `json:"batch_size"`
	MinID        int64   `json:"min_id"`
	MaxID        int64   `json:"max_id"`
	Windows      int64   `json:"windows"`
	RowsAffected int64   `json:"rows_affected"`
	Duration     float64 `json:"duration_seconds"`
	Error        string  `json:"error,omitempty"`
}

// Orchestrator coordinates a scrub run.
type Orchestrator struct {
	cfg         *config.Config
	opts        Options
	transformer transform.Transformer
	store       store.Store
	journal     *journal.Journal
	notifier    notify.Provider
	runID       string
}

// New creates an orchestrator, connecting to the row store and opening
// the journal.
func New(cfg *config.Config, opts Options) (*Orchestrator, error) {
	t, err := transform.Resolve(cfg.Scrub.Transformer, cfg.Scrub.ConstantValue)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg, t)
	if err != nil {
		return nil, fmt.Errorf("opening row store: %w", err)
	}

	jnl, err := journal.New(cfg.Journal.DataDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Orchestrator{
		cfg:         cfg,
		opts:        opts,
		transformer: t,
		store:       st,
		journal:     jnl,
		notifier:    notify.New(&cfg.Slack),
		runID:       runID,
	}, nil
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string { return o.runID }

// SetExtraReporter installs an additional progress sink before Run.
func (o *Orchestrator) SetExtraReporter(r scrub.Reporter) {
	o.opts.ExtraReporter = r
}

// RowCount returns the current number of rows in the target table.
func (o *Orchestrator) RowCount(ctx context.Context) (int64, error) {
	return o.store.RowCount(ctx)
}

// Close releases the store and journal.
func (o *Orchestrator) Close() {
	if o.store != nil {
		o.store.Close()
	}
	if o.journal != nil {
		o.journal.Close()
	}
}

func (o *Orchestrator) controllerOptions() scrub.Options {
	return scrub.Options{
		BatchSize:             o.cfg.Scrub.BatchSize,
		FullCoverage:          o.cfg.Scrub.FullCoverage,
		RangeMode:             scrub.RangeMode(o.cfg.Scrub.RangeMode),
		TransformerIdempotent: o.transformer.Idempotent(),
	}
}

// Run executes the scrub and records it in the journal.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	if err := o.journal.CreateRun(o.runID, o.cfg.Scrub.Table, o.cfg.Scrub.Column,
		o.transformer.Name(), o.cfg.Scrub.BatchSize); err != nil {
		return nil, fmt.Errorf("journal: recording run start: %w", err)
	}

	if err := o.notifier.ScrubStarted(o.runID, o.cfg.Database.Database,
		o.cfg.Scrub.Table, o.cfg.Scrub.Column, o.transformer.Name()); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	reporters := progress.Multi{journal.NewRecorder(o.journal, o.runID)}

	var tracker *progress.Tracker
	if o.opts.ShowProgress {
		tracker = progress.New()
		if total, err := o.store.RowCount(ctx); err == nil {
			tracker.SetTotal(total)
		}
		reporters = append(reporters, tracker)
	} else if !o.opts.Quiet {
		reporters = append(reporters, progress.LogReporter{})
	}
	if o.opts.JSONWindows {
		reporters = append(reporters, progress.NewJSONReporter(nil, time.Second))
	}
	if o.opts.ExtraReporter != nil {
		reporters = append(reporters, o.opts.ExtraReporter)
	}

	ctrl, err := scrub.New(o.store, reporters, o.controllerOptions())
	if err != nil {
		return nil, err
	}

	summary, runErr := ctrl.Run(ctx)
	duration := time.Since(start)

	result := &RunResult{
		RunID:       o.runID,
		Status:      "success",
		Table:       o.cfg.Scrub.Table,
		Column:      o.cfg.Scrub.Column,
		Transformer: o.transformer.Name(),
		BatchSize:   o.cfg.Scrub.BatchSize,
		Duration:    duration.Seconds(),
	}
	if summary != nil {
		result.MinID = summary.MinID
		result.MaxID = summary.MaxID
		result.Windows = summary.Windows
		result.RowsAffected = summary.RowsAffected
	}

	if runErr != nil {
		result.Status = "failed"
		result.Error = runErr.Error()
		if err := o.journal.CompleteRun(o.runID, "failed", result.Windows, result.RowsAffected, runErr.Error()); err != nil {
			logging.Warn("Journal update failed: %v", err)
		}
		if err := o.notifier.ScrubFailed(o.runID, runErr, duration); err != nil {
			logging.Warn("Slack notification failed: %v", err)
		}
		return result, runErr
	}

	if tracker != nil {
		tracker.Finish()
	}

	if err := o.journal.CompleteRun(o.runID, "success", result.Windows, result.RowsAffected, ""); err != nil {
		logging.Warn("Journal update failed: %v", err)
	}

	throughput := float64(result.RowsAffected) / duration.Seconds()
	if err := o.notifier.ScrubCompleted(o.runID, start, duration, result.Windows, result.RowsAffected, throughput); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	return result, nil
}

// Plan returns the window lower bounds a run would visit, without
// modifying any data.
func (o *Orchestrator) Plan(ctx context.Context) ([]int64, error) {
	ctrl, err := scrub.New(o.store, nil, o.controllerOptions())
	if err != nil {
		return nil, err
	}
	return ctrl.Plan(ctx)
}

// Verify samples the target column and reports unscrubbed rows.
func (o *Orchestrator) Verify(ctx context.Context) (*verify.Report, error) {
	return verify.Run(ctx, o.cfg, o.transformer)
}

// History returns recent runs from the journal.
func (o *Orchestrator) History(limit int) ([]journal.Run, error) {
	return o.journal.GetRuns(limit)
}

// RunWindows returns the persisted Progress Records for one run.
func (o *Orchestrator) RunWindows(runID string) ([]journal.WindowRecord, error) {
	return o.journal.GetWindows(runID)
}
