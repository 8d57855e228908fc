package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/exitcodes"
	"github.com/johndauphine/dbscrub/internal/journal"
	"github.com/johndauphine/dbscrub/internal/logging"
	"github.com/johndauphine/dbscrub/internal/orchestrator"
	"github.com/johndauphine/dbscrub/internal/transform"
	"github.com/johndauphine/dbscrub/internal/tui"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "dbscrub",
		Usage:   "Batch anonymization of sensitive database columns",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Explicit run ID (for Airflow, default: auto-generated UUID)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Keep stdout clean for the JSON result
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Scrub the configured column",
				Action: runScrub,
				Flags: append(overrideFlags(),
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Show a live terminal view of the run",
					},
				),
			},
			{
				Name:   "plan",
				Usage:  "Print the windows a run would visit, without modifying data",
				Action: planScrub,
				Flags:  overrideFlags(),
			},
			{
				Name:   "verify",
				Usage:  "Sample the target column and report unscrubbed rows",
				Action: verifyScrub,
				Flags: append(overrideFlags(),
					&cli.IntFlag{
						Name:  "sample-size",
						Usage: "Number of rows to sample",
					},
				),
			},
			{
				Name:   "history",
				Usage:  "List past runs, or show per-window detail for one run",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show window records for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of runs to list",
					},
				},
			},
			{
				Name:   "transformers",
				Usage:  "List available transformers",
				Action: listTransformers,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

// overrideFlags are per-command flags that override config file values.
func overrideFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "table",
			Usage: "Target table (overrides config)",
		},
		&cli.StringFlag{
			Name:  "column",
			Usage: "Target column (overrides config)",
		},
		&cli.StringFlag{
			Name:  "transformer",
			Usage: "Transformer name (overrides config)",
		},
		&cli.Int64Flag{
			Name:  "batch-size",
			Usage: "Window width in identifier values (overrides config)",
		},
		&cli.BoolFlag{
			Name:  "full-coverage",
			Usage: "Advance by batch instead of batch+1, visiting every identifier",
		},
		&cli.StringFlag{
			Name:  "range-mode",
			Usage: "Range derivation: snapshot or follow (overrides config)",
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !c.IsSet("config") {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(c, cfg)
	return cfg, nil
}

func applyOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("table") {
		cfg.Scrub.Table = c.String("table")
	}
	if c.IsSet("column") {
		cfg.Scrub.Column = c.String("column")
	}
	if c.IsSet("transformer") {
		cfg.Scrub.Transformer = c.String("transformer")
	}
	if c.IsSet("batch-size") {
		cfg.Scrub.BatchSize = c.Int64("batch-size")
	}
	if c.IsSet("full-coverage") {
		cfg.Scrub.FullCoverage = c.Bool("full-coverage")
	}
	if c.IsSet("range-mode") {
		cfg.Scrub.RangeMode = c.String("range-mode")
	}
	if c.IsSet("sample-size") {
		cfg.Scrub.SampleSize = c.Int("sample-size")
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Finishing current window...")
		cancel()
	}()

	return ctx, cancel
}

func runScrub(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	useTUI := c.Bool("tui")
	jsonOut := c.Bool("output-json") || c.String("output-file") != ""
	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	opts := orchestrator.Options{
		RunID:        c.String("run-id"),
		ShowProgress: interactive && !useTUI && !jsonOut,
		JSONWindows:  jsonOut,
		Quiet:        useTUI,
	}

	orch, err := orchestrator.New(cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var result *orchestrator.RunResult
	var runErr error
	if useTUI && interactive {
		result, runErr = tui.Run(ctx, cfg, orch)
	} else {
		result, runErr = orch.Run(ctx)
	}

	if jsonOut && result != nil {
		if err := outputJSON(c, result); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}

	return runErr
}

func planScrub(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	orch, err := orchestrator.New(cfg, orchestrator.Options{})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	lows, err := orch.Plan(ctx)
	if err != nil {
		return err
	}
	if len(lows) == 0 {
		fmt.Println("Record set is empty, nothing to scrub")
		return nil
	}

	fmt.Printf("%d windows of %d over %s.%s:\n", len(lows), cfg.Scrub.BatchSize, cfg.Scrub.Table, cfg.Scrub.Column)
	for _, lo := range lows {
		fmt.Printf("  [%d, %d)\n", lo, lo+cfg.Scrub.BatchSize)
	}
	return nil
}

func verifyScrub(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	orch, err := orchestrator.New(cfg, orchestrator.Options{})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := orch.Verify(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Sampled %d rows, %d unscrubbed\n", report.Sampled, report.Unscrubbed)
	if !report.OK() {
		ids := make([]string, len(report.ExampleIDs))
		for i, id := range report.ExampleIDs {
			ids[i] = fmt.Sprintf("%d", id)
		}
		return exitcodes.NewExitError(
			fmt.Errorf("%d of %d sampled rows unscrubbed (example ids: %s)",
				report.Unscrubbed, report.Sampled, strings.Join(ids, ", ")),
			exitcodes.ValidationError)
	}
	return nil
}

func showHistory(c *cli.Context) error {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return err
	}
	// History only needs the journal; read it directly rather than
	// connecting to the row store.
	jnl, err := journal.New(dataDir)
	if err != nil {
		return err
	}
	defer jnl.Close()

	if runID := c.String("run"); runID != "" {
		records, err := jnl.GetWindows(runID)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("No windows recorded for run %s\n", runID)
			return nil
		}
		fmt.Printf("%-14s %-14s %s\n", "Window Low", "Rows", "Recorded")
		for _, w := range records {
			fmt.Printf("%-14d %-14d %s\n", w.WindowLow, w.RowsAffected, w.RecordedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	runs, err := jnl.GetRuns(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-38s %-10s %-24s %-12s %-10s %-12s %s\n",
		"Run ID", "Status", "Table.Column", "Transformer", "Windows", "Rows", "Started")
	for _, r := range runs {
		fmt.Printf("%-38s %-10s %-24s %-12s %-10d %-12d %s\n",
			r.ID, r.Status, r.Table+"."+r.Column, r.Transformer,
			r.Windows, r.RowsAffected, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func listTransformers(c *cli.Context) error {
	fmt.Printf("%-10s %-12s %s\n", "Name", "Idempotent", "Description")
	for _, name := range transform.Names() {
		t, ok := transform.Get(name)
		if !ok {
			continue
		}
		fmt.Printf("%-10s %-12t %s\n", name, t.Idempotent(), t.Description())
	}
	return nil
}

// outputJSON writes the run result as JSON to stdout and/or a file.
func outputJSON(c *cli.Context, result *orchestrator.RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
