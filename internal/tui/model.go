// Package tui renders a live terminal view of a scrub run: a progress
// bar over rows, the most recent windows, and a final summary.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/johndauphine/dbscrub/internal/config"
	"github.com/johndauphine/dbscrub/internal/orchestrator"
	"github.com/johndauphine/dbscrub/internal/scrub"
)

const recentWindows = 8

type windowMsg scrub.Progress

type doneMsg struct {
	result *orchestrator.RunResult
	err    error
}

type tickMsg time.Time

// programReporter forwards Progress Records from the controller goroutine
// into the bubbletea event loop.
type programReporter struct {
	program *tea.Program
}

func (r *programReporter) WindowDone(p scrub.Progress) {
	r.program.Send(windowMsg(p))
}

type model struct {
	cfg       *config.Config
	cancel    context.CancelFunc
	bar       progress.Model
	spin      spinner.Model
	startTime time.Time
	rowsTotal int64
	rowsDone  int64
	windows   int64
	recent    []scrub.Progress
	done      bool
	result    *orchestrator.RunResult
	err       error
	width     int
}

func newModel(cfg *config.Config, cancel context.CancelFunc, rowsTotal int64) model {
	bar := progress.New(progress.WithDefaultGradient())
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return model{
		cfg:       cfg,
		cancel:    cancel,
		bar:       bar,
		spin:      sp,
		startTime: time.Now(),
		rowsTotal: rowsTotal,
		width:     80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.cancel()
				return m, nil
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 10
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}

	case windowMsg:
		m.windows++
		m.rowsDone += msg.RowsAffected
		m.recent = append(m.recent, scrub.Progress(msg))
		if len(m.recent) > recentWindows {
			m.recent = m.recent[1:]
		}
		if m.rowsTotal > 0 {
			return m, m.bar.SetPercent(float64(m.rowsDone) / float64(m.rowsTotal))
		}
		return m, nil

	case doneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		barModel, cmd := m.bar.Update(msg)
		m.bar = barModel.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	target := fmt.Sprintf("%s.%s.%s", m.cfg.Scrub.Schema, m.cfg.Scrub.Table, m.cfg.Scrub.Column)
	b.WriteString(styleTitle.Render("dbscrub") + "\n")
	b.WriteString(styleLabel.Render("Target      ") + styleValue.Render(target) + "\n")
	b.WriteString(styleLabel.Render("Transformer ") + styleValue.Render(m.cfg.Scrub.Transformer) + "\n")
	b.WriteString(styleLabel.Render("Batch size  ") + styleValue.Render(fmt.Sprintf("%d", m.cfg.Scrub.BatchSize)) + "\n\n")

	if m.rowsTotal > 0 {
		b.WriteString(m.bar.View() + "\n")
	}
	elapsed := time.Since(m.startTime).Round(time.Second)
	status := fmt.Sprintf("%s %d windows, %d rows, %s elapsed",
		m.spin.View(), m.windows, m.rowsDone, elapsed)
	if m.done {
		if m.err != nil {
			status = styleError.Render("✗ " + m.err.Error())
		} else {
			status = styleSuccess.Render(fmt.Sprintf("✓ %d rows in %d windows (%s)",
				m.rowsDone, m.windows, elapsed))
		}
	}
	b.WriteString(status + "\n")

	if len(m.recent) > 0 {
		var lines []string
		for _, p := range m.recent {
			lines = append(lines, fmt.Sprintf("window %-12d %d rows", p.WindowLow, p.RowsAffected))
		}
		b.WriteString("\n" + styleFrame.Render(strings.Join(lines, "\n")) + "\n")
	}

	b.WriteString(styleHelp.Render("q to cancel"))
	return b.String() + "\n"
}

// Run executes a scrub through orch with a live terminal view. It blocks
// until the run finishes or the user cancels.
func Run(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator) (*orchestrator.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var rowsTotal int64
	if total, err := orch.RowCount(ctx); err == nil {
		rowsTotal = total
	}

	p := tea.NewProgram(newModel(cfg, cancel, rowsTotal))
	orch.SetExtraReporter(&programReporter{program: p})

	resultCh := make(chan doneMsg, 1)
	go func() {
		result, err := orch.Run(ctx)
		msg := doneMsg{result: result, err: err}
		resultCh <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		msg := <-resultCh
		if msg.err != nil {
			return msg.result, msg.err
		}
		return msg.result, fmt.Errorf("terminal UI: %w", err)
	}

	msg := <-resultCh
	return msg.result, msg.err
}
