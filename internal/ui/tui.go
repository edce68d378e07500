package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// quitTimeout bounds how long Stop waits for the program to exit.
const quitTimeout = 2 * time.Second

// TUIRenderer draws a live bubbletea panel.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	tracker *ProgressTracker
	model   *indexModel
	program *tea.Program
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not a
// terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	tracker := NewProgressTracker()
	styles := GetStyles(cfg.NoColor || DetectNoColor())
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newIndexModel(tracker, styles, cfg.ProjectDir),
		done:    make(chan struct{}),
	}, nil
}

func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Observe(event)
	r.send(refreshMsg{})
}

func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(refreshMsg{})
}

func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Observe(ProgressEvent{Stage: StageComplete})
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program, started := r.program, r.started
	r.mu.Unlock()
	if !started {
		return nil
	}

	program.Quit()
	select {
	case <-r.done:
	case <-time.After(quitTimeout):
	}
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program != nil {
		program.Send(msg)
	}
}

type refreshMsg struct{}
type completeMsg CompletionStats

// indexModel is the bubbletea model for the index panel.
type indexModel struct {
	tracker    *ProgressTracker
	spinner    spinner.Model
	bar        progress.Model
	styles     Styles
	projectDir string
	width      int
	complete   *CompletionStats
	quitting   bool
}

func newIndexModel(tracker *ProgressTracker, styles Styles, projectDir string) *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active

	return &indexModel{
		tracker:    tracker,
		spinner:    s,
		bar:        progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(40), progress.WithoutPercentage()),
		styles:     styles,
		projectDir: projectDir,
		width:      80,
	}
}

func (m *indexModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-24, 20)
	case completeMsg:
		stats := CompletionStats(msg)
		m.complete = &stats
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *indexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete != nil {
		return m.renderComplete(*m.complete)
	}

	stats := m.tracker.Stats()
	lines := []string{m.renderStages(stats.Stage), ""}

	if stats.Total > 0 {
		pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
		lines = append(lines, m.bar.ViewAs(stats.Progress)+"  "+pct)
		count := fmt.Sprintf("%d / %d", stats.Current, stats.Total)
		if stats.ETA > 0 {
			count += "  ETA " + formatDuration(stats.ETA)
		}
		lines = append(lines, m.styles.Label.Render(count))
	} else {
		lines = append(lines, m.spinner.View()+" "+stats.Stage.String()+"...")
	}

	if stats.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(truncatePath(stats.CurrentFile, max(m.width-8, 20))))
	}
	if stats.WarnCount > 0 || stats.ErrorCount > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d warnings", stats.WarnCount))+
			"  "+m.styles.Error.Render(fmt.Sprintf("%d errors", stats.ErrorCount)))
	}

	title := "cgrep index"
	if m.projectDir != "" {
		title += "  " + m.projectDir
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		m.styles.Panel.Width(max(m.width-4, 40)).Render(strings.Join(lines, "\n")),
	) + "\n"
}

func (m *indexModel) renderStages(current Stage) string {
	stages := []Stage{StageScanning, StageExtracting, StageWriting, StageEmbedding}
	parts := make([]string, len(stages))
	for i, s := range stages {
		switch {
		case s < current:
			parts[i] = m.styles.Success.Render("● " + s.String())
		case s == current:
			parts[i] = m.styles.Active.Render(m.spinner.View() + s.String())
		default:
			parts[i] = m.styles.Dim.Render("○ " + s.String())
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *indexModel) renderComplete(stats CompletionStats) string {
	lines := []string{
		m.styles.Success.Render("✓ Index ready"),
		"",
		fmt.Sprintf("%s %d (%d unchanged, %d removed)", m.styles.Label.Render("Files:     "), stats.Files, stats.Unchanged, stats.Removed),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Symbols:   "), stats.Symbols),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Generation:"), stats.Generation),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:  "), formatDuration(stats.Duration)),
	}
	if stats.Embedder.Mode != "" && stats.Embedder.Mode != "off" {
		lines = append(lines, fmt.Sprintf("%s %d via %s/%s", m.styles.Label.Render("Embedded:  "),
			stats.Embedded, stats.Embedder.Provider, stats.Embedder.Model))
	}
	if stats.Errors > 0 {
		lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.Errors)))
	}
	if stats.Warnings > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.Warnings)))
	}
	return m.styles.Panel.Width(max(m.width-4, 40)).Render(strings.Join(lines, "\n")) + "\n"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncatePath keeps the tail of path within maxLen bytes.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen <= 3 {
		return "..."
	}
	return "..." + path[len(path)-maxLen+3:]
}

var _ Renderer = (*TUIRenderer)(nil)
