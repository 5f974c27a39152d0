package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/waypoint/cli/reader"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewStatsMetrics:
		content = m.renderMetrics()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderMetrics() string {
	data, ok := m.data.(*reader.MetricsSnapshot)
	if !ok {
		return "Invalid data type for stats_metrics"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Metrics"))
	b.WriteString("\n")
	b.WriteString(field("Thread", data.ThreadID))
	b.WriteString(field("Policy", data.Policy))
	b.WriteString(field("Storage", data.StorageBackend))
	b.WriteString(field("Recorded", data.Ts))
	b.WriteString("\n")

	b.WriteString(section("Runs", []string{
		m.renderStatBox("Started", data.RunsStarted, highlightColor),
		m.renderStatBox("Completed", data.RunsCompleted, successColor),
		m.renderStatBox("Interrupted", data.RunsInterrupted, warningColor),
		m.renderStatBox("Failed", data.RunsFailed, errorColor),
		m.renderStatBox("Cancelled", data.RunsCancelled, mutedColor),
	}))
	b.WriteString(section("Frames", []string{
		m.renderStatBox("Decoded", data.FramesDecoded, highlightColor),
		m.renderStatBox("Skipped", data.FramesSkipped, warningColor),
		m.renderStatBox("Persisted", data.EventsPersisted, successColor),
		m.renderStatBox("Dropped", data.EventsDropped, errorColor),
	}))
	b.WriteString(section("Lineage & approval", []string{
		m.renderStatBox("Checkpoints", data.CheckpointsRecorded, successColor),
		m.renderStatBox("Misses", data.CheckpointMisses, errorColor),
		m.renderStatBox("Interrupts", data.InterruptsCaptured, warningColor),
		m.renderStatBox("Decisions", data.DecisionsSubmitted, highlightColor),
	}))
	b.WriteString(section("Storage & sync", []string{
		m.renderStatBox("Writes ok", data.LodeWriteSuccess, successColor),
		m.renderStatBox("Writes failed", data.LodeWriteFailure, errorColor),
		m.renderStatBox("Syncs ok", data.RepoSyncSuccess, successColor),
		m.renderStatBox("Syncs failed", data.RepoSyncFailure, errorColor),
	}))

	if len(data.FramesByType) > 0 {
		b.WriteString(TitleStyle.Render("Frames by type"))
		b.WriteString("\n")
		names := make([]string, 0, len(data.FramesByType))
		for name := range data.FramesByType {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			b.WriteString(field(name, fmt.Sprintf("%d", data.FramesByType[name])))
		}
	}

	return b.String()
}

func section(title string, boxes []string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(highlightColor).Render(title) + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, boxes...) + "\n\n"
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without the full TUI.
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
