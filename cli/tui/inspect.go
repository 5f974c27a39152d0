package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/waypoint/cli/reader"
	"github.com/pithecene-io/waypoint/types"
)

// InspectModel is a Bubble Tea model for inspect views. Up and down move a
// cursor over the rows; the selected row is shown in full below the list.
type InspectModel struct {
	viewType string
	data     any
	cursor   int
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < m.rows()-1 {
				m.cursor++
			}
		}
	}

	return m, nil
}

func (m InspectModel) rows() int {
	switch data := m.data.(type) {
	case *reader.ThreadView:
		return len(data.Path)
	case *reader.InterruptView:
		return len(data.ToolCalls)
	default:
		return 0
	}
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewInspectThread:
		content = m.renderThread()
	case ViewInspectInterrupt:
		content = m.renderInterrupt()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("↑/↓ select • q quit")
	return content + "\n" + help
}

func (m InspectModel) renderThread() string {
	data, ok := m.data.(*reader.ThreadView)
	if !ok {
		return "Invalid data type for inspect_thread"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Thread " + data.ThreadID))
	b.WriteString("\n")
	b.WriteString(field("Head", data.HeadID))
	b.WriteString(field("Messages", fmt.Sprintf("%d (%d branches)", data.Messages, data.Branches)))
	b.WriteString("\n")

	if len(data.Path) == 0 {
		b.WriteString(ValueStyle.Render("(no messages)"))
		return BoxStyle.Render(b.String())
	}

	for i, row := range data.Path {
		line := fmt.Sprintf("%s %s", RoleColor(row.Role).Render(row.Role), oneLine(row.Text, m.lineWidth()))
		if row.Sibling != "" {
			line += " " + HelpStyle.UnsetMarginTop().Render("["+row.Sibling+"]")
		}
		if i == m.cursor {
			line = SelectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}

	sel := data.Path[m.cursor]
	var d strings.Builder
	d.WriteString(field("ID", sel.ID))
	d.WriteString(field("Parent", sel.ParentID))
	if sel.Status != "" {
		d.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Status:"), StateStyle(sel.Status).Render(sel.Status)))
	}
	if sel.Checkpoint != "" {
		d.WriteString(field("Checkpoint", sel.Checkpoint))
	}
	for _, tc := range sel.ToolCalls {
		d.WriteString(field("Tool", tc))
	}
	if sel.Text != "" {
		d.WriteString("\n" + ValueStyle.Render(sel.Text))
	}

	return lipgloss.JoinVertical(lipgloss.Left, BoxStyle.Render(b.String()), BoxStyle.Render(d.String()))
}

func (m InspectModel) renderInterrupt() string {
	data, ok := m.data.(*reader.InterruptView)
	if !ok {
		return "Invalid data type for inspect_interrupt"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Interrupt " + data.ThreadID))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("State:"), StateStyle(data.State).Render(data.State)))
	if data.MessageID != "" {
		b.WriteString(field("Message", data.MessageID))
	}

	if len(data.ToolCalls) == 0 {
		b.WriteString("\n" + ValueStyle.Render("(nothing awaiting approval)"))
		return BoxStyle.Render(b.String())
	}

	b.WriteString(field("Ready", fmt.Sprintf("%t", data.AllDecided && data.AllApprovedValid)))
	b.WriteString("\n")
	for i, tc := range data.ToolCalls {
		line := fmt.Sprintf("%-24s %s", tc.Name+"("+tc.ID+")", StateStyle(tc.Decision).Render(tc.Decision))
		if i == m.cursor {
			line = SelectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}

	sel := data.ToolCalls[m.cursor]
	var d strings.Builder
	d.WriteString(TitleStyle.Render("Arguments"))
	d.WriteString("\n")
	d.WriteString(ValueStyle.Render(types.PrettyArgs(sel.Arguments)))
	if sel.Error != "" {
		d.WriteString("\n" + ErrorStyle.Render(sel.Error))
	}

	return lipgloss.JoinVertical(lipgloss.Left, BoxStyle.Render(b.String()), BoxStyle.Render(d.String()))
}

func (m InspectModel) lineWidth() int {
	if m.width <= 0 {
		return 60
	}
	return max(m.width-20, 20)
}

func field(label, value string) string {
	return fmt.Sprintf("%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

// oneLine flattens text to a single line of at most width runes.
func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s
}

type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without the full TUI.
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
