// Package history shows past runs from the journal.
package history

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailprint/internal/keys"
	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/store"
	"github.com/nhle/mailprint/internal/theme"
)

// Mode is the screen the history view is showing.
type Mode int

const (
	ModeRuns        Mode = iota // List of runs
	ModeAttachments             // Attachments of the selected run
)

// runsLoadedMsg is sent when runs have been read from the journal.
type runsLoadedMsg struct {
	runs []model.RunRecord
	err  error
}

// attachmentsLoadedMsg is sent when the records of one run have been read.
type attachmentsLoadedMsg struct {
	run    model.RunRecord
	convs  []model.ConversionRecord
	prints []model.PrintRecord
	err    error
}

// Model is the Bubble Tea model for the run history.
type Model struct {
	journal store.Journal
	keys    *keys.KeyMap
	limit   int

	mode        Mode
	runs        []model.RunRecord
	runTable    table.Model
	attachTable table.Model
	selected    model.RunRecord
	help        help.Model
	err         error

	width, height int
}

// New creates a history view listing up to limit runs.
func New(j store.Journal, k *keys.KeyMap, limit int) Model {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(theme.ColorWhite).
		Background(theme.ColorBlue).
		Bold(false)

	runs := table.New(
		table.WithColumns(runColumns),
		table.WithFocused(true),
		table.WithHeight(15),
		table.WithWidth(tableWidth(runColumns)),
	)
	runs.SetStyles(styles)

	attach := table.New(
		table.WithColumns(attachmentColumns),
		table.WithFocused(true),
		table.WithHeight(15),
		table.WithWidth(tableWidth(attachmentColumns)),
	)
	attach.SetStyles(styles)

	return Model{
		journal:     j,
		keys:        k,
		limit:       limit,
		runTable:    runs,
		attachTable: attach,
		help:        help.New(),
	}
}

var runColumns = []table.Column{
	{Title: "Started", Width: 19},
	{Title: "Took", Width: 8},
	{Title: "Messages", Width: 8},
	{Title: "Printed", Width: 7},
	{Title: "Failed", Width: 6},
	{Title: "Status", Width: 30},
}

var attachmentColumns = []table.Column{
	{Title: "Message", Width: 8},
	{Title: "Attachment", Width: 30},
	{Title: "Strategy", Width: 9},
	{Title: "Outcome", Width: 11},
	{Title: "Reason", Width: 40},
}

// tableWidth is the rendered width of cols with the default cell padding.
func tableWidth(cols []table.Column) int {
	w := 0
	for _, c := range cols {
		w += c.Width + 2
	}
	return w
}

// Init loads runs from the journal on first render.
func (m Model) Init() tea.Cmd {
	return m.loadRuns()
}

// Mode returns the current screen.
func (m Model) Mode() Mode {
	return m.mode
}

// Update handles messages and dispatches based on the current mode.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case runsLoadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.runs = msg.runs
			m.runTable.SetRows(runRows(msg.runs))
		}
		return m, nil

	case attachmentsLoadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.selected = msg.run
			m.attachTable.SetRows(attachmentRows(msg.convs, msg.prints))
			m.attachTable.SetCursor(0)
			m.mode = ModeAttachments
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	return m, nil
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadRuns()
	}

	var cmd tea.Cmd
	switch m.mode {
	case ModeRuns:
		if key.Matches(msg, m.keys.Select) {
			idx := m.runTable.Cursor()
			if idx < 0 || idx >= len(m.runs) {
				return m, nil
			}
			return m, m.loadAttachments(m.runs[idx])
		}
		m.runTable, cmd = m.runTable.Update(msg)

	case ModeAttachments:
		if key.Matches(msg, m.keys.Back) {
			m.mode = ModeRuns
			return m, nil
		}
		m.attachTable, cmd = m.attachTable.Update(msg)
	}
	return m, cmd
}

// View renders the history based on the current mode.
func (m Model) View() string {
	var body string
	switch m.mode {
	case ModeAttachments:
		title := theme.HeaderStyle.Render(fmt.Sprintf(
			"Run %s", m.selected.StartedAt.Local().Format(timeLayout),
		))
		body = lipgloss.JoinVertical(lipgloss.Left, title, "", m.attachTable.View())
	default:
		title := theme.HeaderStyle.Render("mailprint history")
		if len(m.runs) == 0 && m.err == nil {
			empty := lipgloss.NewStyle().
				Foreground(theme.ColorGray).
				Italic(true).
				Render("No runs recorded yet.")
			body = lipgloss.JoinVertical(lipgloss.Left, title, "", empty)
		} else {
			body = lipgloss.JoinVertical(lipgloss.Left, title, "", m.runTable.View())
		}
	}

	if m.err != nil {
		errLine := lipgloss.NewStyle().
			Foreground(theme.ColorRed).
			Render("Error: " + m.err.Error())
		body = lipgloss.JoinVertical(lipgloss.Left, body, "", errLine)
	}

	footer := m.help.View(m.keys)
	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, body, "", footer))
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width

	h := height - 8
	if h < 5 {
		h = 5
	}
	m.runTable.SetHeight(h)
	m.attachTable.SetHeight(h)
}

// loadRuns returns a command that reads recent runs from the journal.
func (m Model) loadRuns() tea.Cmd {
	j, limit := m.journal, m.limit
	return func() tea.Msg {
		runs, err := j.RecentRuns(context.Background(), limit)
		return runsLoadedMsg{runs: runs, err: err}
	}
}

// loadAttachments returns a command that reads the records of run.
func (m Model) loadAttachments(run model.RunRecord) tea.Cmd {
	j := m.journal
	return func() tea.Msg {
		ctx := context.Background()
		convs, err := j.RunConversions(ctx, run.ID)
		if err != nil {
			return attachmentsLoadedMsg{err: err}
		}
		prints, err := j.RunPrints(ctx, run.ID)
		return attachmentsLoadedMsg{run: run, convs: convs, prints: prints, err: err}
	}
}

func runRows(runs []model.RunRecord) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			r.StartedAt.Local().Format(timeLayout),
			formatDuration(r),
			strconv.Itoa(r.Messages),
			strconv.Itoa(r.Printed),
			strconv.Itoa(r.Failed),
			runStatus(r),
		})
	}
	return rows
}

func attachmentRows(convs []model.ConversionRecord, prints []model.PrintRecord) []table.Row {
	rows := make([]table.Row, 0, len(convs)+len(prints))
	for _, c := range convs {
		rows = append(rows, table.Row{c.MessageID, c.Filename, c.Strategy, c.Outcome, c.Reason})
	}
	for _, p := range prints {
		outcome := "printed"
		if !p.Success {
			outcome = "print failed"
		}
		rows = append(rows, table.Row{"", filepath.Base(p.Path), "lp", outcome, p.Reason})
	}
	return rows
}
