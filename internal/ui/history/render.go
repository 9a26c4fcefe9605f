package history

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nhle/mailprint/internal/model"
	"github.com/nhle/mailprint/internal/theme"
)

const timeLayout = "2006-01-02 15:04:05"

// RenderRuns writes runs as a static table, for output that is not a
// terminal or when the interactive view is not wanted.
func RenderRuns(w io.Writer, runs []model.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded yet.")
		return err
	}

	headers := make([]string, 0, len(runColumns))
	for _, c := range runColumns {
		headers = append(headers, c.Title)
	}

	rows := runRows(runs)
	statusCol := len(headers) - 1

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			cell := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return cell.Bold(true)
			}
			if col == statusCol && row >= 0 && row < len(runs) {
				r := runs[row]
				return theme.RunStyle(r.FatalError != "", r.Failed).Padding(0, 1)
			}
			return cell
		})
	for _, r := range rows {
		t.Row(r...)
	}

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// RenderAttachments writes the records of one run as a static table.
func RenderAttachments(w io.Writer, convs []model.ConversionRecord, prints []model.PrintRecord) error {
	rows := attachmentRows(convs, prints)
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No attachments in this run.")
		return err
	}

	headers := make([]string, 0, len(attachmentColumns))
	for _, c := range attachmentColumns {
		headers = append(headers, c.Title)
	}

	const outcomeCol = 3
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			cell := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return cell.Bold(true)
			}
			if col == outcomeCol && row >= 0 && row < len(rows) {
				return theme.OutcomeStyle(rows[row][outcomeCol]).Padding(0, 1)
			}
			return cell
		})
	for _, r := range rows {
		t.Row(r...)
	}

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func runStatus(r model.RunRecord) string {
	switch {
	case r.FatalError != "":
		return "aborted: " + r.FatalError
	case r.FinishedAt == nil:
		return "running"
	case r.Failed > 0:
		return strconv.Itoa(r.Failed) + " dropped"
	default:
		return "ok"
	}
}

func formatDuration(r model.RunRecord) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.Duration().Round(100 * time.Millisecond).String()
}
