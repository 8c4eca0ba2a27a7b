package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/danmuck/kioskpush/internal/sender"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(1).PaddingRight(1)

	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5E5E"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#32CD32"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	tableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	tableCell = lipgloss.NewStyle().Padding(0, 1)

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

type statusRow struct {
	Target sender.Target
	Status sender.Status
	Err    error
}

func renderResults(title string, results []sender.Result) string {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, []string{res.Target.String(), outcome(res), res.Elapsed.Round(time.Millisecond).String()})
	}
	return renderTable(title, []string{"Kiosk", "Result", "Elapsed"}, []int{28, 48, 10}, rows)
}

func renderStatus(rows []statusRow) string {
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		if r.Err != nil {
			data = append(data, []string{r.Target.String(), errorStyle.Render(r.Err.Error()), "", ""})
			continue
		}
		shown := r.Status.Display.Kind
		if r.Status.Display.Width > 0 {
			shown = fmt.Sprintf("%s %dx%d", shown, r.Status.Display.Width, r.Status.Display.Height)
		} else if r.Status.Display.Text != "" {
			shown = fmt.Sprintf("%s %q", shown, r.Status.Display.Text)
		}
		until := ""
		if r.Status.Display.Deadline != nil {
			until = r.Status.Display.Deadline.Local().Format(time.Kitchen)
		}
		data = append(data, []string{r.Target.String(), shown, until, r.Status.Uptime})
	}
	return renderTable("status", []string{"Kiosk", "Showing", "Until", "Uptime"}, []int{28, 34, 10, 12}, data)
}

func outcome(res sender.Result) string {
	switch {
	case res.Err != nil:
		return errorStyle.Render("FAIL " + res.Err.Error())
	case res.Ack:
		return successStyle.Render("OK")
	default:
		return pendingStyle.Render("sent")
	}
}

func renderTable(title string, headers []string, widths []int, data [][]string) string {
	headerCells := make([]string, len(headers))
	for i, h := range headers {
		headerCells[i] = tableHeader.Width(widths[i]).Render(h)
	}
	headerRow := lipgloss.JoinHorizontal(lipgloss.Left, headerCells...)

	bodyRows := make([]string, len(data))
	for i, row := range data {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = tableCell.Width(widths[j]).Render(cell)
		}
		bodyRows[i] = lipgloss.JoinHorizontal(lipgloss.Left, cells...)
	}
	table := tableStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerRow, lipgloss.JoinVertical(lipgloss.Left, bodyRows...)))
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), table)
}
