package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"planloop/internal/loop"
	"planloop/internal/monitor"
	"planloop/internal/planner"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(loop.StatusSuccess):
		return successStyle
	case string(loop.StatusPartialSuccess):
		return warnStyle
	default:
		return failStyle
	}
}

func renderReport(report *loop.Report) string {
	header := fmt.Sprintf("%s  %s\n%s",
		titleStyle.Render("planloop run"),
		statusStyle(string(report.Status)).Render(strings.ToUpper(string(report.Status))),
		mutedStyle.Render(report.RunID))
	return boxStyle.Render(header) + "\n" + loop.Summary(report)
}

func renderValidation(res planner.ValidationResult) string {
	var b strings.Builder
	verdict := failStyle.Render("INVALID")
	if res.Valid {
		verdict = successStyle.Render("VALID")
	}
	fmt.Fprintf(&b, "%s  score %.2f (minimum %.2f)\n", verdict, res.Score, planner.ValidThreshold)
	if len(res.Issues) > 0 {
		b.WriteString(titleStyle.Render("\nIssues") + "\n")
		for _, issue := range res.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}
	if len(res.Suggestions) > 0 {
		b.WriteString(titleStyle.Render("\nSuggestions") + "\n")
		for _, s := range res.Suggestions {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	return b.String()
}

func renderMonitor(res monitor.Result) string {
	return statusStyle(string(res.Status)).Render(string(res.Status)) + "\n" + monitor.Report(res)
}
