package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"videogateway/internal/domain"
)

// statusLabel renders a status tag for humans, e.g. "In Progress".
func statusLabel[S ~string](status S) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(status), "_", " "))
}

func printJob(w io.Writer, job domain.Job, entry *domain.HistoryEntry) {
	line := fmt.Sprintf("%s  %s  %d%%", job.ID, statusLabel(job.Status()), job.Progress())
	if job.Model != "" {
		line += fmt.Sprintf("  %s %s %ss", job.Model, job.Size, job.Seconds)
	}
	if msg := job.ErrorMessage(); msg != "" {
		line += "  error: " + msg
	}
	if entry != nil && entry.CostDetails != nil {
		line += fmt.Sprintf("  $%.2f", entry.CostDetails.TotalCost)
	}
	fmt.Fprintln(w, line)
}

func printHistory(w io.Writer, entries []domain.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMODE\tSTATUS\tMODEL\tSIZE\tSECONDS\tCOST\tPROMPT")
	for _, e := range entries {
		cost := "-"
		if e.CostDetails != nil {
			cost = fmt.Sprintf("$%.2f", e.CostDetails.TotalCost)
		}
		status := statusLabel(e.Status)
		if e.Status == domain.HistoryProcessing {
			status = fmt.Sprintf("%s %d%%", status, e.Progress)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID,
			time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04"),
			statusLabel(e.Mode),
			status,
			e.Model,
			e.Size,
			e.Seconds,
			cost,
			truncate(e.Prompt, 48),
		)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
