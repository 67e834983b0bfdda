package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"

	"github.com/MrWong99/pranaflow/internal/journal"
)

// historyMsg carries the result of a history load.
type historyMsg struct {
	history journal.History
	err     error
}

const historyTimeLayout = "Jan 2 15:04"

// renderHistory formats recent sessions and night reflections.
func renderHistory(h journal.History, width int) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sessions") + "\n")
	if len(h.Sessions) == 0 {
		b.WriteString(subtleStyle.Render("  No sessions recorded yet.") + "\n")
	}
	for _, s := range h.Sessions {
		fmt.Fprintf(&b, "  %s  %-8s %7s", s.StartedAt.Local().Format(historyTimeLayout), s.Routine, formatDuration(s.Duration))
		if s.Technique != "" {
			b.WriteString("  " + exerciseStyle.Render(s.Technique))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + titleStyle.Render("Voice journal") + "\n")
	if len(h.Entries) == 0 {
		b.WriteString(subtleStyle.Render("  No journal entries yet.") + "\n")
	}
	for _, e := range h.Entries {
		b.WriteString("  " + subtleStyle.Render(e.CreatedAt.Local().Format(historyTimeLayout)))
		if len(e.Tags) > 0 {
			b.WriteString(subtleStyle.Render("  #" + strings.Join(e.Tags, " #")))
		}
		b.WriteString("\n")
		b.WriteString(indent(wordwrap.String(e.Text, max(width-4, 20)), "    ") + "\n")
	}
	return b.String()
}

// formatDuration renders d as "4m 05s".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%dm %02ds", int(d/time.Minute), int(d%time.Minute/time.Second))
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
