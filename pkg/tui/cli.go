// Package tui renders CLI output for QueryDeck.
// Simple, streaming, no complex TUI - just clean styled output.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/querydeck/querydeck/pkg/cache"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

const rule = "  ─────────────────────────────────────"

// RenderStats formats cache statistics for the terminal.
func RenderStats(stats cache.Stats) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("CACHE STATISTICS") + "\n")
	b.WriteString(mutedStyle.Render(rule) + "\n")
	writeField(&b, "Backend", stats.Backend)
	writeField(&b, "Entries", fmt.Sprintf("%d", stats.EntryCount))
	writeField(&b, "Hits", fmt.Sprintf("%d", stats.Hits))
	writeField(&b, "Misses", fmt.Sprintf("%d", stats.Misses))
	writeField(&b, "Stored", fmt.Sprintf("%d", stats.Stores))
	writeField(&b, "Hit rate", fmt.Sprintf("%.1f%%", stats.HitRate*100))
	writeField(&b, "Size", FormatBytes(stats.TotalSizeBytes))
	b.WriteString(mutedStyle.Render(rule) + "\n")

	return b.String()
}

// RenderHealth formats a health probe for the terminal.
func RenderHealth(h cache.Health) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("CACHE HEALTH") + "\n")
	b.WriteString(mutedStyle.Render(rule) + "\n")

	switch h.Status {
	case "healthy":
		writeField(&b, "Status", successStyle.Render("✓ healthy"))
	case "disabled":
		writeField(&b, "Status", mutedStyle.Render("disabled"))
	default:
		writeField(&b, "Status", accentStyle.Render("✗ "+h.Status))
	}
	if h.Backend != "" {
		writeField(&b, "Backend", h.Backend)
	}
	if h.Status == "healthy" {
		writeField(&b, "Entries", fmt.Sprintf("%d", h.EntryCount))
		writeField(&b, "Size", FormatBytes(h.TotalSizeBytes))
	}
	if h.Detail != "" {
		writeField(&b, "Detail", h.Detail)
	}
	b.WriteString(mutedStyle.Render(rule) + "\n")

	return b.String()
}

// RenderResult formats a query result as an aligned table. Long values
// are truncated to keep rows on one line.
func RenderResult(rs *cache.ResultSet, elapsed string) string {
	var b strings.Builder

	const maxCell = 40
	widths := make([]int, len(rs.Columns))
	for i, col := range rs.Columns {
		widths[i] = len(col)
	}
	cells := make([][]string, len(rs.Rows))
	for r, row := range rs.Rows {
		cells[r] = make([]string, len(row))
		for c, v := range row {
			s := fmt.Sprintf("%v", v)
			if len(s) > maxCell {
				s = s[:maxCell-1] + "…"
			}
			cells[r][c] = s
			if c < len(widths) && len(s) > widths[c] {
				widths[c] = len(s)
			}
		}
	}

	for i, col := range rs.Columns {
		b.WriteString(titleStyle.Render(pad(col, widths[i])))
		b.WriteString("  ")
	}
	b.WriteString("\n")
	for i := range rs.Columns {
		b.WriteString(mutedStyle.Render(strings.Repeat("─", widths[i])))
		b.WriteString("  ")
	}
	b.WriteString("\n")
	for _, row := range cells {
		for c, cell := range row {
			w := maxCell
			if c < len(widths) {
				w = widths[c]
			}
			b.WriteString(pad(cell, w))
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	source := "executed"
	if rs.FromCache {
		source = "cached"
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d rows (%s, %s)", rs.RowCount(), source, elapsed)))
	b.WriteString("\n")

	return b.String()
}

// Success renders a success line.
func Success(msg string) string {
	return successStyle.Render("✓ " + msg)
}

// Failure renders a failure line.
func Failure(msg string) string {
	return accentStyle.Render("✗ " + msg)
}

func writeField(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s %s\n", mutedStyle.Render(pad(label+":", 10)), value)
}

func pad(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

// FormatBytes renders a byte count in human units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
