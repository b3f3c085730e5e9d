package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Brand color palette
var (
	colorPrimary      = lipgloss.Color("#3B82F6") // Sync Blue - main brand
	colorPrimaryLight = lipgloss.Color("#60A5FA") // highlights
	colorPrimaryDark  = lipgloss.Color("#1D4ED8") // borders

	colorText  = lipgloss.Color("#F2F3F3")
	colorMuted = lipgloss.Color("240")

	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
)

// Styles
var (
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(colorPrimary)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle   = lipgloss.NewStyle().Foreground(colorPrimaryLight).Bold(true)
	valueStyle   = lipgloss.NewStyle().Foreground(colorText)

	tableHeaderStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	panelStyle       = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimaryDark).
				Padding(0, 1)
	errorPanelStyle = panelStyle.BorderForeground(colorError)
)

// Icons
const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "⚠"
	iconInfo    = "●"
)

// Tests force TTY detection on or off through testIsTTYOverride.
var (
	testIsTTYMutex    sync.Mutex
	testIsTTYOverride *bool
)

// isTTY returns true if stdout is a terminal
func isTTY() bool {
	testIsTTYMutex.Lock()
	override := testIsTTYOverride
	testIsTTYMutex.Unlock()
	if override != nil {
		return *override
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// printStyled prints a message with an icon, applying style only in TTY mode
func printStyled(w io.Writer, icon string, style lipgloss.Style, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintf(w, "%s %s\n", style.Render(icon), msg)
	} else {
		fmt.Fprintf(w, "%s %s\n", icon, msg)
	}
}

func printSuccess(w io.Writer, format string, args ...any) {
	printStyled(w, iconSuccess, successStyle, format, args...)
}

func printWarning(w io.Writer, format string, args ...any) {
	printStyled(w, iconWarning, warningStyle, format, args...)
}

func printInfo(w io.Writer, format string, args ...any) {
	printStyled(w, iconInfo, infoStyle, format, args...)
}

// printMuted prints muted/secondary text
func printMuted(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintln(w, mutedStyle.Render(msg))
	} else {
		fmt.Fprintln(w, msg)
	}
}

// renderKV renders aligned "label: value" lines.
func renderKV(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	var sb strings.Builder
	for i, p := range pairs {
		label := fmt.Sprintf("%-*s", width+1, p[0]+":")
		if isTTY() {
			sb.WriteString(labelStyle.Render(label) + " " + valueStyle.Render(p[1]))
		} else {
			sb.WriteString(label + " " + p[1])
		}
		if i < len(pairs)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// renderTable renders rows under headers. TTY output gets a rounded border;
// other output is tab-free, space-aligned plain text. Cells beyond the
// header count are dropped.
func renderTable(headers []string, rows [][]string) string {
	trimmed := make([][]string, len(rows))
	for i, row := range rows {
		if len(headers) > 0 && len(row) > len(headers) {
			row = row[:len(headers)]
		}
		trimmed[i] = row
	}

	if !isTTY() {
		return plainTable(headers, trimmed)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorPrimaryDark)).
		Headers(headers...).
		Rows(trimmed...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
	return t.String()
}

func plainTable(headers []string, rows [][]string) string {
	cols := len(headers)
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	widths := make([]int, cols)
	measure := func(r []string) {
		for i, c := range r {
			widths[i] = max(widths[i], len(c))
		}
	}
	measure(headers)
	for _, r := range rows {
		measure(r)
	}

	var sb strings.Builder
	line := func(r []string) {
		for i, c := range r {
			if i == len(r)-1 {
				sb.WriteString(c)
			} else {
				fmt.Fprintf(&sb, "%-*s  ", widths[i], c)
			}
		}
		sb.WriteString("\n")
	}
	if len(headers) > 0 {
		line(headers)
	}
	for _, r := range rows {
		line(r)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderPanel renders content in a bordered box with an optional title.
func renderPanel(title, content string) string {
	content = strings.TrimRight(content, "\n")
	if !isTTY() {
		if title == "" {
			return content
		}
		return title + "\n" + strings.Repeat("-", len(title)) + "\n" + content
	}
	body := content
	if title != "" {
		body = labelStyle.Render(title) + "\n\n" + content
	}
	return panelStyle.Render(body)
}

// renderErrorPanel renders an error with optional context and suggestion.
func renderErrorPanel(msg, context, suggestion string) string {
	var sb strings.Builder
	if isTTY() {
		sb.WriteString(errorStyle.Render(iconError + " " + msg))
	} else {
		sb.WriteString("Error: " + msg)
	}
	if context != "" {
		sb.WriteString("\n\n" + context)
	}
	if suggestion != "" {
		if isTTY() {
			sb.WriteString("\n\n" + infoStyle.Render("Try: ") + suggestion)
		} else {
			sb.WriteString("\n\nTry: " + suggestion)
		}
	}
	if !isTTY() {
		return sb.String()
	}
	return errorPanelStyle.Render(sb.String())
}
