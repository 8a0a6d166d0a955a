// Package output provides styled terminal output helpers (success, error,
// warning, dataset and record formatting) using lipgloss.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"golang.org/x/term"

	"github.com/marcus/gridsync/internal/syncclient"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	kindStyles   = map[string]lipgloss.Style{
		"text":   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		"number": lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
		"bool":   lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		"time":   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message to stderr
func Error(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message to stderr
func Warning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// FormatField formats a field as name:kind, with the transform when set.
func FormatField(f syncclient.Field) string {
	s := f.Name
	if f.Kind != "" {
		style, ok := kindStyles[f.Kind]
		if !ok {
			style = subtleStyle
		}
		s += ":" + style.Render(f.Kind)
	}
	if f.Transform != "" {
		s += subtleStyle.Render(" |" + f.Transform)
	}
	return s
}

// FormatDataset formats a dataset in one line
func FormatDataset(ds syncclient.Dataset) string {
	fields := make([]string, len(ds.Fields))
	for i, f := range ds.Fields {
		fields[i] = FormatField(f)
	}
	rows := "rows"
	if ds.Size == 1 {
		rows = "row"
	}
	return fmt.Sprintf("%s  %s  %s",
		titleStyle.Render(ds.Name),
		subtleStyle.Render(humanize.Comma(int64(ds.Size))+" "+rows),
		strings.Join(fields, ", "))
}

// FormatRecordShort formats a record as "#index id  field=value ...",
// in the order of fields, then any remaining keys sorted.
func FormatRecordShort(rec syncclient.Record, fields []string) string {
	var parts []string
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("#%d", rec.Index)))
	parts = append(parts, titleStyle.Render(rec.ID))
	for _, k := range orderedKeys(rec.Values, fields) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, FormatValue(rec.Values[k])))
	}
	return strings.Join(parts, "  ")
}

// RecordMarkdown renders a record as a markdown document for glamour.
func RecordMarkdown(dataset string, rec syncclient.Record, fields []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", rec.ID)
	fmt.Fprintf(&sb, "Row **%s** of dataset `%s`\n\n", humanize.Ordinal(rec.Index+1), dataset)
	sb.WriteString("| field | value |\n|---|---|\n")
	for _, k := range orderedKeys(rec.Values, fields) {
		v := strings.ReplaceAll(FormatValue(rec.Values[k]), "|", `\|`)
		fmt.Fprintf(&sb, "| %s | %s |\n", k, v)
	}
	return sb.String()
}

// FormatValue formats one cell value for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return humanize.Comma(int64(x))
		}
		return humanize.CommafWithDigits(x, 4)
	default:
		return fmt.Sprint(x)
	}
}

func orderedKeys(values map[string]any, fields []string) []string {
	keys := make([]string, 0, len(values))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if _, ok := values[f]; ok {
			keys = append(keys, f)
			seen[f] = true
		}
	}
	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nFIELDS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
