package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Format selects an output renderer
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %s (must be table, json, or yaml)", s)
	}
}

// Render writes reports to w in format
func Render(w io.Writer, format Format, reports []Report) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable, "":
		for i, r := range reports {
			if i > 0 {
				_, _ = fmt.Fprintln(w)
			}
			renderTable(w, r)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func renderTable(w io.Writer, r Report) {
	cyan := color.New(color.FgCyan, color.Bold)
	weekend := color.New(color.FgRed)
	plain := color.New(color.Reset)

	_, _ = cyan.Fprintf(w, "[%s]\n", r.User)
	_, _ = fmt.Fprintf(w, "%-10s  %-9s  %6s  %6s  %s\n", "DAY", "WEEKDAY", "LIMIT", "USED", "REMAINING")

	for _, row := range r.Rows {
		line := fmt.Sprintf("%-10s  %-9s  %6d  %6d  %d min (%d%%)",
			row.Date, row.Weekday, row.Limit, row.Used, row.Remaining, row.Percent)
		c := plain
		if row.Weekend {
			c = weekend
		}
		_, _ = c.Fprintln(w, line)
	}
}
