// Package output renders command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/bitswalk/ibforge/src/common/errors"
)

// Format names an output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --output value
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", errors.ErrInvalidConfig.WithMessagef("unknown output format %q (expected table, json or yaml)", s)
	}
}

// PrintJSON writes data as indented JSON
func PrintJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintYAML writes data as YAML
func PrintYAML(w io.Writer, data interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// PrintTable writes tabular data
func PrintTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)

	for _, row := range rows {
		for i, col := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, col)
		}
		fmt.Fprintln(tw)
	}

	tw.Flush()
}

// Print renders data in the structured formats, or calls table for
// FormatTable
func Print(w io.Writer, format Format, data interface{}, table func()) error {
	switch format {
	case FormatJSON:
		return PrintJSON(w, data)
	case FormatYAML:
		return PrintYAML(w, data)
	default:
		table()
		return nil
	}
}
