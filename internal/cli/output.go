// Package cli provides the HTTP client and output formatting used by the facegate CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hyperjump/facegate/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteResponse writes a register or verify response.
func WriteResponse(w io.Writer, resp *models.StandardResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	mark := "✗"
	if resp.Success {
		mark = "✓"
	}
	fmt.Fprintf(w, "%s %s\n", mark, resp.Message)
	if id, ok := resp.Data["user_id"]; ok {
		fmt.Fprintf(w, "  User:     %v\n", id)
	}
	if d, ok := resp.Data["distance"]; ok {
		fmt.Fprintf(w, "  Distance: %s\n", formatDistance(d))
	}
	if n, ok := resp.Data["scanned"]; ok {
		fmt.Fprintf(w, "  Scanned:  %v\n", n)
	}
	if id, ok := resp.Data["decision_id"]; ok {
		fmt.Fprintf(w, "  Decision: %v\n", id)
	}
	return nil
}

func formatDistance(d interface{}) string {
	switch v := d.(type) {
	case nil:
		return "n/a"
	case *float64:
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.4f", *v)
	case float64:
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprint(v)
	}
}

// WriteStatus writes a status report with keys in a stable order.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-20s %v\n", k+":", status[k])
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
