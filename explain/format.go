package explain

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSON writes the report as indented JSON to w.
func JSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Pretty writes a human-readable report to w.
func Pretty(w io.Writer, r *Report) {
	fmt.Fprintln(w, r.Summary())

	for _, s := range r.Services {
		switch s.Outcome {
		case OutcomeFailed:
			fmt.Fprintf(w, "  %s failed", s.Name)
			if s.Cause != "" {
				fmt.Fprintf(w, ": %s", s.Cause)
			}
			fmt.Fprintln(w)
			if s.LastError != "" {
				fmt.Fprintf(w, "      last error: %s\n", s.LastError)
			}
		case OutcomeSkipped:
			fmt.Fprintf(w, "  %s skipped: %s\n", s.Name, s.Cause)
		case OutcomeFlapping:
			fmt.Fprintf(w, "  %s is flapping: %d restart(s)", s.Name, s.Restarts)
			if s.LastError != "" {
				fmt.Fprintf(w, ", last error: %s", s.LastError)
			}
			fmt.Fprintln(w)
		}
	}
}
