// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"

	json "github.com/json-iterator/go"
)

// JSONReporter writes each report as an indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: writer}
}

func (r *JSONReporter) Write(report *Report) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
