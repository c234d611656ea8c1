// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/pagert/internal/page/element"
	"github.com/xkilldash9x/pagert/internal/page/scheduler"
)

// Report is everything a run produced.
type Report struct {
	Version  string                 `json:"version"`
	Session  string                 `json:"session"`
	Page     string                 `json:"page"`
	Passes   []scheduler.PassReport `json:"passes"`
	Errors   scheduler.ErrorStats   `json:"errors"`
	Elements []element.Snapshot     `json:"elements"`
}

// Reporter writes run reports to an output.
type Reporter interface {
	// Write renders one report.
	Write(report *Report) error
	// Close finalizes the output and closes any underlying file.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("json" or "text"). An empty
// outputPath, or "stdout", writes to stdout.
func New(format, outputPath string, stdout io.Writer) (Reporter, error) {
	switch format {
	case "json", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "text" {
		return NewTextReporter(writer), nil
	}
	return NewJSONReporter(writer), nil
}
