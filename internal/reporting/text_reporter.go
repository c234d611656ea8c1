// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// TextReporter writes a human readable summary: one row per pass and one per
// element.
type TextReporter struct {
	writer io.WriteCloser
}

// NewTextReporter takes ownership of writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(report *Report) error {
	fmt.Fprintf(r.writer, "pagert %s  session %s  page %s\n\n", report.Version, report.Session, report.Page)

	tw := tabwriter.NewWriter(r.writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PASS\tSCROLL\tBUILT\tMEASURED\tIN VIEW\tSCHEDULED\tIDLE\tDONE\tFAILED\tCANCELLED\tTIMED OUT\tUNLAID\tDURATION")
	for _, p := range report.Passes {
		fmt.Fprintf(tw, "%d\t%g\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			p.Pass, p.Viewport.Top, p.Built, p.Measured, p.InViewport, p.Scheduled, p.Idle,
			p.Completed, p.Failed, p.Cancelled, p.TimedOut, p.Unlaidout, p.Duration)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write pass table: %w", err)
	}

	fmt.Fprintln(r.writer)
	tw = tabwriter.NewWriter(r.writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ELEMENT\tBUILT\tLAYOUTS\tUNLAYOUTS\tIN VIEW\tPLACEHOLDER\tBOX")
	for _, e := range report.Elements {
		name := e.Tag
		if e.ID != "" {
			name += "#" + e.ID
		}
		b := e.LastBox
		fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%t\t%t\t%g,%g %gx%g\n",
			name, e.Built, e.Layouts, e.Unlayouts, e.InViewport, e.Placeholder, b.Left, b.Top, b.Width, b.Height)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write element table: %w", err)
	}

	_, err := fmt.Fprintf(r.writer, "\nerrors: violations=%d target_failures=%d other=%d\n",
		report.Errors.Violations, report.Errors.TargetFailures, report.Errors.Other)
	return err
}

func (r *TextReporter) Close() error {
	return r.writer.Close()
}
