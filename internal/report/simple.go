package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nao1215/darkwatch/internal/model"
)

const ruleWidth = 70

// SimpleWriter outputs a human-readable summary for the terminal.
type SimpleWriter struct {
	baseWriter

	// verbose lists zero counters too.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose lists every counter, including zero ones.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs r in human-readable form.
func (w *SimpleWriter) Write(r *Run) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, r)
	for _, f := range r.Forums {
		w.writeForum(&sb, f)
	}
	w.writeTotals(&sb, r)
	w.writeStored(&sb, r.Stored)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, r *Run) {
	sb.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	sb.WriteString("DARKWATCH CRAWL SUMMARY\n")
	sb.WriteString(strings.Repeat("=", ruleWidth) + "\n\n")

	fmt.Fprintf(sb, "Run ID:    %s\n", r.RunID)
	fmt.Fprintf(sb, "Started:   %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(sb, "Elapsed:   %s\n", r.Elapsed().Round(time.Second))
	if r.Interrupted {
		sb.WriteString("Status:    INTERRUPTED (resume with --resume)\n")
	} else {
		sb.WriteString("Status:    Complete\n")
	}
	fmt.Fprintf(sb, "Post log:  %s\n", r.Outputs.PostLog)
	if r.Outputs.Database != "" {
		fmt.Fprintf(sb, "Database:  %s\n", r.Outputs.Database)
	}
	if r.Outputs.QuarantineDir != "" {
		fmt.Fprintf(sb, "Quarantine: %s\n", r.Outputs.QuarantineDir)
	}
	if r.Outputs.Archive != "" {
		fmt.Fprintf(sb, "Archive:   %s\n", r.Outputs.Archive)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeForum(sb *strings.Builder, f Forum) {
	sb.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	fmt.Fprintf(sb, "%s [%s] %s", f.Key, f.Engine, strings.ToUpper(string(f.State)))
	if f.Skipped {
		sb.WriteString(" (already finished)")
	}
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	if f.AbortReason != "" {
		fmt.Fprintf(sb, "  Abort reason: %s\n", f.AbortReason)
	} else if f.Error != "" {
		fmt.Fprintf(sb, "  Error: %s\n", f.Error)
	}
	w.writeCounters(sb, f.Counters)
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeTotals(sb *strings.Builder, r *Run) {
	sb.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	fmt.Fprintf(sb, "TOTAL (%d forums, %d aborted)\n", len(r.Forums), r.Aborted())
	sb.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	w.writeCounters(sb, r.Totals)
}

func (w *SimpleWriter) writeStored(sb *strings.Builder, st *Stored) {
	if st == nil {
		return
	}
	sb.WriteString("\n" + strings.Repeat("=", ruleWidth) + "\n")
	sb.WriteString("DATABASE (all runs)\n")
	sb.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	fmt.Fprintf(sb, "  %-26s %s\n", "Posts stored:", humanize.Comma(int64(st.Posts)))
	fmt.Fprintf(sb, "  %-26s %s\n", "Quarantine records:", humanize.Comma(int64(st.Quarantined)))
	for _, kind := range sortedKeys(st.Indicators) {
		fmt.Fprintf(sb, "  %-26s %s\n", "Indicators "+kind+":", humanize.Comma(int64(st.Indicators[kind])))
	}
}

func (w *SimpleWriter) writeCounters(sb *strings.Builder, c model.Counters) {
	line := func(label string, n int) {
		if n == 0 && !w.verbose {
			return
		}
		fmt.Fprintf(sb, "  %-26s %s\n", label+":", humanize.Comma(int64(n)))
	}
	line("Pages fetched", c.PagesFetched)
	line("Threads discovered", c.ThreadsDiscovered)
	line("Posts extracted", c.PostsExtracted)
	line("Posts already stored", c.PostsDuplicate)
	line("Missing fields", c.FieldsMissing)
	line("Indicators found", c.IndicatorsFound)
	line("Attachments quarantined", c.AttachmentsQuarantined)
	for _, reason := range sortedKeys(c.AttachmentsRejected) {
		line("Rejected "+reason, c.AttachmentsRejected[reason])
	}
	for _, kind := range sortedKeys(c.Errors) {
		line("Errors "+kind, c.Errors[kind])
	}
}
