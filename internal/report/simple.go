package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/nao1215/shopwalk/internal/model"
)

// SimpleWriter outputs human-readable text reports.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors so the output can be piped to files or other tools.
type SimpleWriter struct {
	baseWriter

	// verbose adds the per-rule breakdown for each session.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(summary *model.RunSummary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	for i, r := range summary.Sessions {
		w.writeSession(&sb, i+1, r)
	}
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the run totals.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, summary *model.RunSummary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         SHOPWALK REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Run Date:   %s\n", summary.StartedAt.Format("2006-01-02 15:04:05 MST")))
	sb.WriteString(fmt.Sprintf("Duration:   %s\n", formatDuration(summary.Duration)))
	sb.WriteString(fmt.Sprintf("Sessions:   %d (%d succeeded, %d failed)\n",
		len(summary.Sessions), summary.Succeeded, summary.Failed))
	sb.WriteString(fmt.Sprintf("Requests:   %d blocked, %d allowed (%.1f%% blocked)\n",
		summary.TotalBlocked, summary.TotalAllowed, summary.BlockedRatio()*100))
	sb.WriteString("\n")
}

// writeSession writes one session block.
func (w *SimpleWriter) writeSession(sb *strings.Builder, n int, r *model.SessionRecord) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("SESSION %d: %q\n", n, r.Query))
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("  Status:    %s\n", statusText(r)))
	if r.Error != "" {
		sb.WriteString(fmt.Sprintf("  Error:     %s\n", r.Error))
	}
	sb.WriteString(fmt.Sprintf("  Proxy:     %s\n", proxyText(r)))
	sb.WriteString(fmt.Sprintf("  Attempts:  %d\n", r.Attempts))
	sb.WriteString(fmt.Sprintf("  Duration:  %s\n", formatDuration(r.Duration)))
	if r.FinalURL != "" {
		sb.WriteString(fmt.Sprintf("  Page:      %s\n", r.FinalURL))
	}
	if r.Title != "" {
		sb.WriteString(fmt.Sprintf("  Title:     %s\n", r.Title))
	}

	if !r.Optimized {
		sb.WriteString("  Filter:    off\n\n")
		return
	}

	sb.WriteString(fmt.Sprintf("  Filter:    %s, %d blocked, %d allowed\n",
		label(r.Filter.State.String()), r.Filter.Blocked, r.Filter.Allowed))

	if w.verbose && len(r.Filter.ByRule) > 0 {
		rules := make([]string, 0, len(r.Filter.ByRule))
		for name := range r.Filter.ByRule {
			rules = append(rules, name)
		}
		slices.Sort(rules)
		for _, name := range rules {
			sb.WriteString(fmt.Sprintf("    %-18s %d\n", label(name)+":", r.Filter.ByRule[name]))
		}
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by shopwalk\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
