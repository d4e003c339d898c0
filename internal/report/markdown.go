package report

import (
	"io"
	"slices"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/shopwalk/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation, which gives us tables, GitHub alerts and mermaid charts
// without hand-built escaping.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *model.RunSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeRequests(md, summary)
	w.writeSessions(md, summary)
	w.writeRuleBreakdown(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the run overview.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, summary *model.RunSummary) {
	md.H1("shopwalk Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run Date", summary.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", formatDuration(summary.Duration)},
			{"Sessions", strconv.Itoa(len(summary.Sessions))},
			{"Succeeded", strconv.Itoa(summary.Succeeded)},
			{"Failed", strconv.Itoa(summary.Failed)},
		},
	})
	md.PlainText("")

	switch {
	case len(summary.Sessions) == 0:
		md.Note("No sessions were run.")
	case summary.Failed == len(summary.Sessions):
		md.Cautionf("All %d session(s) failed.", summary.Failed)
	case summary.HasFailures():
		md.Warningf("%d of %d session(s) failed.", summary.Failed, len(summary.Sessions))
	default:
		md.Tip("All sessions reached the results page.")
	}
	md.PlainText("")
}

// writeRequests writes the filter totals with a pie chart.
func (w *MarkdownWriter) writeRequests(md *markdown.Markdown, summary *model.RunSummary) {
	md.H2("Request Filtering")
	md.PlainText("")

	if summary.TotalBlocked+summary.TotalAllowed == 0 {
		md.PlainText("No requests were filtered.")
		md.PlainText("")
		return
	}

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Requests"},
		Rows: [][]string{
			{"Blocked", strconv.FormatUint(summary.TotalBlocked, 10)},
			{"Allowed", strconv.FormatUint(summary.TotalAllowed, 10)},
			{"**Blocked share**", "**" + strconv.FormatFloat(summary.BlockedRatio()*100, 'f', 1, 64) + "%**"},
		},
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Landing Page Requests"),
		piechart.WithShowData(true),
	)
	if summary.TotalBlocked > 0 {
		chart.LabelAndIntValue("Blocked", summary.TotalBlocked)
	}
	if summary.TotalAllowed > 0 {
		chart.LabelAndIntValue("Allowed", summary.TotalAllowed)
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeSessions writes one table row per session.
func (w *MarkdownWriter) writeSessions(md *markdown.Markdown, summary *model.RunSummary) {
	md.H2("Sessions")
	md.PlainText("")

	if len(summary.Sessions) == 0 {
		md.PlainText("No sessions.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(summary.Sessions))
	for i, r := range summary.Sessions {
		status := statusText(r)
		if r.Error != "" {
			status += ": " + truncateString(r.Error, 40)
		}
		filterCell := "off"
		if r.Optimized {
			filterCell = strconv.FormatUint(r.Filter.Blocked, 10) + " / " + strconv.FormatUint(r.Filter.Allowed, 10)
		}
		page := r.FinalURL
		if page == "" {
			page = "-"
		}
		rows[i] = []string{
			"`" + r.Query + "`",
			status,
			proxyText(r),
			strconv.Itoa(r.Attempts),
			filterCell,
			truncateString(page, 60),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Query", "Status", "Proxy", "Attempts", "Blocked / Allowed", "Page"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeRuleBreakdown writes per-rule counts summed over all sessions.
func (w *MarkdownWriter) writeRuleBreakdown(md *markdown.Markdown, summary *model.RunSummary) {
	totals := make(map[string]uint64)
	for _, r := range summary.Sessions {
		for name, n := range r.Filter.ByRule {
			totals[name] += n
		}
	}
	if len(totals) == 0 {
		return
	}

	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	slices.Sort(names)

	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{label(name), strconv.FormatUint(totals[name], 10)}
	}

	md.H2("Decisions by Rule")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Rule", "Requests"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [shopwalk](https://github.com/nao1215/shopwalk)*")
}
