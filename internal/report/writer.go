package report

import (
	"io"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/shopwalk/internal/model"
)

// Writer defines the interface for report output.
// Implementations write run summaries in various formats.
type Writer interface {
	// Write outputs the summary to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(summary *model.RunSummary) (int, error)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// label converts a kebab-case name such as "image-extension" into
// "Image Extension". A Caser keeps state, so one is built per call.
func label(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "-", " "))
}

// statusText describes a session outcome in plain words.
func statusText(r *model.SessionRecord) string {
	switch {
	case r.TimedOut:
		return "Timed out"
	case r.Error != "":
		return "Failed"
	default:
		return "Complete"
	}
}

// proxyText names the proxy a session used.
func proxyText(r *model.SessionRecord) string {
	if r.Proxy == nil {
		return "direct"
	}
	if r.Proxy.Name != "" && r.Proxy.Name != r.Proxy.ID {
		return r.Proxy.ID + " (" + r.Proxy.Name + ")"
	}
	return r.Proxy.ID
}

// formatDuration rounds d for display.
func formatDuration(d time.Duration) string {
	return d.Round(10 * time.Millisecond).String()
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
