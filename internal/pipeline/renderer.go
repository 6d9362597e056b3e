package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ppiankov/cfrfetch/internal/model"
	"github.com/ppiankov/cfrfetch/internal/store"
)

const rule = "═══════════════════════════════════════════════════════════"

// Renderer writes run reports
type Renderer struct{}

// NewRenderer creates a Renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderJSON writes the report as indented JSON to path
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := store.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// RenderSummary prints the end-of-run banner
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report, outputDir string) {
	title := "Fetch Complete"
	switch report.Outcome() {
	case model.OutcomePartial:
		title = "Fetch Finished With Failures"
	case model.OutcomeFailed:
		title = "Fetch Failed"
	}
	if report.ResolveOnly {
		title = "Resolution " + title[len("Fetch "):]
	}

	c := report.Counts
	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "%s\n", rule)
	_, _ = fmt.Fprintf(w, "  %s\n", title)
	_, _ = fmt.Fprintf(w, "%s\n", rule)
	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "  Agencies:        %d\n", c.Agencies)
	_, _ = fmt.Fprintf(w, "  References:      %d\n", c.References)
	_, _ = fmt.Fprintf(w, "  Confirmed:       %d\n", c.Confirmed)
	_, _ = fmt.Fprintf(w, "  Not applicable:  %d\n", c.NotApplicable)
	_, _ = fmt.Fprintf(w, "  Ignored:         %d\n", c.Ignored)
	if !report.ResolveOnly {
		_, _ = fmt.Fprintf(w, "  Saved:           %d\n", c.Persisted)
		_, _ = fmt.Fprintf(w, "  Skipped:         %d\n", c.Skipped)
		if c.TitleDocs > 0 {
			_, _ = fmt.Fprintf(w, "  Full titles:     %d\n", c.TitleDocs)
		}
	}
	_, _ = fmt.Fprintf(w, "  Failed:          %d\n", c.Failed)
	_, _ = fmt.Fprintf(w, "  Duration:        %s\n", report.Duration().Round(time.Millisecond))
	if outputDir != "" {
		_, _ = fmt.Fprintf(w, "  Output:          %s\n", outputDir)
	}

	var failed []model.AgencySummary
	for _, a := range report.Agencies {
		if a.Error != "" {
			failed = append(failed, a)
		}
	}
	if len(failed) > 0 {
		_, _ = fmt.Fprintf(w, "\n  Failed agencies:\n")
		for _, a := range failed {
			_, _ = fmt.Fprintf(w, "    ✗ %s: %s\n", a.Slug, a.Error)
		}
	}
	if report.Fatal != "" {
		_, _ = fmt.Fprintf(w, "\n  Stopped: %s\n", report.Fatal)
	}
	_, _ = fmt.Fprintf(w, "\n")
}
