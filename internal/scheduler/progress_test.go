package scheduler

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgressPrintReportsLastHeadingAndCounts(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(4, true)
	p.output = &buf

	p.Update(30, 2, 4, 0)

	out := buf.String()
	if !strings.Contains(out, "heading 30.0°") {
		t.Fatalf("expected output to mention the last completed heading, got %q", out)
	}
	if !strings.Contains(out, "2/4 rotations") {
		t.Fatalf("expected output to report 2/4 rotations, got %q", out)
	}
}

func TestProgressDisabledPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(4, false)
	p.output = &buf

	p.Update(30, 1, 4, 0)
	p.Done()

	if buf.Len() != 0 {
		t.Fatalf("expected no output when disabled, got %q", buf.String())
	}
}

func TestProgressSummaryListsFailedHeadings(t *testing.T) {
	p := NewProgress(3, false)
	p.Update(0, 1, 3, 0)
	p.Update(30, 2, 3, 1)
	p.Update(60, 3, 3, 1)

	summary := p.Summary()
	if !strings.Contains(summary, "1 failed") {
		t.Fatalf("expected summary to report 1 failed, got %q", summary)
	}
	if !strings.Contains(summary, "30.0°") {
		t.Fatalf("expected summary to name the failed heading, got %q", summary)
	}
}
