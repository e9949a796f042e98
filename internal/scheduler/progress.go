package scheduler

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Progress tracks and displays a rotation sweep's progress, reporting
// which heading last finished and which headings (if any) have failed
// so far.
type Progress struct {
	startTime     time.Time
	output        io.Writer
	total         int
	completed     int
	failed        int
	lastHeading   float64
	failedHeading []float64
	mu            sync.RWMutex
	enabled       bool
}

// NewProgress creates a new progress tracker for a sweep of total
// headings.
func NewProgress(total int, enabled bool) *Progress {
	return &Progress{
		total:     total,
		startTime: time.Now(),
		output:    os.Stderr,
		enabled:   enabled,
	}
}

// Update records the completion of one heading.
func (p *Progress) Update(heading float64, completed, total, failed int) {
	p.mu.Lock()
	p.lastHeading = heading
	p.completed = completed
	p.total = total
	if failed > len(p.failedHeading) {
		p.failedHeading = append(p.failedHeading, heading)
	}
	p.failed = failed
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Callback returns a ProgressFunc suitable for use as Scheduler.OnProgress.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

// Print displays the current progress to output.
func (p *Progress) Print() {
	p.mu.RLock()
	heading := p.lastHeading
	completed := p.completed
	total := p.total
	failed := p.failed
	startTime := p.startTime
	p.mu.RUnlock()

	elapsed := time.Since(startTime)

	var rate float64
	var eta time.Duration
	if completed > 0 {
		rate = float64(completed) / elapsed.Seconds()
		remaining := total - completed
		if rate > 0 {
			eta = time.Duration(float64(remaining)/rate) * time.Second
		}
	}

	barWidth := 30
	progress := float64(completed) / float64(total)
	filledWidth := int(progress * float64(barWidth))
	bar := strings.Repeat("█", filledWidth) + strings.Repeat("░", barWidth-filledWidth)

	line := fmt.Sprintf("\r[%s] heading %.1f° - %d/%d rotations", bar, heading, completed, total)
	if failed > 0 {
		line += fmt.Sprintf(" (%d failed)", failed)
	}
	line += fmt.Sprintf(" - %.1f rotations/sec", rate)
	if eta > 0 && completed < total {
		line += fmt.Sprintf(" - ETA: %s", formatDuration(eta))
	}
	if completed == total {
		line += fmt.Sprintf(" - Done in %s", formatDuration(elapsed))
	}

	// Pad to clear previous line content
	line += "          "

	fmt.Fprint(p.output, line)
}

// Done prints the final progress and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.Print()
		fmt.Fprintln(p.output)
	}
}

// Summary returns a summary string of the completed sweep, naming the
// headings that failed (if any).
func (p *Progress) Summary() string {
	p.mu.RLock()
	completed := p.completed
	total := p.total
	failed := p.failed
	startTime := p.startTime
	failedHeadings := append([]float64(nil), p.failedHeading...)
	p.mu.RUnlock()

	elapsed := time.Since(startTime)
	successful := completed - failed

	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(completed) / elapsed.Seconds()
	}

	summary := fmt.Sprintf("swept %d/%d headings (%d failed) in %s (%.1f headings/sec)",
		successful, total, failed, formatDuration(elapsed), rate)
	if len(failedHeadings) > 0 {
		sort.Float64s(failedHeadings)
		parts := make([]string, len(failedHeadings))
		for i, h := range failedHeadings {
			parts[i] = fmt.Sprintf("%.1f°", h)
		}
		summary += fmt.Sprintf(" [failed: %s]", strings.Join(parts, ", "))
	}
	return summary
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, mins)
}
