package worker

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	barWidth = 30
	// UnknownStage groups failures when no classifier is configured.
	UnknownStage = "error"
)

// ProgressConfig configures a Progress tracker.
type ProgressConfig struct {
	// Output receives the bar; nil means os.Stderr.
	Output io.Writer
	// Queued is the number of tasks handed to the pool.
	Queued int
	// Skipped is the number of inputs filtered out before the run, e.g. existing outputs.
	Skipped int
	Enabled bool
	// Classify names the step a failed task stopped at.
	Classify func(error) string
}

// ProgressSnapshot is a consistent copy of the tracker counters.
type ProgressSnapshot struct {
	Completed int
	Queued    int
	Skipped   int
	Failed    int
	ByStage   map[string]int
}

// Succeeded is the number of finished tasks that did not fail.
func (s ProgressSnapshot) Succeeded() int { return s.Completed - s.Failed }

// Inputs counts every input file, skipped ones included.
func (s ProgressSnapshot) Inputs() int { return s.Queued + s.Skipped }

// Breakdown renders failures per stage, most frequent first, e.g. "load 2, balance 1".
func (s ProgressSnapshot) Breakdown() string {
	stages := make([]string, 0, len(s.ByStage))
	for st := range s.ByStage {
		stages = append(stages, st)
	}
	sort.Slice(stages, func(i, j int) bool {
		if s.ByStage[stages[i]] != s.ByStage[stages[j]] {
			return s.ByStage[stages[i]] > s.ByStage[stages[j]]
		}
		return stages[i] < stages[j]
	})

	parts := make([]string, len(stages))
	for i, st := range stages {
		parts[i] = fmt.Sprintf("%s %d", st, s.ByStage[st])
	}
	return strings.Join(parts, ", ")
}

// Progress tracks a batch run and renders a single-line bar.
type Progress struct {
	cfg       ProgressConfig
	startTime time.Time
	completed int
	failed    int
	byStage   map[string]int
	mu        sync.RWMutex
}

// NewProgress creates a tracker. Skipped inputs count as done from the start.
func NewProgress(cfg ProgressConfig) *Progress {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Progress{
		cfg:       cfg,
		startTime: time.Now(),
		byStage:   make(map[string]int),
	}
}

// Observe records one finished task. It satisfies ProgressFunc.
func (p *Progress) Observe(r Result, completed, queued int) {
	p.mu.Lock()
	p.completed = completed
	p.cfg.Queued = queued
	if r.Err != nil {
		p.failed++
		p.byStage[p.classify(r.Err)]++
	}
	p.mu.Unlock()

	if p.cfg.Enabled {
		p.Print()
	}
}

func (p *Progress) classify(err error) string {
	if p.cfg.Classify == nil {
		return UnknownStage
	}
	if st := p.cfg.Classify(err); st != "" {
		return st
	}
	return UnknownStage
}

// Snapshot returns the latest counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byStage := make(map[string]int, len(p.byStage))
	for st, n := range p.byStage {
		byStage[st] = n
	}
	return ProgressSnapshot{
		Completed: p.completed,
		Queued:    p.cfg.Queued,
		Skipped:   p.cfg.Skipped,
		Failed:    p.failed,
		ByStage:   byStage,
	}
}

// Line renders the bar for the current state without the carriage return.
func (p *Progress) Line() string {
	s := p.Snapshot()
	elapsed := time.Since(p.startTime)

	done := s.Completed + s.Skipped
	var frac float64
	if s.Inputs() > 0 {
		frac = min(float64(done)/float64(s.Inputs()), 1)
	}
	filled := int(frac * barWidth)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s%s] %d/%d images",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), done, s.Inputs())

	var notes []string
	if s.Skipped > 0 {
		notes = append(notes, fmt.Sprintf("%d skipped", s.Skipped))
	}
	if s.Failed > 0 {
		notes = append(notes, fmt.Sprintf("%d failed: %s", s.Failed, s.Breakdown()))
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(notes, "; "))
	}

	rate := p.rate(s.Completed, elapsed)
	fmt.Fprintf(&b, " - %.1f images/sec", rate)
	switch {
	case s.Completed >= s.Queued:
		fmt.Fprintf(&b, " - Done in %s", formatDuration(elapsed))
	case rate > 0:
		eta := time.Duration(float64(s.Queued-s.Completed)/rate) * time.Second
		fmt.Fprintf(&b, " - ETA: %s", formatDuration(eta))
	}
	return b.String()
}

// Print redraws the bar in place.
func (p *Progress) Print() {
	// Trailing spaces clear a previous, longer line.
	fmt.Fprint(p.cfg.Output, "\r"+p.Line()+"          ")
}

// Done prints the final bar and a newline.
func (p *Progress) Done() {
	if p.cfg.Enabled {
		p.Print()
		fmt.Fprintln(p.cfg.Output)
	}
}

// Summary describes the finished run in one line.
func (p *Progress) Summary() string {
	s := p.Snapshot()
	elapsed := time.Since(p.startTime)

	var b strings.Builder
	fmt.Fprintf(&b, "Corrected %d/%d images", s.Succeeded(), s.Inputs())
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed (%s)", s.Failed, s.Breakdown())
	}
	if s.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", s.Skipped)
	}
	fmt.Fprintf(&b, " in %s (%.1f images/sec)", formatDuration(elapsed), p.rate(s.Completed, elapsed))
	return b.String()
}

func (p *Progress) rate(completed int, elapsed time.Duration) float64 {
	if completed == 0 || elapsed <= 0 {
		return 0
	}
	return float64(completed) / elapsed.Seconds()
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
