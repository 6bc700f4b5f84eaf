package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/negafix/internal/correct"
)

// FileResult is the outcome for one input file.
type FileResult struct {
	Name     string
	Input    string
	Output   string
	Stage    string
	Err      error
	Elapsed  time.Duration
	Skipped  bool
	// Gains and Exposure are the correction applied; zero unless the file succeeded.
	Gains    correct.ChannelGains
	Exposure float64
}

// Status is "ok", "failed" or "skipped".
func (r FileResult) Status() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Err != nil:
		return "failed"
	default:
		return "ok"
	}
}

// Summary is the terminal result of a batch run.
type Summary struct {
	RunID     int64
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Results   []FileResult
	Elapsed   time.Duration
}

// Failures returns only the failed results, in input order.
func (s Summary) Failures() []FileResult {
	var out []FileResult
	for _, r := range s.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// String renders a one-line human summary.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Corrected %d/%d images", s.Succeeded, s.Total)
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.Failed)
	}
	if s.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", s.Skipped)
	}
	fmt.Fprintf(&b, " in %s", s.Elapsed.Round(time.Millisecond))
	return b.String()
}

func summarize(results []FileResult, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Results: results, Elapsed: elapsed}
	for _, r := range results {
		switch r.Status() {
		case "ok":
			s.Succeeded++
		case "failed":
			s.Failed++
		case "skipped":
			s.Skipped++
		}
	}
	return s
}
