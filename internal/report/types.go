// Package report stores batch correction outcomes in a SQLite database.
package report

import (
	"errors"
	"strconv"
	"time"

	"github.com/MeKo-Tech/negafix/internal/correct"
)

// SchemaVersion is written to the metadata table and checked by the reader.
const SchemaVersion = 2

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Metadata describes the database as a whole.
type Metadata struct {
	Tool          string
	Version       string
	SchemaVersion int
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	if m.Tool != "" {
		result["tool"] = m.Tool
	}
	if m.Version != "" {
		result["version"] = m.Version
	}
	if m.SchemaVersion > 0 {
		result["schema_version"] = strconv.Itoa(m.SchemaVersion)
	}

	return result
}

// Run is one invocation of the batch driver.
type Run struct {
	ID         int64
	SrcDir     string
	DstDir     string
	Config     string // JSON-encoded correction parameters
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in progress or if it crashed
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
}

// Finished reports whether the run recorded its summary.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Entry is the stored outcome of one file.
type Entry struct {
	RunID    int64
	Name     string
	Status   string
	Stage    string
	Error    string
	Elapsed  time.Duration
	// Gains and Exposure are zero for failed and skipped files.
	Gains    correct.ChannelGains
	Exposure float64
}
