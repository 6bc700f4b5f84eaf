// Package batch corrects every image in a directory and records per-file outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/negafix/internal/imageio"
	"github.com/MeKo-Tech/negafix/internal/pipeline"
	"github.com/MeKo-Tech/negafix/internal/worker"
)

// Stage labels for failures outside the correction pipeline.
const (
	StageLoad      = "load"
	StageSave      = "save"
	StageCancelled = "cancelled"
)

// Sink receives batch outcomes, typically for persistence.
type Sink interface {
	BeginRun(ctx context.Context, srcDir, dstDir string, started time.Time) (int64, error)
	RecordResults(ctx context.Context, runID int64, results []FileResult) error
	FinishRun(ctx context.Context, runID int64, summary Summary) error
}

// Options configures a Driver.
type Options struct {
	Workers      int
	Extensions   []string
	SkipExisting bool
	Encode       imageio.Options
	// OutputFormat forces every output into one format; empty keeps each input's extension.
	OutputFormat string
	Progress     bool
	ProgressOut  io.Writer
}

// Driver runs the correction pipeline over a directory of negatives.
type Driver struct {
	pipeline *pipeline.Pipeline
	opts     Options
	sink     Sink
	logger   *slog.Logger
}

// NewDriver creates a driver. sink may be nil.
func NewDriver(p *pipeline.Pipeline, opts Options, sink Sink, logger *slog.Logger) *Driver {
	return &Driver{pipeline: p, opts: opts, sink: sink, logger: logger}
}

// Run corrects every eligible file in srcDir into dstDir. Individual failures are recorded in
// the summary and never abort the batch; an error is returned only when the directories
// themselves cannot be used.
func (d *Driver) Run(ctx context.Context, srcDir, dstDir string) (Summary, error) {
	start := time.Now()

	info, err := os.Stat(srcDir)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read input dir: %w", err)
	}
	if !info.IsDir() {
		return Summary{}, fmt.Errorf("input %s is not a directory", srcDir)
	}
	if same, err := samePath(srcDir, dstDir); err != nil {
		return Summary{}, err
	} else if same {
		return Summary{}, fmt.Errorf("output dir must differ from input dir %s", srcDir)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	names, err := d.listInputs(srcDir)
	if err != nil {
		return Summary{}, err
	}

	var runID int64
	if d.sink != nil {
		runID, err = d.sink.BeginRun(ctx, srcDir, dstDir, start)
		if err != nil {
			return Summary{}, fmt.Errorf("failed to start report run: %w", err)
		}
	}

	results := make([]FileResult, len(names))
	var tasks []worker.Task
	for i, name := range names {
		out := filepath.Join(dstDir, d.outputName(name))
		results[i] = FileResult{Name: name, Input: filepath.Join(srcDir, name), Output: out}

		if d.opts.SkipExisting {
			if _, err := os.Stat(out); err == nil {
				d.log().Info("Output already exists; skipping", "file", name, "path", out)
				results[i].Skipped = true
				continue
			}
		}
		tasks = append(tasks, worker.Task{Index: i, Name: name, Input: results[i].Input, Output: out})
	}

	d.log().Info("Starting batch", "input", srcDir, "output", dstDir, "files", len(names), "queued", len(tasks), "workers", d.workers())

	progress := worker.NewProgress(worker.ProgressConfig{
		Output:   d.progressOut(),
		Queued:   len(tasks),
		Skipped:  len(names) - len(tasks),
		Enabled:  d.opts.Progress,
		Classify: stageOf,
	})

	// Each slot is written by the single worker that owns that task index.
	corrections := make([]pipeline.Result, len(names))
	pool := worker.New(worker.Config{
		Workers: d.workers(),
		Processor: worker.ProcessorFunc(func(ctx context.Context, task worker.Task) (string, error) {
			res, err := d.correctFile(ctx, task)
			if err != nil {
				return "", err
			}
			corrections[task.Index] = res
			return task.Output, nil
		}),
		OnProgress: progress.Observe,
	})
	for _, r := range pool.Run(ctx, tasks) {
		fr := &results[r.Task.Index]
		fr.Elapsed = r.Elapsed
		if r.Err != nil {
			fr.Err = r.Err
			fr.Stage = stageOf(r.Err)
			d.log().Error("Failed to correct image", "file", fr.Name, "stage", fr.Stage, "error", r.Err)
			continue
		}
		fr.Gains = corrections[r.Task.Index].Gains
		fr.Exposure = corrections[r.Task.Index].ExposureFactor
	}
	if len(tasks) > 0 {
		progress.Done()
	}

	summary := summarize(results, time.Since(start))
	summary.RunID = runID

	if d.sink != nil {
		// Outcomes are persisted even when ctx was cancelled mid-batch.
		sinkCtx := context.WithoutCancel(ctx)
		if err := d.sink.RecordResults(sinkCtx, runID, results); err != nil {
			d.log().Warn("Failed to record batch results", "run", runID, "error", err)
		}
		if err := d.sink.FinishRun(sinkCtx, runID, summary); err != nil {
			d.log().Warn("Failed to finish report run", "run", runID, "error", err)
		}
	}

	d.log().Info(progress.Summary(),
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"failures_by_stage", progress.Snapshot().ByStage)

	return summary, nil
}

// correctFile loads, corrects and saves one image.
func (d *Driver) correctFile(ctx context.Context, task worker.Task) (pipeline.Result, error) {
	buf, _, err := imageio.Load(task.Input)
	if err != nil {
		return pipeline.Result{}, err
	}

	res, err := d.pipeline.Process(ctx, task.Name, buf)
	if err != nil {
		return pipeline.Result{}, err
	}

	if err := imageio.Save(task.Output, res.Output, d.opts.Encode); err != nil {
		return pipeline.Result{}, err
	}
	d.log().Debug("Wrote corrected image", "file", task.Name, "path", task.Output,
		"gains", res.Gains.String(), "exposure_factor", res.ExposureFactor)
	return res, nil
}

// listInputs returns the regular, non-hidden files in dir, sorted by name.
func (d *Driver) listInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list input dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !d.acceptsExt(name) {
			continue
		}
		// Stat follows symlinks so linked files are processed and linked dirs are not.
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (d *Driver) acceptsExt(name string) bool {
	if len(d.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range d.opts.Extensions {
		want = strings.ToLower(strings.TrimSpace(want))
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if ext == want {
			return true
		}
	}
	return false
}

// outputName keeps the input name unless a forced format or a decode-only input
// format requires a different extension.
func (d *Driver) outputName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	if d.opts.OutputFormat != "" {
		return base + "." + extensionFor(d.opts.OutputFormat)
	}
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return name
	default:
		return base + ".png"
	}
}

func extensionFor(format string) string {
	switch format {
	case imageio.FormatJPEG:
		return "jpg"
	case imageio.FormatTIFF:
		return "tif"
	case imageio.FormatBMP:
		return "bmp"
	default:
		return "png"
	}
}

func (d *Driver) workers() int {
	return max(d.opts.Workers, 1)
}

func (d *Driver) progressOut() io.Writer {
	if d.opts.ProgressOut != nil {
		return d.opts.ProgressOut
	}
	return os.Stderr
}

func (d *Driver) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.Default()
}

// stageOf attributes an error to the step that produced it.
func stageOf(err error) string {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StageCancelled
	}
	var ioe *imageio.IOError
	if errors.As(err, &ioe) && (ioe.Op == "open" || ioe.Op == "decode") {
		return StageLoad
	}
	return StageSave
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", a, err)
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", b, err)
	}
	return filepath.Clean(absA) == filepath.Clean(absB), nil
}
