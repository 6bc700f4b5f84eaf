// Package pipeline runs the correction stages on a single image in their fixed order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/negafix/internal/correct"
	"github.com/MeKo-Tech/negafix/internal/pixbuf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "negafix/pipeline"

// Stage names one step of the correction pipeline.
type Stage string

const (
	StageInvert   Stage = "invert"
	StageBalance  Stage = "balance"
	StageExposure Stage = "exposure"
	StageEnhance  Stage = "enhance"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageInvert, StageBalance, StageExposure, StageEnhance}

// StageError attributes a failure to the image and stage that produced it.
type StageError struct {
	Image string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s stage failed: %v", e.Image, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// CaptureFunc receives the output of every completed stage.
// The buffer must be treated as read-only.
type CaptureFunc func(image string, stage Stage, buf pixbuf.Buffer)

// Options configures optional pipeline behaviour.
type Options struct {
	Capture CaptureFunc
}

// Result is the outcome of a successful run.
type Result struct {
	Output         pixbuf.Buffer
	Gains          correct.ChannelGains
	ExposureFactor float64
	Elapsed        time.Duration
}

// Pipeline chains inverter, balancer, exposure normalizer and enhancer.
// It holds no per-image state and is safe for concurrent use.
type Pipeline struct {
	cfg     correct.Config
	logger  *slog.Logger
	capture CaptureFunc
}

// New validates cfg and prepares a pipeline.
func New(cfg correct.Config, logger *slog.Logger, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid correction config: %w", err)
	}
	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		capture: opts.Capture,
	}, nil
}

// Config returns the parameters the pipeline was built with.
func (p *Pipeline) Config() correct.Config {
	return p.cfg
}

// Run corrects buf and returns the positive image.
func (p *Pipeline) Run(ctx context.Context, name string, buf pixbuf.Buffer) (pixbuf.Buffer, error) {
	res, err := p.Process(ctx, name, buf)
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	return res.Output, nil
}

// Process is Run with the intermediate measurements. Cancellation is only observed before
// the first stage starts; once running, an image is always carried through to the end.
func (p *Pipeline) Process(ctx context.Context, name string, buf pixbuf.Buffer) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%s: not started: %w", name, err)
	}
	start := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.correct", trace.WithAttributes(
		attribute.String("image.name", name),
		attribute.Int("image.width", buf.Width()),
		attribute.Int("image.height", buf.Height()),
	))
	defer span.End()

	res, err := p.process(ctx, name, buf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	res.Elapsed = time.Since(start)
	span.SetAttributes(
		attribute.Float64("correct.gain.red", res.Gains.Red),
		attribute.Float64("correct.gain.green", res.Gains.Green),
		attribute.Float64("correct.gain.blue", res.Gains.Blue),
		attribute.Float64("correct.exposure_factor", res.ExposureFactor),
	)
	p.log().Debug("Corrected image", "image", name, "width", buf.Width(), "height", buf.Height(), "elapsed", res.Elapsed)
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, name string, buf pixbuf.Buffer) (Result, error) {
	var res Result

	err := p.stage(ctx, name, StageInvert, func() (pixbuf.Buffer, error) {
		if err := correct.CheckBuffer(string(StageInvert), buf); err != nil {
			return pixbuf.Buffer{}, err
		}
		return correct.Invert(buf), nil
	}, &buf)
	if err != nil {
		return Result{}, err
	}

	err = p.stage(ctx, name, StageBalance, func() (pixbuf.Buffer, error) {
		out, gains, err := correct.Balance(buf, p.cfg.BorderFraction)
		res.Gains = gains
		return out, err
	}, &buf)
	if err != nil {
		return Result{}, err
	}
	p.log().Debug("Balanced color channels", "image", name, "gains", res.Gains.String())

	err = p.stage(ctx, name, StageExposure, func() (pixbuf.Buffer, error) {
		out, factor, err := correct.NormalizeExposure(buf, p.cfg.TargetBrightness)
		res.ExposureFactor = factor
		return out, err
	}, &buf)
	if err != nil {
		return Result{}, err
	}
	p.log().Debug("Normalized exposure", "image", name, "factor", res.ExposureFactor)

	err = p.stage(ctx, name, StageEnhance, func() (pixbuf.Buffer, error) {
		return correct.Enhance(buf, p.cfg.Enhance)
	}, &buf)
	if err != nil {
		return Result{}, err
	}

	res.Output = buf
	return res, nil
}

// stage runs fn in its own span, replaces *buf with its output and emits it to the capture hook.
func (p *Pipeline) stage(ctx context.Context, name string, stage Stage, fn func() (pixbuf.Buffer, error), buf *pixbuf.Buffer) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "stage."+string(stage))
	defer span.End()

	out, err := fn()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Image: name, Stage: stage, Err: err}
	}
	*buf = out
	p.emit(name, stage, out)
	return nil
}

func (p *Pipeline) emit(name string, stage Stage, buf pixbuf.Buffer) {
	if p.capture != nil {
		p.capture(name, stage, buf)
	}
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}
