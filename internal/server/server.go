// Package server exposes the correction pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/negafix/internal/correct"
	"github.com/MeKo-Tech/negafix/internal/imageio"
	"github.com/MeKo-Tech/negafix/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxUploadBytes caps the size of an uploaded negative.
	DefaultMaxUploadBytes = 64 << 20
	// DefaultMaxPixels caps the decoded canvas of an upload (about 100 MP).
	DefaultMaxPixels = 100_000_000
	// DefaultRequestTimeout bounds how long a request may wait for a pipeline slot.
	DefaultRequestTimeout = 2 * time.Minute

	headerGains          = "X-Negafix-Gains"
	headerExposureFactor = "X-Negafix-Exposure-Factor"
)

// Config configures the correction service.
type Config struct {
	Correct        correct.Config
	Encode         imageio.Options
	MaxUploadBytes int64
	// MaxPixels caps width×height as declared by the image header.
	MaxPixels      int64
	MaxConcurrent  int
	RequestTimeout time.Duration
}

// Server handles correction requests.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	sem     chan struct{}
	metrics *metrics
	tracer  trace.Tracer
	mux     *http.ServeMux
}

// New validates cfg and builds a server. The default correction parameters are used
// for every request that does not override them.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Correct.Validate(); err != nil {
		return nil, fmt.Errorf("invalid correction config: %w", err)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		metrics: newMetrics(),
		tracer:  otel.Tracer("negafix/server"),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/correct", s.handleCorrect)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	cfg, format, err := s.requestConfig(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	hdr, _, err := imageio.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if pixels := int64(hdr.Width) * int64(hdr.Height); pixels > s.cfg.MaxPixels {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("image of %dx%d exceeds %d pixels", hdr.Width, hdr.Height, s.cfg.MaxPixels),
		})
		return
	}

	buf, _, err := imageio.Decode(bytes.NewReader(data))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no pipeline slot available"})
		return
	}

	p, err := pipeline.New(cfg, s.logger, pipeline.Options{})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := p.Process(ctx, "upload", buf)
	if err != nil {
		s.writeCorrectionError(w, err)
		return
	}

	var out bytes.Buffer
	if err := imageio.Encode(&out, res.Output, format, s.cfg.Encode); err != nil {
		s.log().Error("Failed to encode response", "format", format, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to encode image"})
		return
	}
	s.metrics.imagesCorrected.Inc()

	w.Header().Set("Content-Type", imageio.ContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(out.Len()))
	w.Header().Set(headerGains, res.Gains.String())
	w.Header().Set(headerExposureFactor, strconv.FormatFloat(res.ExposureFactor, 'f', 4, 64))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Bytes()); err != nil {
		s.log().Error("Failed to write response", "error", err)
	}
}

// requestConfig applies the query overrides to the server defaults.
func (s *Server) requestConfig(r *http.Request) (correct.Config, string, error) {
	cfg := s.cfg.Correct
	q := r.URL.Query()

	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"brightness", &cfg.Enhance.Brightness},
		{"contrast", &cfg.Enhance.Contrast},
		{"sharpness", &cfg.Enhance.Sharpness},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return correct.Config{}, "", fmt.Errorf("invalid %s %q", p.name, raw)
		}
		*p.dst = v
	}
	if err := cfg.Validate(); err != nil {
		return correct.Config{}, "", err
	}

	format := imageio.FormatPNG
	if raw := q.Get("format"); raw != "" {
		f, err := imageio.NormalizeFormat(raw)
		if err != nil {
			return correct.Config{}, "", err
		}
		format = f
	}
	return cfg, format, nil
}

func (s *Server) writeCorrectionError(w http.ResponseWriter, err error) {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		s.metrics.pipelineFailures.WithLabelValues(string(stageErr.Stage)).Inc()
	}

	switch {
	case correct.IsInvalidInput(err), correct.IsDegenerate(err):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "request cancelled"})
	default:
		s.log().Error("Correction failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "correction failed"})
	}
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
