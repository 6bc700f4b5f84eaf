package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MeKo-Tech/negafix/internal/correct"
	"github.com/MeKo-Tech/negafix/internal/imageio"
	"github.com/MeKo-Tech/negafix/internal/pixbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Correct == (correct.Config{}) {
		cfg.Correct = correct.DefaultConfig()
	}
	s, err := New(cfg, nil)
	require.NoError(t, err)
	return s
}

func encodePNG(t *testing.T, b pixbuf.Buffer) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, imageio.Encode(&out, b, imageio.FormatPNG, imageio.DefaultOptions()))
	return out.Bytes()
}

// scannedNegative has a neutral 5-row border above a magenta body.
func scannedNegative(t *testing.T) []byte {
	t.Helper()
	b, err := pixbuf.Filled(100, 100, 180, 60, 180)
	require.NoError(t, err)
	b.FillRows(0, 5, 200, 200, 200)
	return encodePNG(t, b)
}

func pixel(b pixbuf.Buffer, y, x int) [3]uint8 {
	r, g, bl := b.Pixel(y, x)
	return [3]uint8{r, g, bl}
}

func post(t *testing.T, h http.Handler, query string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/correct"+query, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCorrectReturnsPositive(t *testing.T) {
	h := newServer(t, Config{}).Handler()

	rec := post(t, h, "?brightness=1&contrast=1&sharpness=1", scannedNegative(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "r=1.0000 g=1.0000 b=1.0000", rec.Header().Get(headerGains))
	assert.Equal(t, "1.1429", rec.Header().Get(headerExposureFactor))

	out, format, err := imageio.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, [3]uint8{63, 63, 63}, pixel(out, 0, 0))
	assert.Equal(t, [3]uint8{86, 223, 86}, pixel(out, 50, 50))
}

func TestCorrectOutputFormat(t *testing.T) {
	h := newServer(t, Config{}).Handler()

	rec := post(t, h, "?format=jpeg", scannedNegative(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	_, format, err := imageio.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestCorrectStatusCodes(t *testing.T) {
	white, err := pixbuf.Filled(40, 40, 255, 255, 255)
	require.NoError(t, err)
	short, err := pixbuf.Filled(10, 10, 100, 100, 100)
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		body  []byte
		want  int
	}{
		{"not an image", "", []byte("not an image"), http.StatusBadRequest},
		{"empty body", "", nil, http.StatusBadRequest},
		{"unparsable factor", "?brightness=abc", scannedNegative(t), http.StatusBadRequest},
		{"negative factor", "?contrast=-1", scannedNegative(t), http.StatusBadRequest},
		{"unknown format", "?format=gif", scannedNegative(t), http.StatusBadRequest},
		{"blank negative", "", encodePNG(t, white), http.StatusUnprocessableEntity},
		{"no border rows", "", encodePNG(t, short), http.StatusUnprocessableEntity},
	}

	h := newServer(t, Config{}).Handler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, tt.query, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestCorrectRejectsLargeUpload(t *testing.T) {
	h := newServer(t, Config{MaxUploadBytes: 128}).Handler()

	rec := post(t, h, "", bytes.Repeat([]byte{0x42}, 1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// pngHeader returns a PNG signature and IHDR chunk declaring a w×h RGB canvas, with no pixel data.
func pngHeader(w, h uint32) []byte {
	var out bytes.Buffer
	out.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 2, 0, 0, 0) // 8-bit RGB, no interlace

	_ = binary.Write(&out, binary.BigEndian, uint32(len(chunk)-4))
	out.Write(chunk)
	_ = binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return out.Bytes()
}

func TestCorrectRejectsOversizedCanvas(t *testing.T) {
	h := newServer(t, Config{}).Handler()

	rec := post(t, h, "", pngHeader(50_000, 50_000))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "50000x50000 exceeds 100000000 pixels")
}

func TestCorrectPixelCapIsConfigurable(t *testing.T) {
	h := newServer(t, Config{MaxPixels: 100*100 - 1}).Handler()
	rec := post(t, h, "", scannedNegative(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	h = newServer(t, Config{MaxPixels: 100 * 100}).Handler()
	rec = post(t, h, "", scannedNegative(t))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCorrectMethodNotAllowed(t *testing.T) {
	h := newServer(t, Config{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/correct", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCorrectCancelledRequest(t *testing.T) {
	h := newServer(t, Config{}).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/correct", bytes.NewReader(scannedNegative(t))).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newServer(t, Config{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsCountRequestsAndFailures(t *testing.T) {
	white, err := pixbuf.Filled(40, 40, 255, 255, 255)
	require.NoError(t, err)

	h := newServer(t, Config{}).Handler()
	require.Equal(t, http.StatusOK, post(t, h, "", scannedNegative(t)).Code)
	require.Equal(t, http.StatusUnprocessableEntity, post(t, h, "", encodePNG(t, white)).Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `negafix_pipeline_failures_total{stage="balance"} 1`)
	assert.Contains(t, text, `negafix_images_corrected_total 1`)
	assert.Contains(t, text, `negafix_http_requests_total{method="POST",route="/v1/correct",status="200"} 1`)
	assert.Contains(t, text, `negafix_http_requests_total{method="POST",route="/v1/correct",status="422"} 1`)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := correct.DefaultConfig()
	cfg.TargetBrightness = 0
	_, err := New(Config{Correct: cfg}, nil)
	require.Error(t, err)
	assert.True(t, correct.IsInvalidInput(err))
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/v1/correct", routeLabel("/v1/correct"))
	assert.Equal(t, "/healthz", routeLabel("/healthz"))
	assert.Equal(t, "other", routeLabel("/"+strings.Repeat("x", 10)))
}
