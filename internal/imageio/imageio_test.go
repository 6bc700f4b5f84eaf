package imageio

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/negafix/internal/pixbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(t *testing.T) pixbuf.Buffer {
	t.Helper()
	b, err := pixbuf.New(12, 16)
	require.NoError(t, err)
	for y := 0; y < b.Height(); y++ {
		for x := 0; x < b.Width(); x++ {
			b.SetPixel(y, x, uint8(x*15), uint8(y*20), 128)
		}
	}
	return b
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		format    string
		lossless  bool
		meanError float64
	}{
		{"png", "out.png", "png", true, 0},
		{"bmp", "out.bmp", "bmp", true, 0},
		{"tiff", "out.tif", "tiff", true, 0},
		{"jpeg", "out.jpg", "jpeg", false, 8},
	}

	dir := t.TempDir()
	src := gradient(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, Save(path, src, DefaultOptions()))

			got, format, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			require.Equal(t, src.Height(), got.Height())
			require.Equal(t, src.Width(), got.Width())

			var total int
			for i, v := range src.Samples() {
				d := int(v) - int(got.Samples()[i])
				if d < 0 {
					d = -d
				}
				if tt.lossless && d != 0 {
					t.Fatalf("sample %d: got %d, want %d", i, got.Samples()[i], v)
				}
				total += d
			}
			if mean := float64(total) / float64(src.Len()); mean > tt.meanError {
				t.Errorf("mean absolute error %.2f exceeds %.2f", mean, tt.meanError)
			}
		})
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(filepath.Join(dir, "a.png"), gradient(t), DefaultOptions()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.png", entries[0].Name())
}

func TestSaveNoClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o644))

	opts := DefaultOptions()
	opts.NoClobber = true
	err := Save(path, gradient(t), opts)
	require.ErrorIs(t, err, os.ErrExist)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Load(filepath.Join(dir, "missing.png"))
	var ioe *IOError
	require.True(t, errors.As(err, &ioe))
	assert.Equal(t, "open", ioe.Op)
	assert.ErrorIs(t, err, os.ErrNotExist)

	corrupt := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not an image"), 0o644))
	_, _, err = Load(corrupt)
	require.True(t, errors.As(err, &ioe))
	assert.Equal(t, "decode", ioe.Op)
	assert.Equal(t, corrupt, ioe.Path)
	assert.Contains(t, err.Error(), corrupt)
}

func TestEncodeDecodeStream(t *testing.T) {
	var buf bytes.Buffer
	src := gradient(t)
	require.NoError(t, Encode(&buf, src, FormatPNG, Options{PNGCompression: png.BestSpeed}))

	got, format, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.True(t, got.Equal(src))

	err = Encode(&buf, src, "gif", DefaultOptions())
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	err = Encode(&buf, pixbuf.Buffer{}, FormatPNG, DefaultOptions())
	require.ErrorIs(t, err, pixbuf.ErrShape)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, FormatJPEG, FormatFromPath("x/Y.JPEG"))
	assert.Equal(t, FormatTIFF, FormatFromPath("scan.tif"))
	assert.Equal(t, FormatPNG, FormatFromPath("noext"))

	f, err := NormalizeFormat("JPG")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)
	assert.Equal(t, "image/jpeg", ContentType(f))

	_, err = NormalizeFormat("webp")
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	level, err := ParsePNGCompression("best")
	require.NoError(t, err)
	assert.Equal(t, png.BestCompression, level)

	_, err = ParsePNGCompression("ultra")
	require.Error(t, err)
}

func TestDecodeConfigReadsHeaderOnly(t *testing.T) {
	var encoded bytes.Buffer
	require.NoError(t, Encode(&encoded, gradient(t), FormatPNG, DefaultOptions()))

	cfg, format, err := DecodeConfig(bytes.NewReader(encoded.Bytes()[:33]))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 12, cfg.Height)

	_, _, err = DecodeConfig(bytes.NewReader([]byte("not an image")))
	var ioe *IOError
	require.ErrorAs(t, err, &ioe)
	assert.Equal(t, "decode", ioe.Op)
}
