// Package imageio reads negatives from and writes positives to encoded image files.
package imageio

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif" // Register GIF decoder

	"github.com/MeKo-Tech/negafix/internal/pixbuf"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Supported output formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

// DefaultJPEGQuality is used when Options.JPEGQuality is zero.
const DefaultJPEGQuality = 95

// ErrUnsupportedFormat is returned when asked to encode a format that has no encoder.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// IOError wraps a failure to read, decode, encode or write an image.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s image: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s image %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Options controls encoding.
type Options struct {
	JPEGQuality    int
	PNGCompression png.CompressionLevel
	TIFFDeflate    bool
	// NoClobber makes Save fail instead of replacing an existing file.
	NoClobber bool
}

// DefaultOptions returns the stock encoder settings.
func DefaultOptions() Options {
	return Options{JPEGQuality: DefaultJPEGQuality, PNGCompression: png.DefaultCompression}
}

// ParsePNGCompression maps a config name to a png.CompressionLevel.
func ParsePNGCompression(name string) (png.CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "speed", "fast":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	default:
		return 0, fmt.Errorf("unknown png compression %q (want default, none, speed or best)", name)
	}
}

// FormatFromPath picks the output format from a file extension; unknown extensions map to PNG.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".bmp":
		return FormatBMP
	case ".tif", ".tiff":
		return FormatTIFF
	default:
		return FormatPNG
	}
}

// ContentType returns the MIME type for an output format.
func ContentType(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// NormalizeFormat canonicalizes a user-supplied format name.
func NormalizeFormat(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "bmp":
		return FormatBMP, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// Decode reads one image from r and converts it to a pixel buffer.
// The returned string is the detected source format.
func Decode(r io.Reader) (pixbuf.Buffer, string, error) {
	img, format, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return pixbuf.Buffer{}, "", &IOError{Op: "decode", Err: err}
	}
	buf, err := pixbuf.FromImage(img)
	if err != nil {
		return pixbuf.Buffer{}, format, &IOError{Op: "decode", Err: err}
	}
	return buf, format, nil
}

// DecodeConfig reads only the header of the image in r.
func DecodeConfig(r io.Reader) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, "", &IOError{Op: "decode", Err: err}
	}
	return cfg, format, nil
}

// Load opens and decodes the image at path.
func Load(path string) (pixbuf.Buffer, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return pixbuf.Buffer{}, "", &IOError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	buf, format, err := Decode(file)
	if err != nil {
		var ioe *IOError
		if errors.As(err, &ioe) {
			ioe.Path = path
		}
		return pixbuf.Buffer{}, "", err
	}
	return buf, format, nil
}

// Encode writes buf to w in the given format.
func Encode(w io.Writer, buf pixbuf.Buffer, format string, opts Options) error {
	if err := buf.Validate(); err != nil {
		return &IOError{Op: "encode", Err: err}
	}
	img := buf.ToNRGBA()

	var err error
	switch format {
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: opts.PNGCompression}
		err = enc.Encode(w, img)
	case FormatJPEG:
		quality := opts.JPEGQuality
		if quality <= 0 {
			quality = DefaultJPEGQuality
		}
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: min(quality, 100)})
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatTIFF:
		compression := tiff.Uncompressed
		if opts.TIFFDeflate {
			compression = tiff.Deflate
		}
		err = tiff.Encode(w, img, &tiff.Options{Compression: compression})
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return &IOError{Op: "encode", Err: err}
	}
	return nil
}

// Save encodes buf into path, choosing the format from the extension. The file is written
// to a temporary sibling and renamed into place.
func Save(path string, buf pixbuf.Buffer, opts Options) error {
	if opts.NoClobber {
		if _, err := os.Stat(path); err == nil {
			return &IOError{Op: "write", Path: path, Err: os.ErrExist}
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".negafix-*"+filepath.Ext(path))
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // nolint:errcheck // best effort cleanup after rename

	w := bufio.NewWriter(tmp)
	if err := Encode(w, buf, FormatFromPath(path), opts); err != nil {
		tmp.Close() // nolint:errcheck
		var ioe *IOError
		if errors.As(err, &ioe) {
			ioe.Path = path
		}
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close() // nolint:errcheck
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close() // nolint:errcheck
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
