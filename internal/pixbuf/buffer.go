// Package pixbuf provides the owned 8-bit RGB sample buffer the correction stages operate on.
package pixbuf

import (
	"errors"
	"fmt"
)

// Channels is the number of samples per pixel (red, green, blue).
const Channels = 3

// Channel indexes within a pixel.
const (
	Red = iota
	Green
	Blue
)

// ChannelName returns a human-readable name for a channel index.
func ChannelName(c int) string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	default:
		return fmt.Sprintf("channel%d", c)
	}
}

// ErrShape is returned when a buffer cannot be built with the requested geometry.
var ErrShape = errors.New("invalid buffer shape")

// Buffer is a contiguous height x width x 3 array of 8-bit samples in row-major RGB order.
// The zero value is an empty buffer and is rejected by the correction stages.
type Buffer struct {
	pix    []uint8
	height int
	width  int
}

// New allocates a zeroed buffer.
func New(height, width int) (Buffer, error) {
	if height <= 0 || width <= 0 {
		return Buffer{}, fmt.Errorf("%w: %dx%d", ErrShape, height, width)
	}
	return Buffer{
		pix:    make([]uint8, height*width*Channels),
		height: height,
		width:  width,
	}, nil
}

// FromSamples wraps a copy of samples as a buffer. len(samples) must equal height*width*3.
func FromSamples(height, width int, samples []uint8) (Buffer, error) {
	b, err := New(height, width)
	if err != nil {
		return Buffer{}, err
	}
	if len(samples) != len(b.pix) {
		return Buffer{}, fmt.Errorf("%w: %d samples for %dx%d", ErrShape, len(samples), height, width)
	}
	copy(b.pix, samples)
	return b, nil
}

// Filled returns a buffer where every pixel is (r, g, b).
func Filled(height, width int, r, g, b uint8) (Buffer, error) {
	buf, err := New(height, width)
	if err != nil {
		return Buffer{}, err
	}
	buf.FillRows(0, height, r, g, b)
	return buf, nil
}

func (b Buffer) Height() int { return b.height }
func (b Buffer) Width() int  { return b.width }

// Len returns the number of samples (height*width*3).
func (b Buffer) Len() int { return len(b.pix) }

// Empty reports whether the buffer has no pixels.
func (b Buffer) Empty() bool { return b.height == 0 || b.width == 0 }

// Validate checks that the geometry and sample storage agree.
func (b Buffer) Validate() error {
	if b.height <= 0 || b.width <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrShape, b.height, b.width)
	}
	if len(b.pix) != b.height*b.width*Channels {
		return fmt.Errorf("%w: %d samples for %dx%d", ErrShape, len(b.pix), b.height, b.width)
	}
	return nil
}

func (b Buffer) offset(y, x int) int {
	return (y*b.width + x) * Channels
}

// At returns the sample at row y, column x, channel c.
func (b Buffer) At(y, x, c int) uint8 {
	return b.pix[b.offset(y, x)+c]
}

// Set writes the sample at row y, column x, channel c.
func (b Buffer) Set(y, x, c int, v uint8) {
	b.pix[b.offset(y, x)+c] = v
}

// Pixel returns the three samples at (y, x).
func (b Buffer) Pixel(y, x int) (r, g, bl uint8) {
	i := b.offset(y, x)
	return b.pix[i], b.pix[i+1], b.pix[i+2]
}

// SetPixel writes the three samples at (y, x).
func (b Buffer) SetPixel(y, x int, r, g, bl uint8) {
	i := b.offset(y, x)
	b.pix[i], b.pix[i+1], b.pix[i+2] = r, g, bl
}

// FillRows sets rows [from, to) to a single color.
func (b Buffer) FillRows(from, to int, r, g, bl uint8) {
	for y := max(from, 0); y < min(to, b.height); y++ {
		for x := 0; x < b.width; x++ {
			b.SetPixel(y, x, r, g, bl)
		}
	}
}

// Samples returns the backing sample slice. Callers that keep the buffer must not modify it.
func (b Buffer) Samples() []uint8 {
	return b.pix
}

// Clone returns an independent copy.
func (b Buffer) Clone() Buffer {
	out := Buffer{height: b.height, width: b.width, pix: make([]uint8, len(b.pix))}
	copy(out.pix, b.pix)
	return out
}

// NewLike allocates a zeroed buffer with the same shape as b.
func (b Buffer) NewLike() Buffer {
	return Buffer{height: b.height, width: b.width, pix: make([]uint8, len(b.pix))}
}

// Equal reports whether both buffers have the same shape and samples.
func (b Buffer) Equal(o Buffer) bool {
	if b.height != o.height || b.width != o.width || len(b.pix) != len(o.pix) {
		return false
	}
	for i := range b.pix {
		if b.pix[i] != o.pix[i] {
			return false
		}
	}
	return true
}

// TopRows returns a read-only view of the first n rows sharing storage with b.
// n is clamped to [0, Height()].
func (b Buffer) TopRows(n int) Buffer {
	n = max(0, min(n, b.height))
	if n == 0 {
		return Buffer{width: b.width}
	}
	return Buffer{
		pix:    b.pix[:n*b.width*Channels],
		height: n,
		width:  b.width,
	}
}

// Map returns a new buffer where each sample is fn(channel, sample).
func (b Buffer) Map(fn func(c int, v uint8) uint8) Buffer {
	out := b.NewLike()
	for i, v := range b.pix {
		out.pix[i] = fn(i%Channels, v)
	}
	return out
}
