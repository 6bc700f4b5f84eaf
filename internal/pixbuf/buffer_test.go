package pixbuf

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyShapes(t *testing.T) {
	for _, tc := range []struct{ h, w int }{{0, 1}, {1, 0}, {-1, 3}} {
		_, err := New(tc.h, tc.w)
		require.ErrorIs(t, err, ErrShape, "shape %dx%d", tc.h, tc.w)
	}
}

func TestFromSamplesCopiesAndValidatesLength(t *testing.T) {
	samples := []uint8{1, 2, 3, 4, 5, 6}
	b, err := FromSamples(1, 2, samples)
	require.NoError(t, err)

	samples[0] = 99
	assert.Equal(t, uint8(1), b.At(0, 0, Red), "buffer must not alias caller samples")

	_, err = FromSamples(2, 2, samples)
	require.ErrorIs(t, err, ErrShape)
}

func TestTopRowsSharesStorageAndClamps(t *testing.T) {
	b, err := Filled(4, 2, 10, 20, 30)
	require.NoError(t, err)
	b.FillRows(0, 1, 1, 2, 3)

	top := b.TopRows(1)
	assert.Equal(t, 1, top.Height())
	assert.Equal(t, 2, top.Width())
	assert.Equal(t, [Channels]float64{1, 2, 3}, top.ChannelMeans())

	assert.Equal(t, 4, b.TopRows(10).Height())
	assert.True(t, b.TopRows(0).Empty())
}

func TestCloneIsIndependent(t *testing.T) {
	b, err := Filled(2, 2, 5, 5, 5)
	require.NoError(t, err)

	c := b.Clone()
	c.Set(0, 0, Green, 200)

	assert.Equal(t, uint8(5), b.At(0, 0, Green))
	assert.False(t, b.Equal(c))
}

func TestStatistics(t *testing.T) {
	b, err := New(1, 2)
	require.NoError(t, err)
	b.SetPixel(0, 0, 0, 30, 60)
	b.SetPixel(0, 1, 90, 30, 0)

	assert.Equal(t, [Channels]float64{45, 30, 30}, b.ChannelMeans())
	assert.InDelta(t, 35.0, b.MeanBrightness(), 1e-9)

	gray, err := Filled(3, 3, 100, 100, 100)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, gray.MeanLuma(), 1e-9)
	assert.InDelta(t, 0.0, gray.StdDev(), 1e-9)
}

func TestClampRound(t *testing.T) {
	tests := []struct {
		in   float64
		want uint8
	}{
		{-5, 0},
		{0.4, 0},
		{0.5, 1},
		{127.49, 127},
		{254.6, 255},
		{1e9, 255},
		{math.Inf(1), 255},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampRound(tt.in), "ClampRound(%v)", tt.in)
	}
}

func TestImageRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(2, 3, 5, 5))
	for y := src.Rect.Min.Y; y < src.Rect.Max.Y; y++ {
		for x := src.Rect.Min.X; x < src.Rect.Max.X; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(10 * x), G: uint8(20 * y), B: 7, A: 255})
		}
	}

	b, err := FromImage(src)
	require.NoError(t, err)
	require.Equal(t, 2, b.Height())
	require.Equal(t, 3, b.Width())

	r, g, bl := b.Pixel(0, 0)
	assert.Equal(t, [3]uint8{20, 60, 7}, [3]uint8{r, g, bl})

	out := b.ToNRGBA()
	assert.Equal(t, color.NRGBA{R: 40, G: 80, B: 7, A: 255}, out.NRGBAAt(2, 1))
}

func TestFromImageGrayAndGeneric(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.SetGray(1, 0, color.Gray{Y: 77})
	b, err := FromImage(gray)
	require.NoError(t, err)
	r, g, bl := b.Pixel(0, 1)
	assert.Equal(t, [3]uint8{77, 77, 77}, [3]uint8{r, g, bl})

	rgba := image.NewRGBA(image.Rect(0, 0, 1, 1))
	rgba.SetRGBA(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	b, err = FromImage(rgba)
	require.NoError(t, err)
	r, g, bl = b.Pixel(0, 0)
	assert.Equal(t, [3]uint8{1, 2, 3}, [3]uint8{r, g, bl})

	_, err = FromImage(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	require.ErrorIs(t, err, ErrShape)
}
