package pixbuf

import "math"

// ChannelMeans returns the arithmetic mean of each channel over the whole buffer.
// An empty buffer yields zero means.
func (b Buffer) ChannelMeans() [Channels]float64 {
	var sums [Channels]uint64
	for i, v := range b.pix {
		sums[i%Channels] += uint64(v)
	}

	var means [Channels]float64
	n := b.height * b.width
	if n == 0 {
		return means
	}
	for c := range sums {
		means[c] = float64(sums[c]) / float64(n)
	}
	return means
}

// MeanBrightness returns the image-wide mean of the unweighted per-pixel channel average.
// Since every pixel carries the same weight this equals the mean of all samples.
func (b Buffer) MeanBrightness() float64 {
	if len(b.pix) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range b.pix {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(b.pix))
}

// MeanLuma returns the mean ITU-R 601 luma (0.299 R + 0.587 G + 0.114 B) over the buffer.
func (b Buffer) MeanLuma() float64 {
	n := b.height * b.width
	if n == 0 || len(b.pix) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+2 < len(b.pix); i += Channels {
		sum += 0.299*float64(b.pix[i]) + 0.587*float64(b.pix[i+1]) + 0.114*float64(b.pix[i+2])
	}
	return sum / float64(n)
}

// StdDev returns the standard deviation of all samples.
func (b Buffer) StdDev() float64 {
	if len(b.pix) == 0 {
		return 0
	}
	mean := b.MeanBrightness()
	var acc float64
	for _, v := range b.pix {
		d := float64(v) - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(b.pix)))
}

// ClampRound rounds v to the nearest integer and clamps it to [0, 255].
// NaN maps to 0.
func ClampRound(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
