package correct

import (
	"image"

	"github.com/MeKo-Tech/negafix/internal/pixbuf"
	"github.com/disintegration/gift"
)

// smoothKernel is the 3x3 smoothing filter sharpness blends against.
var smoothKernel = []float32{
	1, 1, 1,
	1, 5, 1,
	1, 1, 1,
}

// Enhance applies brightness, then contrast, then sharpness. Each factor blends the image
// with a degenerate version of itself: black for brightness, uniform mean-luma gray for
// contrast and a smoothed copy for sharpness. A factor of 1.0 is the identity.
func Enhance(b pixbuf.Buffer, f EnhancementFactors) (pixbuf.Buffer, error) {
	if err := CheckBuffer("enhance", b); err != nil {
		return pixbuf.Buffer{}, err
	}
	if err := f.Validate(); err != nil {
		return pixbuf.Buffer{}, err
	}

	img := b.ToNRGBA()
	if f.Brightness != 1 {
		img = adjustBrightness(img, f.Brightness)
	}
	if f.Contrast != 1 {
		img = adjustContrast(img, f.Contrast)
	}
	if f.Sharpness != 1 {
		img = adjustSharpness(img, f.Sharpness)
	}
	return pixbuf.FromImage(img)
}

func applyFilter(src *image.NRGBA, filters ...gift.Filter) *image.NRGBA {
	g := gift.New(filters...)
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}

func adjustBrightness(img *image.NRGBA, factor float64) *image.NRGBA {
	k := float32(factor)
	return applyFilter(img, gift.ColorFunc(func(r0, g0, b0, a0 float32) (r, g, b, a float32) {
		return r0 * k, g0 * k, b0 * k, a0
	}))
}

func adjustContrast(img *image.NRGBA, factor float64) *image.NRGBA {
	m := float32(meanLuma(img)) / 255
	k := float32(factor)
	return applyFilter(img, gift.ColorFunc(func(r0, g0, b0, a0 float32) (r, g, b, a float32) {
		return m + k*(r0-m), m + k*(g0-m), m + k*(b0-m), a0
	}))
}

// adjustSharpness extrapolates away from the smoothed image. The outermost ring of pixels
// has no full neighborhood and is passed through unchanged.
func adjustSharpness(img *image.NRGBA, factor float64) *image.NRGBA {
	smooth := applyFilter(img, gift.Convolution(smoothKernel, true, false, false, 0))

	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	copy(out.Pix, img.Pix)

	w, h := bounds.Dx(), bounds.Dy()
	for y := 1; y < h-1; y++ {
		so := img.Pix[y*img.Stride:]
		sm := smooth.Pix[y*smooth.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 1; x < w-1; x++ {
			i := x * 4
			for c := 0; c < 3; c++ {
				s, m := float64(so[i+c]), float64(sm[i+c])
				dst[i+c] = pixbuf.ClampRound(m + factor*(s-m))
			}
		}
	}
	return out
}

// meanLuma returns the rounded mean of the ITU-R 601 luma, each pixel's luma
// itself rounded to an integer level.
func meanLuma(img *image.NRGBA) int {
	bounds := img.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0
	}
	var sum int64
	for y := 0; y < bounds.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < bounds.Dx(); x++ {
			i := x * 4
			sum += (int64(row[i])*299 + int64(row[i+1])*587 + int64(row[i+2])*114 + 500) / 1000
		}
	}
	return int((sum + int64(n)/2) / int64(n))
}
