package pixbuf

import (
	"fmt"
	"image"
	"image/color"
)

// FromImage converts a decoded image into an 8-bit RGB buffer.
// Alpha is dropped; color values are taken un-premultiplied.
func FromImage(img image.Image) (Buffer, error) {
	if img == nil {
		return Buffer{}, fmt.Errorf("%w: nil image", ErrShape)
	}
	bounds := img.Bounds()
	buf, err := New(bounds.Dy(), bounds.Dx())
	if err != nil {
		return Buffer{}, err
	}

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < buf.height; y++ {
			row := src.Pix[(y+bounds.Min.Y-src.Rect.Min.Y)*src.Stride:]
			for x := 0; x < buf.width; x++ {
				i := (x + bounds.Min.X - src.Rect.Min.X) * 4
				buf.SetPixel(y, x, row[i], row[i+1], row[i+2])
			}
		}
	case *image.Gray:
		for y := 0; y < buf.height; y++ {
			for x := 0; x < buf.width; x++ {
				v := src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
				buf.SetPixel(y, x, v, v, v)
			}
		}
	default:
		for y := 0; y < buf.height; y++ {
			for x := 0; x < buf.width; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				buf.SetPixel(y, x, c.R, c.G, c.B)
			}
		}
	}

	return buf, nil
}

// ToNRGBA renders the buffer as an opaque image anchored at (0, 0).
func (b Buffer) ToNRGBA() *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, b.width, b.height))
	for y := 0; y < b.height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.width; x++ {
			r, g, bl := b.Pixel(y, x)
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = r, g, bl, 255
		}
	}
	return dst
}
