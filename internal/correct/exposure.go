package correct

import (
	"github.com/MeKo-Tech/negafix/internal/pixbuf"
)

// NormalizeExposure scales every sample so the image-wide mean brightness moves to target.
// Brightness is the unweighted mean of the three channels. The returned factor is
// target / mean brightness. Clipping can leave the resulting mean below target.
func NormalizeExposure(b pixbuf.Buffer, target float64) (pixbuf.Buffer, float64, error) {
	const op = "exposure"
	if err := CheckBuffer(op, b); err != nil {
		return pixbuf.Buffer{}, 0, err
	}
	if !positiveFinite(target) || target > 255 {
		return pixbuf.Buffer{}, 0, invalid(op, "target brightness must be in (0, 255], got %v", target)
	}

	mean := b.MeanBrightness()
	if mean == 0 {
		return pixbuf.Buffer{}, 0, &DegenerateChannelError{Op: op, Channel: -1}
	}

	factor := target / mean
	var lut [256]uint8
	for v := range lut {
		lut[v] = pixbuf.ClampRound(float64(v) * factor)
	}
	return b.Map(func(_ int, v uint8) uint8 { return lut[v] }), factor, nil
}
