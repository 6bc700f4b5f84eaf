package correct

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/negafix/internal/pixbuf"
)

// ChannelGains are the per-channel multipliers the balancer applies.
type ChannelGains struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

func (g ChannelGains) String() string {
	return fmt.Sprintf("r=%.4f g=%.4f b=%.4f", g.Red, g.Green, g.Blue)
}

func (g ChannelGains) at(c int) float64 {
	switch c {
	case pixbuf.Red:
		return g.Red
	case pixbuf.Green:
		return g.Green
	default:
		return g.Blue
	}
}

// BorderHeight returns floor(fraction * height), the number of top rows used as reference.
func BorderHeight(height int, fraction float64) int {
	return int(math.Floor(float64(height) * fraction))
}

// EstimateGains computes the gains that make the top border strip neutral gray.
// It fails with InvalidInputError when the strip has no rows and with
// DegenerateChannelError when any channel of the strip averages zero.
func EstimateGains(b pixbuf.Buffer, fraction float64) (ChannelGains, error) {
	const op = "balance"
	if err := CheckBuffer(op, b); err != nil {
		return ChannelGains{}, err
	}
	if !positiveFinite(fraction) || fraction > 1 {
		return ChannelGains{}, invalid(op, "border fraction must be in (0, 1], got %v", fraction)
	}

	rows := BorderHeight(b.Height(), fraction)
	if rows == 0 {
		return ChannelGains{}, invalid(op, "image height %d too small for a %.3f border strip", b.Height(), fraction)
	}

	means := b.TopRows(rows).ChannelMeans()
	for c, m := range means {
		if m == 0 {
			return ChannelGains{}, &DegenerateChannelError{Op: op, Channel: c}
		}
	}

	gray := (means[pixbuf.Red] + means[pixbuf.Green] + means[pixbuf.Blue]) / 3
	return ChannelGains{
		Red:   gray / means[pixbuf.Red],
		Green: gray / means[pixbuf.Green],
		Blue:  gray / means[pixbuf.Blue],
	}, nil
}

// ApplyGains multiplies each channel by its gain, rounding to nearest and clamping to [0, 255].
func ApplyGains(b pixbuf.Buffer, gains ChannelGains) pixbuf.Buffer {
	var lut [pixbuf.Channels][256]uint8
	for c := range lut {
		g := gains.at(c)
		for v := range lut[c] {
			lut[c][v] = pixbuf.ClampRound(float64(v) * g)
		}
	}
	return b.Map(func(c int, v uint8) uint8 { return lut[c][v] })
}

// Balance neutralizes the color cast using the top border strip as a gray reference.
// Border outliers such as dust or light leaks bias the whole frame; that is accepted.
func Balance(b pixbuf.Buffer, fraction float64) (pixbuf.Buffer, ChannelGains, error) {
	gains, err := EstimateGains(b, fraction)
	if err != nil {
		return pixbuf.Buffer{}, ChannelGains{}, err
	}
	return ApplyGains(b, gains), gains, nil
}
