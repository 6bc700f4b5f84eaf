// Package synth generates synthetic scanned colour negatives for tests, benchmarks and demos.
package synth

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/negafix/internal/pixbuf"
	"github.com/aquilax/go-perlin"
)

// FilmBase is the colour of unexposed C-41 film as it typically comes off a scanner.
var FilmBase = [3]uint8{228, 152, 104}

// Params describes a synthetic negative.
type Params struct {
	Width  int
	Height int
	// BorderFraction is the share of rows at the top left as unexposed film base.
	BorderFraction float64
	// Base is the film base colour of the border; the zero value selects FilmBase.
	Base [3]uint8
	// Density scales how strongly the scene darkens the negative (0..1).
	Density float64
	// Grain is the amplitude of the film grain in 8-bit levels.
	Grain float64
	// Scale controls the size of the scene structures in pixels.
	Scale float64
	Seed  int64
}

// DefaultParams returns a 4:3 negative with a 5% border.
func DefaultParams(seed int64) Params {
	return Params{
		Width:          320,
		Height:         240,
		BorderFraction: 0.05,
		Base:           FilmBase,
		Density:        0.7,
		Grain:          4,
		Scale:          64,
		Seed:           seed,
	}
}

// Validate checks the geometry and amplitudes.
func (p Params) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("size must be positive, got %dx%d", p.Width, p.Height)
	}
	if p.BorderFraction < 0 || p.BorderFraction > 1 {
		return fmt.Errorf("border fraction must be within [0,1], got %v", p.BorderFraction)
	}
	if p.Density < 0 || p.Density > 1 {
		return fmt.Errorf("density must be within [0,1], got %v", p.Density)
	}
	if p.Grain < 0 {
		return fmt.Errorf("grain must not be negative, got %v", p.Grain)
	}
	return nil
}

// Negative renders a synthetic negative. The same params always give the same image.
//
// The scene is three independent Perlin fields, one per dye layer, laid over the film
// base. Rows above floor(BorderFraction*Height) contain only film base and grain.
func Negative(p Params) (pixbuf.Buffer, error) {
	if err := p.Validate(); err != nil {
		return pixbuf.Buffer{}, err
	}
	if p.Base == ([3]uint8{}) {
		p.Base = FilmBase
	}
	if p.Scale <= 0 {
		p.Scale = 64
	}

	buf, err := pixbuf.New(p.Height, p.Width)
	if err != nil {
		return pixbuf.Buffer{}, err
	}

	var layers [pixbuf.Channels]*perlin.Perlin
	for c := range layers {
		layers[c] = perlin.NewPerlin(2.0, 2.0, 3, p.Seed+int64(c)*1000)
	}
	grain := perlin.NewPerlin(1.5, 2.0, 2, p.Seed+7919)

	border := int(math.Floor(p.BorderFraction * float64(p.Height)))
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			// Grain is high frequency and shared across layers.
			g := grain.Noise2D(float64(x)/1.7, float64(y)/1.7) * p.Grain

			for c := 0; c < pixbuf.Channels; c++ {
				v := float64(p.Base[c])
				if y >= border {
					n := layers[c].Noise2D(float64(x)/p.Scale, float64(y)/p.Scale)
					scene := (n + 1) / 2 // approximately [0,1]
					v *= 1 - p.Density*clamp01(scene)
				}
				buf.Set(y, x, c, pixbuf.ClampRound(v+g))
			}
		}
	}
	return buf, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
