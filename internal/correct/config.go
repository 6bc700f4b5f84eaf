// Package correct implements the color correction stages applied to a scanned negative:
// inversion, border-referenced color balance, exposure normalization and cosmetic enhancement.
//
// Every stage is a pure function. It never mutates its input buffer and returns a newly
// allocated one of the same shape.
package correct

import (
	"math"
)

const (
	// DefaultBorderFraction is the share of the image height used as the neutral border strip.
	DefaultBorderFraction = 0.05
	// DefaultTargetBrightness is the mid-gray level exposure is normalized toward.
	DefaultTargetBrightness = 128.0
)

// EnhancementFactors holds the cosmetic multipliers. 1.0 leaves the image unchanged.
type EnhancementFactors struct {
	Brightness float64 `mapstructure:"brightness" json:"brightness"`
	Contrast   float64 `mapstructure:"contrast" json:"contrast"`
	Sharpness  float64 `mapstructure:"sharpness" json:"sharpness"`
}

// DefaultEnhancementFactors returns the stock enhancement: 1.2 brightness, 1.3 contrast, 1.5 sharpness.
func DefaultEnhancementFactors() EnhancementFactors {
	return EnhancementFactors{Brightness: 1.2, Contrast: 1.3, Sharpness: 1.5}
}

// IdentityEnhancement returns factors that leave an image untouched.
func IdentityEnhancement() EnhancementFactors {
	return EnhancementFactors{Brightness: 1, Contrast: 1, Sharpness: 1}
}

// Validate checks that every factor is finite and positive.
func (f EnhancementFactors) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"brightness", f.Brightness},
		{"contrast", f.Contrast},
		{"sharpness", f.Sharpness},
	} {
		if !positiveFinite(c.v) {
			return invalid("enhance", "%s factor must be positive and finite, got %v", c.name, c.v)
		}
	}
	return nil
}

// Config parameterizes a full correction run.
type Config struct {
	BorderFraction   float64            `mapstructure:"border_fraction" json:"border_fraction"`
	TargetBrightness float64            `mapstructure:"target_brightness" json:"target_brightness"`
	Enhance          EnhancementFactors `mapstructure:"enhance" json:"enhance"`
}

// DefaultConfig returns the standard correction parameters.
func DefaultConfig() Config {
	return Config{
		BorderFraction:   DefaultBorderFraction,
		TargetBrightness: DefaultTargetBrightness,
		Enhance:          DefaultEnhancementFactors(),
	}
}

// Validate checks every parameter. It does not look at any image.
func (c Config) Validate() error {
	if !positiveFinite(c.BorderFraction) || c.BorderFraction > 1 {
		return invalid("config", "border fraction must be in (0, 1], got %v", c.BorderFraction)
	}
	if !positiveFinite(c.TargetBrightness) || c.TargetBrightness > 255 {
		return invalid("config", "target brightness must be in (0, 255], got %v", c.TargetBrightness)
	}
	return c.Enhance.Validate()
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
