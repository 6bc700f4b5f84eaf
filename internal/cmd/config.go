package cmd

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/negafix/internal/correct"
	"github.com/MeKo-Tech/negafix/internal/imageio"
	"github.com/MeKo-Tech/negafix/internal/telemetry"
	"github.com/spf13/viper"
)

// correctionConfig assembles and validates the correction parameters.
func correctionConfig(v *viper.Viper) (correct.Config, error) {
	cfg := correct.Config{
		BorderFraction:   v.GetFloat64("correct.border_fraction"),
		TargetBrightness: v.GetFloat64("correct.target_brightness"),
		Enhance: correct.EnhancementFactors{
			Brightness: v.GetFloat64("correct.enhance.brightness"),
			Contrast:   v.GetFloat64("correct.enhance.contrast"),
			Sharpness:  v.GetFloat64("correct.enhance.sharpness"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return correct.Config{}, err
	}
	return cfg, nil
}

// encodeOptions reads the output encoder settings.
func encodeOptions(v *viper.Viper) (imageio.Options, error) {
	opts := imageio.DefaultOptions()

	if v.IsSet("output.jpeg_quality") {
		q := v.GetInt("output.jpeg_quality")
		if q < 1 || q > 100 {
			return imageio.Options{}, fmt.Errorf("invalid jpeg quality %d: must be between 1 and 100", q)
		}
		opts.JPEGQuality = q
	}

	if name := v.GetString("output.png_compression"); name != "" {
		level, err := imageio.ParsePNGCompression(name)
		if err != nil {
			return imageio.Options{}, err
		}
		opts.PNGCompression = level
	}

	opts.TIFFDeflate = v.GetBool("output.tiff_deflate")
	return opts, nil
}

func traceConfig(v *viper.Viper) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		ServiceName:  "negafix",
		Exporter:     v.GetString("tracing.exporter"),
		OTLPEndpoint: v.GetString("tracing.otlp_endpoint"),
		OTLPInsecure: v.GetBool("tracing.otlp_insecure"),
	}
}

// parseExtensions normalizes a list such as "png, .JPG" into [".png", ".jpg"].
func parseExtensions(values []string) ([]string, error) {
	var exts []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			ext := strings.ToLower(strings.TrimSpace(part))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			if strings.ContainsAny(ext[1:], `./\`) {
				return nil, fmt.Errorf("invalid extension %q", part)
			}
			exts = append(exts, ext)
		}
	}
	return exts, nil
}
