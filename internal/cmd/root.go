package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/negafix/internal/correct"
	"github.com/MeKo-Tech/negafix/internal/imageio"
	"github.com/MeKo-Tech/negafix/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time with -ldflags "-X".
var version = "dev"

var (
	cfgFile         string
	logger          *slog.Logger
	shutdownTracing telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "negafix",
	Short: "Colour-correct scanned film negatives",
	Long: `Negafix turns scanned colour negatives into positives.

Each image is inverted, white-balanced against the unexposed film border at the top
of the frame, normalized to a mid-gray exposure and finally enhanced for brightness,
contrast and sharpness.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogging()

		shutdown, err := telemetry.SetupTracing(cmd.Context(), traceConfig(viper.GetViper()), logger)
		if err != nil {
			return err
		}
		shutdownTracing = shutdown
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := shutdownTracing(ctx); serr != nil {
			fmt.Fprintln(os.Stderr, "failed to flush traces:", serr)
		}
		cancel()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := correct.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./negafix.yaml)")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("log-format", "text", "Log format (text, json)")

	flags.Float64("brightness", defaults.Enhance.Brightness, "Brightness enhancement factor (1.0 leaves the image unchanged)")
	flags.Float64("contrast", defaults.Enhance.Contrast, "Contrast enhancement factor (1.0 leaves the image unchanged)")
	flags.Float64("sharpness", defaults.Enhance.Sharpness, "Sharpness enhancement factor (1.0 leaves the image unchanged)")
	flags.Float64("border-fraction", defaults.BorderFraction, "Fraction of the image height sampled as film border")
	flags.Float64("target-brightness", defaults.TargetBrightness, "Mean brightness the exposure stage scales to")

	flags.Int("jpeg-quality", imageio.DefaultJPEGQuality, "JPEG output quality (1-100)")
	flags.String("png-compression", "default", "PNG compression (default, speed, best, none)")
	flags.Bool("tiff-deflate", false, "Deflate-compress TIFF output")

	flags.String("trace-exporter", "none", "Trace exporter (none, stdout, otlp)")
	flags.String("otlp-endpoint", "", "OTLP/HTTP collector endpoint (host:port)")
	flags.Bool("otlp-insecure", false, "Use plain HTTP for the OTLP exporter")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"verbose", "verbose"},
		{"log_format", "log-format"},
		{"correct.enhance.brightness", "brightness"},
		{"correct.enhance.contrast", "contrast"},
		{"correct.enhance.sharpness", "sharpness"},
		{"correct.border_fraction", "border-fraction"},
		{"correct.target_brightness", "target-brightness"},
		{"output.jpeg_quality", "jpeg-quality"},
		{"output.png_compression", "png-compression"},
		{"output.tiff_deflate", "tiff-deflate"},
		{"tracing.exporter", "trace-exporter"},
		{"tracing.otlp_endpoint", "otlp-endpoint"},
		{"tracing.otlp_insecure", "otlp-insecure"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, flags.Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("negafix")
	}

	viper.SetEnvPrefix("NEGAFIX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func initLogging() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(viper.GetString("log_format"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}
