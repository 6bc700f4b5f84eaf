package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/negafix/internal/batch"
	"github.com/MeKo-Tech/negafix/internal/imageio"
	"github.com/MeKo-Tech/negafix/internal/pipeline"
	"github.com/MeKo-Tech/negafix/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Correct every negative in a directory",
	Long: `Correct every image in --input-dir and write the positives to --output-dir.

A file that cannot be read, corrected or written is logged and skipped; the rest of
the batch continues. The command exits non-zero when any file failed unless
--allow-failures is set.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("input-dir", "", "Directory containing scanned negatives")
	batchCmd.Flags().String("output-dir", "", "Directory for corrected positives")
	batchCmd.Flags().IntP("workers", "w", 1, "Number of images corrected in parallel")
	batchCmd.Flags().String("report", "", "SQLite database to record the run in")
	batchCmd.Flags().Bool("skip-existing", false, "Skip inputs whose output file already exists")
	batchCmd.Flags().StringSlice("ext", nil, "Only process these extensions (e.g. .png,.jpg)")
	batchCmd.Flags().String("output-format", "", "Force the output format (png, jpeg, bmp, tiff)")
	batchCmd.Flags().Bool("progress", true, "Show progress bar")
	batchCmd.Flags().Bool("allow-failures", false, "Exit zero even if some images fail")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"batch.input_dir", "input-dir"},
		{"batch.output_dir", "output-dir"},
		{"batch.workers", "workers"},
		{"batch.report", "report"},
		{"batch.skip_existing", "skip-existing"},
		{"batch.ext", "ext"},
		{"batch.output_format", "output-format"},
		{"batch.progress", "progress"},
		{"batch.allow_failures", "allow-failures"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, batchCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	inputDir := viper.GetString("batch.input_dir")
	outputDir := viper.GetString("batch.output_dir")
	workers := viper.GetInt("batch.workers")
	reportPath := viper.GetString("batch.report")
	skipExisting := viper.GetBool("batch.skip_existing")
	showProgress := viper.GetBool("batch.progress")
	allowFailures := viper.GetBool("batch.allow_failures")

	if logger == nil {
		initLogging()
	}

	if inputDir == "" || outputDir == "" {
		return fmt.Errorf("--input-dir and --output-dir are required")
	}

	exts, err := parseExtensions(viper.GetStringSlice("batch.ext"))
	if err != nil {
		return err
	}
	var outputFormat string
	if f := viper.GetString("batch.output_format"); f != "" {
		if outputFormat, err = imageio.NormalizeFormat(f); err != nil {
			return err
		}
	}

	cfg, err := correctionConfig(viper.GetViper())
	if err != nil {
		return err
	}
	encOpts, err := encodeOptions(viper.GetViper())
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg, logger, pipeline.Options{})
	if err != nil {
		return err
	}

	var sink batch.Sink
	if reportPath != "" {
		w, err := report.New(reportPath, report.Metadata{Tool: "negafix", Version: version}, cfg)
		if err != nil {
			return fmt.Errorf("failed to open report: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				logger.Error("Failed to close report", "path", reportPath, "error", err)
			}
		}()
		sink = w
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := batch.NewDriver(p, batch.Options{
		Workers:      workers,
		Extensions:   exts,
		SkipExisting: skipExisting,
		Encode:       encOpts,
		OutputFormat: outputFormat,
		Progress:     showProgress,
		ProgressOut:  cmd.ErrOrStderr(),
	}, sink, logger)

	summary, err := driver.Run(ctx, inputDir, outputDir)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Warn("Batch interrupted; remaining images were not started")
	}

	logger.Info(summary.String())
	if summary.RunID > 0 {
		logger.Info("Run recorded", "report", reportPath, "run", summary.RunID)
	}

	if summary.Failed > 0 {
		if allowFailures {
			logger.Warn("Some images failed to correct, but continuing due to --allow-failures flag", "failed_count", summary.Failed)
			return nil
		}
		return fmt.Errorf("%d of %d images failed to correct", summary.Failed, summary.Total)
	}
	return nil
}
