package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/negafix/internal/imageio"
	"github.com/MeKo-Tech/negafix/internal/pipeline"
	"github.com/MeKo-Tech/negafix/internal/pixbuf"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var processCmd = &cobra.Command{
	Use:   "process <input> <output>",
	Short: "Correct a single scanned negative",
	Long: `Correct one scanned negative and write the positive to <output>.

The output format follows the output file extension (png, jpg, bmp, tif).`,
	Args: cobra.ExactArgs(2),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("keep-stages", "", "Directory to write every intermediate stage image to")

	if err := viper.BindPFlag("process.keep_stages", processCmd.Flags().Lookup("keep-stages")); err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}
}

func runProcess(cmd *cobra.Command, args []string) error {
	input, output := args[0], args[1]
	keepStages := viper.GetString("process.keep_stages")

	if logger == nil {
		initLogging()
	}

	cfg, err := correctionConfig(viper.GetViper())
	if err != nil {
		return err
	}
	encOpts, err := encodeOptions(viper.GetViper())
	if err != nil {
		return err
	}

	var debug *pipeline.DebugContext
	var opts pipeline.Options
	if keepStages != "" {
		debug = &pipeline.DebugContext{}
		opts.Capture = debug.Capture
	}

	p, err := pipeline.New(cfg, logger, opts)
	if err != nil {
		return err
	}

	buf, format, err := imageio.Load(input)
	if err != nil {
		return err
	}
	logger.Info("Correcting image", "input", input, "format", format, "width", buf.Width(), "height", buf.Height())

	res, err := p.Process(cmd.Context(), filepath.Base(input), buf)
	if err != nil {
		return err
	}
	if err := imageio.Save(output, res.Output, encOpts); err != nil {
		return err
	}

	if debug != nil {
		if err := writeStages(keepStages, debug); err != nil {
			return err
		}
	}

	logger.Info("Image corrected",
		"output", output,
		"gains", res.Gains.String(),
		"exposure_factor", res.ExposureFactor,
		"elapsed", res.Elapsed)
	return nil
}

// writeStages saves each captured stage as a lossless PNG.
func writeStages(dir string, debug *pipeline.DebugContext) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stage dir: %w", err)
	}
	for _, st := range debug.SortedStages() {
		buf, err := pixbuf.FromImage(st.Out)
		if err != nil {
			return fmt.Errorf("failed to convert stage %s: %w", st.Name, err)
		}
		path := filepath.Join(dir, st.Name+".png")
		if err := imageio.Save(path, buf, imageio.DefaultOptions()); err != nil {
			return err
		}
		logger.Debug("Wrote stage image", "stage", st.Stage, "path", path)
	}
	return nil
}
