package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/MeKo-Tech/negafix/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show a batch run recorded with --report",
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("db", "", "Report database written by batch --report")
	reportCmd.Flags().Int64("run", 0, "Run id (default: most recent run)")
	reportCmd.Flags().Bool("failures-only", false, "Only list failed images")
	reportCmd.Flags().Bool("list", false, "List all recorded runs")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"report.db", "db"},
		{"report.run", "run"},
		{"report.failures_only", "failures-only"},
		{"report.list", "list"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, reportCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runReport(cmd *cobra.Command, args []string) error {
	dbPath := viper.GetString("report.db")
	if dbPath == "" {
		return fmt.Errorf("--db is required")
	}

	r, err := report.OpenReader(dbPath)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if viper.GetBool("report.list") {
		runs, err := r.Runs(ctx)
		if err != nil {
			return err
		}
		for _, run := range runs {
			printRun(out, run)
		}
		return nil
	}

	run, err := r.Run(ctx, viper.GetInt64("report.run"))
	if err != nil {
		return err
	}
	printRun(out, run)

	entries, err := r.Results(ctx, run.ID, viper.GetBool("report.failures_only"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch e.Status {
		case "failed":
			fmt.Fprintf(out, "  %-8s %s [%s] %s\n", e.Status, e.Name, e.Stage, e.Error)
		case "ok":
			fmt.Fprintf(out, "  %-8s %s %s gains %s exposure x%.4f\n", e.Status, e.Name, e.Elapsed, e.Gains, e.Exposure)
		default:
			fmt.Fprintf(out, "  %-8s %s\n", e.Status, e.Name)
		}
	}
	return nil
}

func printRun(w io.Writer, run report.Run) {
	state := "unfinished"
	if run.Finished() {
		state = fmt.Sprintf("%d/%d ok, %d failed, %d skipped in %s",
			run.Succeeded, run.Total, run.Failed, run.Skipped,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "run %d  %s  %s -> %s  %s\n",
		run.ID, run.StartedAt.Local().Format(time.DateTime), run.SrcDir, run.DstDir, state)
}
