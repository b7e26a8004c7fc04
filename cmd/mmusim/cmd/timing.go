package cmd

import (
	"os"
	"os/signal"

	"github.com/sarchlab/mmusim/workload"
	"github.com/spf13/cobra"
)

var timingCmd = &cobra.Command{
	Use:   "timing",
	Short: "Measure the latency of uncached store reads.",
	Long: "`timing` writes i to the first --writes addresses of the store, " +
		"times --reads uncached reads and prints their mean and standard " +
		"deviation.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		writes, _ := cmd.Flags().GetUint64("writes")
		reads, _ := cmd.Flags().GetUint64("reads")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		report, err := workload.MeasureStoreTiming(
			ctx, buildStore(cfg), writes, reads)
		if err != nil {
			return err
		}

		return report.Print(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(timingCmd)

	timingCmd.Flags().Uint64("writes", 10001, "number of addresses to fill")
	timingCmd.Flags().Uint64("reads", 11, "number of reads to time")
}
