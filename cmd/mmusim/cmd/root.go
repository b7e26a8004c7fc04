// Package cmd provides the command-line interface of mmusim.
package cmd

import (
	"fmt"

	"github.com/sarchlab/mmusim/config"
	"github.com/sarchlab/mmusim/logging"
	"github.com/sarchlab/mmusim/mem/backing"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mmusim",
	Short: "mmusim simulates a memory management unit with a write-back cache.",
	Long: `mmusim simulates a memory management unit: a slow backing store with ` +
		`normally distributed access latency and a small LRU write-back cache ` +
		`that many goroutines can use at the same time. Settings are read ` +
		`from MMUSIM_* environment variables and an optional .env file, and ` +
		`flags override them.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("env-file", ".env", "dotenv file to load before the environment")
	flags.Uint64("store-size", 0, "number of words in the backing store")
	flags.Duration("latency-mean", 0, "mean latency of a store read")
	flags.Duration("latency-stddev", 0, "standard deviation of the store read latency")
	flags.Uint64("seed", 0, "seed of the latency and the workload, 0 for random")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("log-dev", false, "log in human readable form")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// loadConfig loads the configuration and applies the flags that were set
// explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	envFile, _ := flags.GetString("env-file")

	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	if flags.Changed("store-size") {
		cfg.Store.Size, _ = flags.GetUint64("store-size")
	}

	if flags.Changed("latency-mean") {
		cfg.Store.LatencyMean, _ = flags.GetDuration("latency-mean")
	}

	if flags.Changed("latency-stddev") {
		cfg.Store.LatencyStdDev, _ = flags.GetDuration("latency-stddev")
	}

	if flags.Changed("seed") {
		cfg.Store.LatencySeed, _ = flags.GetUint64("seed")
	}

	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}

	if flags.Changed("log-dev") {
		cfg.Logging.Development, _ = flags.GetBool("log-dev")
	}

	if flags.Lookup("lines") != nil && flags.Changed("lines") {
		cfg.Cache.Lines, _ = flags.GetInt("lines")
	}

	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Monitor.Port, _ = flags.GetInt("port")
	}

	if flags.Lookup("record") != nil && flags.Changed("record") {
		cfg.Record.Path, _ = flags.GetString("record")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}

	logCfg.Level = cfg.Logging.Level

	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return logger, nil
}

func buildStore(cfg *config.Config) *backing.Store {
	b := backing.MakeBuilder().WithSize(cfg.Store.Size)

	mean, stdDev := cfg.Store.LatencyMean, cfg.Store.LatencyStdDev

	switch {
	case mean == 0 && stdDev == 0:
		b = b.WithoutLatency()
	case cfg.Store.LatencySeed != 0:
		b = b.WithLatencyModel(backing.NewSeededNormalLatency(
			mean, stdDev, cfg.Store.LatencySeed))
	default:
		b = b.WithNormalLatency(mean, stdDev)
	}

	return b.Build()
}
