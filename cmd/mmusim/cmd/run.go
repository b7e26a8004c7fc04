package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/browser"
	"github.com/sarchlab/mmusim/config"
	"github.com/sarchlab/mmusim/datarecording"
	"github.com/sarchlab/mmusim/instrumentation/hooking"
	"github.com/sarchlab/mmusim/logging"
	"github.com/sarchlab/mmusim/mem/cache"
	"github.com/sarchlab/mmusim/mem/trace"
	"github.com/sarchlab/mmusim/monitoring"
	"github.com/sarchlab/mmusim/workload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a concurrent workload against the cache.",
	Long: "`run` builds the backing store and the cache, starts the " +
		"workers and prints a report. With --monitor the cache can be " +
		"inspected over HTTP while the workload runs.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return runSimulation(ctx, cmd, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.Int("lines", 0, "number of cache lines")
	flags.Int("workers", 4, "number of goroutines accessing the cache")
	flags.Int("ops", 100, "number of accesses per worker")
	flags.Uint64("working-set", 64, "number of distinct addresses accessed")
	flags.Float64("write-ratio", 0.3, "fraction of accesses that are writes")
	flags.Float64("rate", 0, "operations per second per worker, 0 for unlimited")
	flags.String("mode", "partitioned", "address assignment (partitioned, shared)")
	flags.Bool("monitor", false, "serve the monitor while running")
	flags.Int("port", 0, "port of the monitor, 0 for random")
	flags.Bool("open", false, "open the monitor in a browser")
	flags.Bool("hold", false, "keep the monitor running until interrupted")
	flags.String("record", "",
		"record every access into this SQLite file (.sqlite3 is appended if missing)")
	flags.Bool("trace", false, "print every access to stderr")
}

func runSimulation(
	ctx context.Context,
	cmd *cobra.Command,
	cfg *config.Config,
	logger *logging.Logger,
) error {
	flags := cmd.Flags()
	out := cmd.OutOrStdout()

	store := buildStore(cfg)
	c := cache.MakeBuilder().
		WithNumLines(cfg.Cache.Lines).
		WithStore(store).
		Build("MMU.Cache")

	counts := hooking.NewCountHook()
	c.AcceptHook(counts)

	if cfg.Record.Path != "" {
		recorder := datarecording.New(cfg.Record.Path)
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Error("failed to close the recorder", zap.Error(err))
			}
		}()

		tracer := trace.NewDBTracer(recorder, nil)
		c.AcceptHook(tracer)
		store.AcceptHook(tracer)

		logger.Info("recording accesses", zap.String("path", cfg.Record.Path))
	}

	if doTrace, _ := flags.GetBool("trace"); doTrace {
		tracer := trace.NewTracer(log.New(cmd.ErrOrStderr(), "", 0), nil)
		c.AcceptHook(tracer)
		store.AcceptHook(tracer)
	}

	b, err := workloadBuilder(cmd, cfg, logger)
	if err != nil {
		return err
	}

	monitor, err := startMonitor(cmd, cfg, c, logger)
	if err != nil {
		return err
	}

	var bar *monitoring.ProgressBar

	if monitor != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), 5*time.Second)
			defer cancel()

			_ = monitor.Shutdown(shutdownCtx)
		}()

		bar = monitor.CreateProgressBar("workload", b.Build(c).TotalOps())
		b = b.WithProgress(bar)
	}

	report, runErr := b.Build(c).Run(ctx)

	if bar != nil {
		monitor.CompleteProgressBar(bar)
	}

	if report != nil {
		if err := report.Print(out); err != nil {
			return err
		}

		printCounts(out, counts)
	}

	if err := c.Flush(); err != nil {
		return fmt.Errorf("failed to flush the cache: %w", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if hold, _ := flags.GetBool("hold"); hold && monitor != nil {
		logger.Info("holding the monitor, press Ctrl-C to exit")
		<-ctx.Done()
	}

	return nil
}

func workloadBuilder(
	cmd *cobra.Command,
	cfg *config.Config,
	logger *logging.Logger,
) (workload.Builder, error) {
	flags := cmd.Flags()

	workers, _ := flags.GetInt("workers")
	ops, _ := flags.GetInt("ops")
	workingSet, _ := flags.GetUint64("working-set")
	writeRatio, _ := flags.GetFloat64("write-ratio")
	rate, _ := flags.GetFloat64("rate")
	modeName, _ := flags.GetString("mode")

	mode, err := workload.ParseMode(modeName)
	if err != nil {
		return workload.Builder{}, err
	}

	switch {
	case workers <= 0:
		err = errors.New("at least one worker is needed")
	case ops < 0:
		err = errors.New("number of operations cannot be negative")
	case writeRatio < 0 || writeRatio > 1:
		err = errors.New("write ratio must be within [0, 1]")
	case rate < 0:
		err = errors.New("rate cannot be negative")
	case mode == workload.Partitioned && workingSet < uint64(workers):
		err = errors.New(
			"partitioned mode needs at least one address per worker")
	case workingSet == 0 || workingSet > cfg.Store.Size:
		err = fmt.Errorf("working set %d does not fit a store of size %d",
			workingSet, cfg.Store.Size)
	}

	if err != nil {
		return workload.Builder{}, err
	}

	return workload.MakeBuilder().
		WithWorkers(workers).
		WithOpsPerWorker(ops).
		WithWorkingSet(workingSet).
		WithWriteRatio(writeRatio).
		WithRate(rate).
		WithSeed(cfg.Store.LatencySeed).
		WithMode(mode).
		WithLogger(logger), nil
}

// startMonitor starts the monitor if --monitor is set. It returns nil
// otherwise.
func startMonitor(
	cmd *cobra.Command,
	cfg *config.Config,
	c *cache.Cache,
	logger *logging.Logger,
) (*monitoring.Monitor, error) {
	flags := cmd.Flags()

	if useMonitor, _ := flags.GetBool("monitor"); !useMonitor {
		return nil, nil
	}

	monitor := monitoring.NewMonitor(logger).WithPortNumber(cfg.Monitor.Port)
	monitor.RegisterCache(c)

	url, err := monitor.StartServer()
	if err != nil {
		return nil, err
	}

	if open, _ := flags.GetBool("open"); open {
		if err := browser.OpenURL(url); err != nil {
			logger.Warn("failed to open the browser", zap.Error(err))
		}
	}

	return monitor, nil
}

func printCounts(w io.Writer, counts *hooking.CountHook) {
	fmt.Fprintln(w, "events")

	for _, name := range counts.PosNames() {
		fmt.Fprintf(w, "  %-16s %d\n", name,
			counts.Count(&hooking.HookPos{Name: name}))
	}
}
