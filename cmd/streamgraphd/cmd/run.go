package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/streamgraph-io/streamgraph/internal/demofilters/nullsink"
	"github.com/streamgraph-io/streamgraph/internal/demofilters/tsdemux"
	"github.com/streamgraph-io/streamgraph/internal/demofilters/tsmux"
	"github.com/streamgraph-io/streamgraph/internal/engine/filter"
	"github.com/streamgraph-io/streamgraph/internal/engine/loader"
	"github.com/streamgraph-io/streamgraph/internal/engine/pipeline"
	"github.com/streamgraph-io/streamgraph/internal/engine/stats"
	"github.com/streamgraph-io/streamgraph/internal/obslog"
	"github.com/streamgraph-io/streamgraph/internal/pipelinecfg"
)

var runThreading string

var runCmd = &cobra.Command{
	Use:   "run <graph.json>",
	Short: "Build and run a pipeline from a graph description",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runThreading, "threading", "", "override pipeline.threading (one-per-filter, mono)")
}

func runGraph(c *cobra.Command, args []string) error {
	cfg, err := pipelinecfg.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if runThreading != "" {
		cfg.Pipeline.Threading = runThreading
	}
	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := viper.GetString("logging.format"); v != "" {
		cfg.Logging.Format = v
	}

	logger := obslog.New(obslog.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	slog.SetDefault(logger)

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))

	ctx := context.Background()
	if host, hostErr := pipelinecfg.CollectHostInfo(ctx); hostErr != nil {
		logger.Warn("collecting host info, continuing with config defaults", slog.String("error", hostErr.Error()))
	} else {
		logger.Info("host info collected",
			slog.Int("cpu_cores", host.CPUCores),
			slog.Int("default_pool_size", host.DefaultPoolSize()))
	}

	statsReg := stats.NewAnonymous()
	defer statsReg.Close()

	threading := pipeline.OnePerModule
	if cfg.Pipeline.Threading == "mono" {
		threading = pipeline.Mono
	}
	p := pipeline.New(pipeline.Options{Threading: threading, Stats: statsReg})

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading graph %q: %w", args[0], err)
	}

	if _, err := loader.Load(p, data, demoFactory(logger)); err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}

	housekeeper, err := pipelinecfg.NewHousekeeper(cfg.Housekeeping, statsReg, logger)
	if err != nil {
		return fmt.Errorf("configuring housekeeping: %w", err)
	}
	housekeeper.Start()
	defer housekeeper.Stop()

	logger.Info("starting pipeline", slog.String("run_id", runID), slog.String("threading", cfg.Pipeline.Threading))
	p.Start()

	if err := runUntilDone(p, logger); err != nil {
		logger.Error("pipeline failed", slog.String("error", err.Error()))
		return err
	}

	logger.Info("pipeline completed")
	return nil
}

// runUntilDone waits for the pipeline to finish, watching for OS interrupts
// on a dedicated goroutine: the first signal asks the pipeline to stop
// sourcing (ordinary EOS propagation), the third forces immediate exit,
// matching the host contract in spec.md §6.
func runUntilDone(p *pipeline.Pipeline, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var g errgroup.Group

	g.Go(func() error {
		defer cancel()
		return p.WaitForEndOfStream()
	})

	g.Go(func() error {
		count := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-sigCh:
				count++
				logger.Info("received signal", slog.String("signal", sig.String()), slog.Int("count", count))
				if count == 1 {
					p.ExitSync()
				} else if count >= 3 {
					os.Exit(3)
				}
			}
		}
	})

	return g.Wait()
}

// demoFactory returns a loader.Factory recognizing the illustrative demo
// filters: tsdemux (source), tsmux (sink), nullsink (sink).
func demoFactory(logger *slog.Logger) loader.Factory {
	return func(moduleType string, config map[string]any) (filter.Module, error) {
		switch moduleType {
		case "tsdemux":
			path, _ := config["file"].(string)
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("tsdemux: opening %q: %w", path, err)
			}
			return tsdemux.New(tsdemux.Config{Reader: f, Logger: logger}), nil

		case "tsmux":
			path, _ := config["file"].(string)
			f, err := os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("tsmux: creating %q: %w", path, err)
			}
			return tsmux.New(tsmux.Config{Writer: f, Logger: logger}), nil

		case "nullsink":
			n := 1
			if v, ok := config["num_inputs"].(float64); ok {
				n = int(v)
			}
			multi, _ := config["accept_multiple"].(bool)
			return nullsink.New(nullsink.Config{NumInputs: n, AcceptMultiple: multi, Logger: logger}), nil

		default:
			return nil, fmt.Errorf("unknown module type %q", moduleType)
		}
	}
}
