package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jjshanks/myrtle/internal/config"
	"github.com/jjshanks/myrtle/internal/simulate"
	"github.com/jjshanks/myrtle/internal/telemetry"
)

var version = "dev"

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:          "myrtle",
		Short:        "Test doubles and a virtual clock for host timers",
		Long:         `Replays timer schedules against the myrtle virtual clock and reports what fired`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			cfg.InitializeLogging()
			return nil
		},
	}

	scheduleFile string
	ticks        int64

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Replay a timer schedule on the virtual clock",
		RunE:  runSimulate,
	}
)

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sched, err := simulate.LoadSchedule(scheduleFile)
	if err != nil {
		return err
	}
	if ticks > 0 {
		sched.Ticks = ticks
	}

	tracer, err := telemetry.Init(ctx, "myrtle", "myrtle-cli", version, cfg.TracingEndpoint, cfg.TracingInsecure)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracer")
		}
	}()

	registry := prometheus.NewRegistry()
	runner := simulate.NewRunner(
		simulate.WithLogger(log.Logger),
		simulate.WithRegisterer(registry),
		simulate.WithTracer(tracer.Tracer()),
	)

	log.Info().
		Str("schedule", scheduleFile).
		Int64("ticks", sched.Ticks).
		Int("timers", len(sched.Timers)).
		Msg("Replaying schedule")

	res, err := runner.Run(ctx, sched)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if err := simulate.WriteSummary(out, sched, res); err != nil {
		return err
	}
	if cfg.Metrics {
		return simulate.WriteMetrics(out, registry)
	}
	return nil
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().Bool("console", false, "Use console log format instead of JSON")
	rootCmd.PersistentFlags().String("tracing-endpoint", "", "OTLP gRPC endpoint for traces (disabled when empty)")
	rootCmd.PersistentFlags().Bool("tracing-insecure", false, "Disable TLS for the tracing endpoint")

	simulateCmd.Flags().StringVar(&scheduleFile, "schedule", "", "schedule file (YAML, JSON or TOML)")
	simulateCmd.Flags().Int64Var(&ticks, "ticks", 0, "override the number of ticks to advance")
	simulateCmd.Flags().Bool("metrics", false, "Print gathered metrics after the run")
	_ = simulateCmd.MarkFlagRequired("schedule")

	for _, name := range []string{"log-level", "console", "tracing-endpoint", "tracing-insecure"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	_ = viper.BindPFlag("metrics", simulateCmd.Flags().Lookup("metrics"))

	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Error executing command")
		os.Exit(1)
	}
}
