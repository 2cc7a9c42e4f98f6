package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/telemetry"
	zkvm "github.com/vybium/vybium-zkvm/pkg/vybium-zkvm"
)

var (
	logLevel    string
	logFormat   string
	metricsFile string
	configFile  string

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	sdk     *zkvm.Sdk
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error).")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", telemetry.FormatConsole, "Log format (console or json).")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write stage metrics to this file in Prometheus text format.")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "App config file (proof system parameters and vm extensions). Defaults apply when empty.")
}

var rootCmd = &cobra.Command{
	Use:           "vybium-zkvm",
	Short:         "Build, prove and verify guest programs on the Vybium zkVM",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = telemetry.NewLogger(os.Stderr, logLevel, logFormat)
		if err != nil {
			return err
		}
		metrics = telemetry.NewMetrics()
		sdk = zkvm.NewSdk(zkvm.WithLogger(logger), zkvm.WithMetrics(metrics))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return flushMetrics()
	},
}

func flushMetrics() error {
	if metricsFile == "" || metrics == nil {
		return nil
	}
	return metrics.WriteTextfile(metricsFile)
}

// appConfig loads --config, or the defaults when it is unset.
func appConfig() (zkvm.AppConfig, error) {
	if configFile == "" {
		return zkvm.NewAppConfig(zkvm.DefaultParams(), zkvm.DefaultRv32imConfig()), nil
	}
	return zkvm.LoadAppConfig(configFile)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_ = flushMetrics()
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for a rejected proof and 1 for any other failure.
func exitCode(err error) int {
	if zkvm.IsReject(err) {
		return 2
	}
	return 1
}
