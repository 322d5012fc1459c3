package main

import (
	"context"
	"fmt"
	"os"

	"SignalGate/internal/di"
	"SignalGate/internal/services/detectors"
	"SignalGate/pkg/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "signalgate",
	Short: "Signal detection, aggregation and risk gating for crypto market data",
	Long: `SignalGate consumes trade, liquidity, price, volume and order book samples,
runs the configured detectors per symbol, combines their signals and passes each
combined signal through the risk gate before publishing the decision.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline and the status API",
	RunE:  runServe,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and print the effective values",
	Long: `Load the configuration file, apply environment overrides and defaults,
validate it and print the result as YAML.

Examples:
  signalgate check-config --config config/config.yaml
  KAFKA_BROKERS=localhost:9092 signalgate check-config`,
	RunE: runCheckConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
	rootCmd.AddCommand(serveCmd, checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Run(ctx)
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return err
	}
	if _, err := detectors.Build(cfg.Detectors); err != nil {
		return fmt.Errorf("detectors: %w", err)
	}

	out := cmd.OutOrStdout()
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "# configuration is valid; detectors available: %v\n", detectors.Available())
	return nil
}
