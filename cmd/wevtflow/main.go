// wevtflow - offline Windows event template cache
// Extracts WEVT_TEMPLATE manifests from PE binaries, indexes them, and
// renders event XML without a live Windows system.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wevtflow/wevtflow/pkg/config"
	"github.com/wevtflow/wevtflow/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global CLI flags
var (
	verbose       bool
	cacheFile     string
	ansiCodecFlag string
)

var telemetryShutdown func(context.Context) error

func main() {
	err := rootCmd.Execute()
	if telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		telemetryShutdown(ctx)
		cancel()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wevtflow",
	Short: "wevtflow - Offline Windows event template cache",
	Long: `wevtflow extracts WEVT_TEMPLATE manifests from Windows PE binaries
(exe, dll, sys), aggregates them into a persistent template cache, and uses
the cache to resolve event definitions and render event XML offline.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// setup loads configuration and, when enabled, wires OTLP trace export.
func setup(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()

	if ansiCodecFlag == "" {
		ansiCodecFlag = cfg.Render.ANSICodec
	}

	if cfg.Telemetry.Enabled {
		otlpCfg := telemetry.DefaultOTLPConfig("wevtflow")
		otlpCfg.ServiceVersion = version
		if cfg.Telemetry.Endpoint != "" {
			otlpCfg.Endpoint = cfg.Telemetry.Endpoint
		}
		shutdown, err := telemetry.InitOTLP(otlpCfg)
		if err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
			}
			return nil
		}
		telemetryShutdown = shutdown
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&ansiCodecFlag, "ansi-codec", "", "IANA charset for ANSI string decoding (default windows-1252)")
}
