package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"telemlink/pkg/config"
	"telemlink/pkg/logging"
)

const appName = "telemd"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	stderr     io.Writer
}

func newRootCommand(stdout io.Writer, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stderr: stderr}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Decode the flight telemetry byte stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath, "TOML config file; missing file means defaults")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format override (console, json)")

	cmd.AddCommand(
		newServeCommand(opts),
		newDecodeCommand(opts, stdout),
		newMockCommand(opts),
		newLayoutsCommand(opts, stdout),
	)
	return cmd
}

// load reads the config file and builds the logger it describes.
func (o *globalOptions) load() (config.TelemdConfig, zerolog.Logger, error) {
	cfg, exists, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return config.TelemdConfig{}, zerolog.Nop(), err
	}

	logCfg := logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		NoColor: cfg.Log.NoColor,
	}
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	if o.logFormat != "" {
		logCfg.Format = o.logFormat
	}
	logger := logging.New(o.stderr, appName, logCfg)
	if !exists {
		logger.Debug().Str("path", o.configPath).Msg("config not found, using defaults")
	}
	return cfg, logger, nil
}
