// Command chargewatch labels anomalous readings in a CSV batch of EV
// charging-session telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/HerbHall/chargewatch/internal/config"
	"github.com/HerbHall/chargewatch/internal/runner"
	"github.com/HerbHall/chargewatch/internal/version"
)

var errUsage = errors.New("usage: chargewatch [-config file] <input.csv>")

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "chargewatch: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("chargewatch", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Info())
		return nil
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(fs.Output(), errUsage)
		return errUsage
	}
	input := fs.Arg(0)

	v, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	settings, err := config.Decode(v)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(settings.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("chargewatch starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	}

	r, closeLedger, err := runner.Build(ctx, settings, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer closeLedger()

	sum, err := r.Score(ctx, input)
	if err != nil {
		logger.Error("scoring failed", zap.String("input", input), zap.Error(err))
		return err
	}

	fmt.Fprintln(stdout, "Prediction complete.")
	fmt.Fprintf(stdout, "Output saved to: %s\n", sum.Output)
	fmt.Fprintf(stdout, "Total rows: %d\n", sum.Total)
	fmt.Fprintf(stdout, "Total anomalies detected: %d\n", sum.Anomalies)
	return nil
}
