package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/babymon/internal/device"
	goble "github.com/srg/babymon/internal/device/go-ble"
	"github.com/srg/babymon/internal/scan"
)

// findCmd represents the find command
var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Scan once for the monitor and print its address",
	Long: `Runs a single discovery for the configured peripheral name and prints the
first match. Useful to check that the monitor is advertising before running 'monitor'.

Examples:
  babymon find
  babymon find --name "Nursery Monitor" --timeout 30s`,
	Args: cobra.NoArgs,
	RunE: runFind,
}

func init() {
	findCmd.Flags().Duration("timeout", 10*time.Second, "How long to scan before giving up")
	findCmd.Flags().BoolP("verbose", "V", false, "Enable debug logging")
}

func runFind(cmd *cobra.Command, _ []string) error {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose", cfg, fromFile)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	return find(ctx, goble.Factory(logger), cfg.TargetName, cfg.ScanTimeout, cmd.OutOrStdout(), logger)
}

func find(ctx context.Context, factory device.DriverFactory, name string, timeout time.Duration, out io.Writer, logger *logrus.Logger) error {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	controller := scan.NewController(factory, logger)
	defer controller.Stop()

	results, err := controller.Start(scanCtx, name)
	if err != nil {
		return err
	}

	progress := NewCountdownProgressPrinter(out, lookingFor(name), timeout)
	progress.Start()

	res, ok := <-results
	progress.Stop()

	switch {
	case ok && res.Err != nil:
		return res.Err
	case ok:
		fmt.Fprintf(out, "Found %s at %s\n", res.Peripheral.Name, res.Peripheral.Address)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w: no advertisement named %q within %s", ErrDeviceNotFound, name, timeout)
	}
}
