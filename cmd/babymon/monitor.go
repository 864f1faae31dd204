package main

import (
	"context"
	"errors"
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
	"github.com/srg/babymon/internal/lifecycle"
	"github.com/srg/babymon/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Connect to the monitor and stream its readings",
	Long: `Scans for the monitor, connects, subscribes to the thermometer and accelerometer
channels and prints every reading until interrupted. Lost connections are recovered
by scanning again.

Examples:
  # Monitor the default "Baby Monitor" peripheral
  babymon monitor

  # Monitor a peripheral advertised under another name
  babymon monitor --name "Nursery Monitor"

  # Use a configuration file and debug logging
  babymon monitor --config monitor.yaml --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

const exitTimeout = 5 * time.Second

func init() {
	monitorCmd.Flags().Duration("connect-timeout", 30*time.Second, "Connection timeout per attempt")
	monitorCmd.Flags().BoolP("verbose", "V", false, "Enable debug logging")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose", cfg, fromFile)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	orch := newOrchestrator(goble.Factory(logger), cfg, logger)
	return monitor(ctx, orch, cfg.TargetName, cmd.OutOrStdout(), sigChan)
}

func newOrchestrator(factory device.DriverFactory, cfg *config.Config, logger *logrus.Logger) *lifecycle.Orchestrator {
	return lifecycle.New(factory, lifecycle.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Reconnect: lifecycle.Backoff{
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
		},
		Specs:  cfg.Channels,
		Logger: logger,
	})
}

// monitor runs the orchestrator, renders its output and exits on interrupt.
// A radio failure ends the session with that error.
func monitor(ctx context.Context, orch *lifecycle.Orchestrator, name string, out io.Writer, interrupt <-chan os.Signal) error {
	display := NewDisplay(out, name)
	defer display.Close()

	states := orch.WatchState(64)
	defer states.Close()
	events := orch.Subscribe(256)
	defer events.Close()

	runErr := make(chan error, 1)
	go func() {
		runErr <- orch.Run(ctx)
	}()

	exit := func(cause error) error {
		exitCtx, cancel := context.WithTimeout(context.Background(), exitTimeout)
		defer cancel()
		if err := orch.Exit(exitCtx); err != nil {
			return errors.Join(cause, err)
		}
		if err := <-runErr; err != nil && cause == nil {
			return err
		}
		return cause
	}

	if err := orch.Start(ctx, name); err != nil {
		return exit(err)
	}

	readings := events.C()
	errs := orch.Errors()
	for {
		select {
		case <-interrupt:
			fmt.Fprintln(out)
			return exit(nil)

		case change, ok := <-states.C():
			if !ok {
				return <-runErr
			}
			display.State(change)

		case ev, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			display.Reading(ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if errors.Is(err, device.ErrRadioUnavailable) {
				return exit(err)
			}
			display.Warn(err)

		case err := <-runErr:
			if err != nil {
				return err
			}
			return fmt.Errorf("monitor stopped unexpectedly")
		}
	}
}
