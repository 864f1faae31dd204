package main

import (
	"errors"
	"fmt"

	"github.com/srg/babymon/internal/device"
	"github.com/srg/babymon/internal/lifecycle"
	"github.com/srg/babymon/internal/scan"
)

// Command-level errors
var (
	// ErrDeviceNotFound indicates the scan window elapsed without a matching advertisement.
	ErrDeviceNotFound = errors.New("device not found")
)

// FormatUserError turns internal errors into messages a user can act on.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrRadioUnavailable):
		return "Bluetooth is not available. Make sure the adapter is present and powered on " +
			"and that this program is allowed to use it."
	case errors.Is(err, scan.ErrEmptyTargetName):
		return "no device name given; use --name or target_name in the config file"
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("%v; make sure the monitor is switched on and in range", err)
	case errors.Is(err, device.ErrInvalidSessionState):
		return fmt.Sprintf("internal error: %v", err)
	case errors.Is(err, lifecycle.ErrExited):
		return "monitor already stopped"
	default:
		return err.Error()
	}
}
