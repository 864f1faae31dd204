package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/babymon/internal/event"
	"github.com/srg/babymon/internal/lifecycle"
)

const (
	phaseConnecting = "Found device, now connecting"
	phaseConnected  = "Connected"
	phaseLost       = "Disconnected"
)

// lookingFor is the progress phase shown while scanning.
func lookingFor(name string) string {
	return fmt.Sprintf("Looking for %s", name)
}

// phaseFor maps a lifecycle state onto the text shown to the user.
func phaseFor(state lifecycle.State, name string) string {
	switch state {
	case lifecycle.Scanning:
		return lookingFor(name)
	case lifecycle.Connecting, lifecycle.DiscoveringServices:
		return phaseConnecting
	case lifecycle.Ready:
		return phaseConnected
	case lifecycle.Disconnected:
		return phaseLost
	case lifecycle.Exiting:
		return "Stopped"
	default:
		return "Idle"
	}
}

// Display renders connection state and sensor readings.
type Display struct {
	out  io.Writer
	name string

	mu       sync.Mutex
	progress *ProgressPrinter

	connected    *color.Color
	disconnected *color.Color
	label        *color.Color
	warning      *color.Color
}

// NewDisplay creates a display writing to out. Colors follow fatih/color's terminal detection.
func NewDisplay(out io.Writer, name string) *Display {
	return &Display{
		out:          out,
		name:         name,
		connected:    color.New(color.FgGreen, color.Bold),
		disconnected: color.New(color.FgRed, color.Bold),
		label:        color.New(color.FgCyan),
		warning:      color.New(color.FgYellow),
	}
}

// State reacts to a transition: searching and connecting phases go through the progress
// printer, connection changes are printed as colored lines.
func (d *Display) State(change lifecycle.StateChange) {
	d.mu.Lock()
	defer d.mu.Unlock()

	phase := phaseFor(change.To, d.name)
	switch change.To {
	case lifecycle.Scanning, lifecycle.Connecting, lifecycle.DiscoveringServices:
		if d.progress == nil {
			d.progress = NewProgressPrinter(d.out, phase, phaseConnected)
			d.progress.Start()
			return
		}
		d.progress.Callback()(phase)

	case lifecycle.Ready:
		d.stopProgressLocked()
		d.connected.Fprintf(d.out, "%s to %s\n", phaseConnected, d.name)

	case lifecycle.Disconnected:
		d.stopProgressLocked()
		d.disconnected.Fprintln(d.out, phaseLost)

	default:
		d.stopProgressLocked()
	}
}

// Reading prints a decoded sensor reading with its channel label. Lifecycle events are
// ignored because State already reports them.
func (d *Display) Reading(ev event.SensorEvent) {
	if !ev.IsReading() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.label.Fprintf(d.out, "%s: ", ev.Channel.Label())
	fmt.Fprintln(d.out, ev.Text)
}

// Warn prints a non-fatal problem.
func (d *Display) Warn(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warning.Fprintf(d.out, "Warning: %s\n", FormatUserError(err))
}

// Close stops any running progress line.
func (d *Display) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopProgressLocked()
}

func (d *Display) stopProgressLocked() {
	if d.progress != nil {
		d.progress.Stop()
		d.progress = nil
	}
}
