package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ProgressPrinter displays the current phase with elapsed or remaining seconds.
//
// On a terminal the line is redrawn in place; otherwise every phase change is written
// once as its own line.
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out         io.Writer
	interactive bool
	phase       atomic.Value        // string
	stopPhases  map[string]struct{} // phases that stop the printer when set via Callback
	startTime   time.Time
	duration    time.Duration // zero counts up

	mu       sync.Mutex // serializes writes
	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
func NewProgressPrinter(out io.Writer, phase string, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(out, phase, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from duration.
func NewCountdownProgressPrinter(out io.Writer, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(out, phase, duration, stopPhases)
}

func newProgressPrinter(out io.Writer, phase string, duration time.Duration, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:         out,
		interactive: isTerminal(out),
		stopPhases:  stopSet,
		duration:    duration,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress. Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()

	phase := p.phase.Load().(string)
	if !p.interactive {
		p.writeLine(phase)
		close(p.done)
		return
	}

	p.redraw(phase, 0)
	ticker := time.NewTicker(progressUpdateInterval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.redraw(p.phase.Load().(string), p.seconds())
			}
		}
	}()
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.duration == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) redraw(phase string, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds > 0 {
		fmt.Fprintf(p.out, "%s%s... (%ds)", clearLineSequence, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "%s%s...", clearLineSequence, phase)
	}
}

func (p *ProgressPrinter) writeLine(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s...\n", phase)
}

// Callback returns a function that updates the phase. Setting a stop phase stops the
// printer. Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		prev, _ := p.phase.Swap(phase).(string)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
			return
		}
		if !p.interactive && prev != phase && p.started.Load() {
			p.writeLine(phase)
		}
	}
}

// Stop stops the display and clears the progress line. Safe to call multiple times.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if !p.started.Load() {
			return
		}
		<-p.done
		if p.interactive {
			p.mu.Lock()
			fmt.Fprint(p.out, clearLineSequence)
			p.mu.Unlock()
		}
	})
}
