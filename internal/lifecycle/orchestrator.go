// Package lifecycle coordinates scanning, connecting, service discovery and automatic
// recovery for a single target peripheral.
//
// All state lives in the goroutine running Orchestrator.Run. Commands, scan results,
// session signals and notifications are messages on one inbox; nothing else mutates
// the state or the active session.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/demux"
	"github.com/srg/babymon/internal/device"
	"github.com/srg/babymon/internal/event"
	"github.com/srg/babymon/internal/gatt"
	"github.com/srg/babymon/internal/groutine"
	"github.com/srg/babymon/internal/scan"
	"github.com/srg/babymon/internal/sensor"
)

var (
	// ErrAlreadyStarted is returned by Start outside the Idle state.
	ErrAlreadyStarted = errors.New("monitor already started")
	// ErrExited is returned once the orchestrator has reached Exiting.
	ErrExited = errors.New("monitor has exited")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("orchestrator loop already running")
)

const (
	defaultInboxSize   = 256
	defaultErrorBuffer = 16

	// scanFailureDelay is the minimum pause before rescanning after a driver scan error.
	scanFailureDelay = 250 * time.Millisecond
)

// Options configures an Orchestrator.
type Options struct {
	ConnectTimeout time.Duration
	Reconnect      Backoff
	Specs          []sensor.Spec
	Decoders       map[sensor.Channel]sensor.Decoder
	Logger         *logrus.Logger
}

// Orchestrator is the lifecycle state machine.
type Orchestrator struct {
	scanner *scan.Controller
	demux   *demux.Demultiplexer
	opts    Options
	logger  *logrus.Logger

	inbox    chan message
	events   *event.Bus[event.SensorEvent]
	states   *event.Bus[StateChange]
	errs     *event.RingChannel[error]
	snapshot atomic.Int32
	running  atomic.Bool
	dropped  atomic.Int64
	done     chan struct{}
	doneOnce sync.Once

	// Owned by the Run goroutine.
	runCtx     context.Context
	state      State
	target     string
	cycle      uint64
	session    *gatt.Session
	peripheral device.Peripheral
	backoff    Backoff
	retryGen   uint64
	exitReply  chan error
}

// New creates an orchestrator that obtains its radio from factory.
func New(factory device.DriverFactory, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if len(opts.Specs) == 0 {
		opts.Specs = sensor.DefaultSpecs()
	}

	o := &Orchestrator{
		scanner: scan.NewController(factory, opts.Logger),
		demux:   demux.New(opts.Decoders, opts.Logger),
		opts:    opts,
		logger:  opts.Logger,
		inbox:   make(chan message, defaultInboxSize),
		events:  event.NewBus[event.SensorEvent]("sensor-events", opts.Logger),
		states:  event.NewBus[StateChange]("state-changes", opts.Logger),
		errs:    event.NewRingChannel[error](defaultErrorBuffer),
		done:    make(chan struct{}),
		state:   Idle,
		backoff: opts.Reconnect,
	}
	o.backoff.Reset()
	return o
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() State {
	return State(o.snapshot.Load())
}

// Subscribe registers a consumer of sensor events. The stream is closed on exit.
//
// Each subscriber gets a ring of buffer events. A subscriber that falls behind loses its
// oldest events whatever their kind, lifecycle events included, and Dropped reports how
// many. Consumers that must not miss a transition use WatchState as well.
func (o *Orchestrator) Subscribe(buffer int) *event.Subscription[event.SensorEvent] {
	return o.events.Subscribe(buffer)
}

// WatchState registers a consumer of state transitions. The stream is closed on exit.
func (o *Orchestrator) WatchState(buffer int) *event.Subscription[StateChange] {
	return o.states.Subscribe(buffer)
}

// Errors delivers failures that need user attention: asynchronous radio loss and
// unsupported channels. Closed on exit.
func (o *Orchestrator) Errors() <-chan error {
	return o.errs.C()
}

// Done is closed once the loop has torn everything down.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Start moves Idle -> Scanning for target. Radio errors are returned synchronously and
// leave the orchestrator Idle. A Start issued before Run is queued and answered once Run
// starts, or fails with ctx.Err() if ctx ends first.
func (o *Orchestrator) Start(ctx context.Context, target string) error {
	reply := make(chan error, 1)
	if err := o.send(ctx, startCmd{target: target, reply: reply}); err != nil {
		return err
	}
	return o.await(ctx, reply, ErrExited)
}

// Exit tears everything down and moves to the terminal Exiting state. Calling Exit after
// the orchestrator has exited is a no-op. Exit before Run closes the streams directly
// and a later Run returns ErrExited.
func (o *Orchestrator) Exit(ctx context.Context) error {
	if o.running.CompareAndSwap(false, true) {
		// No loop has started, so nothing is owned yet.
		o.logger.Info("Exit requested before the lifecycle loop started")
		o.transition(Exiting)
		o.finish()
		return nil
	}

	reply := make(chan error, 1)
	if err := o.send(ctx, exitCmd{reply: reply}); err != nil {
		if errors.Is(err, ErrExited) {
			return nil
		}
		return err
	}
	return o.await(ctx, reply, nil)
}

func (o *Orchestrator) send(ctx context.Context, msg message) error {
	select {
	case <-o.done:
		return ErrExited
	default:
	}
	select {
	case o.inbox <- msg:
		return nil
	case <-o.done:
		return ErrExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) await(ctx context.Context, reply <-chan error, onDone error) error {
	select {
	case err := <-reply:
		return err
	case <-o.done:
		// The loop may have answered right before finishing.
		select {
		case err := <-reply:
			return err
		default:
			return onDone
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DroppedNotifications returns how many notifications were discarded because the
// inbox was full.
func (o *Orchestrator) DroppedNotifications() int64 {
	return o.dropped.Load()
}

// post hands a message from a worker or driver goroutine to the loop.
func (o *Orchestrator) post(msg message) {
	select {
	case o.inbox <- msg:
	case <-o.done:
	}
}

// postNotification never blocks the driver's dispatch goroutine: with the inbox full
// the notification is dropped and counted.
func (o *Orchestrator) postNotification(msg notificationMsg) {
	select {
	case <-o.done:
		return
	default:
	}
	select {
	case o.inbox <- msg:
	default:
		n := o.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			o.logger.WithFields(logrus.Fields{
				"session":        msg.session,
				"characteristic": msg.characteristic,
				"dropped":        n,
			}).Warn("Lifecycle inbox full, notification dropped")
		}
	}
}

// Run is the owner loop. It returns nil after Exit, ctx.Err() when ctx is cancelled, or
// the contract violation that made it stop.
func (o *Orchestrator) Run(ctx context.Context) error {
	select {
	case <-o.done:
		return ErrExited
	default:
	}
	if !o.running.CompareAndSwap(false, true) {
		select {
		case <-o.done:
			return ErrExited
		default:
		}
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.runCtx = runCtx

	o.logger.Debug("Lifecycle loop started")

	var result error
	for result == nil {
		select {
		case <-ctx.Done():
			result = ctx.Err()
		case msg := <-o.inbox:
			result = o.handle(msg)
		}
	}

	o.shutdown()
	o.transition(Exiting)
	o.finish()
	cancel()
	if o.exitReply != nil {
		o.exitReply <- nil
	}

	if errors.Is(result, errExitRequested) {
		o.logger.Info("Lifecycle loop exited")
		return nil
	}
	o.logger.WithField("error", result).Warn("Lifecycle loop stopped")
	return result
}

// finish closes subscriber streams and answers commands still queued in the inbox.
func (o *Orchestrator) finish() {
	o.doneOnce.Do(func() {
		o.events.Close()
		o.states.Close()
		o.errs.Close()
		close(o.done)
	})
	for {
		select {
		case msg := <-o.inbox:
			switch m := msg.(type) {
			case startCmd:
				m.reply <- ErrExited
			case exitCmd:
				m.reply <- nil
			}
		default:
			return
		}
	}
}

var errExitRequested = errors.New("exit requested")

func (o *Orchestrator) handle(msg message) error {
	switch m := msg.(type) {
	case startCmd:
		m.reply <- o.handleStart(m.target)
		return nil
	case exitCmd:
		o.logger.Info("Exit requested")
		o.exitReply = m.reply
		return errExitRequested
	case scanResultMsg:
		o.handleScanResult(m)
		return nil
	case signalMsg:
		return o.handleSignal(m)
	case notificationMsg:
		o.handleNotification(m)
		return nil
	case rescanMsg:
		o.handleRescan(m)
		return nil
	default:
		return fmt.Errorf("unexpected message %T", msg)
	}
}

func (o *Orchestrator) handleStart(target string) error {
	if o.state != Idle {
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, o.state)
	}
	if target == "" {
		return scan.ErrEmptyTargetName
	}
	o.target = target
	o.backoff.Reset()
	return o.beginScan()
}

func (o *Orchestrator) beginScan() error {
	results, err := o.scanner.Start(o.runCtx, o.target)
	if err != nil {
		return err
	}
	o.cycle++
	cycle := o.cycle
	o.transition(Scanning)

	groutine.GoSafe(o.runCtx, fmt.Sprintf("scan-pump-%d", cycle), o.logger, func(ctx context.Context) {
		for res := range results {
			o.post(scanResultMsg{cycle: cycle, result: res})
		}
	}, nil)
	return nil
}

func (o *Orchestrator) handleScanResult(m scanResultMsg) {
	if m.cycle != o.cycle || o.state != Scanning {
		o.logger.WithFields(logrus.Fields{
			"cycle":   m.cycle,
			"current": o.cycle,
			"state":   o.state,
			"device":  m.result.Peripheral.Address,
		}).Debug("Ignoring scan result outside its discovery cycle")
		return
	}

	if err := m.result.Err; err != nil {
		o.scanner.Stop()
		if errors.Is(err, device.ErrRadioUnavailable) {
			o.logger.WithField("error", err).Error("BLE radio unavailable, waiting for a new start command")
			o.reportError(err)
			o.transition(Idle)
			return
		}
		o.logger.WithField("error", err).Warn("Scan failed, restarting discovery")
		o.transition(Disconnected)
		o.restartCycle(scanFailureDelay)
		return
	}

	o.scanner.Stop()
	o.peripheral = m.result.Peripheral
	o.transition(Connecting)
	o.openSession()
}

func (o *Orchestrator) openSession() {
	o.closeSession()

	drv, err := o.scanner.Driver()
	if err != nil {
		o.reportError(err)
		o.transition(Idle)
		return
	}
	o.session = gatt.Open(o.runCtx, drv, o.peripheral, sessionSink{o: o}, gatt.Options{
		ConnectTimeout: o.opts.ConnectTimeout,
		Specs:          o.opts.Specs,
		Logger:         o.logger,
	})
}

func (o *Orchestrator) closeSession() {
	if o.session == nil {
		return
	}
	session := o.session
	o.session = nil
	if err := session.Close(); err != nil {
		o.logger.WithFields(logrus.Fields{
			"session": session.ID(),
			"error":   err,
		}).Warn("Failed to release session")
	}
}

func (o *Orchestrator) currentSession(id uint64) bool {
	return o.session != nil && o.session.ID() == id
}

func (o *Orchestrator) handleSignal(m signalMsg) error {
	if !o.currentSession(m.session) {
		o.logger.WithFields(logrus.Fields{
			"session": m.session,
			"signal":  m.signal,
		}).Debug("Ignoring signal from stale session")
		return nil
	}

	if ev, ok := o.demux.OnLifecycleSignal(m.session, m.signal); ok {
		o.events.Publish(ev)
	}

	switch m.signal {
	case gatt.SignalConnected:
		o.transition(DiscoveringServices)
		if err := o.session.DiscoverServices(); err != nil {
			return o.violation(err)
		}

	case gatt.SignalServicesDiscovered:
		o.transition(Ready)
		o.backoff.Reset()
		for _, spec := range o.opts.Specs {
			err := o.session.Subscribe(spec.Channel)
			switch {
			case err == nil:
			case errors.Is(err, device.ErrChannelNotSupported):
				o.logger.WithFields(logrus.Fields{
					"channel": spec.Channel,
					"error":   err,
				}).Warn("Channel not supported by peripheral")
				o.reportError(err)
			case errors.Is(err, device.ErrInvalidSessionState):
				return o.violation(err)
			default:
				o.logger.WithFields(logrus.Fields{
					"channel": spec.Channel,
					"error":   err,
				}).Error("Failed to subscribe to channel")
			}
		}

	case gatt.SignalConnectFailed, gatt.SignalDiscoveryFailed, gatt.SignalDisconnected:
		o.logger.WithFields(logrus.Fields{
			"session": m.session,
			"signal":  m.signal,
			"error":   m.err,
		}).Warn("Connection lost, restarting discovery")
		o.transition(Disconnected)
		o.restartCycle(0)
	}
	return nil
}

func (o *Orchestrator) violation(err error) error {
	o.logger.WithField("error", err).Error("Session contract violated")
	return err
}

func (o *Orchestrator) handleNotification(m notificationMsg) {
	if !o.currentSession(m.session) || o.state != Ready {
		o.logger.WithFields(logrus.Fields{
			"session":        m.session,
			"characteristic": m.characteristic,
		}).Debug("Ignoring notification from stale session")
		return
	}
	if ev, ok := o.demux.OnRawUpdate(m.session, o.session.Binding(), m.characteristic, m.payload); ok {
		o.events.Publish(ev)
	}
}

// restartCycle discards the session and its binding, then rescans after the backoff
// delay, waiting at least minDelay.
func (o *Orchestrator) restartCycle(minDelay time.Duration) {
	o.closeSession()
	o.scanner.Stop()

	o.retryGen++
	gen := o.retryGen
	delay := max(o.backoff.Next(), minDelay)
	if delay <= 0 {
		o.handleRescan(rescanMsg{gen: gen})
		return
	}

	o.logger.WithFields(logrus.Fields{
		"delay":   delay,
		"attempt": o.backoff.Attempts(),
	}).Info("Rescanning after backoff")
	groutine.GoSafe(o.runCtx, fmt.Sprintf("rescan-backoff-%d", gen), o.logger, func(ctx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			o.post(rescanMsg{gen: gen})
		case <-ctx.Done():
		}
	}, nil)
}

func (o *Orchestrator) handleRescan(m rescanMsg) {
	if m.gen != o.retryGen || o.state != Disconnected {
		return
	}
	if err := o.beginScan(); err != nil {
		o.logger.WithField("error", err).Error("Failed to restart scan")
		o.reportError(err)
		o.transition(Idle)
	}
}

func (o *Orchestrator) shutdown() {
	o.retryGen++
	o.scanner.Stop()
	o.closeSession()
}

func (o *Orchestrator) reportError(err error) {
	if !o.errs.ForceSend(err) {
		o.logger.WithField("error", err).Debug("Error buffer full, oldest error dropped")
	}
}

func (o *Orchestrator) transition(to State) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	o.snapshot.Store(int32(to))

	o.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("State changed")
	o.states.Publish(StateChange{From: from, To: to, Time: time.Now()})
}

// sessionSink forwards session output into the inbox.
type sessionSink struct {
	o *Orchestrator
}

func (s sessionSink) OnSignal(session uint64, sig gatt.Signal, err error) {
	s.o.post(signalMsg{session: session, signal: sig, err: err})
}

func (s sessionSink) OnNotification(session uint64, characteristic string, payload []byte) {
	s.o.postNotification(notificationMsg{session: session, characteristic: characteristic, payload: payload})
}

type message any

type startCmd struct {
	target string
	reply  chan error
}

type exitCmd struct {
	reply chan error
}

type scanResultMsg struct {
	cycle  uint64
	result scan.Result
}

type signalMsg struct {
	session uint64
	signal  gatt.Signal
	err     error
}

type notificationMsg struct {
	session        uint64
	characteristic string
	payload        []byte
}

type rescanMsg struct {
	gen uint64
}
