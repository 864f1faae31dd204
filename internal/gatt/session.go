// Package gatt owns one GATT connection to a peripheral: connect, service discovery,
// notification subscription and teardown.
//
// Completion of the long-latency steps (connect, discovery) and link loss are reported
// asynchronously through a Sink, tagged with the session ID. A Sink owner must discard
// messages whose session ID is no longer current.
package gatt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/device"
	"github.com/srg/babymon/internal/groutine"
	"github.com/srg/babymon/internal/sensor"
)

// DefaultConnectTimeout bounds the dial when Options.ConnectTimeout is zero.
const DefaultConnectTimeout = 30 * time.Second

// Signal is a lifecycle notification emitted by a Session.
type Signal int

const (
	SignalConnected Signal = iota
	SignalConnectFailed
	SignalServicesDiscovered
	SignalDiscoveryFailed
	SignalDisconnected
)

func (s Signal) String() string {
	switch s {
	case SignalConnected:
		return "connected"
	case SignalConnectFailed:
		return "connect_failed"
	case SignalServicesDiscovered:
		return "services_discovered"
	case SignalDiscoveryFailed:
		return "discovery_failed"
	case SignalDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Sink receives everything a Session produces. Calls arrive from driver and worker
// goroutines; implementations must hand them off to their owner rather than mutate state.
type Sink interface {
	OnSignal(session uint64, sig Signal, err error)
	OnNotification(session uint64, characteristic string, payload []byte)
}

// Options configures a Session.
type Options struct {
	ConnectTimeout time.Duration
	Specs          []sensor.Spec
	Logger         *logrus.Logger
}

type sessionState int

const (
	stateConnecting sessionState = iota
	stateConnected
	stateDiscovering
	stateDiscovered
	stateFailed
	stateDisconnected
	stateClosed
)

var nextSessionID atomic.Uint64

// Session is one connection attempt and, if it succeeds, the live connection.
type Session struct {
	id         uint64
	peripheral device.Peripheral
	driver     device.Driver
	sink       Sink
	opts       Options
	logger     *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   sessionState
	client  device.Client
	binding *Binding
}

// Open starts connecting to the peripheral and returns immediately. The outcome is
// reported as SignalConnected or SignalConnectFailed.
func Open(ctx context.Context, driver device.Driver, peripheral device.Peripheral, sink Sink, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	s := &Session{
		id:         nextSessionID.Add(1),
		peripheral: peripheral,
		driver:     driver,
		sink:       sink,
		opts:       opts,
		state:      stateConnecting,
	}
	s.logger = opts.Logger
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.WithFields(logrus.Fields{
		"session": s.id,
		"address": peripheral.Address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	groutine.GoSafe(s.ctx, fmt.Sprintf("gatt-dial-%d", s.id), s.logger, s.dial, func(err error) {
		s.fail(stateConnecting, SignalConnectFailed, fmt.Errorf("%w: %w", device.ErrConnectionFailed, err))
	})
	return s
}

// ID returns the session identity used to tag signals and notifications.
func (s *Session) ID() uint64 {
	return s.id
}

// Peripheral returns the device this session targets.
func (s *Session) Peripheral() device.Peripheral {
	return s.peripheral
}

// Binding returns the characteristic binding, or nil before discovery completes
// and after Close.
func (s *Session) Binding() *Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

func (s *Session) dial(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	client, err := s.driver.Dial(dialCtx, s.peripheral.Address)

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		if client != nil {
			// Close ran while dialing: the transport was never handed out, release it here.
			if cerr := client.CancelConnection(); cerr != nil {
				s.logger.WithField("error", cerr).Warn("Failed to release connection completed after close")
			}
		}
		s.logger.WithField("session", s.id).Debug("Dial finished after close, result discarded")
		return
	}
	if err != nil {
		s.state = stateFailed
		s.mu.Unlock()
		if !device.IsConnectionState(err, device.ConnectionFailed) {
			err = fmt.Errorf("%w: %w", device.ErrConnectionFailed, err)
		}
		s.logger.WithFields(logrus.Fields{
			"session": s.id,
			"address": s.peripheral.Address,
			"error":   err,
		}).Warn("Failed to connect to BLE device")
		s.sink.OnSignal(s.id, SignalConnectFailed, err)
		return
	}
	s.client = client
	s.state = stateConnected
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"session": s.id,
		"address": s.peripheral.Address,
	}).Info("BLE device connected")
	s.sink.OnSignal(s.id, SignalConnected, nil)

	groutine.GoSafe(ctx, fmt.Sprintf("gatt-monitor-%d", s.id), s.logger, func(monitorCtx context.Context) {
		select {
		case <-client.Disconnected():
			if s.markDisconnected() {
				s.logger.WithField("session", s.id).Warn("Driver reported disconnection")
				s.sink.OnSignal(s.id, SignalDisconnected, device.ErrNotConnected)
			}
		case <-monitorCtx.Done():
		}
	}, nil)
}

// fail moves a session still in state from to stateFailed and reports sig. A session
// that already left from (closed, disconnected or completed) is not reported twice.
func (s *Session) fail(from sessionState, sig Signal, err error) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.state = stateFailed
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"session": s.id,
		"signal":  sig,
		"error":   err,
	}).Error("Session worker failed")
	s.sink.OnSignal(s.id, sig, err)
}

func (s *Session) markDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed || s.state == stateDisconnected {
		return false
	}
	s.state = stateDisconnected
	return true
}

// DiscoverServices enumerates the GATT table and builds the channel binding.
// It may only be called once, after SignalConnected; otherwise it returns
// device.ErrInvalidSessionState. The outcome is reported as SignalServicesDiscovered
// or SignalDiscoveryFailed.
func (s *Session) DiscoverServices() error {
	s.mu.Lock()
	if s.state != stateConnected {
		state := s.state
		s.mu.Unlock()
		return &device.ConnectionError{
			State: device.InvalidSession,
			Msg:   fmt.Sprintf("discover services in state %d (session %d)", state, s.id),
		}
	}
	s.state = stateDiscovering
	client := s.client
	s.mu.Unlock()

	s.logger.WithField("session", s.id).Debug("Discovering services and characteristics...")
	groutine.GoSafe(s.ctx, fmt.Sprintf("gatt-discover-%d", s.id), s.logger, func(ctx context.Context) {
		profile, err := client.DiscoverProfile()

		s.mu.Lock()
		if s.state != stateDiscovering {
			// Closed or disconnected while discovering.
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.state = stateFailed
			s.mu.Unlock()
			s.logger.WithFields(logrus.Fields{
				"session": s.id,
				"error":   err,
			}).Error("Failed to discover profile")
			s.sink.OnSignal(s.id, SignalDiscoveryFailed, err)
			return
		}

		binding, missing := NewBinding(profile, s.opts.Specs, s.logger)
		s.binding = binding
		s.state = stateDiscovered
		s.mu.Unlock()

		s.logger.WithFields(logrus.Fields{
			"session":  s.id,
			"services": len(profile.Services),
			"bound":    binding.Len(),
			"missing":  missing,
		}).Info("Services discovered")
		s.sink.OnSignal(s.id, SignalServicesDiscovered, nil)
	}, func(err error) {
		s.fail(stateDiscovering, SignalDiscoveryFailed, err)
	})
	return nil
}

// Subscribe enables notifications for a channel. A channel absent from the binding, or
// bound to a characteristic without notify/indicate, fails with
// device.ErrChannelNotSupported and leaves the session usable for other channels.
func (s *Session) Subscribe(ch sensor.Channel) error {
	s.mu.Lock()
	if s.state != stateDiscovered {
		state := s.state
		s.mu.Unlock()
		return &device.ConnectionError{
			State: device.InvalidSession,
			Msg:   fmt.Sprintf("subscribe %s in state %d (session %d)", ch, state, s.id),
		}
	}
	binding := s.binding
	client := s.client
	s.mu.Unlock()

	target, ok := binding.Target(ch)
	if !ok {
		return fmt.Errorf("%w: %s has no characteristic on %s", device.ErrChannelNotSupported, ch, s.peripheral)
	}
	if !target.Notifiable {
		return fmt.Errorf("%w: %s characteristic %s does not support notifications",
			device.ErrChannelNotSupported, ch, device.ShortenUUID(target.Characteristic))
	}

	charUUID := target.Characteristic
	err := client.Subscribe(target.Service, charUUID, func(data []byte) {
		if s.closed() {
			return
		}
		payload := make([]byte, len(data))
		copy(payload, data)
		s.sink.OnNotification(s.id, charUUID, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ch, err)
	}

	s.logger.WithFields(logrus.Fields{
		"session":  s.id,
		"channel":  ch,
		"charUUID": device.DescribeUUID(charUUID),
	}).Info("Successfully subscribed to characteristic notifications")
	return nil
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}

// Close cancels any pending operation, discards the binding and releases the transport.
// It is safe from any state and idempotent: the transport is released exactly once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	client := s.client
	s.client = nil
	s.binding = nil
	s.mu.Unlock()

	s.cancel()

	if client == nil {
		s.logger.WithField("session", s.id).Debug("Session closed before connecting")
		return nil
	}

	if err := client.CancelConnection(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"session": s.id,
			"error":   err,
		}).Warn("BLE device disconnected with errors")
		return err
	}
	s.logger.WithField("session", s.id).Info("BLE device disconnected successfully")
	return nil
}
