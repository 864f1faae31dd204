// Package demux turns raw characteristic updates and session signals into SensorEvents.
//
// A Demultiplexer is owned by one goroutine (the lifecycle loop) and is not safe for
// concurrent use. Output order equals call order.
package demux

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/event"
	"github.com/srg/babymon/internal/gatt"
	"github.com/srg/babymon/internal/sensor"
)

// Router resolves a characteristic UUID to the channel bound to it. *gatt.Binding implements it.
type Router interface {
	Lookup(characteristic string) (sensor.Channel, bool)
}

// Demultiplexer routes payloads through a binding and decodes them per channel.
type Demultiplexer struct {
	decoders map[sensor.Channel]sensor.Decoder
	logger   *logrus.Logger
	now      func() time.Time
	seq      uint64
}

// New creates a demultiplexer. A nil decoders map selects sensor.DefaultDecoders.
func New(decoders map[sensor.Channel]sensor.Decoder, logger *logrus.Logger) *Demultiplexer {
	if decoders == nil {
		decoders = sensor.DefaultDecoders()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Demultiplexer{
		decoders: decoders,
		logger:   logger,
		now:      time.Now,
	}
}

// OnRawUpdate converts a notification into a reading event. Notifications for unbound
// characteristics, channels without a reading variant or decoder, and undecodable
// payloads are dropped with a debug diagnostic.
func (d *Demultiplexer) OnRawUpdate(session uint64, routes Router, characteristic string, payload []byte) (event.SensorEvent, bool) {
	if routes == nil {
		d.logger.WithFields(logrus.Fields{
			"session":        session,
			"characteristic": characteristic,
		}).Debug("Dropping notification received without a binding")
		return event.SensorEvent{}, false
	}

	ch, ok := routes.Lookup(characteristic)
	if !ok {
		d.logger.WithFields(logrus.Fields{
			"session":        session,
			"characteristic": characteristic,
			"size":           len(payload),
		}).Debug("Dropping notification for unbound characteristic")
		return event.SensorEvent{}, false
	}

	kind, ok := event.KindForChannel(ch)
	decode := d.decoders[ch]
	if !ok || decode == nil {
		d.logger.WithField("channel", ch).Debug("No decoder for channel, notification dropped")
		return event.SensorEvent{}, false
	}

	text, err := decode(payload)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"session": session,
			"channel": ch,
			"payload": payload,
			"error":   err,
		}).Debug("Dropping undecodable payload")
		return event.SensorEvent{}, false
	}

	return d.stamp(event.SensorEvent{
		Kind:    kind,
		Channel: ch,
		Text:    text,
		Session: session,
	}), true
}

// OnLifecycleSignal translates connected, servicesDiscovered and disconnected 1:1.
// Failure signals have no event variant and return false.
func (d *Demultiplexer) OnLifecycleSignal(session uint64, sig gatt.Signal) (event.SensorEvent, bool) {
	var kind event.Kind
	switch sig {
	case gatt.SignalConnected:
		kind = event.KindConnected
	case gatt.SignalServicesDiscovered:
		kind = event.KindServicesDiscovered
	case gatt.SignalDisconnected:
		kind = event.KindDisconnected
	default:
		return event.SensorEvent{}, false
	}
	return d.stamp(event.SensorEvent{Kind: kind, Session: session}), true
}

func (d *Demultiplexer) stamp(ev event.SensorEvent) event.SensorEvent {
	d.seq++
	ev.Seq = d.seq
	ev.Time = d.now()
	return ev
}
