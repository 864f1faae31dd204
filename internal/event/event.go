// Package event defines the typed events delivered to subscribers and the bus that fans them out.
package event

import (
	"fmt"
	"time"

	"github.com/srg/babymon/internal/sensor"
)

// Kind tags the SensorEvent variant.
type Kind int

const (
	KindThermometer Kind = iota
	KindAccelerometer
	KindConnected
	KindDisconnected
	KindServicesDiscovered
)

func (k Kind) String() string {
	switch k {
	case KindThermometer:
		return "thermometer"
	case KindAccelerometer:
		return "accelerometer"
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindServicesDiscovered:
		return "services_discovered"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindForChannel maps a sensor channel to its reading variant.
func KindForChannel(ch sensor.Channel) (Kind, bool) {
	switch ch {
	case sensor.Thermometer:
		return KindThermometer, true
	case sensor.Accelerometer:
		return KindAccelerometer, true
	default:
		return 0, false
	}
}

// SensorEvent is a value-typed tagged union of readings and lifecycle notifications.
// Channel and Text are set only for reading variants.
type SensorEvent struct {
	Kind    Kind
	Channel sensor.Channel
	Text    string
	Session uint64
	Seq     uint64
	Time    time.Time
}

// IsReading reports whether the event carries decoded sensor text.
func (e SensorEvent) IsReading() bool {
	return e.Kind == KindThermometer || e.Kind == KindAccelerometer
}

func (e SensorEvent) String() string {
	if e.IsReading() {
		return fmt.Sprintf("%s[%d]: %s", e.Kind, e.Session, e.Text)
	}
	return fmt.Sprintf("%s[%d]", e.Kind, e.Session)
}
