package gatt

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/device"
	"github.com/srg/babymon/internal/sensor"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Target is the GATT location of a bound channel. UUIDs are normalized.
type Target struct {
	Service        string
	Characteristic string
	Notifiable     bool
}

// Binding maps logical channels to the characteristics found on one peripheral.
// It is built once from a discovered profile and never mutated afterwards.
type Binding struct {
	channels *orderedmap.OrderedMap[sensor.Channel, Target] // configuration order
	byChar   map[string]sensor.Channel
}

// NewBinding resolves every spec against the profile. Channels whose service or
// characteristic is absent are returned as missing and left unbound.
func NewBinding(profile *device.Profile, specs []sensor.Spec, logger *logrus.Logger) (*Binding, []sensor.Channel) {
	b := &Binding{
		channels: orderedmap.New[sensor.Channel, Target](),
		byChar:   make(map[string]sensor.Channel),
	}

	var missing []sensor.Channel
	for _, spec := range specs {
		info, err := profile.FindCharacteristic(spec.Service, spec.Characteristic)
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"channel":        spec.Channel,
					"service":        device.DescribeUUID(spec.Service),
					"characteristic": device.DescribeUUID(spec.Characteristic),
					"error":          err,
				}).Debug("Channel not present in GATT table")
			}
			missing = append(missing, spec.Channel)
			continue
		}

		target := Target{
			Service:        device.NormalizeUUID(spec.Service),
			Characteristic: info.UUID,
			Notifiable:     info.CanNotify(),
		}
		b.channels.Set(spec.Channel, target)
		b.byChar[target.Characteristic] = spec.Channel
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"channel":        spec.Channel,
				"characteristic": device.DescribeUUID(target.Characteristic),
				"notifiable":     target.Notifiable,
			}).Debug("Channel bound")
		}
	}
	return b, missing
}

// Lookup returns the channel bound to a characteristic UUID.
func (b *Binding) Lookup(characteristic string) (sensor.Channel, bool) {
	if b == nil {
		return "", false
	}
	ch, ok := b.byChar[device.NormalizeUUID(characteristic)]
	return ch, ok
}

// Target returns where a channel lives on the peripheral.
func (b *Binding) Target(ch sensor.Channel) (Target, bool) {
	if b == nil {
		return Target{}, false
	}
	return b.channels.Get(ch)
}

// Channels returns the bound channels in configuration order.
func (b *Binding) Channels() []sensor.Channel {
	if b == nil {
		return nil
	}
	out := make([]sensor.Channel, 0, b.channels.Len())
	for pair := b.channels.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Len returns the number of bound channels.
func (b *Binding) Len() int {
	if b == nil {
		return 0
	}
	return b.channels.Len()
}
