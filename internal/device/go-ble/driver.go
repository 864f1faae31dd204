package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/device"
)

// Host is the part of ble.Device the driver uses. ble.Device satisfies it.
type Host interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// HostFactory creates the platform BLE host (can be overridden in tests)
var HostFactory = func() (Host, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Driver implements device.Driver on top of go-ble.
type Driver struct {
	host   Host
	logger *logrus.Logger
}

// NewDriver creates a go-ble backed driver. Host creation failures are reported as
// device.ErrRadioUnavailable.
func NewDriver(logger *logrus.Logger) (*Driver, error) {
	if logger == nil {
		logger = logrus.New()
	}
	host, err := HostFactory()
	if err != nil {
		err = NormalizeError(err)
		if !errors.Is(err, device.ErrRadioUnavailable) {
			err = fmt.Errorf("%w: %v", device.ErrRadioUnavailable, err)
		}
		logger.WithField("error", err).Error("Failed to create BLE host")
		return nil, err
	}
	return &Driver{host: host, logger: logger}, nil
}

// Factory returns a device.DriverFactory producing go-ble drivers.
func Factory(logger *logrus.Logger) device.DriverFactory {
	return func() (device.Driver, error) {
		return NewDriver(logger)
	}
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (d *Driver) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	return NormalizeError(d.host.Scan(ctx, false, bleHandler))
}

// Dial connects to the peripheral and wraps the resulting ble.Client.
func (d *Driver) Dial(ctx context.Context, address string) (device.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	d.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := d.host.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		err = NormalizeError(err)
		if !device.IsConnectionState(err, device.ConnectionFailed) {
			err = fmt.Errorf("%w: %w", device.ErrConnectionFailed, err)
		}
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, err)
	}
	return newClient(client, d.logger), nil
}

// Client adapts ble.Client to device.Client. Characteristic handles are cached by the
// last DiscoverProfile call.
type Client struct {
	client ble.Client
	logger *logrus.Logger

	mu    sync.RWMutex
	chars map[string]*ble.Characteristic // "service/characteristic" -> live handle
}

func newClient(client ble.Client, logger *logrus.Logger) *Client {
	return &Client{
		client: client,
		logger: logger,
		chars:  make(map[string]*ble.Characteristic),
	}
}

func charKey(service, characteristic string) string {
	return service + "/" + characteristic
}

// DiscoverProfile discovers services, characteristics and descriptors.
// Services and characteristics are sorted by UUID for consistent ordering.
func (c *Client) DiscoverProfile() (*device.Profile, error) {
	bleProfile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic)
	profile := &device.Profile{Services: make([]device.ServiceInfo, 0, len(bleProfile.Services))}
	for _, bleSvc := range bleProfile.Services {
		svc := device.ServiceInfo{UUID: device.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			info := device.CharacteristicInfo{
				UUID:     device.NormalizeUUID(bleChar.UUID.String()),
				Notify:   bleChar.Property&ble.CharNotify != 0,
				Indicate: bleChar.Property&ble.CharIndicate != 0,
			}
			svc.Characteristics = append(svc.Characteristics, info)
			chars[charKey(svc.UUID, info.UUID)] = bleChar
		}
		sort.Slice(svc.Characteristics, func(i, j int) bool {
			return svc.Characteristics[i].UUID < svc.Characteristics[j].UUID
		})
		profile.Services = append(profile.Services, svc)
	}
	sort.Slice(profile.Services, func(i, j int) bool {
		return profile.Services[i].UUID < profile.Services[j].UUID
	})

	c.mu.Lock()
	c.chars = chars
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Debug("Profile discovered successfully")
	return profile, nil
}

// Subscribe enables notifications, falling back to indications when the characteristic
// only supports those.
func (c *Client) Subscribe(service, characteristic string, handler func([]byte)) error {
	svcUUID := device.NormalizeUUID(service)
	charUUID := device.NormalizeUUID(characteristic)

	c.mu.RLock()
	bleChar, ok := c.chars[charKey(svcUUID, charUUID)]
	c.mu.RUnlock()
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}

	indicate := bleChar.Property&ble.CharNotify == 0 && bleChar.Property&ble.CharIndicate != 0
	err := c.client.Subscribe(bleChar, indicate, func(data []byte) {
		handler(data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", charUUID, NormalizeError(err))
	}

	c.logger.WithFields(logrus.Fields{
		"serviceUUID": svcUUID,
		"charUUID":    charUUID,
		"indicate":    indicate,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

// Disconnected is closed when go-ble reports the link is gone.
func (c *Client) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

// CancelConnection disconnects the BLE client.
func (c *Client) CancelConnection() error {
	return NormalizeError(c.client.CancelConnection())
}
