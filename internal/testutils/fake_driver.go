package testutils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/babymon/internal/device"
	"github.com/srg/babymon/internal/sensor"
)

// Advertisement is a plain device.Advertisement for tests.
type Advertisement struct {
	Name    string
	Address string
	Signal  int
}

func (a Advertisement) LocalName() string { return a.Name }
func (a Advertisement) Addr() string      { return a.Address }
func (a Advertisement) RSSI() int         { return a.Signal }
func (a Advertisement) Connectable() bool { return true }

// NewAdvertisement creates an advertisement with the given name and address.
func NewAdvertisement(name, address string) Advertisement {
	return Advertisement{Name: name, Address: address, Signal: -50}
}

// MonitorProfile returns a GATT table exposing the given default channels.
func MonitorProfile(channels ...sensor.Channel) *device.Profile {
	profile := &device.Profile{
		Services: []device.ServiceInfo{
			// Generic Access is always present and never bound.
			{UUID: "1800", Characteristics: []device.CharacteristicInfo{{UUID: "2a00"}}},
		},
	}
	for _, spec := range sensor.DefaultSpecs() {
		for _, ch := range channels {
			if ch != spec.Channel {
				continue
			}
			profile.Services = append(profile.Services, device.ServiceInfo{
				UUID: device.NormalizeUUID(spec.Service),
				Characteristics: []device.CharacteristicInfo{
					{UUID: device.NormalizeUUID(spec.Characteristic), Notify: true},
				},
			})
		}
	}
	return profile
}

// FakeDriver is a scriptable device.Driver.
//
// Scans run until cancelled; advertisements are injected with Advertise and scan
// failures with FailScan. Dials create FakeClients serving Profile unless DialErr is set
// or HoldDials is enabled.
type FakeDriver struct {
	mu        sync.Mutex
	profile   *device.Profile
	dialErr   error
	dialPanic any
	scanPanic any
	discPanic any
	hold      bool
	release   chan struct{}
	clients   []*FakeClient
	scanErrs  chan error
	adverts   chan device.Advertisement

	scans       atomic.Int32
	activeScans atomic.Int32
	dials       atomic.Int32
	started     chan struct{}
}

// NewFakeDriver creates a driver whose peripherals expose profile.
func NewFakeDriver(profile *device.Profile) *FakeDriver {
	return &FakeDriver{
		profile:  profile,
		release:  make(chan struct{}),
		scanErrs: make(chan error, 1),
		adverts:  make(chan device.Advertisement),
		started:  make(chan struct{}, 16),
	}
}

// Factory returns a device.DriverFactory yielding this driver.
func (d *FakeDriver) Factory() device.DriverFactory {
	return func() (device.Driver, error) { return d, nil }
}

// SetProfile changes the GATT table served by subsequent dials.
func (d *FakeDriver) SetProfile(profile *device.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profile = profile
}

// SetDialErr makes subsequent dials fail with err (nil restores success).
func (d *FakeDriver) SetDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// SetDialPanic makes subsequent dials panic with v (nil restores normal dials).
func (d *FakeDriver) SetDialPanic(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialPanic = v
}

// SetScanPanic makes subsequent scans panic with v once started (nil restores normal scans).
func (d *FakeDriver) SetScanPanic(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanPanic = v
}

// SetDiscoverPanic makes clients created by subsequent dials panic on DiscoverProfile.
func (d *FakeDriver) SetDiscoverPanic(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discPanic = v
}

// HoldDials makes dials block until ReleaseDials or context cancellation.
func (d *FakeDriver) HoldDials() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hold = true
	d.release = make(chan struct{})
}

// ReleaseDials unblocks held dials, which then succeed.
func (d *FakeDriver) ReleaseDials() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hold {
		d.hold = false
		close(d.release)
	}
}

// Scan implements device.Driver.
func (d *FakeDriver) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	d.scans.Add(1)
	d.activeScans.Add(1)
	defer d.activeScans.Add(-1)

	select {
	case d.started <- struct{}{}:
	default:
	}

	d.mu.Lock()
	scanPanic := d.scanPanic
	d.mu.Unlock()
	if scanPanic != nil {
		panic(scanPanic)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-d.scanErrs:
			return err
		case adv := <-d.adverts:
			handler(adv)
		}
	}
}

// Advertise hands adv to the running scan. Returns false if no scan consumed it in time.
func (d *FakeDriver) Advertise(adv device.Advertisement) bool {
	select {
	case d.adverts <- adv:
		return true
	case <-time.After(DefaultWait):
		return false
	}
}

// FailScan makes the running (or next) scan return err.
func (d *FakeDriver) FailScan(err error) {
	d.scanErrs <- err
}

// WaitScanStarted blocks until a scan has started since the last call.
func (d *FakeDriver) WaitScanStarted() bool {
	select {
	case <-d.started:
		return true
	case <-time.After(DefaultWait):
		return false
	}
}

// Scans returns how many scans were started.
func (d *FakeDriver) Scans() int { return int(d.scans.Load()) }

// ActiveScans returns how many scans are currently running.
func (d *FakeDriver) ActiveScans() int { return int(d.activeScans.Load()) }

// Dials returns how many dials were attempted.
func (d *FakeDriver) Dials() int { return int(d.dials.Load()) }

// Clients returns the clients created so far.
func (d *FakeDriver) Clients() []*FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeClient(nil), d.clients...)
}

// LastClient returns the most recently created client, or nil.
func (d *FakeDriver) LastClient() *FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

// Dial implements device.Driver.
func (d *FakeDriver) Dial(ctx context.Context, address string) (device.Client, error) {
	d.dials.Add(1)

	d.mu.Lock()
	hold, release := d.hold, d.release
	dialErr, profile := d.dialErr, d.profile
	dialPanic, discPanic := d.dialPanic, d.discPanic
	d.mu.Unlock()

	if dialPanic != nil {
		panic(dialPanic)
	}

	if hold {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}

	client := NewFakeClient(address, profile)
	client.SetDiscoverPanic(discPanic)
	d.mu.Lock()
	d.clients = append(d.clients, client)
	d.mu.Unlock()
	return client, nil
}

// FakeClient is a scriptable device.Client.
type FakeClient struct {
	Address string

	mu            sync.Mutex
	profile       *device.Profile
	discoverErr   error
	discoverPanic any
	handlers      map[string]func([]byte)
	subscribeErr  map[string]error
	disconnected  chan struct{}
	dropOnce      sync.Once

	cancels atomic.Int32
}

// NewFakeClient creates a connected client serving profile.
func NewFakeClient(address string, profile *device.Profile) *FakeClient {
	return &FakeClient{
		Address:      address,
		profile:      profile,
		handlers:     make(map[string]func([]byte)),
		subscribeErr: make(map[string]error),
		disconnected: make(chan struct{}),
	}
}

// SetDiscoverErr makes DiscoverProfile fail.
func (c *FakeClient) SetDiscoverErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverErr = err
}

// SetDiscoverPanic makes DiscoverProfile panic with v.
func (c *FakeClient) SetDiscoverPanic(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverPanic = v
}

// SetSubscribeErr makes Subscribe fail for the characteristic.
func (c *FakeClient) SetSubscribeErr(characteristic string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr[device.NormalizeUUID(characteristic)] = err
}

// DiscoverProfile implements device.Client.
func (c *FakeClient) DiscoverProfile() (*device.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discoverPanic != nil {
		panic(c.discoverPanic)
	}
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	if c.profile == nil {
		return nil, errors.New("no profile")
	}
	return c.profile, nil
}

// Subscribe implements device.Client.
func (c *FakeClient) Subscribe(service, characteristic string, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	charUUID := device.NormalizeUUID(characteristic)
	if err := c.subscribeErr[charUUID]; err != nil {
		return err
	}
	if _, err := c.profile.FindCharacteristic(service, characteristic); err != nil {
		return err
	}
	c.handlers[charUUID] = handler
	return nil
}

// Subscribed returns the characteristic UUIDs with an active handler.
func (c *FakeClient) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.handlers))
	for k := range c.handlers {
		out = append(out, k)
	}
	return out
}

// Notify delivers a notification for the characteristic. Returns false if nothing is subscribed.
func (c *FakeClient) Notify(characteristic string, payload []byte) bool {
	c.mu.Lock()
	h := c.handlers[device.NormalizeUUID(characteristic)]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

// Drop simulates the link going down.
func (c *FakeClient) Drop() {
	c.dropOnce.Do(func() { close(c.disconnected) })
}

// Disconnected implements device.Client.
func (c *FakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

// CancelConnection implements device.Client and counts releases.
func (c *FakeClient) CancelConnection() error {
	c.cancels.Add(1)
	return nil
}

// Releases returns how many times CancelConnection was called.
func (c *FakeClient) Releases() int {
	return int(c.cancels.Load())
}
