package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	ConnectionFailed ConnectionState = "connection_failed"
	InvalidSession   ConnectionState = "invalid_session_state"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected        = &ConnectionError{State: NotConnected}
	ErrConnectionFailed    = &ConnectionError{State: ConnectionFailed}
	ErrInvalidSessionState = &ConnectionError{State: InvalidSession}
)

// Radio and channel errors
var (
	// ErrRadioUnavailable is returned when the scanning primitive is missing or the
	// radio is switched off. It is terminal for the current discovery attempt.
	ErrRadioUnavailable = errors.New("bluetooth radio unavailable")

	// ErrChannelNotSupported is returned when the peripheral's GATT table lacks the
	// characteristic bound to a logical channel.
	ErrChannelNotSupported = errors.New("channel not supported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is the subset of an advertising packet the monitor relies on.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// Peripheral identifies a discovered device. It is immutable once created from an advertisement.
type Peripheral struct {
	ID      string
	Name    string
	Address string
}

// PeripheralFromAdvertisement builds a Peripheral from a matching advertisement.
func PeripheralFromAdvertisement(adv Advertisement) Peripheral {
	addr := adv.Addr()
	return Peripheral{
		ID:      strings.ToLower(addr),
		Name:    adv.LocalName(),
		Address: addr,
	}
}

func (p Peripheral) String() string {
	if p.Name == "" {
		return p.Address
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Address)
}

// Driver is the platform radio capability: scanning and dialing.
type Driver interface {
	// Scan blocks until ctx is done or the radio fails, invoking handler for each advertisement.
	Scan(ctx context.Context, handler func(Advertisement)) error
	// Dial connects to the peripheral at address and returns a GATT client.
	Dial(ctx context.Context, address string) (Client, error)
}

// Client is one live GATT connection owned by the driver.
type Client interface {
	DiscoverProfile() (*Profile, error)
	// Subscribe enables notifications (or indications) for the characteristic identified by
	// the normalized service and characteristic UUIDs.
	Subscribe(service, characteristic string, handler func([]byte)) error
	// Disconnected is closed when the driver observes the link going down.
	Disconnected() <-chan struct{}
	// CancelConnection releases the underlying transport.
	CancelConnection() error
}

// DriverFactory creates Driver instances. A failure means the radio is not usable.
type DriverFactory func() (Driver, error)

// Profile is the discovered GATT table.
type Profile struct {
	Services []ServiceInfo
}

// ServiceInfo describes one discovered service. UUIDs are normalized.
type ServiceInfo struct {
	UUID            string
	Characteristics []CharacteristicInfo
}

// CharacteristicInfo describes one discovered characteristic. UUIDs are normalized.
type CharacteristicInfo struct {
	UUID     string
	Notify   bool
	Indicate bool
}

// CanNotify reports whether the characteristic can push values to the host.
func (c CharacteristicInfo) CanNotify() bool {
	return c.Notify || c.Indicate
}

// FindCharacteristic looks up a characteristic by service and characteristic UUID.
// Both are normalized before comparison.
func (p *Profile) FindCharacteristic(service, uuid string) (CharacteristicInfo, error) {
	svcUUID := NormalizeUUID(service)
	charUUID := NormalizeUUID(uuid)
	for _, svc := range p.Services {
		if svc.UUID != svcUUID {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID == charUUID {
				return c, nil
			}
		}
		return CharacteristicInfo{}, &NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return CharacteristicInfo{}, &NotFoundError{Resource: "service", UUIDs: []string{service}}
}
