package lifecycle

import (
	"fmt"
	"time"
)

// State is the externally visible connection state.
type State int32

const (
	Idle State = iota
	Scanning
	Connecting
	DiscoveringServices
	Ready
	Disconnected
	Exiting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case DiscoveringServices:
		return "discovering_services"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	case Exiting:
		return "exiting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StateChange is published on every transition.
type StateChange struct {
	From State
	To   State
	Time time.Time
}

func (c StateChange) String() string {
	return c.From.String() + " -> " + c.To.String()
}

// Backoff is the reconnect delay policy: InitialDelay doubles after every failed
// cycle up to MaxDelay and resets once the peripheral is Ready. A zero InitialDelay
// rescans immediately.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration

	attempts int
}

// Next returns the delay before the next rescan and advances the policy.
func (b *Backoff) Next() time.Duration {
	delay := b.InitialDelay
	for i := 0; i < b.attempts && delay > 0; i++ {
		delay *= 2
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	b.attempts++
	return delay
}

// Reset restarts the policy from InitialDelay.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
