package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/babymon/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		in       error
		expectIs error
	}{
		{
			name:     "darwin powered off",
			in:       errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			expectIs: device.ErrRadioUnavailable,
		},
		{
			name:     "generic bluetooth off",
			in:       errors.New("Bluetooth is turned off"),
			expectIs: device.ErrRadioUnavailable,
		},
		{
			name:     "linux without hci adapter",
			in:       errors.New("can't init hci: no devices available"),
			expectIs: device.ErrRadioUnavailable,
		},
		{
			name:     "peer disconnected",
			in:       errors.New("peripheral disconnected"),
			expectIs: device.ErrNotConnected,
		},
		{
			name:     "dial failure",
			in:       errors.New("can't dial: timeout"),
			expectIs: device.ErrConnectionFailed,
		},
		{
			name:     "context canceled passes through",
			in:       fmt.Errorf("scan: %w", context.Canceled),
			expectIs: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.in)
			assert.ErrorIs(t, err, tt.expectIs, "error MUST map onto the expected sentinel")
			assert.Contains(t, err.Error(), tt.in.Error(), "original message MUST be preserved")
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})

	t.Run("unknown errors pass through unchanged", func(t *testing.T) {
		orig := errors.New("att: invalid handle")
		assert.Same(t, orig, NormalizeError(orig))
	})
}
