package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTemperature(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		expected string
	}{
		{
			name:     "Celsius with one decimal",
			payload:  []byte{0x00, 0x6E, 0x01, 0x00, 0xFF},
			expected: "36.6 °C",
		},
		{
			name:     "Fahrenheit flag",
			payload:  []byte{0x01, 0xDB, 0x03, 0x00, 0xFF},
			expected: "98.7 °F",
		},
		{
			name:     "negative mantissa",
			payload:  []byte{0x00, 0xFF, 0xFF, 0xFF, 0x00},
			expected: "-1.0 °C",
		},
		{
			name:     "trailing timestamp bytes are ignored",
			payload:  []byte{0x00, 0x6E, 0x01, 0x00, 0xFF, 0xE4, 0x07},
			expected: "36.6 °C",
		},
		{
			name:     "text payload passes through",
			payload:  []byte("37.2 C\x00\x00"),
			expected: "37.2 C",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTemperature(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecodeTemperatureErrors(t *testing.T) {
	_, err := DecodeTemperature(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload, "empty payload MUST be rejected")

	_, err = DecodeTemperature([]byte{0x00, 0x01})
	assert.ErrorContains(t, err, "too short")

	_, err = DecodeTemperature([]byte{0x00, 0xFF, 0xFF, 0x7F, 0x00})
	assert.ErrorContains(t, err, "NaN", "special FLOAT values MUST NOT be rendered as numbers")

	_, err = DecodeTemperature([]byte{0x00, 0x00, 0x00, 0x80, 0x00})
	assert.ErrorContains(t, err, "NRes")
}

func TestDecodeAcceleration(t *testing.T) {
	got, err := DecodeAcceleration([]byte{0x40, 0xC0, 0x00})
	require.NoError(t, err)
	assert.Equal(t, "x=1.00g y=-1.00g z=0.00g", got)

	got, err = DecodeAcceleration([]byte("upright"))
	require.NoError(t, err)
	assert.Equal(t, "upright", got, "text payload MUST pass through unchanged")

	_, err = DecodeAcceleration(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = DecodeAcceleration([]byte{0x01, 0x02})
	assert.ErrorContains(t, err, "0102", "error MUST include the raw payload in hex")
}

func TestChannelLabelAndDefaults(t *testing.T) {
	assert.Equal(t, "Oral Temperature", Thermometer.Label())
	assert.Equal(t, "Pacifier Orientation", Accelerometer.Label())
	assert.Equal(t, "humidity", Channel("humidity").Label(), "unknown channels MUST fall back to their name")

	specs := DefaultSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, Thermometer, specs[0].Channel, "configuration order MUST start with the thermometer")
	assert.Equal(t, Accelerometer, specs[1].Channel)

	decoders := DefaultDecoders()
	assert.Contains(t, decoders, Thermometer)
	assert.Contains(t, decoders, Accelerometer)
}
