package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit UUID lowercase",
			input:    "2a1c",
			expected: "2a1c",
		},
		{
			name:     "16-bit UUID uppercase",
			input:    "2A1C",
			expected: "2a1c",
		},
		{
			name:     "16-bit UUID with 0x prefix",
			input:    "0x1809",
			expected: "1809",
		},
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "00001809-0000-1000-8000-00805f9b34fb",
			expected: "1809",
		},
		{
			name:     "Full Bluetooth SIG UUID uppercase without dashes",
			input:    "00002A1C00001000800000805F9B34FB",
			expected: "2a1c",
		},
		{
			name:     "Custom 128-bit UUID keeps full form",
			input:    "F000AA11-0451-4000-B000-000000000000",
			expected: "f000aa1104514000b000000000000000",
		},
		{
			name:     "surrounding whitespace",
			input:    "  180d ",
			expected: "180d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	t.Run("normalizes valid UUIDs", func(t *testing.T) {
		got, err := ValidateUUID("1809", "00002a1c-0000-1000-8000-00805f9b34fb")
		require.NoError(t, err)
		assert.Equal(t, []string{"1809", "2a1c"}, got)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.Error(t, err)

		_, err = ValidateUUID("")
		assert.ErrorContains(t, err, "index 0")
	})

	t.Run("rejects non-hex UUID", func(t *testing.T) {
		_, err := ValidateUUID("18zz")
		assert.ErrorContains(t, err, "invalid UUID format")
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := ValidateUUID("12345")
		assert.Error(t, err)
	})
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "2a1c", ShortenUUID("2a1c"))
	assert.Equal(t, "f000aa11", ShortenUUID("f000aa1104514000b000000000000000"))
}

func TestKnownName(t *testing.T) {
	assert.Equal(t, "Temperature Measurement", KnownName("00002A1C-0000-1000-8000-00805F9B34FB"))
	assert.Equal(t, "Accelerometer Data", KnownName("f000aa11-0451-4000-b000-000000000000"))
	assert.Empty(t, KnownName("ffe1"))

	assert.Equal(t, "1809 (Health Thermometer)", DescribeUUID("0x1809"))
	assert.Equal(t, "f000aa11 (Accelerometer Data)", DescribeUUID("F000AA11-0451-4000-B000-000000000000"))
	assert.Equal(t, "ffe1", DescribeUUID("ffe1"))
}
