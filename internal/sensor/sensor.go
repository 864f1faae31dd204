// Package sensor names the monitor's logical channels and decodes their payloads.
package sensor

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Channel is a logical sensor channel name.
type Channel string

const (
	Thermometer   Channel = "thermometer"
	Accelerometer Channel = "accelerometer"
)

// Label returns the human-readable title used by the presentation layer.
func (c Channel) Label() string {
	switch c {
	case Thermometer:
		return "Oral Temperature"
	case Accelerometer:
		return "Pacifier Orientation"
	default:
		return string(c)
	}
}

// Spec binds a channel to the GATT service and characteristic that carry it.
type Spec struct {
	Channel        Channel `yaml:"channel"`
	Service        string  `yaml:"service"`
	Characteristic string  `yaml:"characteristic"`
}

// DefaultSpecs returns the channel layout of the reference peripheral.
func DefaultSpecs() []Spec {
	return []Spec{
		{Channel: Thermometer, Service: "1809", Characteristic: "2a1c"},
		{
			Channel:        Accelerometer,
			Service:        "f000aa10-0451-4000-b000-000000000000",
			Characteristic: "f000aa11-0451-4000-b000-000000000000",
		},
	}
}

// Decoder turns a raw characteristic payload into display text.
type Decoder func(payload []byte) (string, error)

// ErrEmptyPayload is returned for zero-length payloads.
var ErrEmptyPayload = errors.New("empty payload")

// DefaultDecoders returns the decoders for the known channels.
func DefaultDecoders() map[Channel]Decoder {
	return map[Channel]Decoder{
		Thermometer:   DecodeTemperature,
		Accelerometer: DecodeAcceleration,
	}
}

// DecodeTemperature decodes a Temperature Measurement value: a flags byte followed by
// an IEEE-11073 32-bit FLOAT. Payloads that are already text are passed through.
func DecodeTemperature(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if text, ok := printable(payload); ok {
		return text, nil
	}
	if len(payload) < 5 {
		return "", fmt.Errorf("temperature payload too short: %d bytes", len(payload))
	}

	flags := payload[0]
	value, err := ieee11073Float(binary.LittleEndian.Uint32(payload[1:5]))
	if err != nil {
		return "", err
	}

	unit := "°C"
	if flags&0x01 != 0 {
		unit = "°F"
	}
	return fmt.Sprintf("%.1f %s", value, unit), nil
}

// ieee11073Float decodes a 32-bit FLOAT: 24-bit signed mantissa, 8-bit signed exponent.
func ieee11073Float(raw uint32) (float64, error) {
	switch raw & 0x00FFFFFF {
	case 0x007FFFFF:
		return 0, errors.New("temperature is NaN")
	case 0x00800000:
		return 0, errors.New("temperature is NRes")
	case 0x007FFFFE, 0x00800002:
		return 0, errors.New("temperature is infinite")
	}

	mantissa := int32(raw<<8) >> 8
	exponent := int8(raw >> 24)
	return float64(mantissa) * math.Pow10(int(exponent)), nil
}

// DecodeAcceleration decodes three signed bytes (x, y, z) in units of 1/64 g.
// Payloads that are already text are passed through.
func DecodeAcceleration(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if len(payload) != 3 {
		if text, ok := printable(payload); ok {
			return text, nil
		}
		return "", fmt.Errorf("acceleration payload must be 3 bytes, got %d (%s)", len(payload), hex.EncodeToString(payload))
	}

	axis := func(b byte) float64 { return float64(int8(b)) / 64.0 }
	return fmt.Sprintf("x=%.2fg y=%.2fg z=%.2fg", axis(payload[0]), axis(payload[1]), axis(payload[2])), nil
}

// printable reports whether payload is valid UTF-8 made of printable characters,
// ignoring trailing NUL padding.
func printable(payload []byte) (string, bool) {
	text := strings.TrimRight(string(payload), "\x00")
	if text == "" || !utf8.ValidString(text) {
		return "", false
	}
	for _, r := range text {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return "", false
		}
	}
	return strings.TrimSpace(text), true
}
