// Package sensor reads temperature and humidity from an SHT4x over I2C.
package sensor

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/geckobuddy/enclosure-controller/internal/faults"
)

// Command bytes outside the measurement table.
const (
	cmdReadSerial = 0x89
	cmdSoftReset  = 0x94

	serialDelay = 10 * time.Millisecond
	resetDelay  = time.Millisecond
)

// FrameSize is the length of every SHT4x response.
const FrameSize = 6

// Mode is a measurement command: heater setting and precision.
type Mode struct {
	Name  string
	Cmd   byte
	Desc  string
	Delay time.Duration
}

// Modes lists every measurement command with the time the sensor needs before
// the result can be read back.
var Modes = []Mode{
	{"NOHEAT_HIGHPRECISION", 0xFD, "No heater, high precision", 10 * time.Millisecond},
	{"NOHEAT_MEDPRECISION", 0xF6, "No heater, med precision", 5 * time.Millisecond},
	{"NOHEAT_LOWPRECISION", 0xE0, "No heater, low precision", 2 * time.Millisecond},
	{"HIGHHEAT_1S", 0x39, "High heat, 1 second", 1100 * time.Millisecond},
	{"HIGHHEAT_100MS", 0x32, "High heat, 0.1 second", 110 * time.Millisecond},
	{"MEDHEAT_1S", 0x2F, "Med heat, 1 second", 1100 * time.Millisecond},
	{"MEDHEAT_100MS", 0x24, "Med heat, 0.1 second", 110 * time.Millisecond},
	{"LOWHEAT_1S", 0x1E, "Low heat, 1 second", 1100 * time.Millisecond},
	{"LOWHEAT_100MS", 0x15, "Low heat, 0.1 second", 110 * time.Millisecond},
}

// DefaultMode is the no-heater, high precision measurement.
var DefaultMode = Modes[0]

// ModeByName looks up a mode case-insensitively.
func ModeByName(name string) (Mode, error) {
	for _, m := range Modes {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("unknown sensor mode %q", name)
}

// CRC8 computes the Sensirion checksum: init 0xFF, polynomial 0x31, MSB first,
// no reflection. CRC8([]byte{0xBE, 0xEF}) == 0x92.
func CRC8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// ValidateWord checks a [hi, lo, crc] triple and returns the big-endian word.
func ValidateWord(w []byte) (uint16, error) {
	if len(w) != 3 {
		return 0, fmt.Errorf("word length %d", len(w))
	}
	if got := CRC8(w[:2]); got != w[2] {
		return 0, fmt.Errorf("%w: got 0x%02x, want 0x%02x", faults.ErrChecksum, w[2], got)
	}
	return binary.BigEndian.Uint16(w[:2]), nil
}

// CelsiusFromRaw converts a raw temperature word.
func CelsiusFromRaw(raw uint16) float64 {
	return -47.5 + 175.0*float64(raw)/65535.0
}

// FahrenheitFromRaw is the exposed temperature scale. Note the -47.5/175
// coefficients predate the *9/5+32 step; see DESIGN.md before changing.
func FahrenheitFromRaw(raw uint16) float64 {
	return CelsiusFromRaw(raw)*9/5 + 32
}

// HumidityFromRaw converts a raw humidity word, clamped to [0, 100].
func HumidityFromRaw(raw uint16) float64 {
	h := -6.0 + 125.0*float64(raw)/65535.0
	if h < 0 {
		return 0
	}
	if h > 100 {
		return 100
	}
	return h
}

// Decode validates both words of a measurement frame and converts them.
func Decode(frame []byte) (tempF, humidity float64, err error) {
	if len(frame) != FrameSize {
		return 0, 0, fmt.Errorf("frame length %d, want %d", len(frame), FrameSize)
	}
	rawT, err := ValidateWord(frame[0:3])
	if err != nil {
		return 0, 0, fmt.Errorf("temperature: %w", err)
	}
	rawH, err := ValidateWord(frame[3:6])
	if err != nil {
		return 0, 0, fmt.Errorf("humidity: %w", err)
	}
	return FahrenheitFromRaw(rawT), HumidityFromRaw(rawH), nil
}

// EncodeWord builds a [hi, lo, crc] triple. Used by tests and the fake device.
func EncodeWord(v uint16) []byte {
	w := []byte{byte(v >> 8), byte(v)}
	return append(w, CRC8(w))
}

// Frame builds a valid measurement frame from two raw words.
func Frame(rawT, rawH uint16) []byte {
	return append(EncodeWord(rawT), EncodeWord(rawH)...)
}
