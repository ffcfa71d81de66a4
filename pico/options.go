package pico

import (
	"fmt"
	"strconv"
	"strings"
)

// Options is the 16-bit device options bitmask shared by the Rescue TLV
// record and the FIDO PhysicalOptions vendor command.
type Options uint16

const (
	OptionLedDimmable       Options = 0x02
	OptionDisablePowerReset Options = 0x04
	OptionLedSteady         Options = 0x08
)

// NewOptions packs the three option flags. Power cycling on reset is the
// inverse of the disable-power-reset bit.
func NewOptions(dimmable, powerCycleOnReset, steady bool) Options {
	var o Options
	if dimmable {
		o |= OptionLedDimmable
	}
	if !powerCycleOnReset {
		o |= OptionDisablePowerReset
	}
	if steady {
		o |= OptionLedSteady
	}
	return o
}

func (o Options) Has(f Options) bool { return o&f == f }

func (o Options) LedDimmable() bool       { return o.Has(OptionLedDimmable) }
func (o Options) PowerCycleOnReset() bool { return !o.Has(OptionDisablePowerReset) }
func (o Options) LedSteady() bool         { return o.Has(OptionLedSteady) }

// Curves is the 32-bit enabled-curves bitmask.
type Curves uint32

const CurveSecp256k1 Curves = 0x08

// LedDriver identifies the LED hardware driver the firmware should use.
type LedDriver uint8

const (
	LedDriverGPIO          LedDriver = 1
	LedDriverPimoroni      LedDriver = 2
	LedDriverWS2812        LedDriver = 3
	LedDriverESP32Neopixel LedDriver = 5
)

var ledDriverNames = map[LedDriver]string{
	LedDriverGPIO:          "Pico (Standard GPIO)",
	LedDriverPimoroni:      "Pimoroni (RGB)",
	LedDriverWS2812:        "WS2812 (Neopixel)",
	LedDriverESP32Neopixel: "ESP32 Neopixel",
}

// LedDrivers lists the known drivers in wire order.
var LedDrivers = []LedDriver{LedDriverGPIO, LedDriverPimoroni, LedDriverWS2812, LedDriverESP32Neopixel}

func (d LedDriver) String() string {
	if n, ok := ledDriverNames[d]; ok {
		return n
	}
	return fmt.Sprintf("LedDriver(%d)", uint8(d))
}

func (d LedDriver) Valid() bool {
	_, ok := ledDriverNames[d]
	return ok
}

// FormatVidPid renders a USB identifier as four uppercase hex digits.
func FormatVidPid(v uint16) string {
	return fmt.Sprintf("%04X", v)
}

// ParseVidPid parses a USB identifier written in hex, with or without a
// 0x prefix.
func ParseVidPid(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB identifier %q: %w", s, err)
	}
	return uint16(v), nil
}

// NormalizeVidPid parses and re-renders a USB identifier in canonical form.
func NormalizeVidPid(s string) (string, error) {
	v, err := ParseVidPid(s)
	if err != nil {
		return "", err
	}
	return FormatVidPid(v), nil
}
