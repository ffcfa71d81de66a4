package pico

import (
	"fmt"

	"github.com/samber/lo"
)

// VendorPreset is a well-known USB identity a key can impersonate.
type VendorPreset struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
	VID   string `json:"vid" yaml:"vid"`
	PID   string `json:"pid" yaml:"pid"`
}

var VendorPresets = []VendorPreset{
	{"generic", "Generic", "FEFF", "FCFD"},
	{"pico-hsm", "Pico Keys HSM", "2E8A", "10FD"},
	{"pico-fido", "Pico Keys Fido", "2E8A", "10FE"},
	{"pico-openpgp", "Pico Keys OpenPGP", "2E8A", "10FF"},
	{"pico", "Pico", "2E8A", "0003"},
	{"solokeys", "SoloKeys", "0483", "A2CA"},
	{"nitrohsm", "NitroHSM", "20A0", "4230"},
	{"nitrofido2", "NitroFIDO2", "20A0", "42D4"},
	{"nitrostart", "NitroStart", "20A0", "4211"},
	{"nitropro", "NitroPro", "20A0", "4108"},
	{"nitro3", "Nitrokey 3", "20A0", "42B2"},
	{"yubikey5", "YubiKey 5", "1050", "0407"},
	{"yubikeyneo", "YubiKey Neo", "1050", "0116"},
	{"yubihsm", "YubiHSM 2", "1050", "0030"},
	{"gnuk", "Gnuk Token", "234B", "0000"},
	{"gnupg", "GnuPG", "234B", "0000"},
}

func (p VendorPreset) String() string {
	return fmt.Sprintf("%s (%s:%s)", p.Label, p.VID, p.PID)
}

// FindPreset looks a preset up by name.
func FindPreset(name string) (VendorPreset, bool) {
	return lo.Find(VendorPresets, func(p VendorPreset) bool { return p.Name == name })
}

// MatchPreset returns the first preset using the given identity.
func MatchPreset(vid, pid string) (VendorPreset, bool) {
	return lo.Find(VendorPresets, func(p VendorPreset) bool { return p.VID == vid && p.PID == pid })
}

// DefaultConfig is the configuration proposed for a freshly flashed key.
func DefaultConfig() AppConfig {
	return AppConfig{
		VID:           "CAFE",
		PID:           "4242",
		ProductName:   "Pico FIDO Key",
		LedGPIO:       2,
		LedBrightness: 15,
		TouchTimeout:  30,
		LedDriver:     lo.ToPtr(uint8(LedDriverGPIO)),
	}
}
