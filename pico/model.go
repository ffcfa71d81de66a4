// Package pico holds the data model shared by the Rescue and FIDO clients.
package pico

// PlaceholderSerial is reported when the Rescue applet does not expose a
// serial number.
const PlaceholderSerial = "00000000"

// FidoSerial is reported when the status was produced over FIDO, which has
// no serial number query.
const FidoSerial = "?"

// Unknown fills descriptive fields the device did not report.
const Unknown = "Unknown"

type DeviceInfo struct {
	Serial string `json:"serial" yaml:"serial"`
	// FlashUsed and FlashTotal are expressed in KB.
	FlashUsed       uint32 `json:"flashUsed" yaml:"flashUsed"`
	FlashTotal      uint32 `json:"flashTotal" yaml:"flashTotal"`
	FirmwareVersion string `json:"firmwareVersion" yaml:"firmwareVersion"`
}

// AppConfig is a snapshot of the physical and identity configuration.
// VID and PID are always four uppercase hex digits.
type AppConfig struct {
	VID               string `json:"vid" yaml:"vid"`
	PID               string `json:"pid" yaml:"pid"`
	ProductName       string `json:"productName" yaml:"productName"`
	LedGPIO           uint8  `json:"ledGpio" yaml:"ledGpio"`
	LedBrightness     uint8  `json:"ledBrightness" yaml:"ledBrightness"`
	TouchTimeout      uint8  `json:"touchTimeout" yaml:"touchTimeout"`
	LedDriver         *uint8 `json:"ledDriver,omitempty" yaml:"ledDriver,omitempty"`
	LedDimmable       bool   `json:"ledDimmable" yaml:"ledDimmable"`
	PowerCycleOnReset bool   `json:"powerCycleOnReset" yaml:"powerCycleOnReset"`
	LedSteady         bool   `json:"ledSteady" yaml:"ledSteady"`
	EnableSecp256k1   bool   `json:"enableSecp256k1" yaml:"enableSecp256k1"`
}

// AppConfigInput is a configuration diff: nil fields are left unchanged on
// the device.
type AppConfigInput struct {
	VID               *string `json:"vid,omitempty" yaml:"vid,omitempty"`
	PID               *string `json:"pid,omitempty" yaml:"pid,omitempty"`
	ProductName       *string `json:"productName,omitempty" yaml:"productName,omitempty"`
	LedGPIO           *uint8  `json:"ledGpio,omitempty" yaml:"ledGpio,omitempty"`
	LedBrightness     *uint8  `json:"ledBrightness,omitempty" yaml:"ledBrightness,omitempty"`
	TouchTimeout      *uint8  `json:"touchTimeout,omitempty" yaml:"touchTimeout,omitempty"`
	LedDriver         *uint8  `json:"ledDriver,omitempty" yaml:"ledDriver,omitempty"`
	LedDimmable       *bool   `json:"ledDimmable,omitempty" yaml:"ledDimmable,omitempty"`
	PowerCycleOnReset *bool   `json:"powerCycleOnReset,omitempty" yaml:"powerCycleOnReset,omitempty"`
	LedSteady         *bool   `json:"ledSteady,omitempty" yaml:"ledSteady,omitempty"`
	EnableSecp256k1   *bool   `json:"enableSecp256k1,omitempty" yaml:"enableSecp256k1,omitempty"`
}

// IsEmpty reports whether the input carries no change at all.
func (in *AppConfigInput) IsEmpty() bool {
	return in.VID == nil && in.PID == nil && in.ProductName == nil &&
		in.LedGPIO == nil && in.LedBrightness == nil && in.TouchTimeout == nil &&
		in.LedDriver == nil && in.LedDimmable == nil && in.PowerCycleOnReset == nil &&
		in.LedSteady == nil && in.EnableSecp256k1 == nil
}

// HasOptions reports whether any of the flags sharing the options bitmask
// is present.
func (in *AppConfigInput) HasOptions() bool {
	return in.LedDimmable != nil || in.PowerCycleOnReset != nil || in.LedSteady != nil
}

type FullDeviceStatus struct {
	Info       DeviceInfo `json:"info" yaml:"info"`
	Config     AppConfig  `json:"config" yaml:"config"`
	SecureBoot bool       `json:"secureBoot" yaml:"secureBoot"`
	SecureLock bool       `json:"secureLock" yaml:"secureLock"`
	Method     Method     `json:"method" yaml:"method"`
}

type FidoDeviceInfo struct {
	Versions        []string        `json:"versions" yaml:"versions"`
	Extensions      []string        `json:"extensions" yaml:"extensions"`
	AAGUID          string          `json:"aaguid" yaml:"aaguid"`
	Options         map[string]bool `json:"options" yaml:"options"`
	MaxMsgSize      int             `json:"maxMsgSize" yaml:"maxMsgSize"`
	PinProtocols    []uint32        `json:"pinProtocols" yaml:"pinProtocols"`
	MinPinLength    uint32          `json:"minPinLength" yaml:"minPinLength"`
	FirmwareVersion string          `json:"firmwareVersion" yaml:"firmwareVersion"`
}

// StoredCredential is a resident credential as listed by credential
// management. Binary identifiers are hex encoded.
type StoredCredential struct {
	CredentialID    string `json:"credentialId" yaml:"credentialId"`
	RPID            string `json:"rpId" yaml:"rpId"`
	RPName          string `json:"rpName" yaml:"rpName"`
	UserName        string `json:"userName" yaml:"userName"`
	UserDisplayName string `json:"userDisplayName" yaml:"userDisplayName"`
	UserID          string `json:"userId" yaml:"userId"`
}
