package rescue

// APDU class bytes
const (
	claISO         byte = 0x00
	claProprietary byte = 0x80
)

const (
	insSelect byte = 0xA4
	insWrite  byte = 0x1C
	insSecure byte = 0x1D
	insRead   byte = 0x1E
	insReboot byte = 0x1F
)

// SELECT by DF name, returning the FCI
const (
	p1SelectByName byte = 0x04
	p2ReturnFCI    byte = 0x04
)

// P1 of Read
const (
	readPhyConfig  byte = 0x01
	readFlashInfo  byte = 0x02
	readSecureBoot byte = 0x03
)

const (
	writePhyConfig byte = 0x01

	rebootNormal     byte = 0x00
	rebootBootloader byte = 0x01

	p2Unused      byte = 0x00
	p2PhyConfig   byte = 0x01
	secureKeySlot byte = 0x00
)

// SWSuccess is the only status word treated as success.
const SWSuccess uint16 = 0x9000

// AID is the Rescue application identifier.
var AID = []byte{0xA0, 0x58, 0x3F, 0xC1, 0x9B, 0x7E, 0x4F, 0x21}

// Physical configuration TLV tags.
const (
	TagVidPid       byte = 0x00
	TagLedGPIO      byte = 0x04
	TagLedBright    byte = 0x05
	TagOptions      byte = 0x06
	TagTouchTimeout byte = 0x08
	TagProductName  byte = 0x09
	TagCurves       byte = 0x0A
	TagLedDriver    byte = 0x0C
)

// maxProductName is the largest product name record, NUL terminator included.
const maxProductName = 32

// Minimum select response: two FCI bytes, two version bytes and the status
// word. A serial number follows the version when the response is longer.
const (
	minSelectResponse    = 6
	serialSelectResponse = 14
)
