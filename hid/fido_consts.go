package hid

import "time"

// CTAPHID framing, see
// https://fidoalliance.org/specs/fido-v2.1-ps-20210615/fido-client-to-authenticator-protocol-v2.1-ps-errata-20220621.html#usb

// hidReportSize is the size of a raw HID report, excluding the report ID
const hidReportSize = 64

// initHeaderSize is CID(4) CMD(1) BCNTH(1) BCNTL(1)
const initHeaderSize = 7

// contHeaderSize is CID(4) SEQ(1)
const contHeaderSize = 5

// initPayloadSize is the number of payload bytes carried by an init packet
const initPayloadSize = hidReportSize - initHeaderSize

// contPayloadSize is the number of payload bytes carried by a continuation packet
const contPayloadSize = hidReportSize - contHeaderSize

// maxSequence is the number of continuation packets addressable by the
// 7-bit sequence number
const maxSequence = 0x80

// MaxPayloadSize is the largest message a single CTAPHID transaction can carry
const MaxPayloadSize = initPayloadSize + maxSequence*contPayloadSize

// cidBroadcast is the broadcast channel ID
const cidBroadcast uint32 = 0xFFFFFFFF

// typeInit is the initial frame identifier
const typeInit byte = 0x80

// FIDOUsagePage is the FIDO alliance HID usage page
const FIDOUsagePage uint16 = 0xF1D0

// initNonceSize is the size of channel initialisation challenge
const initNonceSize = 8

// Command identifies a CTAPHID command byte, with the init-frame bit set.
type Command byte

const (
	CmdPing      Command = Command(typeInit | 0x01)
	CmdMsg       Command = Command(typeInit | 0x03)
	CmdLock      Command = Command(typeInit | 0x04)
	CmdInit      Command = Command(typeInit | 0x06)
	CmdWink      Command = Command(typeInit | 0x08)
	CmdCBOR      Command = Command(typeInit | 0x10)
	CmdCancel    Command = Command(typeInit | 0x11)
	CmdKeepalive Command = Command(typeInit | 0x3B)
	CmdError     Command = Command(typeInit | 0x3F)
	// CmdVendorCBOR carries the pico-fido vendor sub-protocol.
	CmdVendorCBOR Command = Command(typeInit | 0x41)
)

var commandNames = map[Command]string{
	CmdPing:       "PING",
	CmdMsg:        "MSG",
	CmdLock:       "LOCK",
	CmdInit:       "INIT",
	CmdWink:       "WINK",
	CmdCBOR:       "CBOR",
	CmdCancel:     "CANCEL",
	CmdKeepalive:  "KEEPALIVE",
	CmdError:      "ERROR",
	CmdVendorCBOR: "VENDOR_CBOR",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// Keepalive status codes
const (
	KeepaliveProcessing byte = 0x01
	KeepaliveUPNeeded   byte = 0x02
)

// Read timeouts
const (
	drainReadTimeout = 10 * time.Millisecond
	initReadTimeout  = 100 * time.Millisecond
	initTimeout      = time.Second

	DefaultResponseTimeout     = 2 * time.Second
	DefaultContinuationTimeout = 500 * time.Millisecond
	DefaultKeepaliveLimit      = 30 * time.Second
)

// maxDrainReports bounds the stale-report drain so a chatty device cannot
// stall channel negotiation
const maxDrainReports = 256
