package hid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

type Capabilities byte

const (
	WinkCapability Capabilities = 0x01
	CBORCapability Capabilities = 0x04
	NMSGCapability Capabilities = 0x08
)

func (c Capabilities) Includes(o Capabilities) bool {
	return c&o == o
}

func (c Capabilities) String() string {
	var caps []string
	if c&WinkCapability == WinkCapability {
		caps = append(caps, "WINK")
	}
	if c&CBORCapability == CBORCapability {
		caps = append(caps, "CBOR")
	}
	if c&NMSGCapability == NMSGCapability {
		caps = append(caps, "NMSG")
	}
	return strings.Join(caps, ", ")
}

// InitResponse is the payload of a CTAPHID_INIT reply.
type InitResponse struct {
	Nonce          []byte
	ChannelID      uint32
	CTAPHIDVersion byte
	VersionMajor   byte
	VersionMinor   byte
	VersionBuild   byte
	Capabilities   Capabilities
}

// parseInitResponse decodes an INIT reply packet. The packet still carries
// its 7-byte header.
func parseInitResponse(packet []byte) *InitResponse {
	data := packet[initHeaderSize:]
	return &InitResponse{
		Nonce:          append([]byte(nil), data[:initNonceSize]...),
		ChannelID:      enc.Uint32(data[8:12]),
		CTAPHIDVersion: data[12],
		VersionMajor:   data[13],
		VersionMinor:   data[14],
		VersionBuild:   data[15],
		Capabilities:   Capabilities(data[16]),
	}
}

func (i *InitResponse) String() string {
	value := []string{
		fmt.Sprintf("Nonce: %s", hex.EncodeToString(i.Nonce)),
		fmt.Sprintf("ChannelID: 0x%08X", i.ChannelID),
		fmt.Sprintf("CTAPHIDVersion: %d", i.CTAPHIDVersion),
		fmt.Sprintf("VersionMajor: %d", i.VersionMajor),
		fmt.Sprintf("VersionMinor: %d", i.VersionMinor),
		fmt.Sprintf("VersionBuild: %d", i.VersionBuild),
		fmt.Sprintf("Capabilities: %s", i.Capabilities),
	}

	return fmt.Sprintf("{InitResponse %s}", strings.Join(value, ", "))
}
