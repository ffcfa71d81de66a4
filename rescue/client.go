// Package rescue drives the Rescue applet of Pico FIDO firmware over PC/SC.
//
// Every operation opens a new session, selects the applet, issues its APDUs
// and closes the session.
package rescue

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/pico"
)

type Client struct {
	connect Connector
	logger  *slog.Logger
	filter  string
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithConnector replaces the PC/SC connection.
func WithConnector(conn Connector) Option {
	return func(c *Client) { c.connect = conn }
}

// WithReaderFilter restricts the PC/SC reader to names containing filter.
func WithReaderFilter(filter string) Option {
	return func(c *Client) { c.filter = filter }
}

func New(opts ...Option) *Client {
	c := &Client{logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.connect == nil {
		c.connect = ConnectPCSC(c.filter, c.logger)
	}
	return c
}

// transmit sends apdu and splits off the status word.
func transmit(card Card, apdu []byte) (data []byte, sw uint16, err error) {
	resp, err := card.Transmit(apdu)
	if err != nil {
		var pe *pferr.Error
		if errors.As(err, &pe) {
			return nil, 0, err
		}
		return nil, 0, pferr.Pcsc(err)
	}
	if len(resp) < 2 {
		return resp, 0, nil
	}
	sw = uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

// statusError renders a failed response for diagnosis.
func statusError(what string, data []byte, sw uint16) error {
	raw := append(append([]byte{}, data...), byte(sw>>8), byte(sw))
	return pferr.Device("%s failed: % X", what, raw)
}

func selectAPDU() []byte {
	apdu := []byte{claISO, insSelect, p1SelectByName, p2ReturnFCI, byte(len(AID))}
	return append(apdu, AID...)
}

// connectAndSelect opens a session and selects the Rescue applet. The raw
// select response, status word included, is returned.
func (c *Client) connectAndSelect() (Session, []byte, error) {
	s, err := c.connect()
	if err != nil {
		return nil, nil, err
	}
	data, sw, err := transmit(s, selectAPDU())
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	if sw != SWSuccess {
		_ = s.Close()
		c.logger.Error("Rescue applet not found on the device", "sw", fmt.Sprintf("%04X", sw))
		return nil, nil, pferr.Device("Rescue Applet not found on device. Is it in FIDO mode?")
	}
	c.logger.Info("connected to Rescue applet")
	return s, append(data, 0x90, 0x00), nil
}

func (c *Client) read(card Card, p1, p2 byte) ([]byte, uint16, error) {
	return transmit(card, []byte{claProprietary, insRead, p1, p2, 0x00})
}

// u32s reads consecutive big-endian words, yielding zero past the end.
func u32s(data []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		if off := i * 4; off+4 <= len(data) {
			out[i] = enc.Uint32(data[off:])
		}
	}
	return out
}

// ReadDeviceDetails reads identity, flash usage, secure boot state and the
// physical configuration.
func (c *Client) ReadDeviceDetails() (*pico.FullDeviceStatus, error) {
	c.logger.Info("reading full device details")
	s, resp, err := c.connectAndSelect()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if len(resp) < minSelectResponse {
		c.logger.Error("invalid select response length", "len", len(resp))
		return nil, pferr.Device("Invalid select response")
	}
	major, minor := resp[2], resp[3]
	serial := pico.PlaceholderSerial
	if len(resp) >= serialSelectResponse {
		serial = fmt.Sprintf("%X", resp[4:12])
	} else {
		c.logger.Warn("device did not return a serial number, using placeholder")
	}
	c.logger.Info("device identified", "version", fmt.Sprintf("%d.%d", major, minor), "serial", serial)

	flash, sw, err := c.read(s, readFlashInfo, p2Unused)
	if err != nil {
		return nil, err
	}
	if sw != SWSuccess {
		return nil, pferr.Device("Failed to read flash")
	}
	// free, used, total, nfiles, chip size
	words := u32s(flash, 5)
	used, total := words[1], words[2]

	var secureBoot, secureLock bool
	sb, sw, err := c.read(s, readSecureBoot, p2Unused)
	if err != nil {
		return nil, err
	}
	if sw == SWSuccess && len(sb) >= 2 {
		secureBoot, secureLock = sb[0] != 0, sb[1] != 0
	}

	phy, sw, err := c.read(s, readPhyConfig, p2PhyConfig)
	if err != nil {
		return nil, err
	}
	if sw != SWSuccess {
		return nil, pferr.Device("Failed to read config")
	}

	return &pico.FullDeviceStatus{
		Info: pico.DeviceInfo{
			Serial:          serial,
			FlashUsed:       used / 1024,
			FlashTotal:      total / 1024,
			FirmwareVersion: fmt.Sprintf("%d.%d", major, minor),
		},
		Config:     DecodeTLV(phy),
		SecureBoot: secureBoot,
		SecureLock: secureLock,
		Method:     pico.MethodRescue,
	}, nil
}

// WriteConfig writes the present fields of in. An empty change set returns
// without touching the device.
func (c *Client) WriteConfig(in pico.AppConfigInput) (string, error) {
	c.logger.Info("writing configuration to device")
	tlv, err := EncodeTLV(in)
	if err != nil {
		return "", err
	}
	if len(tlv) == 0 {
		c.logger.Warn("no configuration changes to apply")
		return "No changes to apply", nil
	}
	c.logger.Debug("TLV payload", "size", len(tlv))

	s, _, err := c.connectAndSelect()
	if err != nil {
		return "", err
	}
	defer s.Close()

	apdu := append([]byte{claProprietary, insWrite, writePhyConfig, p2Unused, byte(len(tlv))}, tlv...)
	data, sw, err := transmit(s, apdu)
	if err != nil {
		return "", err
	}
	if sw != SWSuccess {
		c.logger.Error("configuration write failed", "sw", fmt.Sprintf("%04X", sw))
		return "", statusError("Write", data, sw)
	}
	c.logger.Info("configuration applied")
	return "Configuration Applied Successfully", nil
}

// Reboot restarts the device, into the bootloader when toBootloader is set.
func (c *Client) Reboot(toBootloader bool) (string, error) {
	s, _, err := c.connectAndSelect()
	if err != nil {
		return "", err
	}
	defer s.Close()

	p1 := rebootNormal
	if toBootloader {
		p1 = rebootBootloader
	}
	data, sw, err := transmit(s, []byte{claProprietary, insReboot, p1, p2Unused, 0x00})
	if err != nil {
		return "", err
	}
	if sw != SWSuccess {
		return "", statusError("Reboot", data, sw)
	}
	return "Reboot command sent", nil
}

// EnableSecureBoot enables secure boot with the default boot key, and locks
// the device when lock is set. Locking is irreversible.
func (c *Client) EnableSecureBoot(lock bool) (string, error) {
	s, _, err := c.connectAndSelect()
	if err != nil {
		return "", err
	}
	defer s.Close()

	var p2 byte
	if lock {
		p2 = 0x01
	}
	data, sw, err := transmit(s, []byte{claProprietary, insSecure, secureKeySlot, p2, 0x00})
	if err != nil {
		return "", err
	}
	if sw != SWSuccess {
		return "", statusError("Secure Boot", data, sw)
	}
	return "Secure Boot Enabled", nil
}
