// Package fido talks CTAP2 to Pico FIDO firmware over the CTAPHID transport,
// including the vendor commands that read and write the physical
// configuration.
package fido

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/phoeagon/picoforge/cbor"
	"github.com/phoeagon/picoforge/hid"
	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/pico"
	"github.com/phoeagon/picoforge/sec"
)

// Transport is a negotiated CTAPHID session.
type Transport interface {
	Send(cmd hid.Command, payload []byte) ([]byte, error)
	VendorID() uint16
	ProductID() uint16
	ProductName() string
	Close() error
}

// Opener establishes a new Transport for a single operation.
type Opener func() (Transport, error)

type Client struct {
	open          Opener
	logger        *slog.Logger
	pinProtocol   uint8
	transportOpts []hid.Option
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithOpener replaces the HID discovery used to reach the device.
func WithOpener(o Opener) Option {
	return func(c *Client) { c.open = o }
}

// WithTransportOptions forwards options to hid.Open.
func WithTransportOptions(opts ...hid.Option) Option {
	return func(c *Client) { c.transportOpts = append(c.transportOpts, opts...) }
}

// WithPinProtocol selects the PIN/UV auth protocol used for PIN changes and
// credential management when the authenticator supports it.
// authenticatorConfig always uses protocol one.
func WithPinProtocol(p uint8) Option {
	return func(c *Client) { c.pinProtocol = p }
}

func New(opts ...Option) *Client {
	c := &Client{
		logger:      slog.Default(),
		pinProtocol: sec.ProtocolOne,
	}
	for _, o := range opts {
		o(c)
	}
	if c.open == nil {
		c.open = func() (Transport, error) {
			return hid.Open(append([]hid.Option{hid.WithLogger(c.logger)}, c.transportOpts...)...)
		}
	}
	return c
}

func (c *Client) connect() (Transport, error) {
	t, err := c.open()
	if err != nil {
		if pferr.IsNoDevice(err) || pferr.Is(err, pferr.KindDevice) {
			return nil, err
		}
		c.logger.Error("failed to open HID transport", "error", err)
		return nil, pferr.Device("failed to open HID transport: %w", err)
	}
	return t, nil
}

// sendCBOR sends an authenticator API command. A nil request sends the
// command byte alone.
func sendCBOR(t Transport, cmd byte, req any) ([]byte, error) {
	payload := []byte{cmd}
	if req != nil {
		data, err := cbor.Marshal(req)
		if err != nil {
			return nil, pferr.Io("CBOR encode error: %w", err)
		}
		payload = append(payload, data...)
	}
	return t.Send(hid.CmdCBOR, payload)
}

func sendVendor(t Transport, sub byte, req any) ([]byte, error) {
	data, err := cbor.Marshal(req)
	if err != nil {
		return nil, pferr.Io("CBOR encode error: %w", err)
	}
	return t.Send(hid.CmdVendorCBOR, append([]byte{sub}, data...))
}

// formatFirmware renders the GetInfo firmware version as major.minor.
func formatFirmware(v uint64) string {
	return fmt.Sprintf("%d.%d", (v>>8)&0xFF, v&0xFF)
}

func getInfo(t Transport) (*pico.FidoDeviceInfo, error) {
	res, err := sendCBOR(t, ctapGetInfo, nil)
	if err != nil {
		return nil, err
	}
	m, err := cbor.Decode(res)
	if err != nil {
		return nil, pferr.Io("failed to parse GetInfo response: %w", err)
	}

	info := &pico.FidoDeviceInfo{
		AAGUID:          pico.Unknown,
		FirmwareVersion: pico.Unknown,
		Options:         map[string]bool{},
	}
	_, info.Versions = cbor.BoreSlice[string](m, "u:0x01")
	_, info.Extensions = cbor.BoreSlice[string](m, "u:0x02")
	if ok, aaguid := cbor.MustBore[[]byte](m, "u:0x03"); ok {
		info.AAGUID = strings.ToUpper(hex.EncodeToString(aaguid))
	}
	if ok, opts := cbor.MustBore[map[any]any](m, "u:0x04"); ok {
		for k, v := range opts {
			name, isText := k.(string)
			flag, isBool := v.(bool)
			if isText && isBool {
				info.Options[name] = flag
			}
		}
	}
	_, info.MaxMsgSize = cbor.MustBore[int](m, "u:0x05")
	_, info.PinProtocols = cbor.BoreSlice[uint32](m, "u:0x06")
	_, info.MinPinLength = cbor.MustBore[uint32](m, "u:0x0D")
	if ok, fw := cbor.MustBore[uint64](m, "u:0x0E"); ok {
		info.FirmwareVersion = formatFirmware(fw)
	}
	if info.Versions == nil {
		info.Versions = []string{}
	}
	if info.Extensions == nil {
		info.Extensions = []string{}
	}
	if info.PinProtocols == nil {
		info.PinProtocols = []uint32{}
	}
	return info, nil
}

// GetInfo returns the authenticatorGetInfo report.
func (c *Client) GetInfo() (*pico.FidoDeviceInfo, error) {
	t, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer t.Close()

	info, err := getInfo(t)
	if err != nil {
		c.logger.Error("GetInfo CTAP command failed", "error", err)
		return nil, err
	}
	return info, nil
}

// ReadDeviceDetails builds a device status from GetInfo and the vendor
// memory and physical configuration commands. Serial number and secure boot
// state are not available over FIDO.
func (c *Client) ReadDeviceDetails() (*pico.FullDeviceStatus, error) {
	c.logger.Info("starting FIDO device details read")
	t, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer t.Close()

	info, err := getInfo(t)
	if err != nil {
		c.logger.Error("GetInfo CTAP command failed", "error", err)
		if pferr.Is(err, pferr.KindIo) {
			return nil, err
		}
		return nil, pferr.Device("GetInfo failed: %w", err)
	}
	if info.AAGUID == pico.Unknown {
		c.logger.Warn("AAGUID not found in GetInfo response")
	}
	if info.FirmwareVersion == pico.Unknown {
		c.logger.Warn("firmware version not found in GetInfo response")
	}
	c.logger.Info("device identified", "aaguid", info.AAGUID, "firmware", info.FirmwareVersion)

	used, total, err := c.readMemoryStats(t)
	if err != nil {
		return nil, err
	}

	return &pico.FullDeviceStatus{
		Info: pico.DeviceInfo{
			Serial:          pico.FidoSerial,
			FlashUsed:       used / 1024,
			FlashTotal:      total / 1024,
			FirmwareVersion: info.FirmwareVersion,
		},
		Config: c.readPhysicalConfig(t),
		Method: pico.MethodFido,
	}, nil
}

func (c *Client) readMemoryStats(t Transport) (used, total uint32, err error) {
	res, err := sendVendor(t, vendorMemory, vendorRequest{SubCommand: vendorGetStats})
	if err != nil {
		c.logger.Warn("failed to fetch memory stats", "error", err)
		return 0, 0, pferr.Device("Failed to fetch memory stats: %w", err)
	}
	if len(res) == 0 {
		return 0, 0, nil
	}
	m, err := cbor.Decode(res)
	if err != nil {
		return 0, 0, pferr.Io("Failed to parse Memory Stats CBOR: %w", err)
	}
	_, used = cbor.MustBore[uint32](m, fmt.Sprintf("u:%d", memoryUsedSpace))
	_, total = cbor.MustBore[uint32](m, fmt.Sprintf("u:%d", memoryTotalSpace))
	c.logger.Debug("memory stats", "used_kb", used/1024, "total_kb", total/1024)
	return used, total, nil
}

// readPhysicalConfig never fails: identity comes from the HID descriptor and
// the LED settings are best effort.
func (c *Client) readPhysicalConfig(t Transport) pico.AppConfig {
	cfg := pico.AppConfig{
		VID:         pico.FormatVidPid(t.VendorID()),
		PID:         pico.FormatVidPid(t.ProductID()),
		ProductName: t.ProductName(),
	}

	res, err := sendVendor(t, vendorPhysicalOptions, vendorRequest{SubCommand: vendorGetOptions})
	if err != nil {
		c.logger.Warn("failed to fetch physical config", "error", err)
		return cfg
	}
	m, err := cbor.Decode(res)
	if err != nil {
		if len(res) > 0 {
			c.logger.Warn("physical config response was not a valid CBOR map")
		}
		return cfg
	}
	if ok, gpio := cbor.MustBore[uint8](m, "t:gpio"); ok {
		cfg.LedGPIO = gpio
	}
	if ok, brightness := cbor.MustBore[uint8](m, "t:brightness"); ok {
		cfg.LedBrightness = brightness
	}
	return cfg
}

// supportsProtocol reports whether GetInfo lists the PIN protocol.
func supportsProtocol(info *pico.FidoDeviceInfo, p uint8) bool {
	return slices.Contains(info.PinProtocols, uint32(p))
}
