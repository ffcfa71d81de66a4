// Package hid implements the CTAPHID transport over raw HID reports.
//
// The message structure is defined at
// https://fidoalliance.org/specs/fido-v2.1-ps-20210615/fido-client-to-authenticator-protocol-v2.1-ps-errata-20220621.html#usb-message-and-packet-structure
package hid

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/phoeagon/picoforge/pferr"
)

var enc = binary.BigEndian

// Transport is a CTAPHID session on a negotiated channel. A Transport serves
// one logical operation and must be closed afterwards.
type Transport struct {
	device       RawDevice
	info         DeviceInfo
	channelID    uint32
	init         *InitResponse
	randomReader io.Reader
	now          func() time.Time
	logger       *slog.Logger

	responseTimeout     time.Duration
	continuationTimeout time.Duration
	keepaliveLimit      time.Duration
}

type Option func(*Transport)

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithResponseTimeout sets the per-read timeout for the first packet of a
// response.
func WithResponseTimeout(d time.Duration) Option {
	return func(t *Transport) { t.responseTimeout = d }
}

func WithContinuationTimeout(d time.Duration) Option {
	return func(t *Transport) { t.continuationTimeout = d }
}

// WithKeepaliveLimit bounds how long a response may be deferred by
// KEEPALIVE packets. Zero disables the ceiling.
func WithKeepaliveLimit(d time.Duration) Option {
	return func(t *Transport) { t.keepaliveLimit = d }
}

func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

func WithRandom(r io.Reader) Option {
	return func(t *Transport) { t.randomReader = r }
}

// Open finds the first FIDO HID interface, opens it and negotiates a channel.
func Open(opts ...Option) (*Transport, error) {
	t := newTransport(nil, DeviceInfo{}, opts)
	t.logger.Info("opening HID transport")

	dev, info, err := openFirst(t.logger)
	if err != nil {
		return nil, err
	}
	t.device = dev
	t.info = info

	if err = t.negotiate(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return t, nil
}

// NewTransport negotiates a channel on an already opened device. The device
// is closed if negotiation fails.
func NewTransport(dev RawDevice, info DeviceInfo, opts ...Option) (*Transport, error) {
	t := newTransport(dev, info, opts)
	if err := t.negotiate(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return t, nil
}

func newTransport(dev RawDevice, info DeviceInfo, opts []Option) *Transport {
	t := &Transport{
		device:              dev,
		info:                info,
		channelID:           cidBroadcast,
		randomReader:        rand.Reader,
		now:                 time.Now,
		logger:              slog.Default(),
		responseTimeout:     DefaultResponseTimeout,
		continuationTimeout: DefaultContinuationTimeout,
		keepaliveLimit:      DefaultKeepaliveLimit,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) negotiate() error {
	init, err := t.initChannel()
	if err != nil {
		t.logger.Error("failed to negotiate channel ID", "error", err)
		if pferr.Is(err, pferr.KindDevice) {
			return err
		}
		return pferr.Device("failed to negotiate channel ID: %w", err)
	}
	t.init = init
	t.channelID = init.ChannelID
	t.logger.Info("HID transport established", "cid", fmt.Sprintf("0x%08X", t.channelID))
	return nil
}

func (t *Transport) Close() error {
	if t.device == nil {
		return nil
	}
	err := t.device.Close()
	t.device = nil
	return err
}

func (t *Transport) ChannelID() uint32             { return t.channelID }
func (t *Transport) Init() *InitResponse           { return t.init }
func (t *Transport) Info() DeviceInfo              { return t.info }
func (t *Transport) VendorID() uint16              { return t.info.VendorID }
func (t *Transport) ProductID() uint16             { return t.info.ProductID }
func (t *Transport) ProductName() string           { return t.info.Product }
func (t *Transport) Logger() *slog.Logger          { return t.logger }
func (t *Transport) KeepaliveLimit() time.Duration { return t.keepaliveLimit }

// drain discards reports left over from a previous session so they cannot
// be mistaken for the INIT reply.
func (t *Transport) drain() {
	buf := make([]byte, hidReportSize)
	for range maxDrainReports {
		n, err := t.device.ReadWithTimeout(buf, drainReadTimeout)
		if err != nil || n == 0 {
			return
		}
		t.logger.Debug("drained stale HID report", "hex", hex.EncodeToString(buf[:min(n, 16)]))
	}
}

func (t *Transport) initChannel() (*InitResponse, error) {
	t.drain()

	nonce := make([]byte, initNonceSize)
	if _, err := io.ReadFull(t.randomReader, nonce); err != nil {
		return nil, pferr.Io("failed to generate nonce: %w", err)
	}

	t.channelID = cidBroadcast
	if err := t.writeMessage(CmdInit, nonce); err != nil {
		return nil, err
	}

	buf := make([]byte, hidReportSize)
	deadline := t.now().Add(initTimeout)
	for t.now().Before(deadline) {
		n, err := t.device.ReadWithTimeout(buf, initReadTimeout)
		if err != nil && !errors.Is(err, ErrTimeout) {
			return nil, pferr.Io("failed to read INIT response: %w", err)
		}
		if err != nil || n < initHeaderSize+17 {
			continue
		}
		if enc.Uint32(buf[0:4]) == cidBroadcast &&
			Command(buf[4]) == CmdInit &&
			bytes.Equal(buf[7:15], nonce) {
			return parseInitResponse(buf[:n]), nil
		}
	}
	return nil, pferr.Device("timeout waiting for FIDO INIT response")
}

// framePackets splits payload into 65-byte reports (report ID 0 followed by
// a 64-byte CTAPHID packet) for the given channel and command.
func framePackets(cid uint32, cmd Command, payload []byte) ([][]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, pferr.Io("payload of %d bytes exceeds the CTAPHID limit of %d bytes", len(payload), MaxPayloadSize)
	}

	var packets [][]byte
	var sent int
	init := NewBuffer(hidReportSize+1).
		Byte(0).
		Uint32(cid).
		Byte(byte(cmd)).
		Uint16(uint16(len(payload))).
		Data(payload, &sent)
	packets = append(packets, init.Bytes())

	for seq := 0; sent < len(payload); seq++ {
		var n int
		cont := NewBuffer(hidReportSize+1).
			Byte(0).
			Uint32(cid).
			Byte(byte(seq)&0x7F).
			Data(payload[sent:], &n)
		packets = append(packets, cont.Bytes())
		sent += n
	}
	return packets, nil
}

func (t *Transport) writeMessage(cmd Command, payload []byte) error {
	packets, err := framePackets(t.channelID, cmd, payload)
	if err != nil {
		return err
	}
	t.logger.Debug("sending CTAPHID message", "cmd", cmd.String(), "len", len(payload), "packets", len(packets))
	for i, p := range packets {
		if _, err = t.device.Write(p); err != nil {
			if i == 0 {
				return pferr.Io("failed to write initial HID packet: %w", err)
			}
			return pferr.Io("failed to write continuation HID packet %d: %w", i-1, err)
		}
	}
	return nil
}

func (t *Transport) read(buf []byte, timeout time.Duration, what string) (int, error) {
	n, err := t.device.ReadWithTimeout(buf, timeout)
	if errors.Is(err, ErrTimeout) {
		return 0, pferr.Io("timeout reading %s", what)
	}
	if err != nil {
		return 0, pferr.Io("failed reading %s: %w", what, err)
	}
	return n, nil
}

// readMessage reassembles the reply to cmd on the negotiated channel.
// KEEPALIVE packets defer the reply until the keepalive ceiling elapses.
func (t *Transport) readMessage(cmd Command) ([]byte, error) {
	buf := make([]byte, hidReportSize)
	started := t.now()

	for {
		n, err := t.read(buf, t.responseTimeout, "response packet")
		if err != nil {
			return nil, err
		}
		if n < initHeaderSize {
			continue
		}
		if enc.Uint32(buf[0:4]) != t.channelID {
			t.logger.Warn("ignoring packet from a different channel", "cid", fmt.Sprintf("0x%08X", enc.Uint32(buf[0:4])))
			continue
		}

		switch got := Command(buf[4]); got {
		case CmdKeepalive:
			status := buf[initHeaderSize]
			if t.keepaliveLimit > 0 && t.now().Sub(started) >= t.keepaliveLimit {
				return nil, pferr.Busy("device busy: user action pending (keepalive status 0x%02X after %s)", status, t.keepaliveLimit)
			}
			t.logger.Debug("device sent KEEPALIVE, waiting", "status", fmt.Sprintf("0x%02X", status))
			continue
		case CmdError:
			code := buf[initHeaderSize]
			t.logger.Error("device returned CTAPHID error", "code", fmt.Sprintf("0x%02X", code))
			return nil, pferr.CTAP(code, "device returned CTAPHID error")
		case cmd:
		default:
			return nil, pferr.Device("unexpected command response: 0x%02X (expected 0x%02X)", byte(got), byte(cmd))
		}

		expected := int(enc.Uint16(buf[5:7]))
		data := make([]byte, 0, expected)
		data = append(data, buf[initHeaderSize:initHeaderSize+min(expected, initPayloadSize)]...)
		return t.readContinuation(buf, data, expected)
	}
}

func (t *Transport) readContinuation(buf, data []byte, expected int) ([]byte, error) {
	var seq byte
	for len(data) < expected {
		n, err := t.read(buf, t.continuationTimeout, "continuation packet")
		if err != nil {
			return nil, err
		}
		if n < contHeaderSize || enc.Uint32(buf[0:4]) != t.channelID {
			continue
		}
		if buf[4] != seq {
			t.logger.Error("sequence mismatch in response", "expected", seq, "got", buf[4])
			return nil, pferr.Device("Sequence mismatch")
		}
		seq++
		part := min(expected-len(data), contPayloadSize)
		data = append(data, buf[contHeaderSize:contHeaderSize+part]...)
	}
	return data, nil
}

// Exchange writes one CTAPHID message and returns the raw reply payload.
func (t *Transport) Exchange(cmd Command, payload []byte) ([]byte, error) {
	if err := t.writeMessage(cmd, payload); err != nil {
		return nil, err
	}
	return t.readMessage(cmd)
}

// Send performs a CBOR-style exchange: the first reply byte is a CTAP status
// code which must be zero. The remaining bytes are returned.
func (t *Transport) Send(cmd Command, payload []byte) ([]byte, error) {
	res, err := t.Exchange(cmd, payload)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		t.logger.Error("device sent empty payload response")
		return nil, pferr.Device("Empty response")
	}
	if status := res[0]; status != 0x00 {
		t.logger.Error("FIDO operation returned failure status", "status", fmt.Sprintf("0x%02X", status))
		return nil, pferr.CTAP(status, "FIDO operation failed with status")
	}
	t.logger.Debug("command successful", "cmd", cmd.String(), "len", len(res)-1)
	return res[1:], nil
}
