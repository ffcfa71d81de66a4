package hid

import (
	"encoding/hex"
	"log/slog"
	"time"

	gohid "github.com/sstallion/go-hid"
)

// ErrTimeout is returned by RawDevice.ReadWithTimeout when no report
// arrived in time.
var ErrTimeout = gohid.ErrTimeout

// RawDevice is an open HID interface exchanging raw reports.
type RawDevice interface {
	// Write sends one report. The first byte is the report ID.
	Write(p []byte) (int, error)
	// ReadWithTimeout reads one report, or fails with ErrTimeout.
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// rawDevice logs every report at debug level before handing it to hidapi.
type rawDevice struct {
	handle *gohid.Device
	logger *slog.Logger
}

func openRawDevice(path string, logger *slog.Logger) (*rawDevice, error) {
	handle, err := gohid.OpenPath(path)
	if err != nil {
		return nil, err
	}
	return &rawDevice{handle: handle, logger: logger}, nil
}

func (d *rawDevice) Close() error {
	if d.handle == nil {
		return nil
	}
	if err := d.handle.Close(); err != nil {
		return err
	}
	d.handle = nil
	return nil
}

func (d *rawDevice) Write(data []byte) (int, error) {
	d.logger.Debug("HID write", "hex", hex.EncodeToString(data))
	return d.handle.Write(data)
}

func (d *rawDevice) ReadWithTimeout(data []byte, timeout time.Duration) (int, error) {
	n, err := d.handle.ReadWithTimeout(data, timeout)
	if err == nil {
		d.logger.Debug("HID read", "hex", hex.EncodeToString(data[:n]))
	}
	return n, err
}
