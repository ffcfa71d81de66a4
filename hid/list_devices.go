package hid

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/phoeagon/picoforge/pferr"
	gohid "github.com/sstallion/go-hid"
)

// DeviceInfo describes a FIDO HID interface found during enumeration.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Product      string
	Manufacturer string
	Serial       string
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s (%04X:%04X) at %s", d.Product, d.VendorID, d.ProductID, d.Path)
}

var initOnce = sync.OnceValue(gohid.Init)

// ListDevices returns every HID interface exposing the FIDO usage page.
func ListDevices() ([]DeviceInfo, error) {
	if err := initOnce(); err != nil {
		return nil, fmt.Errorf("failed to initialise hidapi: %w", err)
	}

	var devices []DeviceInfo
	err := gohid.Enumerate(gohid.VendorIDAny, gohid.ProductIDAny, func(info *gohid.DeviceInfo) error {
		if info.UsagePage != FIDOUsagePage {
			return nil
		}
		devices = append(devices, DeviceInfo{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Product:      info.ProductStr,
			Manufacturer: info.MfrStr,
			Serial:       info.SerialNbr,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// openFirst opens the first FIDO interface found.
func openFirst(logger *slog.Logger) (RawDevice, DeviceInfo, error) {
	devices, err := ListDevices()
	if err != nil {
		return nil, DeviceInfo{}, pferr.Device("failed to enumerate HID devices: %w", err)
	}
	if len(devices) == 0 {
		logger.Warn("no FIDO device found", "usage_page", fmt.Sprintf("0x%04X", FIDOUsagePage))
		return nil, DeviceInfo{}, pferr.NoDevice()
	}
	info := devices[0]
	logger.Debug("found FIDO device", "vid", fmt.Sprintf("0x%04X", info.VendorID), "pid", fmt.Sprintf("0x%04X", info.ProductID))
	if info.Product == "" {
		info.Product = "Unknown FIDO Device"
	}
	dev, err := openRawDevice(info.Path, logger)
	if err != nil {
		return nil, info, pferr.Device("failed to open HID device: %w", err)
	}
	return dev, info, nil
}
