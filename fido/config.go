package fido

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/phoeagon/picoforge/cbor"
	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/pico"
	"github.com/phoeagon/picoforge/sec"
)

// Keys of the vendor prototype sub-command parameters.
const (
	vendorParamCommandID = 1
	vendorParamBytes     = 2
	vendorParamInt       = 3
	vendorParamText      = 4
)

const (
	msgPinRequired = "A security PIN is required to be set to change the configuration in fido mode"
	msgConfigured  = "Configuration updated successfully! Unplug and re-plug the device to apply VID/PID changes."
	msgNoChanges   = "No changes to apply"

	msgMinPinDecrease = "Cannot decrease minimum PIN length. The FIDO2 security policy only allows increasing the minimum PIN length, not decreasing it. A device reset is required to lower the minimum."
)

// vendorParam returns the sub-parameter key for param and its CBOR value.
func vendorParam(param any) (uint64, any, error) {
	switch v := param.(type) {
	case []byte:
		return vendorParamBytes, v, nil
	case string:
		return vendorParamText, v, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return vendorParamInt, v, nil
	}
	return 0, nil, pferr.Io("Unsupported parameter type %T", param)
}

// sendConfig signs and sends an authenticatorConfig request. subParams are
// embedded verbatim so the authenticator verifies the bytes that were signed.
func sendConfig(t Transport, token []byte, sub ConfigSubCommand, subParams []byte) error {
	req := configRequest{
		SubCommand:        sub,
		SubCommandParams:  subParams,
		PinUvAuthProtocol: sec.ProtocolOne,
		PinUvAuthParam:    sec.SignConfigCommand(token, byte(sub), subParams),
	}
	_, err := sendCBOR(t, ctapConfig, req)
	return err
}

// SendVendorConfig sends a vendor prototype authenticatorConfig command.
// param must be a byte slice, an integer or a string.
func SendVendorConfig(t Transport, token []byte, cmd VendorConfigCommand, param any) error {
	key, value, err := vendorParam(param)
	if err != nil {
		return err
	}
	subParams, err := cbor.Marshal(map[uint64]any{
		vendorParamCommandID: cmd.ID(),
		key:                  value,
	})
	if err != nil {
		return pferr.Io("CBOR encode error: %w", err)
	}
	if err = sendConfig(t, token, ConfigVendorPrototype, subParams); err != nil {
		return pferr.Device("FIDO config failed: %w", err)
	}
	return nil
}

// SendConfigSetMinPinLength raises the minimum PIN length. The authenticator
// refuses to lower it.
func SendConfigSetMinPinLength(t Transport, token []byte, length uint8) error {
	subParams, err := cbor.Marshal(setMinPINLengthParams{NewMinPINLength: length})
	if err != nil {
		return pferr.Io("CBOR encode error: %w", err)
	}
	err = sendConfig(t, token, ConfigSetMinPINLength, subParams)
	if pferr.HasCode(err, pferr.CTAPPinPolicyViolation) {
		return pferr.Device(msgMinPinDecrease)
	}
	if err != nil {
		return pferr.Device("setMinPINLength failed: %w", err)
	}
	return nil
}

// WriteConfig applies the configuration fields the firmware accepts over
// FIDO. The PIN is required.
func (c *Client) WriteConfig(in pico.AppConfigInput, pin *string) (string, error) {
	c.logger.Info("starting FIDO write_config")
	if pin == nil || *pin == "" {
		c.logger.Error(msgPinRequired)
		return "", pferr.Device(msgPinRequired)
	}
	if in.IsEmpty() {
		return msgNoChanges, nil
	}

	var vidPid *uint32
	if in.VID != nil && in.PID != nil {
		vid, err := pico.ParseVidPid(*in.VID)
		if err != nil {
			return "", pferr.Io("%w", err)
		}
		pid, err := pico.ParseVidPid(*in.PID)
		if err != nil {
			return "", pferr.Io("%w", err)
		}
		vidPid = lo.ToPtr(uint32(vid)<<16 | uint32(pid))
	}

	t, err := c.connect()
	if err != nil {
		return "", err
	}
	defer t.Close()

	token, err := c.getPinToken(t, *pin, sec.ProtocolOne, PermissionAuthenticatorConfiguration, true)
	if err != nil {
		return "", pferr.Device("PIN token acquisition failed: %w", err)
	}

	if vidPid != nil {
		if err = SendVendorConfig(t, token.key, VendorPhysicalVidPid, *vidPid); err != nil {
			return "", err
		}
	}
	if in.LedGPIO != nil {
		if err = SendVendorConfig(t, token.key, VendorPhysicalLedGpio, *in.LedGPIO); err != nil {
			return "", err
		}
	}
	if in.LedBrightness != nil {
		if err = SendVendorConfig(t, token.key, VendorPhysicalLedBrightness, *in.LedBrightness); err != nil {
			return "", err
		}
	}
	if in.TouchTimeout != nil {
		if err = SendVendorConfig(t, token.key, VendorPhysicalOptions, *in.TouchTimeout); err != nil {
			c.logger.Warn("touch timeout was not accepted", "error", err)
		}
	}
	if in.HasOptions() {
		opts := pico.NewOptions(
			lo.FromPtrOr(in.LedDimmable, false),
			lo.FromPtrOr(in.PowerCycleOnReset, true),
			lo.FromPtrOr(in.LedSteady, false),
		)
		if err = SendVendorConfig(t, token.key, VendorPhysicalOptions, uint16(opts)); err != nil {
			return "", err
		}
	}

	if in.ProductName != nil {
		c.logger.Warn("product name cannot be changed over FIDO, skipped")
	}
	if in.LedDriver != nil {
		c.logger.Warn("LED driver cannot be changed over FIDO, skipped")
	}
	if in.EnableSecp256k1 != nil {
		c.logger.Warn("secp256k1 cannot be toggled over FIDO, skipped")
	}
	return msgConfigured, nil
}

// SetMinPinLength raises the minimum PIN length with a token carrying the
// authenticator configuration permission.
func (c *Client) SetMinPinLength(pin string, length uint8) (string, error) {
	c.logger.Info("starting set_min_pin_length", "length", length)
	t, err := c.connect()
	if err != nil {
		return "", err
	}
	defer t.Close()

	token, err := c.getPinToken(t, pin, sec.ProtocolOne, PermissionAuthenticatorConfiguration, false)
	if err != nil {
		return "", pferr.Device("Failed to obtain PIN token: %w", err)
	}
	if err = SendConfigSetMinPinLength(t, token.key, length); err != nil {
		return "", err
	}
	return fmt.Sprintf("Minimum PIN length successfully set to %d", length), nil
}
