package fido

import (
	"github.com/phoeagon/picoforge/cbor"
	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/sec"
)

// pinToken is a decrypted pinUvAuthToken together with the protocol it was
// obtained with.
type pinToken struct {
	key      []byte
	protocol uint8
}

func (p *pinToken) authenticate(message []byte) []byte {
	return sec.Authenticate(p.protocol, p.key, message)
}

func clientPIN(t Transport, req *clientPINRequest) (*clientPINResponse, error) {
	res, err := sendCBOR(t, ctapClientPIN, req)
	if err != nil {
		return nil, err
	}
	var out clientPINResponse
	if len(res) == 0 {
		return &out, nil
	}
	if err = cbor.Unmarshal(res, &out); err != nil {
		return nil, pferr.Io("failed to parse ClientPIN response: %w", err)
	}
	return &out, nil
}

func keyAgreement(t Transport, protocol uint8) (*sec.SharedSecret, error) {
	res, err := clientPIN(t, &clientPINRequest{
		PinUvAuthProtocol: protocol,
		SubCommand:        ClientPINGetKeyAgreement,
	})
	if err != nil {
		return nil, err
	}
	if res.KeyAgreement == nil {
		return nil, pferr.Device("authenticator returned no key agreement")
	}
	secret, err := sec.NewSharedSecret(protocol, res.KeyAgreement)
	if err != nil {
		return nil, pferr.Device("failed initialising secret from shared key: %w", err)
	}
	return secret, nil
}

// protocolFor picks the preferred PIN protocol if the authenticator lists
// it, protocol one otherwise.
func (c *Client) protocolFor(t Transport) uint8 {
	if c.pinProtocol == sec.ProtocolOne {
		return sec.ProtocolOne
	}
	info, err := getInfo(t)
	if err != nil || !supportsProtocol(info, c.pinProtocol) {
		c.logger.Debug("falling back to PIN protocol one", "preferred", c.pinProtocol)
		return sec.ProtocolOne
	}
	return c.pinProtocol
}

// isPinRejection reports errors caused by the PIN itself, after which
// another token request would only burn a retry.
func isPinRejection(err error) bool {
	return pferr.HasCode(err, pferr.CTAPPinInvalid) ||
		pferr.HasCode(err, pferr.CTAPPinBlocked) ||
		pferr.HasCode(err, pferr.CTAPPinAuthBlocked) ||
		pferr.HasCode(err, pferr.CTAPPinNotSet)
}

// getPinToken obtains a token carrying perms. With fallback set, an
// authenticator that rejects the permissions request is asked for a plain
// getPinToken token instead.
func (c *Client) getPinToken(t Transport, pin string, protocol uint8, perms Permission, fallback bool) (*pinToken, error) {
	secret, err := keyAgreement(t, protocol)
	if err != nil {
		return nil, err
	}
	pinHashEnc, err := secret.EncryptPinHash(pin)
	if err != nil {
		return nil, pferr.Io("failed encrypting pin: %w", err)
	}

	res, err := clientPIN(t, &clientPINRequest{
		PinUvAuthProtocol: protocol,
		SubCommand:        ClientPINGetTokenUsingPinWithPerms,
		KeyAgreement:      secret.PlatformKey,
		PinHashEnc:        pinHashEnc,
		Permissions:       perms,
	})
	if err != nil {
		if !fallback || isPinRejection(err) {
			c.logger.Error("failed to get PIN token with permissions", "permissions", perms, "error", err)
			return nil, err
		}
		c.logger.Warn("failed to get PIN token with permissions, falling back to standard token", "permissions", perms, "error", err)
		res, err = clientPIN(t, &clientPINRequest{
			PinUvAuthProtocol: protocol,
			SubCommand:        ClientPINGetPINToken,
			KeyAgreement:      secret.PlatformKey,
			PinHashEnc:        pinHashEnc,
		})
		if err != nil {
			c.logger.Error("failed to obtain even a standard PIN token", "error", err)
			return nil, err
		}
	}
	if len(res.PinUvAuthToken) == 0 {
		return nil, pferr.Device("authenticator returned no PIN token")
	}

	key, err := secret.Decrypt(res.PinUvAuthToken)
	if err != nil {
		return nil, pferr.Device("failed to decrypt PIN token: %w", err)
	}
	return &pinToken{key: key, protocol: protocol}, nil
}

// ChangePIN changes the PIN when current is set, or sets the first PIN when
// current is nil.
func (c *Client) ChangePIN(current *string, newPIN string) (string, error) {
	t, err := c.connect()
	if err != nil {
		return "", err
	}
	defer t.Close()

	protocol := c.protocolFor(t)
	secret, err := keyAgreement(t, protocol)
	if err != nil {
		return "", err
	}
	newPinEnc, err := secret.EncryptNewPin(newPIN)
	if err != nil {
		return "", pferr.Io("failed encrypting new pin: %w", err)
	}

	if current == nil {
		_, err = clientPIN(t, &clientPINRequest{
			PinUvAuthProtocol: protocol,
			SubCommand:        ClientPINSetPIN,
			KeyAgreement:      secret.PlatformKey,
			PinUvAuthParam:    secret.Authenticate(newPinEnc),
			NewPinEnc:         newPinEnc,
		})
		if err != nil {
			return "", pferr.Device("Failed to set PIN: %w", err)
		}
		c.logger.Info("PIN set")
		return "PIN Set Successfully", nil
	}

	pinHashEnc, err := secret.EncryptPinHash(*current)
	if err != nil {
		return "", pferr.Io("failed encrypting pin: %w", err)
	}
	message := append(append([]byte{}, newPinEnc...), pinHashEnc...)
	_, err = clientPIN(t, &clientPINRequest{
		PinUvAuthProtocol: protocol,
		SubCommand:        ClientPINChangePIN,
		KeyAgreement:      secret.PlatformKey,
		PinUvAuthParam:    secret.Authenticate(message),
		NewPinEnc:         newPinEnc,
		PinHashEnc:        pinHashEnc,
	})
	if err != nil {
		return "", pferr.Device("Failed to change PIN: %w", err)
	}
	c.logger.Info("PIN changed")
	return "PIN Changed Successfully", nil
}

// PinRetries returns the number of PIN attempts left.
func (c *Client) PinRetries() (uint, error) {
	t, err := c.connect()
	if err != nil {
		return 0, err
	}
	defer t.Close()

	res, err := clientPIN(t, &clientPINRequest{
		PinUvAuthProtocol: sec.ProtocolOne,
		SubCommand:        ClientPINGetRetries,
	})
	if err != nil {
		return 0, err
	}
	return res.PinRetries, nil
}
