package fido

import (
	"encoding/hex"

	"github.com/phoeagon/picoforge/cbor"
	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/pico"
	"github.com/phoeagon/picoforge/sec"
)

const publicKeyCredentialType = "public-key"

// credentialManager runs credential management sub-commands with one token
// against either the standard or the 2.1-PRE prototype command.
type credentialManager struct {
	t       Transport
	command byte
	token   *pinToken
}

// credentialManagementCommand picks the command byte from the GetInfo
// options.
func credentialManagementCommand(info *pico.FidoDeviceInfo) (byte, error) {
	switch {
	case info.Options[credentialManagementOption]:
		return ctapCredentialManagement, nil
	case info.Options[credentialManagementPreviewOption]:
		return ctapCredentialManagementPreview, nil
	}
	return 0, pferr.Device("authenticator does not support credential management")
}

func (c *Client) openCredentialManager(t Transport, pin string) (*credentialManager, error) {
	info, err := getInfo(t)
	if err != nil {
		return nil, err
	}
	command, err := credentialManagementCommand(info)
	if err != nil {
		return nil, err
	}
	protocol := c.pinProtocol
	if !supportsProtocol(info, protocol) {
		protocol = sec.ProtocolOne
	}
	token, err := c.getPinToken(t, pin, protocol, PermissionCredentialManagement, true)
	if err != nil {
		return nil, err
	}
	return &credentialManager{t: t, command: command, token: token}, nil
}

// call sends a sub-command. Authenticated sub-commands sign the sub-command
// byte followed by the encoded parameters.
func (m *credentialManager) call(sub CredentialManagementSubCommand, params *credentialManagementParams, authenticated bool) (*credentialManagementResponse, error) {
	req := credentialManagementRequest{SubCommand: sub}
	if params != nil {
		data, err := cbor.Marshal(params)
		if err != nil {
			return nil, pferr.Io("CBOR encode error: %w", err)
		}
		req.SubCommandParams = data
	}
	if authenticated {
		req.PinUvAuthProtocol = m.token.protocol
		req.PinUvAuthParam = m.token.authenticate(append([]byte{byte(sub)}, req.SubCommandParams...))
	}

	res, err := sendCBOR(m.t, m.command, req)
	if err != nil {
		return nil, err
	}
	var out credentialManagementResponse
	if len(res) == 0 {
		return &out, nil
	}
	if err = cbor.Unmarshal(res, &out); err != nil {
		return nil, pferr.Io("failed to parse credential management response: %w", err)
	}
	return &out, nil
}

func (m *credentialManager) enumerateRPs() ([]enumeratedRelyingParty, error) {
	r, err := m.call(CredMgmtEnumerateRPsBegin, nil, true)
	if err != nil {
		return nil, err
	}
	if r.TotalRPs == 0 || r.RP == nil {
		return nil, nil
	}

	rps := make([]enumeratedRelyingParty, 0, r.TotalRPs)
	rps = append(rps, enumeratedRelyingParty{RelyingParty: *r.RP, RPIDHash: r.RPIDHash})
	for range r.TotalRPs - 1 {
		r, err := m.call(CredMgmtEnumerateRPsGetNextRP, nil, false)
		if err != nil {
			return nil, err
		}
		if r.RP == nil {
			return nil, pferr.Device("authenticator returned an empty relying party")
		}
		rps = append(rps, enumeratedRelyingParty{RelyingParty: *r.RP, RPIDHash: r.RPIDHash})
	}
	return rps, nil
}

func (m *credentialManager) enumerateCredentials(rp enumeratedRelyingParty) ([]pico.StoredCredential, error) {
	r, err := m.call(CredMgmtEnumerateCredentialsBegin, &credentialManagementParams{RPIDHash: rp.RPIDHash}, true)
	if pferr.HasCode(err, pferr.CTAPNoCredentials) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	creds := make([]pico.StoredCredential, 0, r.TotalCredentials)
	for i := uint(0); i < r.TotalCredentials; i++ {
		if i > 0 {
			if r, err = m.call(CredMgmtEnumerateCredentialsGetNextCred, nil, false); err != nil {
				return nil, err
			}
		}
		creds = append(creds, storedCredential(rp.RelyingParty, r))
	}
	return creds, nil
}

func storedCredential(rp relyingParty, r *credentialManagementResponse) pico.StoredCredential {
	cred := pico.StoredCredential{RPID: rp.ID, RPName: rp.Name}
	if r.CredentialID != nil {
		cred.CredentialID = hex.EncodeToString(r.CredentialID.ID)
	}
	if r.User != nil {
		cred.UserName = r.User.Name
		cred.UserDisplayName = r.User.DisplayName
		cred.UserID = hex.EncodeToString(r.User.ID)
	}
	return cred
}

// Credentials lists every resident credential. A device without
// credentials yields an empty list.
func (c *Client) Credentials(pin string) ([]pico.StoredCredential, error) {
	t, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer t.Close()

	m, err := c.openCredentialManager(t, pin)
	if err != nil {
		return nil, pferr.Device("Failed to open credential management: %w", err)
	}

	rps, err := m.enumerateRPs()
	if pferr.HasCode(err, pferr.CTAPNoCredentials) {
		c.logger.Info("no credentials stored on device")
		return []pico.StoredCredential{}, nil
	}
	if err != nil {
		return nil, pferr.Device("Failed to enumerate Relying Parties: %w", err)
	}

	all := []pico.StoredCredential{}
	for _, rp := range rps {
		creds, err := m.enumerateCredentials(rp)
		if err != nil {
			return nil, pferr.Device("Failed to enumerate credentials for RP %s: %w", rp.RelyingParty.ID, err)
		}
		all = append(all, creds...)
	}
	c.logger.Debug("enumerated credentials", "rps", len(rps), "credentials", len(all))
	return all, nil
}

// DeleteCredential removes the resident credential with the hex encoded ID.
func (c *Client) DeleteCredential(pin, credentialIDHex string) (string, error) {
	id, err := hex.DecodeString(credentialIDHex)
	if err != nil {
		return "", pferr.Io("Invalid Credential ID Hex string")
	}

	t, err := c.connect()
	if err != nil {
		return "", err
	}
	defer t.Close()

	m, err := c.openCredentialManager(t, pin)
	if err != nil {
		return "", pferr.Device("Failed to open credential management: %w", err)
	}
	params := &credentialManagementParams{
		CredentialID: &credentialDescriptor{ID: id, Type: publicKeyCredentialType},
	}
	if _, err = m.call(CredMgmtDeleteCredential, params, true); err != nil {
		return "", pferr.Device("Failed to delete credential: %w", err)
	}
	return "Credential deleted successfully", nil
}
