package fido

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phoeagon/picoforge/cbor"
	"github.com/phoeagon/picoforge/hid"
	"github.com/phoeagon/picoforge/pferr"
	"github.com/phoeagon/picoforge/sec"
)

type sentMessage struct {
	cmd     hid.Command
	payload []byte
}

type storedRP struct {
	rp    relyingParty
	creds []credentialManagementResponse
}

// fakeAuthenticator answers CTAP2 and vendor requests the way Pico FIDO
// firmware does. It verifies every PIN and pinUvAuthParam it receives.
type fakeAuthenticator struct {
	t *testing.T

	key          *ecdh.PrivateKey
	pin          string
	token        []byte
	minPinLength uint8
	protocols    []uint64
	options      map[string]bool

	rejectPermissions bool
	physicalFails     bool
	memoryFails       bool

	rps    []storedRP
	cursor []any

	sent          []sentMessage
	vendorConfigs []map[any]any
	deleted       [][]byte
	closed        int
}

func newFakeAuthenticator(t *testing.T) *fakeAuthenticator {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &fakeAuthenticator{
		t:            t,
		key:          key,
		pin:          "123456",
		token:        bytes.Repeat([]byte{0x5A}, 32),
		minPinLength: 4,
		protocols:    []uint64{2, 1},
		options:      map[string]bool{"clientPin": true, "credMgmt": true},
	}
}

func (f *fakeAuthenticator) VendorID() uint16    { return 0x2E8A }
func (f *fakeAuthenticator) ProductID() uint16   { return 0x10FE }
func (f *fakeAuthenticator) ProductName() string { return "Pico Key" }

func (f *fakeAuthenticator) Close() error {
	f.closed++
	return nil
}

func (f *fakeAuthenticator) opener() Opener {
	return func() (Transport, error) { return f, nil }
}

func (f *fakeAuthenticator) client(opts ...Option) *Client {
	return New(append([]Option{WithOpener(f.opener()), WithLogger(testLogger())}, opts...)...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ctapError(code byte) error {
	return pferr.CTAP(code, "FIDO operation failed with status")
}

func (f *fakeAuthenticator) encode(v any) []byte {
	data, err := cbor.Marshal(v)
	require.NoError(f.t, err)
	return data
}

func (f *fakeAuthenticator) Send(cmd hid.Command, payload []byte) ([]byte, error) {
	f.sent = append(f.sent, sentMessage{cmd: cmd, payload: append([]byte(nil), payload...)})
	require.NotEmpty(f.t, payload)

	switch cmd {
	case hid.CmdVendorCBOR:
		return f.vendor(payload[0])
	case hid.CmdCBOR:
	default:
		f.t.Fatalf("unexpected CTAPHID command %s", cmd)
	}

	switch payload[0] {
	case ctapGetInfo:
		return f.encode(map[uint64]any{
			0x01: []string{"FIDO_2_0", "FIDO_2_1"},
			0x02: []string{"credProtect", "hmac-secret"},
			0x03: bytes.Repeat([]byte{0xAB}, 16),
			0x04: f.options,
			0x05: 1200,
			0x06: f.protocols,
			0x0D: f.minPinLength,
			0x0E: 0x0604,
		}), nil
	case ctapClientPIN:
		return f.clientPIN(payload[1:])
	case ctapConfig:
		return f.config(payload[1:])
	case ctapCredentialManagement, ctapCredentialManagementPreview:
		return f.credentialManagement(payload[1:])
	}
	return nil, ctapError(pferr.CTAPInvalidCommand)
}

func (f *fakeAuthenticator) vendor(sub byte) ([]byte, error) {
	switch sub {
	case vendorMemory:
		if f.memoryFails {
			return nil, ctapError(pferr.CTAPInvalidCommand)
		}
		return f.encode(map[uint64]uint64{1: 98, 2: 128 * 1024, 3: 1024 * 1024}), nil
	case vendorPhysicalOptions:
		if f.physicalFails {
			return nil, ctapError(pferr.CTAPInvalidCommand)
		}
		return f.encode(map[string]uint64{"gpio": 25, "brightness": 8}), nil
	}
	return nil, ctapError(pferr.CTAPInvalidCommand)
}

func (f *fakeAuthenticator) secret(req *clientPINRequest) *sec.SharedSecret {
	s, err := sec.DeriveSharedSecret(req.PinUvAuthProtocol, f.key, req.KeyAgreement)
	require.NoError(f.t, err)
	return s
}

func (f *fakeAuthenticator) checkPinHash(s *sec.SharedSecret, pinHashEnc []byte) error {
	hash, err := s.Decrypt(pinHashEnc)
	require.NoError(f.t, err)
	want := sha256.Sum256([]byte(f.pin))
	if !bytes.Equal(hash, want[:16]) {
		return ctapError(pferr.CTAPPinInvalid)
	}
	return nil
}

func (f *fakeAuthenticator) clientPIN(data []byte) ([]byte, error) {
	var req clientPINRequest
	require.NoError(f.t, cbor.Unmarshal(data, &req))

	switch req.SubCommand {
	case ClientPINGetRetries:
		return f.encode(map[uint64]uint64{3: 8}), nil
	case ClientPINGetKeyAgreement:
		platformKey, err := sec.NewCOSEKey(f.key.PublicKey())
		require.NoError(f.t, err)
		return f.encode(map[uint64]any{1: platformKey}), nil
	case ClientPINGetTokenUsingPinWithPerms, ClientPINGetPINToken:
		if req.SubCommand == ClientPINGetTokenUsingPinWithPerms && f.rejectPermissions {
			return nil, ctapError(pferr.CTAPInvalidCommand)
		}
		s := f.secret(&req)
		if err := f.checkPinHash(s, req.PinHashEnc); err != nil {
			return nil, err
		}
		enc, err := s.Encrypt(f.token)
		require.NoError(f.t, err)
		return f.encode(map[uint64]any{2: enc}), nil
	case ClientPINSetPIN, ClientPINChangePIN:
		s := f.secret(&req)
		message := req.NewPinEnc
		if req.SubCommand == ClientPINChangePIN {
			if err := f.checkPinHash(s, req.PinHashEnc); err != nil {
				return nil, err
			}
			message = append(append([]byte{}, req.NewPinEnc...), req.PinHashEnc...)
		}
		if !bytes.Equal(s.Authenticate(message), req.PinUvAuthParam) {
			return nil, ctapError(pferr.CTAPPinAuthInvalid)
		}
		padded, err := s.Decrypt(req.NewPinEnc)
		require.NoError(f.t, err)
		f.pin = string(bytes.TrimRight(padded, "\x00"))
		return nil, nil
	}
	return nil, ctapError(pferr.CTAPInvalidParameter)
}

func (f *fakeAuthenticator) config(data []byte) ([]byte, error) {
	var req configRequest
	require.NoError(f.t, cbor.Unmarshal(data, &req))
	if !bytes.Equal(sec.SignConfigCommand(f.token, byte(req.SubCommand), req.SubCommandParams), req.PinUvAuthParam) {
		return nil, ctapError(pferr.CTAPPinAuthInvalid)
	}

	params, err := cbor.Decode(req.SubCommandParams)
	require.NoError(f.t, err)
	switch req.SubCommand {
	case ConfigSetMinPINLength:
		_, n := cbor.MustBore[uint8](params, "u:1")
		if n < f.minPinLength {
			return nil, ctapError(pferr.CTAPPinPolicyViolation)
		}
		f.minPinLength = n
	case ConfigVendorPrototype:
		f.vendorConfigs = append(f.vendorConfigs, params.(map[any]any))
	default:
		return nil, ctapError(pferr.CTAPInvalidParameter)
	}
	return nil, nil
}

func (f *fakeAuthenticator) credentialManagement(data []byte) ([]byte, error) {
	var req credentialManagementRequest
	require.NoError(f.t, cbor.Unmarshal(data, &req))

	if req.SubCommand != CredMgmtEnumerateRPsGetNextRP && req.SubCommand != CredMgmtEnumerateCredentialsGetNextCred {
		message := append([]byte{byte(req.SubCommand)}, req.SubCommandParams...)
		if !bytes.Equal(sec.Authenticate(req.PinUvAuthProtocol, f.token, message), req.PinUvAuthParam) {
			return nil, ctapError(pferr.CTAPPinAuthInvalid)
		}
	}

	var params credentialManagementParams
	if len(req.SubCommandParams) > 0 {
		require.NoError(f.t, cbor.Unmarshal(req.SubCommandParams, &params))
	}

	switch req.SubCommand {
	case CredMgmtEnumerateRPsBegin:
		if len(f.rps) == 0 {
			return nil, ctapError(pferr.CTAPNoCredentials)
		}
		f.cursor = nil
		for _, rp := range f.rps[1:] {
			f.cursor = append(f.cursor, rpResponse(rp, 0))
		}
		return f.encode(rpResponse(f.rps[0], uint(len(f.rps)))), nil
	case CredMgmtEnumerateCredentialsBegin:
		for _, rp := range f.rps {
			if !bytes.Equal(rpHash(rp.rp.ID), params.RPIDHash) {
				continue
			}
			if len(rp.creds) == 0 {
				return nil, ctapError(pferr.CTAPNoCredentials)
			}
			f.cursor = nil
			for _, c := range rp.creds[1:] {
				f.cursor = append(f.cursor, c)
			}
			first := rp.creds[0]
			first.TotalCredentials = uint(len(rp.creds))
			return f.encode(first), nil
		}
		return nil, ctapError(pferr.CTAPNoCredentials)
	case CredMgmtEnumerateRPsGetNextRP, CredMgmtEnumerateCredentialsGetNextCred:
		require.NotEmpty(f.t, f.cursor)
		next := f.cursor[0]
		f.cursor = f.cursor[1:]
		return f.encode(next), nil
	case CredMgmtDeleteCredential:
		require.NotNil(f.t, params.CredentialID)
		require.Equal(f.t, publicKeyCredentialType, params.CredentialID.Type)
		f.deleted = append(f.deleted, params.CredentialID.ID)
		return nil, nil
	}
	return nil, ctapError(pferr.CTAPInvalidParameter)
}

func rpHash(id string) []byte {
	h := sha256.Sum256([]byte(id))
	return h[:]
}

func rpResponse(rp storedRP, total uint) credentialManagementResponse {
	r := rp.rp
	return credentialManagementResponse{RP: &r, RPIDHash: rpHash(rp.rp.ID), TotalRPs: total}
}

// sentConfig returns the payloads of authenticatorConfig requests.
func (f *fakeAuthenticator) sentConfig() [][]byte {
	var out [][]byte
	for _, m := range f.sent {
		if m.cmd == hid.CmdCBOR && m.payload[0] == ctapConfig {
			out = append(out, m.payload)
		}
	}
	return out
}
