package fido

import (
	"github.com/phoeagon/picoforge/cbor"
	"github.com/phoeagon/picoforge/sec"
)

type clientPINRequest struct {
	PinUvAuthProtocol uint8               `cbor:"1,keyasint"`
	SubCommand        ClientPINSubCommand `cbor:"2,keyasint"`
	KeyAgreement      *sec.COSEKey        `cbor:"3,keyasint,omitempty"`
	PinUvAuthParam    []byte              `cbor:"4,keyasint,omitempty"`
	NewPinEnc         []byte              `cbor:"5,keyasint,omitempty"`
	PinHashEnc        []byte              `cbor:"6,keyasint,omitempty"`
	Permissions       Permission          `cbor:"9,keyasint,omitempty"`
	RPID              string              `cbor:"10,keyasint,omitempty"`
}

type clientPINResponse struct {
	KeyAgreement   *sec.COSEKey `cbor:"1,keyasint"`
	PinUvAuthToken []byte       `cbor:"2,keyasint"`
	PinRetries     uint         `cbor:"3,keyasint"`
}

// configRequest is an authenticatorConfig request. SubCommandParams holds
// the exact bytes that were signed.
type configRequest struct {
	SubCommand        ConfigSubCommand `cbor:"1,keyasint"`
	SubCommandParams  cbor.RawMessage  `cbor:"2,keyasint,omitempty"`
	PinUvAuthProtocol uint8            `cbor:"3,keyasint"`
	PinUvAuthParam    []byte           `cbor:"4,keyasint"`
}

type setMinPINLengthParams struct {
	NewMinPINLength uint8 `cbor:"1,keyasint"`
}

// vendorRequest is the argument map of vendor sub-protocol reads.
type vendorRequest struct {
	SubCommand byte `cbor:"1,keyasint"`
}

type relyingParty struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

type userEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
}

type credentialDescriptor struct {
	ID   []byte `cbor:"id"`
	Type string `cbor:"type"`
}

type credentialManagementRequest struct {
	SubCommand        CredentialManagementSubCommand `cbor:"1,keyasint"`
	SubCommandParams  cbor.RawMessage                `cbor:"2,keyasint,omitempty"`
	PinUvAuthProtocol uint8                          `cbor:"3,keyasint,omitempty"`
	PinUvAuthParam    []byte                         `cbor:"4,keyasint,omitempty"`
}

type credentialManagementParams struct {
	RPIDHash     []byte                `cbor:"1,keyasint,omitempty"`
	CredentialID *credentialDescriptor `cbor:"2,keyasint,omitempty"`
}

type credentialManagementResponse struct {
	RP               *relyingParty         `cbor:"3,keyasint"`
	RPIDHash         []byte                `cbor:"4,keyasint"`
	TotalRPs         uint                  `cbor:"5,keyasint"`
	User             *userEntity           `cbor:"6,keyasint"`
	CredentialID     *credentialDescriptor `cbor:"7,keyasint"`
	TotalCredentials uint                  `cbor:"9,keyasint"`
}

type enumeratedRelyingParty struct {
	RelyingParty relyingParty
	RPIDHash     []byte
}
