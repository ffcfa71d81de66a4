package fido

import "fmt"

// Authenticator API commands, sent as the first byte of a CTAPHID_CBOR
// payload.
const (
	ctapGetInfo                     byte = 0x04
	ctapClientPIN                   byte = 0x06
	ctapCredentialManagement        byte = 0x0A
	ctapConfig                      byte = 0x0D
	ctapCredentialManagementPreview byte = 0x41
)

// GetInfo markers of credential management support.
const (
	credentialManagementOption        = "credMgmt"
	credentialManagementPreviewOption = "credentialMgmtPreview"
)

// Vendor sub-protocol selectors, sent as the first byte of a vendor CBOR
// payload.
const (
	vendorPhysicalOptions byte = 0x05
	vendorMemory          byte = 0x06

	vendorGetOptions byte = 0x01
	vendorGetStats   byte = 0x01
)

// Keys of the vendor memory statistics reply.
const (
	memoryUsedSpace  = 0x02
	memoryTotalSpace = 0x03
)

// ConfigSubCommand selects the authenticatorConfig operation.
type ConfigSubCommand byte

const (
	ConfigEnableEnterpriseAttestation ConfigSubCommand = 0x01
	ConfigToggleAlwaysUV              ConfigSubCommand = 0x02
	ConfigSetMinPINLength             ConfigSubCommand = 0x03
	ConfigVendorPrototype             ConfigSubCommand = 0xFF
)

// ClientPINSubCommand selects the authenticatorClientPIN operation.
type ClientPINSubCommand byte

const (
	ClientPINGetRetries                ClientPINSubCommand = 0x01
	ClientPINGetKeyAgreement           ClientPINSubCommand = 0x02
	ClientPINSetPIN                    ClientPINSubCommand = 0x03
	ClientPINChangePIN                 ClientPINSubCommand = 0x04
	ClientPINGetPINToken               ClientPINSubCommand = 0x05
	ClientPINGetTokenUsingPinWithPerms ClientPINSubCommand = 0x09
)

// Permission is the pinUvAuthToken permission bitmask.
type Permission uint8

const (
	PermissionMakeCredential             Permission = 0x01
	PermissionGetAssertion               Permission = 0x02
	PermissionCredentialManagement       Permission = 0x04
	PermissionBioEnrollment              Permission = 0x08
	PermissionLargeBlobWrite             Permission = 0x10
	PermissionAuthenticatorConfiguration Permission = 0x20
)

// CredentialManagementSubCommand selects the credential management operation.
type CredentialManagementSubCommand byte

const (
	CredMgmtGetCredsMetadata                CredentialManagementSubCommand = 0x01
	CredMgmtEnumerateRPsBegin               CredentialManagementSubCommand = 0x02
	CredMgmtEnumerateRPsGetNextRP           CredentialManagementSubCommand = 0x03
	CredMgmtEnumerateCredentialsBegin       CredentialManagementSubCommand = 0x04
	CredMgmtEnumerateCredentialsGetNextCred CredentialManagementSubCommand = 0x05
	CredMgmtDeleteCredential                CredentialManagementSubCommand = 0x06
)

// VendorConfigCommand is a vendor prototype authenticatorConfig command,
// identified on the wire by a 64-bit value.
type VendorConfigCommand uint8

const (
	VendorAuthEncryptionEnable VendorConfigCommand = iota + 1
	VendorAuthEncryptionDisable
	VendorEnterpriseAttestationUpload
	VendorPinComplexityPolicy
	VendorPhysicalVidPid
	VendorPhysicalLedBrightness
	VendorPhysicalLedGpio
	VendorPhysicalOptions
)

var vendorConfigCommands = map[VendorConfigCommand]struct {
	id   uint64
	name string
}{
	VendorAuthEncryptionEnable:        {0x03e43f56b34285e2, "AuthEncryptionEnable"},
	VendorAuthEncryptionDisable:       {0x1831a40f04a25ed9, "AuthEncryptionDisable"},
	VendorEnterpriseAttestationUpload: {0x66f2a674c29a8dcf, "EnterpriseAttestationUpload"},
	VendorPinComplexityPolicy:         {0x6c07d70fe96c3897, "PinComplexityPolicy"},
	VendorPhysicalVidPid:              {0x6fcb19b0cbe3acfa, "PhysicalVidPid"},
	VendorPhysicalLedBrightness:       {0x76a85945985d02fd, "PhysicalLedBrightness"},
	VendorPhysicalLedGpio:             {0x7b392a394de9f948, "PhysicalLedGpio"},
	VendorPhysicalOptions:             {0x269f3b09eceb805f, "PhysicalOptions"},
}

// ID returns the 64-bit wire identifier, or zero for an unknown command.
func (c VendorConfigCommand) ID() uint64 {
	return vendorConfigCommands[c].id
}

func (c VendorConfigCommand) String() string {
	if v, ok := vendorConfigCommands[c]; ok {
		return v.name
	}
	return fmt.Sprintf("VendorConfigCommand(%d)", uint8(c))
}

// VendorConfigCommandFromID looks a command up by its wire identifier.
func VendorConfigCommandFromID(id uint64) (VendorConfigCommand, bool) {
	for c, v := range vendorConfigCommands {
		if v.id == id {
			return c, true
		}
	}
	return 0, false
}
