package sec

import (
	"crypto/ecdh"
	"fmt"
)

// COSE identifiers used by the PIN/UV auth key agreement.
const (
	// COSEKeyTypeEC2 is a double coordinate curve key
	COSEKeyTypeEC2 = 2
	// COSEAlgECDHESHKDF256 is ECDH-ES + HKDF-256
	COSEAlgECDHESHKDF256 = -25
	// COSECurveP256 is NIST P-256
	COSECurveP256 = 1
)

// COSEKey is an EC2 public key as exchanged by authenticatorClientPIN.
type COSEKey struct {
	KeyType   int    `cbor:"1,keyasint"`
	Algorithm int    `cbor:"3,keyasint"`
	Curve     int    `cbor:"-1,keyasint"`
	X         []byte `cbor:"-2,keyasint"`
	Y         []byte `cbor:"-3,keyasint"`
}

// NewCOSEKey wraps a P-256 public key.
func NewCOSEKey(pub *ecdh.PublicKey) (*COSEKey, error) {
	data := pub.Bytes()
	if len(data) != 65 || data[0] != 0x04 {
		return nil, fmt.Errorf("P256: invalid public key")
	}
	return &COSEKey{
		KeyType:   COSEKeyTypeEC2,
		Algorithm: COSEAlgECDHESHKDF256,
		Curve:     COSECurveP256,
		X:         data[1:33],
		Y:         data[33:65],
	}, nil
}

// PublicKey returns the key as an ECDH P-256 public key.
func (k *COSEKey) PublicKey() (*ecdh.PublicKey, error) {
	if k.KeyType != COSEKeyTypeEC2 {
		return nil, fmt.Errorf("P256: invalid key type %d", k.KeyType)
	}
	if k.Curve != COSECurveP256 {
		return nil, fmt.Errorf("P256: invalid curve type %d", k.Curve)
	}
	if len(k.X) != 32 || len(k.Y) != 32 {
		return nil, fmt.Errorf("P256: invalid coordinates")
	}
	data := make([]byte, 0, 65)
	data = append(data, 0x04)
	data = append(data, k.X...)
	data = append(data, k.Y...)
	return ecdh.P256().NewPublicKey(data)
}
