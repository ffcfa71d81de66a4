// Package sec implements the PIN/UV auth protocols used to obtain and use
// PIN tokens.
package sec

import (
	"crypto/aes"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Supported PIN/UV auth protocol versions.
const (
	ProtocolOne uint8 = 1
	ProtocolTwo uint8 = 2
)

// pinPadSize is the padded length of a PIN sent to the authenticator
const pinPadSize = 64

// SharedSecret is the result of the key agreement with an authenticator.
type SharedSecret struct {
	// PlatformKey is sent back to the authenticator as keyAgreement.
	PlatformKey *COSEKey
	Protocol    uint8

	hmacKey []byte
	aesKey  []byte
	random  io.Reader
}

// NewSharedSecret generates an ephemeral platform key and derives the
// shared secret with peer according to the given protocol.
func NewSharedSecret(protocol uint8, peer *COSEKey) (*SharedSecret, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return DeriveSharedSecret(protocol, priv, peer)
}

// DeriveSharedSecret derives the shared secret between priv and peer. The
// authenticator side of the agreement uses it with its own key.
func DeriveSharedSecret(protocol uint8, priv *ecdh.PrivateKey, peer *COSEKey) (*SharedSecret, error) {
	peerKey, err := peer.PublicKey()
	if err != nil {
		return nil, err
	}
	return newSharedSecret(protocol, priv, peerKey)
}

func newSharedSecret(protocol uint8, priv *ecdh.PrivateKey, peer *ecdh.PublicKey) (*SharedSecret, error) {
	z, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("ECDH failed: %w", err)
	}
	platformKey, err := NewCOSEKey(priv.PublicKey())
	if err != nil {
		return nil, err
	}

	s := &SharedSecret{PlatformKey: platformKey, Protocol: protocol, random: rand.Reader}
	switch protocol {
	case ProtocolOne:
		secret := sha256.Sum256(z)
		s.hmacKey = secret[:]
		s.aesKey = secret[:]
	case ProtocolTwo:
		salt := make([]byte, 32)
		if s.hmacKey, err = deriveKey(z, salt, "CTAP2 HMAC key"); err != nil {
			return nil, err
		}
		if s.aesKey, err = deriveKey(z, salt, "CTAP2 AES key"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported PIN/UV auth protocol %d", protocol)
	}
	return s, nil
}

func deriveKey(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt encrypts a block-aligned plaintext. Protocol two prefixes a random
// IV to the ciphertext; protocol one uses an all-zero IV.
func (s *SharedSecret) Encrypt(plaintext []byte) ([]byte, error) {
	if s.Protocol == ProtocolOne {
		return EncryptAES256CBC(plaintext, s.aesKey, make([]byte, aes.BlockSize))
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(s.random, iv); err != nil {
		return nil, err
	}
	ct, err := EncryptAES256CBC(plaintext, s.aesKey, iv)
	if err != nil {
		return nil, err
	}
	return append(iv, ct...), nil
}

func (s *SharedSecret) Decrypt(ciphertext []byte) ([]byte, error) {
	if s.Protocol == ProtocolOne {
		return DecryptAES256CBC(ciphertext, s.aesKey, make([]byte, aes.BlockSize))
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return DecryptAES256CBC(ciphertext[aes.BlockSize:], s.aesKey, ciphertext[:aes.BlockSize])
}

// Authenticate computes a pinUvAuthParam over message with the shared
// secret's HMAC key.
func (s *SharedSecret) Authenticate(message []byte) []byte {
	return Authenticate(s.Protocol, s.hmacKey, message)
}

// EncryptPinHash returns pinHashEnc: the first 16 bytes of SHA-256(pin),
// encrypted.
func (s *SharedSecret) EncryptPinHash(pin string) ([]byte, error) {
	hash := sha256.Sum256([]byte(pin))
	return s.Encrypt(hash[:16])
}

// EncryptNewPin returns newPinEnc: the PIN zero-padded to 64 bytes,
// encrypted.
func (s *SharedSecret) EncryptNewPin(pin string) ([]byte, error) {
	if len(pin) > pinPadSize-1 {
		return nil, fmt.Errorf("PIN is longer than %d bytes", pinPadSize-1)
	}
	padded := make([]byte, pinPadSize)
	copy(padded, pin)
	return s.Encrypt(padded)
}

// Authenticate computes HMAC-SHA-256(key, message), truncated to 16 bytes
// for protocol one.
func Authenticate(protocol uint8, key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	sum := mac.Sum(nil)
	if protocol == ProtocolOne {
		return sum[:16]
	}
	return sum
}
