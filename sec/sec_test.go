package sec

import (
	"bytes"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairSecrets(t *testing.T, protocol uint8) (platform, authenticator *SharedSecret) {
	platformKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	authenticatorKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	platform, err = newSharedSecret(protocol, platformKey, authenticatorKey.PublicKey())
	require.NoError(t, err)
	authenticator, err = newSharedSecret(protocol, authenticatorKey, platformKey.PublicKey())
	require.NoError(t, err)
	return
}

func TestSharedSecretRoundTrip(t *testing.T) {
	for _, protocol := range []uint8{ProtocolOne, ProtocolTwo} {
		platform, authenticator := pairSecrets(t, protocol)

		token := bytes.Repeat([]byte{0xA5}, 32)
		enc, err := authenticator.Encrypt(token)
		require.NoError(t, err)
		dec, err := platform.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, token, dec, "protocol %d", protocol)

		msg := []byte("pinUvAuthParam")
		assert.Equal(t, authenticator.Authenticate(msg), platform.Authenticate(msg))
	}
}

func TestProtocolShapes(t *testing.T) {
	one, _ := pairSecrets(t, ProtocolOne)
	two, _ := pairSecrets(t, ProtocolTwo)

	enc, err := one.Encrypt(make([]byte, 16))
	require.NoError(t, err)
	assert.Len(t, enc, 16)
	assert.Len(t, one.Authenticate([]byte{1}), 16)

	enc, err = two.Encrypt(make([]byte, 16))
	require.NoError(t, err)
	assert.Len(t, enc, 32, "IV is prefixed")
	assert.Len(t, two.Authenticate([]byte{1}), 32)
}

func TestUnsupportedProtocol(t *testing.T) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = newSharedSecret(3, key, key.PublicKey())
	assert.ErrorContains(t, err, "unsupported PIN/UV auth protocol 3")
}

func TestPinEncryption(t *testing.T) {
	platform, authenticator := pairSecrets(t, ProtocolOne)

	hashEnc, err := platform.EncryptPinHash("123456")
	require.NoError(t, err)
	hash, err := authenticator.Decrypt(hashEnc)
	require.NoError(t, err)
	full := sha256.Sum256([]byte("123456"))
	assert.Equal(t, full[:16], hash)

	pinEnc, err := platform.EncryptNewPin("987654")
	require.NoError(t, err)
	assert.Len(t, pinEnc, 64)
	padded, err := authenticator.Decrypt(pinEnc)
	require.NoError(t, err)
	assert.Equal(t, []byte("987654"), bytes.TrimRight(padded, "\x00"))

	_, err = platform.EncryptNewPin(string(bytes.Repeat([]byte{'1'}, 64)))
	assert.Error(t, err)
}

func TestCOSEKeyConversion(t *testing.T) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	cose, err := NewCOSEKey(key.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, COSEKeyTypeEC2, cose.KeyType)
	assert.Equal(t, COSEAlgECDHESHKDF256, cose.Algorithm)
	assert.Len(t, cose.X, 32)

	pub, err := cose.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(key.PublicKey()))

	cose.Curve = 2
	_, err = cose.PublicKey()
	assert.Error(t, err)
}

func TestAuthenticateVector(t *testing.T) {
	// RFC 4231 test case 2
	expected, _ := hex.DecodeString("5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843")
	msg := []byte("what do ya want for nothing?")

	assert.Equal(t, expected, Authenticate(ProtocolTwo, []byte("Jefe"), msg))
	assert.Equal(t, expected[:16], Authenticate(ProtocolOne, []byte("Jefe"), msg))
}

func TestSignConfigCommand(t *testing.T) {
	token := bytes.Repeat([]byte{0x11}, 32)
	subParams := []byte{0xA1, 0x01, 0x06}

	mac := hmac.New(sha256.New, token)
	mac.Write(bytes.Repeat([]byte{0xFF}, 32))
	mac.Write([]byte{0x0D, 0x03})
	mac.Write(subParams)
	expected := mac.Sum(nil)[:16]

	sig := SignConfigCommand(token, 0x03, subParams)
	assert.Len(t, sig, 16)
	assert.Equal(t, expected, sig)
	assert.NotEqual(t, sig, SignConfigCommand(token, 0xFF, subParams))
}

func TestAESRejectsUnalignedInput(t *testing.T) {
	key := make([]byte, 32)
	_, err := EncryptAES256CBC(make([]byte, 15), key, make([]byte, 16))
	assert.Error(t, err)
}
