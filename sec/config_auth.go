package sec

import "bytes"

// authenticatorConfig command byte, part of the signed message
const ctapConfigCommand byte = 0x0D

// configAuthLength is the pinUvAuthParam length used for authenticatorConfig
const configAuthLength = 16

// SignConfigCommand computes the pinUvAuthParam of an authenticatorConfig
// request: HMAC-SHA-256(token, 32*0xff || 0x0d || subCmd || subParams),
// truncated to 16 bytes. subParams must be the exact bytes sent on the wire.
func SignConfigCommand(token []byte, subCmd byte, subParams []byte) []byte {
	message := make([]byte, 0, 34+len(subParams))
	message = append(message, bytes.Repeat([]byte{0xff}, 32)...)
	message = append(message, ctapConfigCommand, subCmd)
	message = append(message, subParams...)
	return Authenticate(ProtocolOne, token, message)[:configAuthLength]
}
