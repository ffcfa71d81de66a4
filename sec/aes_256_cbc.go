package sec

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// maxCipherInput bounds what PIN protocols ever encrypt: a 64-byte padded
// PIN, a 16-byte PIN hash or a 32-byte token, plus an IV.
const maxCipherInput = 4096

func EncryptAES256CBC(data, key, iv []byte) ([]byte, error) {
	if len(data) > maxCipherInput {
		return nil, errors.New("data is too large")
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("data is not a multiple of the block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	ciphertext := make([]byte, len(data))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, data)
	return ciphertext, nil
}

func DecryptAES256CBC(data, key, iv []byte) ([]byte, error) {
	if len(data) > maxCipherInput {
		return nil, errors.New("data is too large")
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("data is not a multiple of the block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(data))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, data)
	return plaintext, nil
}
