package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// legacySharedKey is the AES-256 key for the legacy scheme: the raw ECDH x
// coordinate, unhashed.
func legacySharedKey(secretHex, publicHex string) ([]byte, error) {
	secret, err := ParseSecretKey(secretHex)
	if err != nil {
		return nil, err
	}
	public, err := ParsePublicKey(publicHex)
	if err != nil {
		return nil, err
	}
	return secp256k1.GenerateSharedSecret(secret, public), nil
}

// EncryptNIP04 seals a plaintext with the legacy AES-256-CBC scheme and
// returns "base64(ciphertext)?iv=base64(iv)".
func EncryptNIP04(plaintext, secretHex, publicHex string) (string, error) {
	key, err := legacySharedKey(secretHex, publicHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init legacy cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) +
		"?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptNIP04 opens a legacy "ciphertext?iv=iv" payload.
func DecryptNIP04(payload, secretHex, publicHex string) (string, error) {
	ctPart, ivPart, found := strings.Cut(payload, "?iv=")
	if !found {
		return "", fmt.Errorf("%w: missing IV", ErrInvalidPayload)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: IV size %d", ErrInvalidPayload, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext size %d", ErrInvalidPayload, len(ciphertext))
	}

	key, err := legacySharedKey(secretHex, publicHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init legacy cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPayload
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidPayload
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPayload
		}
	}
	return data[:len(data)-padLen], nil
}
