package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// Versioned payload layout: version || nonce || ciphertext || mac.
const (
	nip44Version      = 0x02
	nip44NonceSize    = 32
	nip44MACSize      = 32
	nip44MinPlaintext = 1
	nip44MaxPlaintext = 65535
)

var (
	// ErrUnsupportedEncryption indicates a payload version this package cannot
	// decrypt.
	ErrUnsupportedEncryption = errors.New("crypto: unsupported encryption version")
	// ErrInvalidPayload indicates a malformed encrypted payload.
	ErrInvalidPayload = errors.New("crypto: invalid encrypted payload")
	// ErrAuthFailed indicates the payload MAC did not verify.
	ErrAuthFailed = errors.New("crypto: payload authentication failed")
)

// ConversationKey derives the long-lived symmetric key both parties compute
// for a conversation: HKDF-extract over the ECDH shared x coordinate with a
// fixed salt. The result is identical in either direction.
func ConversationKey(secretHex, publicHex string) ([]byte, error) {
	secret, err := ParseSecretKey(secretHex)
	if err != nil {
		return nil, err
	}
	public, err := ParsePublicKey(publicHex)
	if err != nil {
		return nil, err
	}

	shared := secp256k1.GenerateSharedSecret(secret, public)
	return hkdf.Extract(sha256.New, shared, []byte("nip44-v2")), nil
}

// messageKeys expands a conversation key and per-message nonce into the
// cipher key, cipher nonce, and MAC key.
func messageKeys(conversationKey, nonce []byte) (chachaKey, chachaNonce, macKey []byte, err error) {
	if len(conversationKey) != 32 {
		return nil, nil, nil, fmt.Errorf("invalid conversation key size: %d", len(conversationKey))
	}
	if len(nonce) != nip44NonceSize {
		return nil, nil, nil, fmt.Errorf("invalid nonce size: %d", len(nonce))
	}

	expanded := make([]byte, 76)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, conversationKey, nonce), expanded); err != nil {
		return nil, nil, nil, fmt.Errorf("expand message keys: %w", err)
	}
	return expanded[0:32], expanded[32:44], expanded[44:76], nil
}

// paddedSize returns the padded length for a plaintext: small messages share
// a 32-byte bucket, larger ones round up to a power-of-two derived chunk so
// length leaks little about content.
func paddedSize(unpadded int) int {
	if unpadded <= 32 {
		return 32
	}
	nextPower := 1 << (bits.Len(uint(unpadded-1)))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((unpadded-1)/chunk + 1)
}

// pad prefixes the plaintext with its big-endian length and zero-fills to the
// bucket size.
func pad(plaintext []byte) ([]byte, error) {
	if len(plaintext) < nip44MinPlaintext || len(plaintext) > nip44MaxPlaintext {
		return nil, fmt.Errorf("%w: plaintext size %d", ErrInvalidPayload, len(plaintext))
	}
	padded := make([]byte, 2+paddedSize(len(plaintext)))
	binary.BigEndian.PutUint16(padded[0:2], uint16(len(plaintext)))
	copy(padded[2:], plaintext)
	return padded, nil
}

// unpad recovers the plaintext and rejects any padding inconsistency.
func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrInvalidPayload
	}
	size := int(binary.BigEndian.Uint16(padded[0:2]))
	if size < nip44MinPlaintext || size > nip44MaxPlaintext {
		return nil, ErrInvalidPayload
	}
	if len(padded) != 2+paddedSize(size) {
		return nil, ErrInvalidPayload
	}
	return padded[2 : 2+size], nil
}

// EncryptNIP44 seals a plaintext under a conversation key: fresh 32-byte
// nonce, ChaCha20 over the padded plaintext, HMAC-SHA256 over nonce and
// ciphertext, all base64-encoded behind a version byte.
func EncryptNIP44(plaintext string, conversationKey []byte) (string, error) {
	nonce := make([]byte, nip44NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return encryptNIP44(plaintext, conversationKey, nonce)
}

func encryptNIP44(plaintext string, conversationKey, nonce []byte) (string, error) {
	chachaKey, chachaNonce, macKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(nonce)
	mac.Write(ciphertext)

	payload := make([]byte, 0, 1+nip44NonceSize+len(ciphertext)+nip44MACSize)
	payload = append(payload, nip44Version)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	payload = mac.Sum(payload)

	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptNIP44 opens a payload under a conversation key, verifying the MAC
// before touching the ciphertext.
func DecryptNIP44(payload string, conversationKey []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrInvalidPayload
	}
	if payload[0] == '#' {
		return "", ErrUnsupportedEncryption
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(raw) < 1+nip44NonceSize+2+32+nip44MACSize {
		return "", ErrInvalidPayload
	}
	if raw[0] != nip44Version {
		return "", ErrUnsupportedEncryption
	}

	nonce := raw[1 : 1+nip44NonceSize]
	ciphertext := raw[1+nip44NonceSize : len(raw)-nip44MACSize]
	gotMAC := raw[len(raw)-nip44MACSize:]

	chachaKey, chachaNonce, macKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, macKey)
	mac.Write(nonce)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), gotMAC) {
		return "", ErrAuthFailed
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	stream.XORKeyStream(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
