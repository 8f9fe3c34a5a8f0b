package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const secp256k1PrivatePEMType = "SECP256K1 PRIVATE KEY"

const secretKeySize = 32

// GenerateKeypair creates a fresh secp256k1 keypair and returns both halves as
// hex: the 32-byte secret and the 32-byte x-only public key.
func GenerateKeypair() (secretHex, publicHex string, err error) {
	secret, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return hex.EncodeToString(secret.Serialize()),
		hex.EncodeToString(schnorr.SerializePubKey(secret.PubKey())),
		nil
}

// ParseSecretKey decodes a 32-byte hex secret key.
func ParseSecretKey(secretHex string) (*secp256k1.PrivateKey, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != secretKeySize {
		return nil, fmt.Errorf("invalid secret key size: got %d want %d", len(raw), secretKeySize)
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

// ParsePublicKey decodes a 32-byte x-only hex public key into a full point.
// The even-Y candidate is used, matching how x-only keys are produced.
func ParsePublicKey(publicHex string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(publicHex)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != secretKeySize {
		return nil, fmt.Errorf("invalid public key size: got %d want %d", len(raw), secretKeySize)
	}

	compressed := make([]byte, 0, 33)
	compressed = append(compressed, 0x02)
	compressed = append(compressed, raw...)
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// PublicKeyOf returns the x-only hex public key for a hex secret key.
func PublicKeyOf(secretHex string) (string, error) {
	secret, err := ParseSecretKey(secretHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(schnorr.SerializePubKey(secret.PubKey())), nil
}

// EnsureSecretKey loads the identity secret key from disk, generating it on
// first run.
func EnsureSecretKey(path string) (string, error) {
	secretHex, err := LoadSecretKey(path)
	if err == nil {
		return secretHex, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	secretHex, _, err = GenerateKeypair()
	if err != nil {
		return "", err
	}
	if err := SaveSecretKey(path, secretHex); err != nil {
		return "", err
	}

	return secretHex, nil
}

// LoadSecretKey reads a secp256k1 secret key from PEM.
func LoadSecretKey(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return "", fmt.Errorf("decode secret key PEM: no PEM block")
	}
	if block.Type != secp256k1PrivatePEMType {
		return "", fmt.Errorf("decode secret key PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != secretKeySize {
		return "", fmt.Errorf("decode secret key PEM: invalid key size %d", len(block.Bytes))
	}

	return hex.EncodeToString(block.Bytes), nil
}

// SaveSecretKey writes a secp256k1 secret key PEM file with 0600 permissions.
func SaveSecretKey(path, secretHex string) error {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != secretKeySize {
		return fmt.Errorf("save secret key: invalid key size %d", len(raw))
	}

	block := &pem.Block{
		Type:  secp256k1PrivatePEMType,
		Bytes: raw,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write secret key: %w", err)
	}

	return nil
}

// KeyFingerprint returns the truncated SHA-256 hex fingerprint of an x-only
// hex public key, for display alongside the full key.
func KeyFingerprint(publicHex string) string {
	raw, err := hex.DecodeString(publicHex)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
