package signer

import (
	"fmt"

	"sealbox/crypto"
	"sealbox/nostr"
)

// LocalKey is a capability backed by an in-process secret key. It implements
// both the layered and legacy encryption methods.
type LocalKey struct {
	secretHex string
	publicHex string
}

// NewLocalKey validates the secret key and derives its public half.
func NewLocalKey(secretHex string) (*LocalKey, error) {
	publicHex, err := crypto.PublicKeyOf(secretHex)
	if err != nil {
		return nil, fmt.Errorf("local key: %w", err)
	}
	return &LocalKey{secretHex: secretHex, publicHex: publicHex}, nil
}

// Name identifies the capability in logs.
func (k *LocalKey) Name() string { return "local" }

// PublicKey returns the x-only hex public key.
func (k *LocalKey) PublicKey() (string, error) { return k.publicHex, nil }

// Methods lists the supported encryption method names.
func (k *LocalKey) Methods() []string { return []string{MethodNIP44, MethodNIP04} }

// SignEvent signs with the local secret key.
func (k *LocalKey) SignEvent(ev *nostr.Event) error {
	return ev.Sign(k.secretHex)
}

// Encrypt seals plaintext to a peer.
func (k *LocalKey) Encrypt(peerPublic, plaintext, method string) (string, error) {
	switch method {
	case MethodNIP44:
		key, err := crypto.ConversationKey(k.secretHex, peerPublic)
		if err != nil {
			return "", err
		}
		return crypto.EncryptNIP44(plaintext, key)
	case MethodNIP04:
		return crypto.EncryptNIP04(plaintext, k.secretHex, peerPublic)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
}

// Decrypt opens ciphertext from a peer.
func (k *LocalKey) Decrypt(peerPublic, ciphertext, method string) (string, error) {
	switch method {
	case MethodNIP44:
		key, err := crypto.ConversationKey(k.secretHex, peerPublic)
		if err != nil {
			return "", err
		}
		return crypto.DecryptNIP44(ciphertext, key)
	case MethodNIP04:
		return crypto.DecryptNIP04(ciphertext, k.secretHex, peerPublic)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
}
