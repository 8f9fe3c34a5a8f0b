// Package signer provides the encryption gateway: an ordered set of signing
// capabilities (local key, and in the future remote or hardware signers)
// behind one interface keyed by encryption method name.
package signer

import (
	"errors"
	"fmt"

	"sealbox/nostr"
)

// Encryption method names.
const (
	// MethodNIP44 is the layered-protocol encryption scheme.
	MethodNIP44 = "nip44"
	// MethodNIP04 is the legacy single-envelope scheme.
	MethodNIP04 = "nip04"
)

var (
	// ErrNoIdentity indicates no signing capability is configured.
	ErrNoIdentity = errors.New("signer: no active identity")
	// ErrUnsupportedMethod indicates no capability implements the requested
	// encryption method.
	ErrUnsupportedMethod = errors.New("signer: encryption method not supported")
)

// Capability is one signing backend. Implementations must be safe for
// concurrent use.
type Capability interface {
	// Name identifies the capability in logs.
	Name() string
	// PublicKey returns the x-only hex public key of the identity.
	PublicKey() (string, error)
	// Methods lists the encryption method names this capability implements.
	Methods() []string
	// SignEvent computes the event ID and signature in place.
	SignEvent(ev *nostr.Event) error
	// Encrypt seals plaintext to a peer using the named method.
	Encrypt(peerPublic, plaintext, method string) (string, error)
	// Decrypt opens ciphertext from a peer using the named method.
	Decrypt(peerPublic, ciphertext, method string) (string, error)
}

// Encrypted is the result of a gateway encryption: the ciphertext and the
// method that actually produced it, so callers can detect a downgrade.
type Encrypted struct {
	Ciphertext string
	Method     string
}

// Gateway fans requests out to capabilities in priority order. The first
// capability that supports the requested method and succeeds wins; later ones
// are only tried after a failure.
type Gateway struct {
	capabilities []Capability
}

// NewGateway builds a gateway over capabilities in priority order.
func NewGateway(capabilities ...Capability) *Gateway {
	return &Gateway{capabilities: capabilities}
}

// PublicKey returns the active identity: the first capability's public key.
func (g *Gateway) PublicKey() (string, error) {
	if len(g.capabilities) == 0 {
		return "", ErrNoIdentity
	}
	return g.capabilities[0].PublicKey()
}

// Supports reports whether any capability implements the method.
func (g *Gateway) Supports(method string) bool {
	for _, c := range g.capabilities {
		if capabilityHasMethod(c, method) {
			return true
		}
	}
	return false
}

// SignEvent signs with the active identity.
func (g *Gateway) SignEvent(ev *nostr.Event) error {
	if len(g.capabilities) == 0 {
		return ErrNoIdentity
	}
	return g.capabilities[0].SignEvent(ev)
}

// Encrypt seals plaintext to a peer with the named method. The method is
// never substituted: if no capability implements it the call fails with
// ErrUnsupportedMethod rather than downgrading.
func (g *Gateway) Encrypt(peerPublic, plaintext, method string) (Encrypted, error) {
	if len(g.capabilities) == 0 {
		return Encrypted{}, ErrNoIdentity
	}

	var lastErr error
	tried := false
	for _, c := range g.capabilities {
		if !capabilityHasMethod(c, method) {
			continue
		}
		tried = true
		ciphertext, err := c.Encrypt(peerPublic, plaintext, method)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", c.Name(), err)
			continue
		}
		return Encrypted{Ciphertext: ciphertext, Method: method}, nil
	}

	if !tried {
		return Encrypted{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return Encrypted{}, fmt.Errorf("encrypt with %s: %w", method, lastErr)
}

// Decrypt opens ciphertext from a peer with the named method, trying
// capabilities in order until one succeeds.
func (g *Gateway) Decrypt(peerPublic, ciphertext, method string) (string, error) {
	if len(g.capabilities) == 0 {
		return "", ErrNoIdentity
	}

	var lastErr error
	tried := false
	for _, c := range g.capabilities {
		if !capabilityHasMethod(c, method) {
			continue
		}
		tried = true
		plaintext, err := c.Decrypt(peerPublic, ciphertext, method)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", c.Name(), err)
			continue
		}
		return plaintext, nil
	}

	if !tried {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return "", fmt.Errorf("decrypt with %s: %w", method, lastErr)
}

func capabilityHasMethod(c Capability, method string) bool {
	for _, m := range c.Methods() {
		if m == method {
			return true
		}
	}
	return false
}
