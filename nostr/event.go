package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"sealbox/crypto"
)

// Event kinds understood by the messaging engine.
const (
	// KindLegacyEncrypted is a single-layer encrypted direct message.
	KindLegacyEncrypted = 4
	// KindSeal is the signed middle envelope carrying an encrypted rumor.
	KindSeal = 13
	// KindChatMessage is the unsigned inner message record (rumor).
	KindChatMessage = 14
	// KindRelayList is the general relay preference record.
	KindRelayList = 10002
	// KindMessagingRelayList is the messaging-specific relay preference record.
	KindMessagingRelayList = 10050
	// KindGiftWrap is the anonymously signed outer envelope.
	KindGiftWrap = 1059
)

var (
	// ErrInvalidSignature indicates schnorr verification failed.
	ErrInvalidSignature = errors.New("nostr: invalid event signature")
	// ErrIDMismatch indicates the event ID does not match its canonical serialization.
	ErrIDMismatch = errors.New("nostr: event ID mismatch")
)

// Event is one record on the event network. A rumor is an Event that is never
// signed; every other use carries a schnorr signature over the event ID.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig,omitempty"`
}

// Serialize returns the canonical form used for ID computation:
// [0,pubkey,created_at,kind,tags,content] without HTML escaping.
func (e *Event) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content}); err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID returns the hex SHA-256 digest of the canonical serialization.
// Content and tags are immutable once an ID has been attached.
func (e *Event) ComputeID() (string, error) {
	raw, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Sign sets the author to the secret key's x-only public key, computes the
// event ID, and attaches a BIP-340 schnorr signature.
func (e *Event) Sign(secretHex string) error {
	secret, err := crypto.ParseSecretKey(secretHex)
	if err != nil {
		return err
	}
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(secret.PubKey()))

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id

	digest, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decode event ID: %w", err)
	}
	sig, err := schnorr.Sign(secret, digest)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify recomputes the event ID and checks the schnorr signature against the
// event author.
func (e *Event) Verify() error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	if id != e.ID {
		return ErrIDMismatch
	}

	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return fmt.Errorf("decode event author: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("parse event author: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("decode event signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parse event signature: %w", err)
	}

	digest, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decode event ID: %w", err)
	}
	if !sig.Verify(digest, pub) {
		return ErrInvalidSignature
	}
	return nil
}
