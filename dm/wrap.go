package dm

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"sealbox/crypto"
	"sealbox/nostr"
	"sealbox/signer"
)

// timestampWindow bounds how far into the past seal and gift-wrap timestamps
// are randomized to blunt timing correlation.
const timestampWindow = 2 * 24 * time.Hour

// randomPastTimestamp picks uniformly from the window ending at now. Each
// envelope gets its own draw.
func randomPastTimestamp() int64 {
	return time.Now().Unix() - rand.Int64N(int64(timestampWindow/time.Second))
}

// buildRumor constructs the unsigned inner message record and attaches its
// content-addressed identifier. Rumors are never signed and never transmitted
// on their own.
func buildRumor(sender, recipient, plaintext string, extra nostr.Tags) (*nostr.Event, error) {
	tags := make(nostr.Tags, 0, len(extra)+1)
	tags = append(tags, nostr.Tag{"p", recipient})
	tags = append(tags, extra...)

	rumor := &nostr.Event{
		PubKey:    sender,
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindChatMessage,
		Tags:      tags,
		Content:   plaintext,
	}
	id, err := rumor.ComputeID()
	if err != nil {
		return nil, fmt.Errorf("hash rumor: %w", err)
	}
	rumor.ID = id
	return rumor, nil
}

// buildSeal encrypts the rumor to the reader and signs the envelope with the
// sender's real identity. The tag list stays empty so the envelope leaks no
// metadata, and the timestamp is randomized.
func buildSeal(gateway Gateway, rumor *nostr.Event, reader string) (*nostr.Event, error) {
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, fmt.Errorf("serialize rumor: %w", err)
	}

	sealed, err := gateway.Encrypt(reader, string(rumorJSON), signer.MethodNIP44)
	if err != nil {
		return nil, fmt.Errorf("encrypt rumor: %w", err)
	}
	if sealed.Method != signer.MethodNIP44 {
		return nil, fmt.Errorf("%w: got %s for seal encryption", ErrCapability, sealed.Method)
	}

	seal := &nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      nostr.KindSeal,
		Tags:      nostr.Tags{},
		Content:   sealed.Ciphertext,
	}
	if err := gateway.SignEvent(seal); err != nil {
		return nil, fmt.Errorf("sign seal: %w", err)
	}
	return seal, nil
}

// buildGiftWrap encrypts the seal to the reader under a fresh single-use key
// and signs with that key. The ephemeral secret never leaves this function.
func buildGiftWrap(seal *nostr.Event, reader string) (*nostr.Event, error) {
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("serialize seal: %w", err)
	}

	ephemeralSecret, _, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	conversationKey, err := crypto.ConversationKey(ephemeralSecret, reader)
	if err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}
	ciphertext, err := crypto.EncryptNIP44(string(sealJSON), conversationKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt seal: %w", err)
	}

	wrap := &nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      nostr.KindGiftWrap,
		Tags:      nostr.Tags{{"p", reader}},
		Content:   ciphertext,
	}
	if err := wrap.Sign(ephemeralSecret); err != nil {
		return nil, fmt.Errorf("sign gift wrap: %w", err)
	}
	return wrap, nil
}

// wrapRumor runs the two outer layers for one reader: seal to the reader,
// then gift-wrap the seal.
func wrapRumor(gateway Gateway, rumor *nostr.Event, reader string) (*nostr.Event, error) {
	seal, err := buildSeal(gateway, rumor, reader)
	if err != nil {
		return nil, err
	}
	return buildGiftWrap(seal, reader)
}
