// Package dm implements the private direct-messaging engine: the layered
// rumor/seal/gift-wrap pipeline for outbound messages, the unwrap pipeline
// for inbound ones, relay resolution, the live inbox, and the single-envelope
// legacy channel.
package dm

import (
	"errors"
	"time"

	"sealbox/nostr"
)

// Protocol labels which encryption scheme produced a message.
type Protocol string

const (
	// ProtocolLayered marks messages carried by the rumor/seal/gift-wrap
	// pipeline.
	ProtocolLayered Protocol = "nip17"
	// ProtocolLegacy marks single-envelope fallback messages.
	ProtocolLegacy Protocol = "nip04"
)

var (
	// ErrNotAuthenticated indicates no active identity.
	ErrNotAuthenticated = errors.New("dm: no active identity")
	// ErrCapability indicates the active identity cannot perform the
	// encryption the operation needs.
	ErrCapability = errors.New("dm: encryption method not available")
	// ErrEmptyMessage indicates a send with no content.
	ErrEmptyMessage = errors.New("dm: empty message")
	// ErrNetwork indicates endpoint resolution or delivery failed.
	ErrNetwork = errors.New("dm: network failure")
	// errImpersonation marks a rumor whose claimed author differs from the
	// seal that carries it. Such messages are dropped, never surfaced.
	errImpersonation = errors.New("dm: seal and rumor author differ")
)

// Message is the decrypted projection handed to the application.
type Message struct {
	// ID is the rumor's content-addressed identifier, or the transport
	// identifier for messages that lack one.
	ID string
	// Sender is the resolved author.
	Sender string
	// Counterparty is the other side of the conversation from the reader's
	// point of view. For received messages it equals Sender; for the
	// reader's own copies it is the recipient.
	Counterparty string
	Content      string
	Tags         nostr.Tags
	CreatedAt    time.Time
	Protocol     Protocol
}
