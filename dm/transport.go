package dm

import (
	"context"

	"sealbox/nostr"
	"sealbox/signer"
)

// Publisher delivers an event to a set of relays, succeeding if at least one
// accepts it.
type Publisher interface {
	Publish(ctx context.Context, urls []string, ev *nostr.Event) error
}

// Fetcher retrieves stored events matching the filters. Failures degrade to
// fewer results.
type Fetcher interface {
	Fetch(ctx context.Context, urls []string, filters ...nostr.Filter) []*nostr.Event
}

// EventStream is a live event feed with explicit termination.
type EventStream interface {
	// Events yields inbound events. The channel closes after Stop.
	Events() <-chan *nostr.Event
	// Stop ends the stream. Idempotent.
	Stop()
}

// Subscriber opens live queries against a set of relays.
type Subscriber interface {
	Subscribe(ctx context.Context, urls []string, filters ...nostr.Filter) (EventStream, error)
}

// Gateway is the encryption capability surface the engine consumes. The
// engine never sees secret keys; it requests operations by method name and
// must not silently accept a different method than the one it asked for.
type Gateway interface {
	PublicKey() (string, error)
	Supports(method string) bool
	SignEvent(ev *nostr.Event) error
	Encrypt(peerPublic, plaintext, method string) (signer.Encrypted, error)
	Decrypt(peerPublic, ciphertext, method string) (string, error)
}
