package dm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sealbox/crypto"
	"sealbox/logging"
	"sealbox/metrics"
	"sealbox/nostr"
	"sealbox/signer"
)

// Messenger builds and delivers layered messages.
type Messenger struct {
	gateway   Gateway
	publisher Publisher
	resolver  *Resolver
	log       logging.Logger
	counters  *metrics.Counters
}

// MessengerOptions configures a Messenger. Zero values get defaults.
type MessengerOptions struct {
	Logger   logging.Logger
	Counters *metrics.Counters
}

func (o MessengerOptions) withDefaults() MessengerOptions {
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Counters == nil {
		o.Counters = &metrics.Counters{}
	}
	return o
}

// NewMessenger wires the send pipeline.
func NewMessenger(gateway Gateway, publisher Publisher, resolver *Resolver, opts MessengerOptions) *Messenger {
	opts = opts.withDefaults()
	return &Messenger{
		gateway:   gateway,
		publisher: publisher,
		resolver:  resolver,
		log:       opts.Logger,
		counters:  opts.Counters,
	}
}

// Send delivers a layered message: rumor, seal, gift wrap, publish, then a
// best-effort self-addressed copy so other sessions of the sender see the
// message. Self-copy failure never fails the send.
func (m *Messenger) Send(ctx context.Context, recipient, plaintext string, extra ...nostr.Tag) (*Message, error) {
	sender, err := m.checkSendPreconditions(recipient, plaintext)
	if err != nil {
		return nil, err
	}

	rumor, err := buildRumor(sender, recipient, plaintext, extra)
	if err != nil {
		return nil, err
	}

	wrap, err := wrapRumor(m.gateway, rumor, recipient)
	if err != nil {
		return nil, err
	}

	urls := m.resolver.Resolve(ctx, recipient)
	if err := m.publisher.Publish(ctx, urls, wrap); err != nil {
		m.counters.PublishFailures.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	m.publishSelfCopy(ctx, rumor, sender)

	m.counters.MessagesSent.Add(1)
	return &Message{
		ID:           rumor.ID,
		Sender:       sender,
		Counterparty: recipient,
		Content:      plaintext,
		Tags:         rumor.Tags,
		CreatedAt:    time.Unix(rumor.CreatedAt, 0),
		Protocol:     ProtocolLayered,
	}, nil
}

// checkSendPreconditions validates identity, content, recipient, and layered
// encryption support before any network activity.
func (m *Messenger) checkSendPreconditions(recipient, plaintext string) (sender string, err error) {
	sender, err = m.gateway.PublicKey()
	if err != nil {
		if errors.Is(err, signer.ErrNoIdentity) {
			return "", ErrNotAuthenticated
		}
		return "", fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	if plaintext == "" {
		return "", ErrEmptyMessage
	}
	if _, err := crypto.ParsePublicKey(recipient); err != nil {
		return "", fmt.Errorf("dm: invalid recipient: %w", err)
	}
	if !m.gateway.Supports(signer.MethodNIP44) {
		return "", fmt.Errorf("%w: %s", ErrCapability, signer.MethodNIP44)
	}
	return sender, nil
}

// publishSelfCopy wraps the same rumor for the sender and delivers it to the
// sender's own relays. Runs after the primary publish; every failure is
// logged and absorbed.
func (m *Messenger) publishSelfCopy(ctx context.Context, rumor *nostr.Event, sender string) {
	selfWrap, err := wrapRumor(m.gateway, rumor, sender)
	if err != nil {
		m.counters.SelfCopyFailures.Add(1)
		m.log.Warn("self-copy wrap failed", "message", rumor.ID, "err", err)
		return
	}

	urls := m.resolver.Resolve(ctx, sender)
	if err := m.publisher.Publish(ctx, urls, selfWrap); err != nil {
		m.counters.SelfCopyFailures.Add(1)
		m.log.Warn("self-copy publish failed", "message", rumor.ID, "err", err)
	}
}
