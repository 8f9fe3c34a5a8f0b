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

// LegacyChannel sends and opens single-envelope fallback messages for
// counterparties whose signers cannot handle the layered protocol. No
// ephemeral keys, no timestamp randomization, no self-copy.
type LegacyChannel struct {
	gateway   Gateway
	publisher Publisher
	resolver  *Resolver
	log       logging.Logger
	counters  *metrics.Counters
}

// NewLegacyChannel wires the fallback channel. Options follow
// MessengerOptions defaults.
func NewLegacyChannel(gateway Gateway, publisher Publisher, resolver *Resolver, opts MessengerOptions) *LegacyChannel {
	opts = opts.withDefaults()
	return &LegacyChannel{
		gateway:   gateway,
		publisher: publisher,
		resolver:  resolver,
		log:       opts.Logger,
		counters:  opts.Counters,
	}
}

// Send delivers a legacy message: plaintext encrypted to the recipient in a
// single signed envelope.
func (l *LegacyChannel) Send(ctx context.Context, recipient, plaintext string) (*Message, error) {
	sender, err := l.gateway.PublicKey()
	if err != nil {
		if errors.Is(err, signer.ErrNoIdentity) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	if plaintext == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := crypto.ParsePublicKey(recipient); err != nil {
		return nil, fmt.Errorf("dm: invalid recipient: %w", err)
	}
	if !l.gateway.Supports(signer.MethodNIP04) {
		return nil, fmt.Errorf("%w: %s", ErrCapability, signer.MethodNIP04)
	}

	sealed, err := l.gateway.Encrypt(recipient, plaintext, signer.MethodNIP04)
	if err != nil {
		return nil, fmt.Errorf("encrypt legacy message: %w", err)
	}

	ev := &nostr.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindLegacyEncrypted,
		Tags:      nostr.Tags{{"p", recipient}},
		Content:   sealed.Ciphertext,
	}
	if err := l.gateway.SignEvent(ev); err != nil {
		return nil, fmt.Errorf("sign legacy message: %w", err)
	}

	urls := l.resolver.Resolve(ctx, recipient)
	if err := l.publisher.Publish(ctx, urls, ev); err != nil {
		l.counters.PublishFailures.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	l.counters.LegacySent.Add(1)
	return &Message{
		ID:           ev.ID,
		Sender:       sender,
		Counterparty: recipient,
		Content:      plaintext,
		Tags:         ev.Tags,
		CreatedAt:    time.Unix(ev.CreatedAt, 0),
		Protocol:     ProtocolLegacy,
	}, nil
}

// Decrypt opens a legacy envelope from the reader's point of view. The
// counterparty is the tagged recipient when the reader authored the event,
// otherwise the event's author. Failures log and yield nil.
func (l *LegacyChannel) Decrypt(ev *nostr.Event, reader string) *Message {
	msg, err := l.decrypt(ev, reader)
	if err != nil {
		l.log.Debug("dropped legacy message", "event", ev.ID, "err", err)
		return nil
	}
	return msg
}

func (l *LegacyChannel) decrypt(ev *nostr.Event, reader string) (*Message, error) {
	if ev.Kind != nostr.KindLegacyEncrypted {
		return nil, fmt.Errorf("unexpected kind %d", ev.Kind)
	}

	counterparty := ev.PubKey
	if ev.PubKey == reader {
		counterparty = ev.Tags.First("p").Value()
		if counterparty == "" {
			return nil, fmt.Errorf("own message without recipient tag")
		}
	}

	plaintext, err := l.gateway.Decrypt(counterparty, ev.Content, signer.MethodNIP04)
	if err != nil {
		return nil, fmt.Errorf("open legacy message: %w", err)
	}

	return &Message{
		ID:           ev.ID,
		Sender:       ev.PubKey,
		Counterparty: counterparty,
		Content:      plaintext,
		Tags:         ev.Tags,
		CreatedAt:    time.Unix(ev.CreatedAt, 0),
		Protocol:     ProtocolLegacy,
	}, nil
}
