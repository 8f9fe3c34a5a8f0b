package dm

import (
	"encoding/json"
	"fmt"
	"time"

	"sealbox/logging"
	"sealbox/metrics"
	"sealbox/nostr"
	"sealbox/signer"
)

// Unwrapper reverses the layers of inbound gift wraps.
type Unwrapper struct {
	gateway  Gateway
	log      logging.Logger
	counters *metrics.Counters
}

// NewUnwrapper wires the inbound pipeline. Logger and counters follow
// MessengerOptions defaults.
func NewUnwrapper(gateway Gateway, opts MessengerOptions) *Unwrapper {
	opts = opts.withDefaults()
	return &Unwrapper{gateway: gateway, log: opts.Logger, counters: opts.Counters}
}

// Unwrap opens a gift wrap down to its rumor. It never fails the caller: any
// malformed, undecryptable, or forged message logs the reason and yields nil.
func (u *Unwrapper) Unwrap(wrap *nostr.Event) *Message {
	msg, err := u.unwrap(wrap)
	if err != nil {
		u.counters.WrapsRejected.Add(1)
		u.log.Debug("dropped inbound wrap", "wrap", wrap.ID, "err", err)
		return nil
	}
	return msg
}

func (u *Unwrapper) unwrap(wrap *nostr.Event) (*Message, error) {
	if wrap.Kind != nostr.KindGiftWrap {
		return nil, fmt.Errorf("unexpected kind %d", wrap.Kind)
	}

	reader, err := u.gateway.PublicKey()
	if err != nil {
		return nil, err
	}

	// Outer layer: decrypt with the wrap's ephemeral author.
	sealJSON, err := u.gateway.Decrypt(wrap.PubKey, wrap.Content, signer.MethodNIP44)
	if err != nil {
		return nil, fmt.Errorf("open wrap: %w", err)
	}
	seal := &nostr.Event{}
	if err := json.Unmarshal([]byte(sealJSON), seal); err != nil {
		return nil, fmt.Errorf("parse seal: %w", err)
	}
	if seal.Kind != nostr.KindSeal {
		return nil, fmt.Errorf("unexpected seal kind %d", seal.Kind)
	}

	// Middle layer: decrypt with the seal's author, the claimed real sender.
	rumorJSON, err := u.gateway.Decrypt(seal.PubKey, seal.Content, signer.MethodNIP44)
	if err != nil {
		return nil, fmt.Errorf("open seal: %w", err)
	}
	rumor := &nostr.Event{}
	if err := json.Unmarshal([]byte(rumorJSON), rumor); err != nil {
		return nil, fmt.Errorf("parse rumor: %w", err)
	}

	// A forged wrap could carry someone else's rumor inside its own seal;
	// the rumor's claimed author must match the key that sealed it.
	if rumor.PubKey != seal.PubKey {
		return nil, fmt.Errorf("%w: seal %s rumor %s", errImpersonation, seal.PubKey, rumor.PubKey)
	}

	id := rumor.ID
	if id == "" {
		id = wrap.ID
	}
	counterparty := seal.PubKey
	if counterparty == reader {
		// Own self-copy: converse with the tagged recipient.
		if to := rumor.Tags.First("p").Value(); to != "" {
			counterparty = to
		}
	}

	return &Message{
		ID:           id,
		Sender:       seal.PubKey,
		Counterparty: counterparty,
		Content:      rumor.Content,
		Tags:         rumor.Tags,
		CreatedAt:    time.Unix(rumor.CreatedAt, 0),
		Protocol:     ProtocolLayered,
	}, nil
}
