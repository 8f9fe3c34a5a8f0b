package nostr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Relay message labels.
const (
	LabelEvent  = "EVENT"
	LabelReq    = "REQ"
	LabelClose  = "CLOSE"
	LabelOK     = "OK"
	LabelEOSE   = "EOSE"
	LabelClosed = "CLOSED"
	LabelNotice = "NOTICE"
)

// ErrUnknownLabel indicates a relay message with an unrecognized label.
var ErrUnknownLabel = errors.New("nostr: unknown message label")

// EventEnvelope is ["EVENT", subscription, event] from a relay.
type EventEnvelope struct {
	SubscriptionID string
	Event          *Event
}

// OKEnvelope is ["OK", id, accepted, reason] from a relay.
type OKEnvelope struct {
	EventID  string
	Accepted bool
	Reason   string
}

// EOSEEnvelope is ["EOSE", subscription]: stored events are exhausted.
type EOSEEnvelope struct {
	SubscriptionID string
}

// ClosedEnvelope is ["CLOSED", subscription, reason]: the relay ended a
// subscription on its side.
type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

// NoticeEnvelope is ["NOTICE", message].
type NoticeEnvelope struct {
	Message string
}

// EncodeEvent renders ["EVENT", event] for publishing.
func EncodeEvent(e *Event) ([]byte, error) {
	return encodeArray(LabelEvent, e)
}

// EncodeRequest renders ["REQ", subscription, filters...].
func EncodeRequest(subscriptionID string, filters ...Filter) ([]byte, error) {
	parts := make([]any, 0, len(filters)+2)
	parts = append(parts, LabelReq, subscriptionID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	return encodeArray(parts...)
}

// EncodeClose renders ["CLOSE", subscription].
func EncodeClose(subscriptionID string) ([]byte, error) {
	return encodeArray(LabelClose, subscriptionID)
}

func encodeArray(parts ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(parts); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ParseRelayMessage decodes one message from a relay into its envelope type:
// *EventEnvelope, *OKEnvelope, *EOSEEnvelope, *ClosedEnvelope, or
// *NoticeEnvelope.
func ParseRelayMessage(data []byte) (any, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("parse relay message: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("parse relay message: empty array")
	}

	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, fmt.Errorf("parse relay message label: %w", err)
	}

	switch label {
	case LabelEvent:
		if len(parts) < 3 {
			return nil, fmt.Errorf("parse EVENT: want 3 elements, got %d", len(parts))
		}
		env := &EventEnvelope{Event: &Event{}}
		if err := json.Unmarshal(parts[1], &env.SubscriptionID); err != nil {
			return nil, fmt.Errorf("parse EVENT subscription: %w", err)
		}
		if err := json.Unmarshal(parts[2], env.Event); err != nil {
			return nil, fmt.Errorf("parse EVENT body: %w", err)
		}
		return env, nil

	case LabelOK:
		if len(parts) < 3 {
			return nil, fmt.Errorf("parse OK: want at least 3 elements, got %d", len(parts))
		}
		env := &OKEnvelope{}
		if err := json.Unmarshal(parts[1], &env.EventID); err != nil {
			return nil, fmt.Errorf("parse OK event ID: %w", err)
		}
		if err := json.Unmarshal(parts[2], &env.Accepted); err != nil {
			return nil, fmt.Errorf("parse OK status: %w", err)
		}
		if len(parts) > 3 {
			if err := json.Unmarshal(parts[3], &env.Reason); err != nil {
				return nil, fmt.Errorf("parse OK reason: %w", err)
			}
		}
		return env, nil

	case LabelEOSE:
		if len(parts) < 2 {
			return nil, fmt.Errorf("parse EOSE: want 2 elements, got %d", len(parts))
		}
		env := &EOSEEnvelope{}
		if err := json.Unmarshal(parts[1], &env.SubscriptionID); err != nil {
			return nil, fmt.Errorf("parse EOSE subscription: %w", err)
		}
		return env, nil

	case LabelClosed:
		if len(parts) < 2 {
			return nil, fmt.Errorf("parse CLOSED: want at least 2 elements, got %d", len(parts))
		}
		env := &ClosedEnvelope{}
		if err := json.Unmarshal(parts[1], &env.SubscriptionID); err != nil {
			return nil, fmt.Errorf("parse CLOSED subscription: %w", err)
		}
		if len(parts) > 2 {
			if err := json.Unmarshal(parts[2], &env.Reason); err != nil {
				return nil, fmt.Errorf("parse CLOSED reason: %w", err)
			}
		}
		return env, nil

	case LabelNotice:
		if len(parts) < 2 {
			return nil, fmt.Errorf("parse NOTICE: want 2 elements, got %d", len(parts))
		}
		env := &NoticeEnvelope{}
		if err := json.Unmarshal(parts[1], &env.Message); err != nil {
			return nil, fmt.Errorf("parse NOTICE body: %w", err)
		}
		return env, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
}
