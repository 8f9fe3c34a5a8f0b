package nostr

import (
	"errors"
	"strings"
	"testing"
)

func TestParseRelayMessageEvent(t *testing.T) {
	raw := `["EVENT","sub1",{"id":"aa","pubkey":"bb","created_at":10,"kind":1059,"tags":[["p","cc"]],"content":"payload","sig":"dd"}]`
	msg, err := ParseRelayMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	env, ok := msg.(*EventEnvelope)
	if !ok {
		t.Fatalf("parsed %T, want *EventEnvelope", msg)
	}
	if env.SubscriptionID != "sub1" {
		t.Errorf("subscription = %q", env.SubscriptionID)
	}
	if env.Event.Kind != KindGiftWrap || env.Event.Tags.First("p").Value() != "cc" {
		t.Errorf("event = %+v", env.Event)
	}
}

func TestParseRelayMessageOK(t *testing.T) {
	msg, err := ParseRelayMessage([]byte(`["OK","aa",false,"blocked: spam"]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	env, ok := msg.(*OKEnvelope)
	if !ok {
		t.Fatalf("parsed %T, want *OKEnvelope", msg)
	}
	if env.EventID != "aa" || env.Accepted || env.Reason != "blocked: spam" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestParseRelayMessageEOSEAndClosed(t *testing.T) {
	msg, err := ParseRelayMessage([]byte(`["EOSE","sub9"]`))
	if err != nil {
		t.Fatalf("parse EOSE: %v", err)
	}
	if env, ok := msg.(*EOSEEnvelope); !ok || env.SubscriptionID != "sub9" {
		t.Errorf("EOSE parsed as %T %+v", msg, msg)
	}

	msg, err = ParseRelayMessage([]byte(`["CLOSED","sub9","rate-limited"]`))
	if err != nil {
		t.Fatalf("parse CLOSED: %v", err)
	}
	if env, ok := msg.(*ClosedEnvelope); !ok || env.Reason != "rate-limited" {
		t.Errorf("CLOSED parsed as %T %+v", msg, msg)
	}
}

func TestParseRelayMessageUnknownLabel(t *testing.T) {
	_, err := ParseRelayMessage([]byte(`["AUTH","challenge"]`))
	if !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("err = %v, want ErrUnknownLabel", err)
	}
}

func TestEncodeRequestCarriesTagFilter(t *testing.T) {
	since := int64(500)
	raw, err := EncodeRequest("subA", Filter{
		Kinds: []int{KindGiftWrap},
		Tags:  map[string][]string{"p": {"pk1"}},
		Since: &since,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got := string(raw)
	for _, part := range []string{`"REQ"`, `"subA"`, `"kinds":[1059]`, `"#p":["pk1"]`, `"since":500`} {
		if !strings.Contains(got, part) {
			t.Errorf("request %s missing %s", got, part)
		}
	}
}

func TestFilterRoundTrip(t *testing.T) {
	since := int64(100)
	f := Filter{
		Kinds:   []int{KindRelayList, KindMessagingRelayList},
		Authors: []string{"pk1"},
		Tags:    map[string][]string{"p": {"pk2"}},
		Since:   &since,
		Limit:   5,
	}

	raw, err := f.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Filter
	if err := back.UnmarshalJSON(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(back.Kinds) != 2 || back.Authors[0] != "pk1" || back.Limit != 5 {
		t.Errorf("round trip = %+v", back)
	}
	if back.Since == nil || *back.Since != 100 {
		t.Errorf("since = %v", back.Since)
	}
	if vals := back.Tags["p"]; len(vals) != 1 || vals[0] != "pk2" {
		t.Errorf("tags = %v", back.Tags)
	}
}

func TestFilterMatches(t *testing.T) {
	since := int64(50)
	until := int64(150)
	f := Filter{
		Kinds: []int{KindGiftWrap},
		Tags:  map[string][]string{"p": {"me"}},
		Since: &since,
		Until: &until,
	}

	ev := &Event{Kind: KindGiftWrap, CreatedAt: 100, Tags: Tags{{"p", "me"}}}
	if !f.Matches(ev) {
		t.Error("matching event rejected")
	}

	cases := []struct {
		name string
		ev   *Event
	}{
		{"wrong kind", &Event{Kind: 1, CreatedAt: 100, Tags: Tags{{"p", "me"}}}},
		{"wrong recipient", &Event{Kind: KindGiftWrap, CreatedAt: 100, Tags: Tags{{"p", "other"}}}},
		{"too old", &Event{Kind: KindGiftWrap, CreatedAt: 10, Tags: Tags{{"p", "me"}}}},
		{"too new", &Event{Kind: KindGiftWrap, CreatedAt: 200, Tags: Tags{{"p", "me"}}}},
	}
	for _, tc := range cases {
		if f.Matches(tc.ev) {
			t.Errorf("%s: event accepted", tc.name)
		}
	}
}
