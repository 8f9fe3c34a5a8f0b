package dm

import (
	"context"
	"reflect"
	"testing"
	"time"

	"sealbox/nostr"
)

// preferenceRecord builds a signed relay preference event for an identity.
func preferenceRecord(t *testing.T, secret string, kind int, tags nostr.Tags) *nostr.Event {
	t.Helper()
	ev := &nostr.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
	}
	if err := ev.Sign(secret); err != nil {
		t.Fatalf("sign record: %v", err)
	}
	return ev
}

func TestResolvePrefersMessagingRelays(t *testing.T) {
	secret, public := newIdentity(t)
	fetcher := &fakeFetcher{}
	fetcher.add(
		preferenceRecord(t, secret, nostr.KindMessagingRelayList, nostr.Tags{
			{"relay", "wss://dm-a.test"},
			{"relay", "wss://dm-b.test"},
		}),
		preferenceRecord(t, secret, nostr.KindRelayList, nostr.Tags{
			{"r", "wss://read.test", "read"},
		}),
	)

	got := newTestResolver(fetcher).Resolve(context.Background(), public)
	want := []string{"wss://dm-a.test", "wss://dm-b.test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}

func TestResolveFallsBackToReadRelays(t *testing.T) {
	secret, public := newIdentity(t)
	fetcher := &fakeFetcher{}
	fetcher.add(preferenceRecord(t, secret, nostr.KindRelayList, nostr.Tags{
		{"r", "wss://url-a.test"},
		{"r", "wss://url-b.test", "read"},
		{"r", "wss://write-only.test", "write"},
	}))

	got := newTestResolver(fetcher).Resolve(context.Background(), public)
	want := []string{"wss://url-a.test", "wss://url-b.test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}

func TestResolveUsesFixedFallback(t *testing.T) {
	_, public := newIdentity(t)

	got := newTestResolver(&fakeFetcher{}).Resolve(context.Background(), public)
	if len(got) < 3 {
		t.Fatalf("fallback has %d relays, want at least 3", len(got))
	}
	want := []string{"wss://fallback-a.test", "wss://fallback-b.test", "wss://fallback-c.test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}

func TestResolveSkipsEmptyMessagingRecord(t *testing.T) {
	secret, public := newIdentity(t)
	fetcher := &fakeFetcher{}
	fetcher.add(
		// A declared but empty messaging record degrades to the read tier.
		preferenceRecord(t, secret, nostr.KindMessagingRelayList, nostr.Tags{}),
		preferenceRecord(t, secret, nostr.KindRelayList, nostr.Tags{
			{"r", "wss://read.test"},
		}),
	)

	got := newTestResolver(fetcher).Resolve(context.Background(), public)
	want := []string{"wss://read.test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}

func TestResolveTakesNewestRecord(t *testing.T) {
	secret, public := newIdentity(t)

	older := &nostr.Event{
		CreatedAt: time.Now().Add(-time.Hour).Unix(),
		Kind:      nostr.KindMessagingRelayList,
		Tags:      nostr.Tags{{"relay", "wss://old.test"}},
	}
	if err := older.Sign(secret); err != nil {
		t.Fatalf("sign: %v", err)
	}
	newer := preferenceRecord(t, secret, nostr.KindMessagingRelayList, nostr.Tags{
		{"relay", "wss://new.test"},
	})

	fetcher := &fakeFetcher{}
	fetcher.add(older, newer)

	got := newTestResolver(fetcher).Resolve(context.Background(), public)
	want := []string{"wss://new.test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}

func TestResolveIgnoresForeignRecords(t *testing.T) {
	otherSecret, _ := newIdentity(t)
	_, public := newIdentity(t)

	fetcher := &fakeFetcher{}
	fetcher.add(preferenceRecord(t, otherSecret, nostr.KindMessagingRelayList, nostr.Tags{
		{"relay", "wss://not-yours.test"},
	}))

	got := newTestResolver(fetcher).Resolve(context.Background(), public)
	if len(got) != 3 || got[0] != "wss://fallback-a.test" {
		t.Errorf("resolved %v, want the fallback set", got)
	}
}

func TestResolveSanitizesURLs(t *testing.T) {
	secret, public := newIdentity(t)
	fetcher := &fakeFetcher{}
	fetcher.add(preferenceRecord(t, secret, nostr.KindMessagingRelayList, nostr.Tags{
		{"relay", "wss://dup.test/"},
		{"relay", "wss://dup.test"},
		{"relay", "  wss://padded.test  "},
		{"relay", "https://not-websocket.test"},
		{"relay", ""},
	}))

	got := newTestResolver(fetcher).Resolve(context.Background(), public)
	want := []string{"wss://dup.test", "wss://padded.test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resolved %v, want %v", got, want)
	}
}
