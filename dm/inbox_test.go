package dm

import (
	"context"
	"sync"
	"testing"
	"time"

	"sealbox/metrics"
	"sealbox/nostr"
)

type fakeStream struct {
	ch       chan *nostr.Event
	stopOnce sync.Once

	mu      sync.Mutex
	stopped int
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan *nostr.Event, 16)}
}

func (s *fakeStream) Events() <-chan *nostr.Event { return s.ch }

func (s *fakeStream) Stop() {
	s.stopOnce.Do(func() { close(s.ch) })
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

func (s *fakeStream) stopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeStream) deliver(ev *nostr.Event) { s.ch <- ev }

type fakeSubscriber struct {
	stream *fakeStream

	mu      sync.Mutex
	urls    []string
	filters []nostr.Filter
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, urls []string, filters ...nostr.Filter) (EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = urls
	f.filters = filters
	return f.stream, nil
}

type messageCollector struct {
	mu   sync.Mutex
	msgs []*Message
}

func (c *messageCollector) add(m *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *messageCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *messageCollector) all() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Message(nil), c.msgs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestInbox(t *testing.T, readerSecret string, subscriber Subscriber, fetcher Fetcher, counters *metrics.Counters) *Inbox {
	t.Helper()
	return NewInbox(newGateway(t, readerSecret), subscriber, fetcher, newTestResolver(&fakeFetcher{}),
		InboxOptions{Counters: counters, FetchTimeout: 500 * time.Millisecond})
}

func TestInboxDeliversOncePerWrap(t *testing.T) {
	aliceSecret, _ := newIdentity(t)
	bobSecret, bobPublic := newIdentity(t)

	counters := &metrics.Counters{}
	subscriber := &fakeSubscriber{stream: newFakeStream()}
	inbox := newTestInbox(t, bobSecret, subscriber, &fakeFetcher{}, counters)

	collector := &messageCollector{}
	sub, err := inbox.Subscribe(context.Background(), bobPublic, collector.add)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	wrap := buildWrapAt(t, aliceSecret, bobPublic, "once only", time.Now().Unix())
	subscriber.stream.deliver(wrap)
	subscriber.stream.deliver(wrap)
	other := buildWrapAt(t, aliceSecret, bobPublic, "second message", time.Now().Unix())
	subscriber.stream.deliver(other)

	waitFor(t, "two messages", func() bool { return collector.count() == 2 })

	snap := counters.Snapshot()
	if snap.WrapsReceived != 3 {
		t.Errorf("WrapsReceived = %d, want 3", snap.WrapsReceived)
	}
	if snap.DuplicatesDropped != 1 {
		t.Errorf("DuplicatesDropped = %d, want 1", snap.DuplicatesDropped)
	}

	contents := map[string]bool{}
	for _, m := range collector.all() {
		contents[m.Content] = true
	}
	if !contents["once only"] || !contents["second message"] {
		t.Errorf("delivered contents = %v", contents)
	}
}

func TestInboxSurvivesBadWraps(t *testing.T) {
	aliceSecret, _ := newIdentity(t)
	bobSecret, bobPublic := newIdentity(t)

	counters := &metrics.Counters{}
	subscriber := &fakeSubscriber{stream: newFakeStream()}
	inbox := newTestInbox(t, bobSecret, subscriber, &fakeFetcher{}, counters)

	collector := &messageCollector{}
	sub, err := inbox.Subscribe(context.Background(), bobPublic, collector.add)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	broken := buildWrapAt(t, aliceSecret, bobPublic, "mangled", time.Now().Unix())
	broken.Content = "not ciphertext"
	subscriber.stream.deliver(broken)
	subscriber.stream.deliver(buildWrapAt(t, aliceSecret, bobPublic, "good", time.Now().Unix()))

	waitFor(t, "good message", func() bool { return collector.count() == 1 })

	if got := collector.all()[0].Content; got != "good" {
		t.Errorf("delivered %q", got)
	}
	if rejected := counters.Snapshot().WrapsRejected; rejected != 1 {
		t.Errorf("WrapsRejected = %d, want 1", rejected)
	}
}

func TestInboxStopIsIdempotent(t *testing.T) {
	bobSecret, bobPublic := newIdentity(t)

	subscriber := &fakeSubscriber{stream: newFakeStream()}
	inbox := newTestInbox(t, bobSecret, subscriber, &fakeFetcher{}, nil)

	sub, err := inbox.Subscribe(context.Background(), bobPublic, func(*Message) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub.Stop()
	sub.Stop()
	sub.Stop()

	if calls := subscriber.stream.stopCalls(); calls != 1 {
		t.Errorf("stream stopped %d times, want 1", calls)
	}
}

func TestInboxSubscriptionFilter(t *testing.T) {
	bobSecret, bobPublic := newIdentity(t)

	subscriber := &fakeSubscriber{stream: newFakeStream()}
	inbox := newTestInbox(t, bobSecret, subscriber, &fakeFetcher{}, nil)

	sub, err := inbox.Subscribe(context.Background(), bobPublic, func(*Message) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	subscriber.mu.Lock()
	filters := subscriber.filters
	subscriber.mu.Unlock()

	if len(filters) != 1 {
		t.Fatalf("subscribed with %d filters", len(filters))
	}
	f := filters[0]
	if len(f.Kinds) != 1 || f.Kinds[0] != nostr.KindGiftWrap {
		t.Errorf("kinds = %v", f.Kinds)
	}
	if got := f.Tags["p"]; len(got) != 1 || got[0] != bobPublic {
		t.Errorf("recipient filter = %v", f.Tags)
	}
	if f.Since == nil {
		t.Fatal("live filter missing since bound")
	}
	wantSince := time.Now().Add(-timestampWindow).Unix()
	if *f.Since > wantSince+60 || *f.Since < wantSince-60 {
		t.Errorf("since = %d, want about %d", *f.Since, wantSince)
	}
}

func TestFetchHistoricalSortsAndDeduplicates(t *testing.T) {
	aliceSecret, _ := newIdentity(t)
	bobSecret, bobPublic := newIdentity(t)

	base := time.Now().Add(-time.Hour).Unix()
	second := buildWrapAt(t, aliceSecret, bobPublic, "second", base+10)
	first := buildWrapAt(t, aliceSecret, bobPublic, "first", base)
	third := buildWrapAt(t, aliceSecret, bobPublic, "third", base+20)

	// The same rumor wrapped twice arrives as two distinct wraps.
	g := newGateway(t, aliceSecret)
	alicePublic, _ := g.PublicKey()
	rumor := &nostr.Event{
		PubKey:    alicePublic,
		CreatedAt: base + 10,
		Kind:      nostr.KindChatMessage,
		Tags:      nostr.Tags{{"p", bobPublic}},
		Content:   "second",
	}
	var err error
	rumor.ID, err = rumor.ComputeID()
	if err != nil {
		t.Fatalf("hash rumor: %v", err)
	}
	dupOfSecond, err := wrapRumor(g, rumor, bobPublic)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	fetcher := &fakeFetcher{}
	fetcher.add(second, first, dupOfSecond, third)

	inbox := newTestInbox(t, bobSecret, &fakeSubscriber{stream: newFakeStream()}, fetcher, nil)

	collector := &messageCollector{}
	got := inbox.FetchHistorical(context.Background(), bobPublic, time.Time{}, collector.add)

	if len(got) != 3 {
		t.Fatalf("fetched %d messages, want 3", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Errorf("position %d = %q, want %q", i, got[i].Content, want)
		}
	}
	if collector.count() != 3 {
		t.Errorf("callback fired %d times, want 3", collector.count())
	}
}

func TestFetchHistoricalHonorsSince(t *testing.T) {
	aliceSecret, _ := newIdentity(t)
	bobSecret, bobPublic := newIdentity(t)

	since := time.Now().Add(-30 * time.Minute)
	old := buildWrapAt(t, aliceSecret, bobPublic, "too old", since.Add(-10*time.Minute).Unix())
	fresh := buildWrapAt(t, aliceSecret, bobPublic, "recent", since.Add(10*time.Minute).Unix())

	fetcher := &fakeFetcher{}
	fetcher.add(old, fresh)

	inbox := newTestInbox(t, bobSecret, &fakeSubscriber{stream: newFakeStream()}, fetcher, nil)
	got := inbox.FetchHistorical(context.Background(), bobPublic, since, nil)

	if len(got) != 1 || got[0].Content != "recent" {
		t.Errorf("fetched %d messages: %+v", len(got), got)
	}
}

func TestFetchHistoricalTimesOutToPartialResults(t *testing.T) {
	bobSecret, bobPublic := newIdentity(t)

	fetcher := &fakeFetcher{hang: true}
	inbox := newTestInbox(t, bobSecret, &fakeSubscriber{stream: newFakeStream()}, fetcher, nil)

	start := time.Now()
	got := inbox.FetchHistorical(context.Background(), bobPublic, time.Time{}, nil)
	elapsed := time.Since(start)

	if len(got) != 0 {
		t.Errorf("got %d messages from a hung fetch", len(got))
	}
	if elapsed < 400*time.Millisecond || elapsed > 3*time.Second {
		t.Errorf("returned after %v, want about the 500ms bound", elapsed)
	}
}
