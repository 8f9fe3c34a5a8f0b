package dm

import (
	"context"
	"sort"
	"sync"
	"time"

	"sealbox/logging"
	"sealbox/metrics"
	"sealbox/nostr"
)

// defaultFetchTimeout bounds one historical fetch; on expiry partial results
// are returned.
const defaultFetchTimeout = 15 * time.Second

// Inbox receives gift-wrapped messages for a reader, live and historical.
type Inbox struct {
	unwrapper  *Unwrapper
	subscriber Subscriber
	fetcher    Fetcher
	resolver   *Resolver
	log        logging.Logger
	counters   *metrics.Counters

	fetchTimeout time.Duration
}

// InboxOptions configures an Inbox. Zero values get defaults.
type InboxOptions struct {
	Logger   logging.Logger
	Counters *metrics.Counters
	// FetchTimeout bounds FetchHistorical. Defaults to 15 seconds.
	FetchTimeout time.Duration
}

// NewInbox wires the inbound side.
func NewInbox(gateway Gateway, subscriber Subscriber, fetcher Fetcher, resolver *Resolver, opts InboxOptions) *Inbox {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Counters == nil {
		opts.Counters = &metrics.Counters{}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Inbox{
		unwrapper:    NewUnwrapper(gateway, MessengerOptions{Logger: opts.Logger, Counters: opts.Counters}),
		subscriber:   subscriber,
		fetcher:      fetcher,
		resolver:     resolver,
		log:          opts.Logger,
		counters:     opts.Counters,
		fetchTimeout: opts.FetchTimeout,
	}
}

// Subscription is one live inbox stream. Stop is idempotent and releases the
// dedup state with the processing goroutine.
type Subscription struct {
	stream   EventStream
	done     chan struct{}
	stopOnce sync.Once
}

// Stop ends the stream and its processing. Idempotent.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.stream.Stop()
	})
}

// Subscribe opens a live query for gift wraps addressed to the reader and
// invokes onMessage for each successfully unwrapped message, at most once per
// gift-wrap identifier for the life of the subscription. Wraps that fail to
// unwrap are dropped and the stream continues.
func (i *Inbox) Subscribe(ctx context.Context, reader string, onMessage func(*Message)) (*Subscription, error) {
	urls := i.resolver.Resolve(ctx, reader)

	// Gift-wrap timestamps are backdated up to the randomization window, so
	// the live filter has to reach that far behind now.
	since := time.Now().Add(-timestampWindow).Unix()
	stream, err := i.subscriber.Subscribe(ctx, urls, nostr.Filter{
		Kinds: []int{nostr.KindGiftWrap},
		Tags:  map[string][]string{"p": {reader}},
		Since: &since,
	})
	if err != nil {
		return nil, err
	}

	sub := &Subscription{stream: stream, done: make(chan struct{})}
	go i.run(sub, onMessage)
	return sub, nil
}

// run owns the dedup set: updates happen only on this goroutine, and the set
// dies with it.
func (i *Inbox) run(sub *Subscription, onMessage func(*Message)) {
	seen := make(map[string]struct{})
	for {
		select {
		case wrap, ok := <-sub.stream.Events():
			if !ok {
				return
			}
			i.counters.WrapsReceived.Add(1)
			if _, dup := seen[wrap.ID]; dup {
				i.counters.DuplicatesDropped.Add(1)
				continue
			}
			seen[wrap.ID] = struct{}{}
			if msg := i.unwrapper.Unwrap(wrap); msg != nil {
				onMessage(msg)
			}
		case <-sub.done:
			return
		}
	}
}

// FetchHistorical collects stored messages for the reader, bounded by the
// inbox fetch timeout: on expiry it returns whatever was gathered instead of
// failing. Results are deduplicated by message identifier, delivered
// incrementally through the optional callback, and returned sorted by
// timestamp ascending.
func (i *Inbox) FetchHistorical(ctx context.Context, reader string, since time.Time, onMessage func(*Message)) []*Message {
	fctx, cancel := context.WithTimeout(ctx, i.fetchTimeout)
	defer cancel()

	urls := i.resolver.Resolve(fctx, reader)

	filter := nostr.Filter{
		Kinds: []int{nostr.KindGiftWrap},
		Tags:  map[string][]string{"p": {reader}},
	}
	if !since.IsZero() {
		// Reach behind the requested bound by the randomization window; the
		// true message timestamps are filtered after unwrapping.
		relaySince := since.Add(-timestampWindow).Unix()
		filter.Since = &relaySince
	}

	// Race the fetch against the timeout so a stalled transport cannot hold
	// the caller past the bound.
	results := make(chan []*nostr.Event, 1)
	go func() { results <- i.fetcher.Fetch(fctx, urls, filter) }()

	var wraps []*nostr.Event
	select {
	case wraps = <-results:
	case <-fctx.Done():
		i.log.Warn("historical fetch timed out", "reader", reader)
	}

	seen := make(map[string]struct{})
	var messages []*Message
	for _, wrap := range wraps {
		msg := i.unwrapper.Unwrap(wrap)
		if msg == nil {
			continue
		}
		if !since.IsZero() && msg.CreatedAt.Before(since) {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		messages = append(messages, msg)
		if onMessage != nil {
			onMessage(msg)
		}
	}

	sort.SliceStable(messages, func(a, b int) bool {
		return messages[a].CreatedAt.Before(messages[b].CreatedAt)
	})
	return messages
}
