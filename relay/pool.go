package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sealbox/logging"
	"sealbox/nostr"
)

// ErrAllRelaysFailed indicates a publish that no relay accepted.
var ErrAllRelaysFailed = errors.New("relay: publish failed on every relay")

// Pool manages one client per relay URL, dialing lazily and reusing
// connections across operations.
type Pool struct {
	log logging.Logger

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewPool builds an empty pool.
func NewPool(log logging.Logger) *Pool {
	return &Pool{log: log, clients: make(map[string]*Client)}
}

// Ensure returns the pooled client for a URL, dialing if needed. A client
// that died since the last use is replaced.
func (p *Pool) Ensure(ctx context.Context, url string) (*Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClientClosed
	}
	if c, ok := p.clients[url]; ok && !c.closed() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := Dial(ctx, url, p.log)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.shutdown()
		return nil, ErrClientClosed
	}
	if existing, ok := p.clients[url]; ok && !existing.closed() {
		// Another caller dialed concurrently; keep the first connection.
		c.shutdown()
		return existing, nil
	}
	p.clients[url] = c
	return c, nil
}

// Publish sends the event to every URL and succeeds if at least one relay
// accepts it. Individual failures are logged.
func (p *Pool) Publish(ctx context.Context, urls []string, ev *nostr.Event) error {
	if len(urls) == 0 {
		return fmt.Errorf("%w: no relays given", ErrAllRelaysFailed)
	}

	var wg sync.WaitGroup
	results := make(chan error, len(urls))
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			c, err := p.Ensure(ctx, url)
			if err == nil {
				err = c.Publish(ctx, ev)
			}
			if err != nil {
				p.log.Warn("publish failed", "relay", url, "event", ev.ID, "err", err)
			}
			results <- err
		}(url)
	}
	wg.Wait()
	close(results)

	var errs []error
	for err := range results {
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("%w: %w", ErrAllRelaysFailed, errors.Join(errs...))
}

// Fetch queries every URL and merges stored results, deduplicated by event
// ID. Relay failures degrade to fewer results rather than an error.
func (p *Pool) Fetch(ctx context.Context, urls []string, filters ...nostr.Filter) []*nostr.Event {
	var wg sync.WaitGroup
	results := make(chan []*nostr.Event, len(urls))
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			c, err := p.Ensure(ctx, url)
			if err != nil {
				p.log.Warn("fetch dial failed", "relay", url, "err", err)
				return
			}
			events, err := c.Fetch(ctx, filters...)
			if err != nil {
				p.log.Debug("fetch incomplete", "relay", url, "events", len(events), "err", err)
			}
			results <- events
		}(url)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	var merged []*nostr.Event
	for events := range results {
		for _, ev := range events {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			merged = append(merged, ev)
		}
	}
	return merged
}

// PoolSubscription merges live events from several relays into one channel.
// The same event may appear once per relay; dedup belongs to the consumer.
type PoolSubscription struct {
	events chan *nostr.Event

	members  []*Subscription
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Events is the merged live stream. It is closed after Stop.
func (ps *PoolSubscription) Events() <-chan *nostr.Event { return ps.events }

// Stop ends every member subscription and, once forwarding drains, closes
// the merged stream. Idempotent.
func (ps *PoolSubscription) Stop() {
	ps.stopOnce.Do(func() {
		close(ps.done)
		for _, sub := range ps.members {
			sub.Unsub()
		}
		go func() {
			ps.wg.Wait()
			close(ps.events)
		}()
	})
}

// Subscribe opens the same live query on every URL and fans results into one
// channel. At least one relay must accept the subscription.
func (p *Pool) Subscribe(ctx context.Context, urls []string, filters ...nostr.Filter) (*PoolSubscription, error) {
	ps := &PoolSubscription{
		events: make(chan *nostr.Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	var errs []error
	for _, url := range urls {
		c, err := p.Ensure(ctx, url)
		if err != nil {
			p.log.Warn("subscribe dial failed", "relay", url, "err", err)
			errs = append(errs, err)
			continue
		}
		sub, err := c.Subscribe(ctx, filters...)
		if err != nil {
			p.log.Warn("subscribe failed", "relay", url, "err", err)
			errs = append(errs, err)
			continue
		}
		ps.members = append(ps.members, sub)
	}
	if len(ps.members) == 0 {
		return nil, fmt.Errorf("relay: subscribe failed on every relay: %w", errors.Join(errs...))
	}

	for _, sub := range ps.members {
		ps.wg.Add(1)
		go func(sub *Subscription) {
			defer ps.wg.Done()
			for {
				select {
				case ev := <-sub.Events:
					select {
					case ps.events <- ev:
					case <-ps.done:
						return
					}
				case <-sub.done:
					return
				case <-ps.done:
					return
				}
			}
		}(sub)
	}

	return ps, nil
}

// Close shuts down every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	return nil
}
