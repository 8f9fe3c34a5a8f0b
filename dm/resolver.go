package dm

import (
	"context"
	"strings"

	"sealbox/logging"
	"sealbox/nostr"
)

// FallbackRelays is the fixed last-resort delivery set used when a recipient
// declares no usable relay preferences.
var FallbackRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://purplepag.es",
}

// Resolver discovers delivery endpoints for a recipient in preference order:
// their declared messaging relays, then their read relays, then a fixed
// fallback set.
type Resolver struct {
	fetcher  Fetcher
	indexes  []string
	fallback []string
	log      logging.Logger
}

// ResolverOptions configures a Resolver. Zero values get defaults.
type ResolverOptions struct {
	// IndexRelays are queried for relay preference records. Defaults to the
	// fallback set.
	IndexRelays []string
	// FallbackRelays overrides the fixed last-resort set.
	FallbackRelays []string
	Logger         logging.Logger
}

func (o ResolverOptions) withDefaults() ResolverOptions {
	if len(o.FallbackRelays) == 0 {
		o.FallbackRelays = FallbackRelays
	}
	if len(o.IndexRelays) == 0 {
		o.IndexRelays = o.FallbackRelays
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// NewResolver builds a resolver over a fetcher.
func NewResolver(fetcher Fetcher, opts ResolverOptions) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		fetcher:  fetcher,
		indexes:  opts.IndexRelays,
		fallback: opts.FallbackRelays,
		log:      opts.Logger,
	}
}

// Resolve returns delivery endpoints for a recipient, never empty. Lookup
// failures are treated as absent records and degrade to the next tier.
func (r *Resolver) Resolve(ctx context.Context, recipient string) []string {
	if urls := r.messagingRelays(ctx, recipient); len(urls) > 0 {
		return urls
	}
	if urls := r.readRelays(ctx, recipient); len(urls) > 0 {
		return urls
	}
	r.log.Debug("using fallback relays", "recipient", recipient)
	return append([]string(nil), r.fallback...)
}

// messagingRelays reads the recipient's messaging-specific preference record.
func (r *Resolver) messagingRelays(ctx context.Context, recipient string) []string {
	record := r.newestRecord(ctx, recipient, nostr.KindMessagingRelayList)
	if record == nil {
		return nil
	}
	return sanitizeURLs(record.Tags.Values("relay"))
}

// readRelays reads the recipient's general relay list, keeping entries marked
// read-eligible or unmarked.
func (r *Resolver) readRelays(ctx context.Context, recipient string) []string {
	record := r.newestRecord(ctx, recipient, nostr.KindRelayList)
	if record == nil {
		return nil
	}
	var urls []string
	for _, tag := range record.Tags {
		if tag.Name() != "r" || len(tag) < 2 {
			continue
		}
		if len(tag) > 2 && tag[2] != "" && tag[2] != "read" {
			continue
		}
		urls = append(urls, tag[1])
	}
	return sanitizeURLs(urls)
}

func (r *Resolver) newestRecord(ctx context.Context, author string, kind int) *nostr.Event {
	events := r.fetcher.Fetch(ctx, r.indexes, nostr.Filter{
		Kinds:   []int{kind},
		Authors: []string{author},
		Limit:   1,
	})

	var newest *nostr.Event
	for _, ev := range events {
		if ev.PubKey != author || ev.Kind != kind {
			continue
		}
		if newest == nil || ev.CreatedAt > newest.CreatedAt {
			newest = ev
		}
	}
	return newest
}

// sanitizeURLs keeps well-formed websocket URLs, trims trailing slashes, and
// drops duplicates while preserving order.
func sanitizeURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	var out []string
	for _, url := range urls {
		url = strings.TrimSuffix(strings.TrimSpace(url), "/")
		if !strings.HasPrefix(url, "wss://") && !strings.HasPrefix(url, "ws://") {
			continue
		}
		if seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, url)
	}
	return out
}
