// Package relay implements the event transport: a websocket client for a
// single relay and a pool that fans operations out across several.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sealbox/logging"
	"sealbox/nostr"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second

	// subscriptionBuffer bounds how far a relay can run ahead of a slow
	// consumer before backpressure stalls the read loop.
	subscriptionBuffer = 64
)

var (
	// ErrClientClosed indicates an operation on a closed connection.
	ErrClientClosed = errors.New("relay: client closed")
	// ErrPublishRejected indicates the relay refused an event.
	ErrPublishRejected = errors.New("relay: publish rejected")
)

var dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}

// Client is one relay connection. All methods are safe for concurrent use.
type Client struct {
	URL string

	conn *websocket.Conn
	log  logging.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*Subscription
	okWait map[string]chan okResult

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type okResult struct {
	accepted bool
	reason   string
}

// Subscription is one live query on a client. Events arrive on Events;
// EndOfStoredEvents is closed once when the relay reports stored events are
// exhausted; Done is closed when the subscription ends for any reason.
type Subscription struct {
	ID      string
	Filters []nostr.Filter
	Events  chan *nostr.Event

	EndOfStoredEvents chan struct{}

	client   *Client
	done     chan struct{}
	stopOnce sync.Once
	eoseOnce sync.Once
}

// Done reports subscription termination.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsub ends the subscription: best-effort CLOSE to the relay, then local
// teardown. Idempotent.
func (s *Subscription) Unsub() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.client.dropSubscription(s.ID)
		if data, err := nostr.EncodeClose(s.ID); err == nil {
			s.client.write(data)
		}
	})
}

func (s *Subscription) markStoredEventsDone() {
	s.eoseOnce.Do(func() { close(s.EndOfStoredEvents) })
}

// Dial connects to a relay and starts its read and keepalive loops.
func Dial(ctx context.Context, url string, log logging.Logger) (*Client, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	c := &Client{
		URL:    url,
		conn:   conn,
		log:    log,
		subs:   make(map[string]*Subscription),
		okWait: make(map[string]chan okResult),
		done:   make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Close tears the connection down and waits for its loops to exit.
// Idempotent.
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

// shutdown is the loop-safe half of Close: it never waits on the WaitGroup,
// so the read loop can call it on its own exit path.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Publish sends an event and waits for the relay's acceptance receipt.
func (c *Client) Publish(ctx context.Context, ev *nostr.Event) error {
	if c.closed() {
		return ErrClientClosed
	}

	data, err := nostr.EncodeEvent(ev)
	if err != nil {
		return err
	}

	wait := make(chan okResult, 1)
	c.mu.Lock()
	c.okWait[ev.ID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.okWait, ev.ID)
		c.mu.Unlock()
	}()

	if err := c.write(data); err != nil {
		return fmt.Errorf("publish to %s: %w", c.URL, err)
	}

	select {
	case res := <-wait:
		if !res.accepted {
			return fmt.Errorf("%w by %s: %s", ErrPublishRejected, c.URL, res.reason)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", c.URL, ctx.Err())
	case <-c.done:
		return ErrClientClosed
	}
}

// Subscribe opens a live query. The caller owns the subscription and must
// call Unsub when done with it.
func (c *Client) Subscribe(ctx context.Context, filters ...nostr.Filter) (*Subscription, error) {
	if c.closed() {
		return nil, ErrClientClosed
	}

	sub := &Subscription{
		ID:                uuid.NewString(),
		Filters:           filters,
		Events:            make(chan *nostr.Event, subscriptionBuffer),
		EndOfStoredEvents: make(chan struct{}),
		client:            c,
		done:              make(chan struct{}),
	}

	data, err := nostr.EncodeRequest(sub.ID, filters...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	if err := c.write(data); err != nil {
		c.dropSubscription(sub.ID)
		return nil, fmt.Errorf("subscribe to %s: %w", c.URL, err)
	}
	return sub, nil
}

// Fetch collects stored events matching the filters until the relay reports
// end-of-stored or the context expires. On expiry it returns what arrived
// along with the context error.
func (c *Client) Fetch(ctx context.Context, filters ...nostr.Filter) ([]*nostr.Event, error) {
	sub, err := c.Subscribe(ctx, filters...)
	if err != nil {
		return nil, err
	}
	defer sub.Unsub()

	var events []*nostr.Event
	for {
		select {
		case ev := <-sub.Events:
			events = append(events, ev)
		case <-sub.EndOfStoredEvents:
			// Drain anything delivered before the EOSE was processed.
			for {
				select {
				case ev := <-sub.Events:
					events = append(events, ev)
				default:
					return events, nil
				}
			}
		case <-sub.done:
			return events, nil
		case <-c.done:
			return events, ErrClientClosed
		case <-ctx.Done():
			return events, ctx.Err()
		}
	}
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) dropSubscription(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *Client) subscription(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed() {
				c.log.Warn("relay connection lost", "relay", c.URL, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := nostr.ParseRelayMessage(data)
		if err != nil {
			c.log.Debug("unparseable relay message", "relay", c.URL, "err", err)
			continue
		}

		switch env := msg.(type) {
		case *nostr.EventEnvelope:
			sub := c.subscription(env.SubscriptionID)
			if sub == nil {
				continue
			}
			select {
			case sub.Events <- env.Event:
			case <-sub.done:
			case <-c.done:
				return
			}

		case *nostr.OKEnvelope:
			c.mu.Lock()
			wait := c.okWait[env.EventID]
			c.mu.Unlock()
			if wait != nil {
				select {
				case wait <- okResult{accepted: env.Accepted, reason: env.Reason}:
				default:
				}
			}

		case *nostr.EOSEEnvelope:
			if sub := c.subscription(env.SubscriptionID); sub != nil {
				sub.markStoredEventsDone()
			}

		case *nostr.ClosedEnvelope:
			if sub := c.subscription(env.SubscriptionID); sub != nil {
				c.log.Warn("subscription closed by relay",
					"relay", c.URL, "subscription", env.SubscriptionID, "reason", env.Reason)
				sub.Unsub()
			}

		case *nostr.NoticeEnvelope:
			c.log.Info("relay notice", "relay", c.URL, "notice", env.Message)
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				if !c.closed() {
					c.log.Warn("relay keepalive failed", "relay", c.URL, "err", err)
				}
				return
			}
		case <-c.done:
			return
		}
	}
}
