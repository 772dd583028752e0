// Package pubsubws implements the pubsub capability over a single
// websocket connection. Channels are subscribed with JSON control frames
// and messages arrive as JSON envelopes carrying the channel name and the
// raw payload bytes.
package pubsubws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"pubcap/pkg/pubsub"
)

// ErrClosed is returned by Recv after the subscription has been closed
// locally.
var ErrClosed = errors.New("pubsubws: subscription closed")

// subBuffer is the per-subscription delivery buffer. The read loop blocks
// once a subscriber falls this far behind.
const subBuffer = 64

// request is a control frame sent to the service.
type request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// envelope is one inbound data frame. Payload is base64 on the wire.
type envelope struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
}

// Client is a pub/sub connection over one websocket. It implements
// pubsub.Conn. There is no reconnection: when the connection drops, every
// subscription's Recv returns the read error.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	wmu sync.Mutex // serializes writes to conn

	mu     sync.Mutex
	subs   map[string][]*Subscription
	nextID int
	err    error // read-loop error, set before done is closed

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a pub/sub service at url and starts the read loop.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	c := &Client{
		conn:   conn,
		logger: logger,
		subs:   make(map[string][]*Subscription),
		nextID: 1,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe opens an independent subscription to channel. Each call gets
// its own delivery buffer; duplicate subscriptions to the same channel
// each receive every message.
func (c *Client) Subscribe(ctx context.Context, channel string) (pubsub.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		client:  c,
		channel: channel,
		msgs:    make(chan pubsub.Message, subBuffer),
		closed:  make(chan struct{}),
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.subs[channel] = append(c.subs[channel], sub)
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	if err := c.writeJSON(request{Method: "SUBSCRIBE", Params: []string{channel}, ID: id}); err != nil {
		sub.remove()
		return nil, errors.Wrapf(err, "subscribe %q", channel)
	}
	return sub, nil
}

// Close tears down the connection. All subscriptions' Recv calls return.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = errors.New("pubsubws: connection closed")
		}
		c.mu.Unlock()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writeJSON(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(v)
}

// fail records the terminal read error and wakes everyone blocked on done.
func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = err
		}
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) snapshot(channel string) []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[channel]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*Subscription, len(subs))
	copy(out, subs)
	return out
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}

		msg := pubsub.Message{
			Channel:    env.Channel,
			Payload:    env.Payload,
			ReceivedAt: time.Now(),
		}
		for _, sub := range c.snapshot(env.Channel) {
			select {
			case sub.msgs <- msg:
			case <-sub.closed:
			case <-c.done:
				return
			}
		}
	}
}

// Subscription is one live channel subscription on a Client.
type Subscription struct {
	client  *Client
	channel string
	msgs    chan pubsub.Message

	closed    chan struct{}
	closeOnce sync.Once
}

// Recv returns the next message for this subscription. Messages already
// delivered are drained even after the connection has failed; once the
// buffer is empty Recv returns the connection's terminal error.
func (s *Subscription) Recv(ctx context.Context) (pubsub.Message, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-ctx.Done():
		return pubsub.Message{}, ctx.Err()
	case <-s.closed:
		return pubsub.Message{}, ErrClosed
	case <-s.client.done:
		return pubsub.Message{}, s.client.readErr()
	}
}

// Close drops this subscription. When it is the last one on its channel
// name, an UNSUBSCRIBE is sent to the service.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		last := s.remove()
		close(s.closed)

		if last {
			s.client.mu.Lock()
			id := s.client.nextID
			s.client.nextID++
			dead := s.client.err != nil
			s.client.mu.Unlock()
			if !dead {
				err = s.client.writeJSON(request{Method: "UNSUBSCRIBE", Params: []string{s.channel}, ID: id})
			}
		}
	})
	return err
}

// remove unregisters s from the client's routing table and reports
// whether it was the last subscription on its channel.
func (s *Subscription) remove() bool {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[s.channel]
	for i, sub := range subs {
		if sub == s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(c.subs, s.channel)
		return true
	}
	c.subs[s.channel] = subs
	return false
}
