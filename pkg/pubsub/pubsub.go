// Package pubsub defines the minimal messaging capability the capture
// pipeline consumes: subscribe to a named channel and receive its messages
// as a stream until it ends, errors, or the caller cancels.
package pubsub

import (
	"context"
	"time"
)

// Message is one inbound payload received on a channel.
type Message struct {
	Channel    string
	Payload    []byte
	ReceivedAt time.Time
}

// Subscription is one live stream of messages for a single channel.
type Subscription interface {
	// Recv blocks until the next message arrives, the stream ends or
	// errors, or ctx is cancelled, whichever happens first.
	Recv(ctx context.Context) (Message, error)
	// Close tears down this subscription. Recv calls in flight return.
	Close() error
}

// Conn is a connection to a pub/sub service.
type Conn interface {
	// Subscribe opens an independent subscription to the named channel.
	// Subscribing twice to the same name yields two subscriptions that
	// each receive every message.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}
