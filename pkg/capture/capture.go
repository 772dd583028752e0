// Package capture implements the live capture pipeline: one subscriber
// goroutine per requested channel, fanned into a single writer goroutine
// that appends each message to the capture sink as a packet record.
package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"pubcap/pkg/pubsub"
	"pubcap/pkg/sink"
)

// Run subscribes to every name in channels (duplicates included), then
// captures until ctx is cancelled or every subscription has ended. A
// channel that cannot be subscribed aborts the whole capture before any
// worker starts. Runtime failures are contained: a subscription that
// errors mid-capture terminates only itself, and a record that fails to
// write is logged and skipped. Run owns snk and closes it on every path;
// it returns only after every worker has been joined.
func Run(ctx context.Context, conn pubsub.Conn, channels []string, snk sink.Sink, logger *slog.Logger) error {
	subs := make([]pubsub.Subscription, 0, len(channels))
	for _, name := range channels {
		sub, err := conn.Subscribe(ctx, name)
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			_ = snk.Close()
			return errors.Wrapf(err, "subscribe %q", name)
		}
		subs = append(subs, sub)
	}

	q := newQueue()

	var producers sync.WaitGroup
	for i, sub := range subs {
		producers.Add(1)
		go func(name string, sub pubsub.Subscription) {
			defer producers.Done()
			defer sub.Close()
			subscribe(ctx, name, sub, q, logger)
		}(channels[i], sub)
	}

	// The queue's consumer side closes once every subscriber is done.
	go func() {
		producers.Wait()
		q.close()
	}()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		write(ctx, q, snk, logger)
	}()

	producers.Wait()
	writer.Wait()
	// The writer may have left on cancellation without draining the
	// queue; release the bridge and drop whatever is still buffered.
	q.stop()
	return nil
}

// subscribe forwards messages from one subscription into the queue until
// the stream ends, errors, or ctx is cancelled.
func subscribe(ctx context.Context, name string, sub pubsub.Subscription, q *queue, logger *slog.Logger) {
	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("subscription ended", "channel", name, "error", err)
			}
			return
		}
		q.push(msg)
	}
}

// write drains the queue into the sink until the queue closes or ctx is
// cancelled, whichever happens first. It owns the sink exclusively.
func write(ctx context.Context, q *queue, snk sink.Sink, logger *slog.Logger) {
	defer func() {
		if err := snk.Close(); err != nil {
			logger.Warn("closing sink", "error", err)
		}
	}()

	for {
		select {
		case msg, ok := <-q.recv():
			if !ok {
				return
			}
			if err := snk.WriteMessage(msg.Payload); err != nil {
				logger.Warn("dropping record", "channel", msg.Channel, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
