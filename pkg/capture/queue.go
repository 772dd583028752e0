package capture

import "pubcap/pkg/pubsub"

// queue is an unbounded multi-producer, single-consumer FIFO connecting
// the channel subscribers to the sink writer. push never blocks on a slow
// consumer; pending messages buffer in memory. The receive side observes
// closure only after close() has been called and the buffer has drained,
// so no accepted message is ever dropped while the consumer keeps
// receiving. stop() ends the bridge when the consumer is gone for good,
// discarding whatever is still buffered.
type queue struct {
	in   chan pubsub.Message
	out  chan pubsub.Message
	quit chan struct{}
}

func newQueue() *queue {
	q := &queue{
		in:   make(chan pubsub.Message),
		out:  make(chan pubsub.Message),
		quit: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) push(msg pubsub.Message) {
	q.in <- msg
}

// recv is the consumer side. It is closed once all producers are done and
// every buffered message has been delivered, or once stop is called.
func (q *queue) recv() <-chan pubsub.Message {
	return q.out
}

// close ends the producer side. Must not be called while a push is still
// possible; the pipeline calls it after all subscribers have returned.
func (q *queue) close() {
	close(q.in)
}

// stop releases the bridge goroutine regardless of buffered messages.
// Called once the consumer has stopped receiving; any remaining buffer is
// dropped. Must not race with push.
func (q *queue) stop() {
	close(q.quit)
}

func (q *queue) run() {
	defer close(q.out)

	var buf []pubsub.Message
	in := q.in
	for in != nil || len(buf) > 0 {
		var out chan pubsub.Message
		var next pubsub.Message
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}
		select {
		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, msg)
		case out <- next:
			buf = buf[1:]
		case <-q.quit:
			return
		}
	}
}
