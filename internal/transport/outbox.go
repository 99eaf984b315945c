package transport

import (
	"sync/atomic"
	"time"
)

// DefaultFlushTimeout bounds how long Close waits for queued frames.
const DefaultFlushTimeout = 500 * time.Millisecond

// Outbox is a bounded, non-blocking queue in front of a Sender. Offer never
// blocks: when the queue is full the frame is dropped and counted. A single
// goroutine drains the queue into the Sender.
//
// Offer and Close must be called from the same goroutine.
type Outbox struct {
	sender       Sender
	queue        chan []byte
	done         chan struct{}
	flushTimeout time.Duration
	closed       bool

	sent      atomic.Uint64
	dropped   atomic.Uint64
	sendFails atomic.Uint64
}

// NewOutbox starts an Outbox holding up to size frames.
func NewOutbox(s Sender, size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	o := &Outbox{
		sender:       s,
		queue:        make(chan []byte, size),
		done:         make(chan struct{}),
		flushTimeout: DefaultFlushTimeout,
	}
	go o.drain()
	return o
}

func (o *Outbox) drain() {
	defer close(o.done)
	for b := range o.queue {
		if err := o.sender.Send(b); err != nil {
			o.sendFails.Add(1)
			continue
		}
		o.sent.Add(1)
	}
}

// Offer queues b for sending and reports whether it was accepted.
func (o *Outbox) Offer(b []byte) bool {
	if o.closed {
		o.dropped.Add(1)
		return false
	}
	select {
	case o.queue <- b:
		return true
	default:
		o.dropped.Add(1)
		return false
	}
}

// Sent returns the number of frames handed to the Sender successfully.
func (o *Outbox) Sent() uint64 { return o.sent.Load() }

// Dropped returns the number of frames rejected by Offer.
func (o *Outbox) Dropped() uint64 { return o.dropped.Load() }

// Failed returns the number of frames the Sender refused.
func (o *Outbox) Failed() uint64 { return o.sendFails.Load() }

// Close flushes queued frames for up to the flush timeout, then closes the
// Sender.
func (o *Outbox) Close() error {
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	t := time.NewTimer(o.flushTimeout)
	defer t.Stop()
	select {
	case <-o.done:
	case <-t.C:
	}
	err := o.sender.Close()
	<-o.done
	return err
}
