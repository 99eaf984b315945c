// Package transport carries opaque message frames between the instrument,
// the fitting worker, its controllers and result consumers.
//
// Production wiring uses ZeroMQ sockets: a SUB socket for the live feed,
// PUSH/PULL pairs for control and results. Pipe provides the same contract
// in memory so the worker can be driven from tests or from another
// goroutine.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed channel end.
var ErrClosed = errors.New("transport closed")

// Receiver is the receiving end of a message channel.
type Receiver interface {
	// Recv blocks until a frame is available or the receiver is closed.
	Recv() ([]byte, error)
	Close() error
}

// Sender is the sending end of a message channel.
type Sender interface {
	Send([]byte) error
	Close() error
}

// Pump copies frames from r into out until r fails or ctx is done. It lets a
// blocking receive take part in a select alongside other channels. The
// returned error is the receive error, or ctx.Err().
func Pump(ctx context.Context, r Receiver, out chan<- []byte) error {
	for {
		b, err := r.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		select {
		case out <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
