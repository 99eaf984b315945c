package transport

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by RecvTimeout when no frame arrived in time.
var ErrTimeout = errors.New("transport receive timeout")

// Pipe is an in-memory, buffered, ordered channel implementing both Sender
// and Receiver. Send blocks while the buffer is full.
type Pipe struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPipe returns a Pipe buffering up to size frames.
func NewPipe(size int) *Pipe {
	return &Pipe{
		frames: make(chan []byte, size),
		closed: make(chan struct{}),
	}
}

// Send queues a copy of b.
func (p *Pipe) Send(b []byte) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	frame := append([]byte(nil), b...)
	select {
	case p.frames <- frame:
		return nil
	case <-p.closed:
		return ErrClosed
	}
}

// Recv returns the next frame. Frames still buffered when the pipe is
// closed are dropped.
func (p *Pipe) Recv() ([]byte, error) {
	select {
	case <-p.closed:
		return nil, ErrClosed
	default:
	}
	select {
	case b := <-p.frames:
		return b, nil
	case <-p.closed:
		return nil, ErrClosed
	}
}

// RecvTimeout is Recv bounded by d.
func (p *Pipe) RecvTimeout(d time.Duration) ([]byte, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case b := <-p.frames:
		return b, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-t.C:
		return nil, ErrTimeout
	}
}

// Len returns the number of buffered frames.
func (p *Pipe) Len() int {
	return len(p.frames)
}

// Close closes the pipe. It is safe to call more than once.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (p *Pipe) Closed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}
