package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
)

// DefaultDialRetry is the interval between connection attempts while a peer
// has not bound its endpoint yet.
const DefaultDialRetry = 250 * time.Millisecond

// Socket adapts a ZeroMQ socket to Sender and Receiver. Each frame is one
// single-part message.
type Socket struct {
	sock zmq4.Socket
	addr string
}

var (
	_ Sender   = (*Socket)(nil)
	_ Receiver = (*Socket)(nil)
)

func dialOptions() []zmq4.Option {
	return []zmq4.Option{
		zmq4.WithDialerRetry(DefaultDialRetry),
		zmq4.WithAutomaticReconnect(true),
	}
}

func dial(sock zmq4.Socket, addr string) (*Socket, error) {
	if err := sock.Dial(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("dial %s %s: %w", sock.Type(), addr, err)
	}
	return &Socket{sock: sock, addr: addr}, nil
}

func listen(sock zmq4.Socket, addr string) (*Socket, error) {
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen %s %s: %w", sock.Type(), addr, err)
	}
	return &Socket{sock: sock, addr: addr}, nil
}

// DialSubscriber connects a SUB socket to a publisher and subscribes to
// every message.
func DialSubscriber(ctx context.Context, addr string) (*Socket, error) {
	s, err := dial(zmq4.NewSub(ctx, dialOptions()...), addr)
	if err != nil {
		return nil, err
	}
	if err := s.sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		s.Close()
		return nil, fmt.Errorf("subscribe %s: %w", addr, err)
	}
	return s, nil
}

// DialPuller connects a PULL socket to a bound PUSH peer.
func DialPuller(ctx context.Context, addr string) (*Socket, error) {
	return dial(zmq4.NewPull(ctx, dialOptions()...), addr)
}

// DialPusher connects a PUSH socket to a bound PULL peer.
func DialPusher(ctx context.Context, addr string) (*Socket, error) {
	return dial(zmq4.NewPush(ctx, dialOptions()...), addr)
}

// ListenPublisher binds a PUB socket.
func ListenPublisher(ctx context.Context, addr string) (*Socket, error) {
	return listen(zmq4.NewPub(ctx), addr)
}

// ListenPusher binds a PUSH socket.
func ListenPusher(ctx context.Context, addr string) (*Socket, error) {
	return listen(zmq4.NewPush(ctx), addr)
}

// ListenPuller binds a PULL socket.
func ListenPuller(ctx context.Context, addr string) (*Socket, error) {
	return listen(zmq4.NewPull(ctx), addr)
}

// Send sends b as a single-frame message.
func (s *Socket) Send(b []byte) error {
	return s.sock.Send(zmq4.NewMsg(b))
}

// Recv returns the payload of the next message.
func (s *Socket) Recv() ([]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

// Addr returns the endpoint the socket was dialed or bound to.
func (s *Socket) Addr() string {
	return s.addr
}

func (s *Socket) String() string {
	return fmt.Sprintf("%s(%s)", s.sock.Type(), s.addr)
}

// Close closes the socket and unblocks pending receives.
func (s *Socket) Close() error {
	return s.sock.Close()
}
