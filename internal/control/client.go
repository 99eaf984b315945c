// Package control drives fitting workers: Client sends one-way control
// commands and Launcher starts workers in their own process or goroutine.
package control

import (
	"context"
	"fmt"

	"github.com/banshee-data/liveodm/internal/fit"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/transport"
)

// Client sends control commands to a worker. Commands are fire-and-forget:
// nothing is acknowledged, use PrintState and the worker log to confirm.
type Client struct {
	s transport.Sender
}

// New returns a Client sending on s.
func New(s transport.Sender) *Client {
	return &Client{s: s}
}

// Listen binds a PUSH socket at addr for workers to dial and returns a
// Client on it.
func Listen(ctx context.Context, addr string) (*Client, error) {
	s, err := transport.ListenPusher(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("control listen: %w", err)
	}
	return New(s), nil
}

// Send encodes and sends cmd.
func (c *Client) Send(cmd protocol.Command) error {
	b, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := c.s.Send(b); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Method(), err)
	}
	return nil
}

func (c *Client) SetMovingPeakFitFunction(fn fit.FunctionSpec) error {
	return c.Send(protocol.SetFitFunction{Peak: fit.MovingPeak, Function: fn})
}

func (c *Client) SetReferencePeakFitFunction(fn fit.FunctionSpec) error {
	return c.Send(protocol.SetFitFunction{Peak: fit.ReferencePeak, Function: fn})
}

// SetMovingPeakInterval sets the moving peak window. The bounds may be
// given in either order.
func (c *Client) SetMovingPeakInterval(a, b float64) error {
	return c.Send(protocol.SetInterval{Peak: fit.MovingPeak, Interval: [2]float64{a, b}})
}

// SetReferencePeakInterval sets the reference peak window.
func (c *Client) SetReferencePeakInterval(a, b float64) error {
	return c.Send(protocol.SetInterval{Peak: fit.ReferencePeak, Interval: [2]float64{a, b}})
}

func (c *Client) StartFitting() error   { return c.Send(protocol.StartFitting{}) }
func (c *Client) StopFitting() error    { return c.Send(protocol.StopFitting{}) }
func (c *Client) Abort() error          { return c.Send(protocol.Abort{}) }
func (c *Client) PrintState() error     { return c.Send(protocol.PrintState{}) }
func (c *Client) ResetEstimates() error { return c.Send(protocol.ResetEstimates{}) }

// Close closes the underlying sender.
func (c *Client) Close() error {
	return c.s.Close()
}
