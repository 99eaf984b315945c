package instrument

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/liveodm/internal/monitoring"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/timeutil"
	"github.com/banshee-data/liveodm/internal/transport"
)

// Publish periods of the stationary and measurement mocks.
const (
	StationaryPeriod  = 20 * time.Millisecond
	MeasurementPeriod = 8 * time.Millisecond
)

// Status strings reported by the mocks.
const (
	StationaryStatus  = "pretending to capture a stationary profile"
	MeasurementStatus = "fake measurement in progress"
)

// Publisher sends one generated profile per Period.
type Publisher struct {
	Sender    transport.Sender
	Generator *Generator
	Period    time.Duration
	Status    string
	// ProfileKey defaults to protocol.DefaultProfileKey.
	ProfileKey string
	// Limit stops the publisher after that many frames when positive.
	Limit int
	// Clock paces the publisher, nil means the real clock.
	Clock timeutil.Clock

	sent atomic.Int64
}

// Sent returns the number of frames published so far.
func (p *Publisher) Sent() int { return int(p.sent.Load()) }

// Run publishes until ctx is done, the limit is reached or the sender is
// closed. It does not close the sender.
func (p *Publisher) Run(ctx context.Context) error {
	period := p.Period
	if period <= 0 {
		period = StationaryPeriod
	}
	ticker := timeutil.OrReal(p.Clock).NewTicker(period)
	defer ticker.Stop()

	if p.limitReached() {
		return nil
	}
	for {
		sent := p.Sent()
		if err := p.publish(); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return err
			}
			monitoring.Logf("publish failed: %v", err)
		}
		if n := p.Sent(); n > sent && n%1000 == 0 {
			monitoring.Logf("published %d profiles", n)
		}
		if p.limitReached() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

func (p *Publisher) limitReached() bool {
	return p.Limit > 0 && p.Sent() >= p.Limit
}

func (p *Publisher) publish() error {
	f := p.Generator.Next()
	b, err := protocol.EncodeLiveData(protocol.LiveData{
		Profile: f.Profile,
		Status:  p.Status,
		Metadata: map[string]interface{}{
			ActuatorVoltageKey: f.ActuatorVoltage,
		},
	}, p.ProfileKey)
	if err != nil {
		return err
	}
	if err := p.Sender.Send(b); err != nil {
		return err
	}
	p.sent.Add(1)
	return nil
}
