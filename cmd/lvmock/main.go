// Command lvmock publishes synthetic intensity profiles in place of the
// instrument.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/liveodm/internal/instrument"
	"github.com/banshee-data/liveodm/internal/transport"
)

var (
	bind   = flag.String("bind", "tcp://*:4562", "Endpoint to publish live data on")
	mode   = flag.String("mode", "stationary", "Profile source: stationary or measurement")
	noise  = flag.Bool("noise", true, "Add Poisson counting noise")
	seed   = flag.Uint64("seed", 1, "Noise seed")
	period = flag.Duration("period", 0, "Publish period (default depends on mode)")
	count  = flag.Int("count", 0, "Stop after this many profiles (0 runs until interrupted)")
)

// newPublisher builds the publisher of the named mock.
func newPublisher(mode string, s transport.Sender) (*instrument.Publisher, error) {
	pub := &instrument.Publisher{Sender: s}
	switch mode {
	case "stationary":
		pub.Generator = instrument.NewGenerator(false, *noise, *seed)
		pub.Period = instrument.StationaryPeriod
		pub.Status = instrument.StationaryStatus
	case "measurement":
		pub.Generator = instrument.NewGenerator(true, *noise, *seed)
		pub.Period = instrument.MeasurementPeriod
		pub.Status = instrument.MeasurementStatus
	default:
		return nil, fmt.Errorf("unknown mode %q: want stationary or measurement", mode)
	}
	if *period > 0 {
		pub.Period = *period
	}
	pub.Limit = *count
	return pub, nil
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sock, err := transport.ListenPublisher(ctx, *bind)
	if err != nil {
		log.Fatalf("failed to bind live data: %v", err)
	}
	defer sock.Close()

	pub, err := newPublisher(*mode, sock)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("%s mock online at %s, one profile every %s", *mode, *bind, pub.Period)

	start := time.Now()
	if err := pub.Run(ctx); err != nil {
		log.Printf("publisher stopped: %v", err)
	}
	log.Printf("published %d profiles in %s", pub.Sent(), time.Since(start).Round(time.Millisecond))
}
