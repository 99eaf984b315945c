// Command fitworker runs one fitting worker. It subscribes to the live
// instrument feed, takes commands from a controller and pushes one result
// per fitted profile.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/liveodm/internal/config"
	"github.com/banshee-data/liveodm/internal/control"
	"github.com/banshee-data/liveodm/internal/version"
	"github.com/banshee-data/liveodm/internal/worker"
)

// options holds the command-line flags.
type options struct {
	configFile   string
	liveAddr     string
	controlAddr  string
	resultsAddr  string
	workerID     string
	profileKey   string
	pollInterval time.Duration
	debugListen  string
	showVersion  bool
}

// register binds the flags to fs.
func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configFile, "config", "", "Path to a worker JSON config (optional)")
	fs.StringVar(&o.liveAddr, "live", config.DefaultLiveAddress, "Live data endpoint to subscribe to")
	fs.StringVar(&o.controlAddr, "control", config.DefaultControlAddress, "Control endpoint to pull commands from")
	fs.StringVar(&o.resultsAddr, "results", config.DefaultResultAddress, "Result endpoint to push to")
	fs.StringVar(&o.workerID, "id", "", "Worker id used in log lines")
	fs.StringVar(&o.profileKey, "profile-key", "", "Live message key holding the intensity profile")
	fs.DurationVar(&o.pollInterval, "poll", time.Millisecond, "Upper bound on each wait of the event loop")
	fs.StringVar(&o.debugListen, "debug-listen", "", "Serve /debug/ pages on this address (empty disables)")
	fs.BoolVar(&o.showVersion, "version", false, "Print the version and exit")
}

// resolveConfig loads the config file and applies the flags that were set
// explicitly on fs on top of it.
func (o *options) resolveConfig(fs *flag.FlagSet) (*config.WorkerConfig, error) {
	cfg := &config.WorkerConfig{}
	if o.configFile != "" {
		var err error
		if cfg, err = config.LoadWorkerConfig(o.configFile); err != nil {
			return nil, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "live":
			cfg.LiveAddress = &o.liveAddr
		case "control":
			cfg.ControlAddress = &o.controlAddr
		case "results":
			cfg.ResultAddress = &o.resultsAddr
		case "profile-key":
			cfg.ProfileKey = &o.profileKey
		case "poll":
			s := o.pollInterval.String()
			cfg.PollInterval = &s
		case "debug-listen":
			cfg.DebugListen = &o.debugListen
		}
	})
	return cfg, cfg.Validate()
}

func main() {
	var opts options
	opts.register(flag.CommandLine)
	flag.Parse()
	if opts.showVersion {
		fmt.Println("fitworker", version.String())
		return
	}

	cfg, err := opts.resolveConfig(flag.CommandLine)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addrs := control.Addresses{
		Live:    cfg.GetLiveAddress(),
		Control: cfg.GetControlAddress(),
		Results: cfg.GetResultAddress(),
	}
	ch, err := control.DialChannels(ctx, addrs)
	if err != nil {
		log.Fatalf("failed to connect worker channels: %v", err)
	}
	log.Printf("fitworker %s", version.String())
	log.Printf("worker %q live=%s control=%s results=%s", opts.workerID, addrs.Live, addrs.Control, addrs.Results)

	wcfg := worker.ConfigFrom(cfg)
	wcfg.ID = opts.workerID
	w := worker.New(wcfg, ch)

	var wg sync.WaitGroup
	if addr := cfg.GetDebugListen(); addr != "" {
		mux := http.NewServeMux()
		w.AttachDebugRoutes(mux)
		server := &http.Server{Addr: addr, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("debug server failed: %v", err)
				}
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				server.Close()
			}
		}()
	}

	runErr := w.Run(ctx)
	// An abort command ends Run without a signal; release the debug server too.
	stop()
	wg.Wait()
	if runErr != nil {
		log.Printf("worker stopped: %v", runErr)
		os.Exit(1)
	}
	log.Printf("worker stopped")
}
