// Command fitwatch collects fit results from workers, logs them and charts
// the displacement history on exit.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/liveodm/internal/config"
	"github.com/banshee-data/liveodm/internal/monitoring"
	"github.com/banshee-data/liveodm/internal/protocol"
	"github.com/banshee-data/liveodm/internal/report"
	"github.com/banshee-data/liveodm/internal/transport"
)

var (
	resultsAddr = flag.String("results", config.DefaultResultAddress, "Result endpoint to bind")
	pngFile     = flag.String("png", "", "Write the displacement plot to this PNG file on exit")
	htmlFile    = flag.String("html", "", "Write the displacement chart to this HTML file on exit")
	listen      = flag.String("listen", "", "Serve the live chart over HTTP on this address")
	keep        = flag.Int("keep", 10000, "Number of results kept for charts (0 keeps all)")
	quiet       = flag.Bool("quiet", false, "Do not log every result")
)

// watch records every result received on r until ctx is done or r fails.
func watch(ctx context.Context, r transport.Receiver, rec *report.Recorder, logEach bool) error {
	frames := make(chan []byte, 64)
	errc := make(chan error, 1)
	go func() { errc <- transport.Pump(ctx, r, frames) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case b := <-frames:
			m, err := protocol.DecodeResult(b)
			if err != nil {
				monitoring.Logf("dropping result: %v", err)
				continue
			}
			p := rec.Add(m)
			if !logEach {
				continue
			}
			if p.HasRel {
				monitoring.Logf("#%d mp=%.4f ref=%.4f rel=%.4f", p.Index, p.Moving, p.Ref, p.Relative)
			} else {
				monitoring.Logf("#%d mp=%v(%t) ref=%v(%t)", p.Index, p.Moving, p.HasMP, p.Ref, p.HasRef)
			}
		}
	}
}

func writeCharts(rec *report.Recorder, png, html string) error {
	if png != "" {
		if err := rec.SavePNG(png); err != nil {
			return err
		}
		log.Printf("wrote %s", png)
	}
	if html != "" {
		f, err := os.Create(html)
		if err != nil {
			return err
		}
		if err := rec.WriteHTML(f, "Peak displacement"); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("wrote %s", html)
	}
	return nil
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pull, err := transport.ListenPuller(ctx, *resultsAddr)
	if err != nil {
		log.Fatalf("failed to bind results: %v", err)
	}
	defer pull.Close()
	log.Printf("collecting results on %s", *resultsAddr)

	rec := report.NewRecorder(*keep)
	if *listen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if err := rec.WriteHTML(w, "Peak displacement"); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})
		server := &http.Server{Addr: *listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("chart server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	if err := watch(ctx, pull, rec, !*quiet); err != nil {
		log.Printf("results channel failed: %v", err)
	}
	log.Printf("collected %d results", rec.Len())
	if err := writeCharts(rec, *pngFile, *htmlFile); err != nil {
		log.Fatalf("failed to write charts: %v", err)
	}
}
