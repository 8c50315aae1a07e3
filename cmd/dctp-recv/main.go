// Command dctp-recv listens for a DCTP peer, writes every delivered byte
// to an output file, and optionally serves Prometheus metrics, mirroring
// the reference Python dctp-recv CLI.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FerdiHS/dual-channel-transport-protocol/metrics"
	"github.com/FerdiHS/dual-channel-transport-protocol/transport"
)

func main() {
	listen := flag.String("listen", "", "HOST:PORT to bind (required)")
	out := flag.String("out", "", "output file path (required)")
	bufCap := flag.Int("buf-cap", transport.DefaultWindow, "receive buffer/window (bytes)")
	verbose := flag.Bool("v", false, "verbose logging")
	sack := flag.Bool("sack", true, "enable SACK")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this HOST:PORT")
	flag.Parse()

	if *listen == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "[dctp-recv] error: --listen and --out are required")
		os.Exit(1)
	}

	outPath, err := filepath.Abs(*out)
	if err != nil {
		log.Fatalf("[dctp-recv] invalid --out path: %v", err)
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[dctp-recv] mkdir %s: %v", dir, err)
		}
	}

	t := transport.New(transport.Config{
		Window:       *bufCap,
		ProbReliable: 1.0,
		SackEnabled:  *sack,
		Verbose:      *verbose,
	})
	if err := t.Bind(*listen); err != nil {
		log.Fatalf("[dctp-recv] bind failed: %v", err)
	}
	defer t.Close()

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewSenderCollector(t.Sender(), t.ID()))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("[dctp-recv] metrics server stopped: %v", err)
			}
		}()
		if *verbose {
			fmt.Printf("[dctp-recv] serving metrics on %s/metrics\n", *metricsAddr)
		}
	}

	f, err := os.Create(outPath)
	if err != nil {
		log.Fatalf("[dctp-recv] create %s: %v", outPath, err)
	}
	defer f.Close()

	total := 0
	started := time.Now()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-interrupt:
			if *verbose {
				fmt.Fprintln(os.Stderr, "\n[dctp-recv] interrupted; closing...")
			}
			goto done
		default:
		}

		t.Poll(25 * time.Millisecond)
		chunk := t.Recv(1 << 20)
		if len(chunk) > 0 {
			if _, err := f.Write(chunk); err != nil {
				log.Fatalf("[dctp-recv] write: %v", err)
			}
			total += len(chunk)
		}
	}

done:
	elapsed := time.Since(started).Seconds()
	if elapsed < 1e-6 {
		elapsed = 1e-6
	}
	mbps := float64(total*8) / (elapsed * 1_000_000)
	fmt.Printf("[dctp-recv] received %d bytes in %.3fs  |  %.2f Mb/s\n", total, elapsed, mbps)

	stats := t.Stats()
	fmt.Printf("[dctp-recv] stats: bytes_tx=%d bytes_rx=%d frames_tx=%d frames_rx=%d "+
		"acks_tx=%d acks_rx=%d sacks_tx=%d sacks_rx=%d\n",
		stats.BytesTx, stats.BytesRx, stats.FramesTx, stats.FramesRx,
		stats.AcksTx, stats.AcksRx, stats.SacksTx, stats.SacksRx)
}
