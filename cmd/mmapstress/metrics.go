package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shenjiangwei/mmapalloc"
)

var (
	mallocsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mmapstress_mallocs_total",
		Help: "Allocate calls that returned a non-nil payload pointer.",
	})
	freesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mmapstress_frees_total",
		Help: "Free calls that released a live region.",
	})
	requestedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mmapstress_requested_bytes",
		Help: "Requested payload bytes: advanced by Allocate, adjusted by Resize, not reduced by Free.",
	})
	blocksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mmapstress_blocks",
		Help: "Live OS-mapped blocks across all arenas.",
	})
)

func init() {
	prometheus.MustRegister(mallocsGauge, freesGauge, requestedGauge, blocksGauge)
}

// serveMetrics starts an HTTP server exposing statsFn's counters as
// Prometheus gauges, refreshed on a short interval, and returns a
// shutdown function. The allocator library itself never imports
// prometheus; this wiring lives entirely in the demo harness.
func serveMetrics(addr string, statsFn func() mmapalloc.Stats) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	ticker := time.NewTicker(500 * time.Millisecond)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				st := statsFn()
				mallocsGauge.Set(float64(st.Mallocs))
				freesGauge.Set(float64(st.Frees))
				requestedGauge.Set(float64(st.Requested))
				blocksGauge.Set(float64(st.Blocks))
			case <-done:
				return
			}
		}
	}()

	go func() {
		_ = srv.ListenAndServe()
	}()

	return func() {
		ticker.Stop()
		close(done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
