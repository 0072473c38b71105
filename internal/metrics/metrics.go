// Package metrics exposes delivery outcome counters over Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zepixnotify/internal/notify"
	"zepixnotify/pkg/logx"
)

// Recorder implements notify.Recorder on a Prometheus counter vector.
type Recorder struct {
	reg        *prometheus.Registry
	deliveries *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		reg: reg,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zepixnotify",
			Name:      "deliveries_total",
			Help:      "Terminal delivery outcomes by destination and status.",
		}, []string{"destination", "status"}),
	}
	reg.MustRegister(r.deliveries)
	reg.MustRegister(collectors.NewGoCollector())
	return r
}

func (r *Recorder) Record(destination string, status notify.Status) {
	r.deliveries.WithLabelValues(destination, string(status)).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve runs a metrics HTTP server until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, log logx.Logger) error {
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics server listening", logx.String("addr", addr))

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
