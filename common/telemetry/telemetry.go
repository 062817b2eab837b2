package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/koicert/registry/common/config"
	"github.com/koicert/registry/common/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry serves pprof and Prometheus endpoints on side ports
type Telemetry struct {
	log      *logger.Logger
	cfg      config.TelemetryConfig
	registry *prometheus.Registry
	servers  []*http.Server
}

// New creates telemetry components
// Go runtime and process collectors are added to reg.
func New(cfg config.TelemetryConfig, reg *prometheus.Registry, log *logger.Logger) *Telemetry {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Telemetry{
		log:      log,
		cfg:      cfg,
		registry: reg,
	}
}

// Handler returns the /metrics handler for the registry
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Start starts telemetry endpoints
func (t *Telemetry) Start(ctx context.Context) error {
	if t.cfg.EnablePprof {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		t.serve("pprof", fmt.Sprintf("localhost:%d", t.cfg.PprofPort), mux)
	}

	if t.cfg.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.Handler())
		t.serve("metrics", fmt.Sprintf(":%d", t.cfg.MetricsPort), mux)
	}

	return nil
}

// Stop shuts the side servers down
func (t *Telemetry) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for _, srv := range t.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) serve(name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.servers = append(t.servers, srv)

	go func() {
		t.log.Info(name+" server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error(name+" server error", "error", err)
		}
	}()
}
