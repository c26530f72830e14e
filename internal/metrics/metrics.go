// Package metrics serves the operational endpoints: a liveness check and
// Prometheus exposition fed by registry snapshots, so deregistered tunnels
// simply disappear from the output without any unregister bookkeeping.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"siranga/internal/config"
	"siranga/internal/registry"
)

var (
	tunnelsDesc = prometheus.NewDesc(
		"siranga_tunnels_total",
		"Number of currently registered tunnels",
		nil, nil,
	)
	bytesInDesc = prometheus.NewDesc(
		"siranga_bytes_in_total",
		"Bytes streamed from the tunnel client to HTTP clients",
		[]string{"tunnel"}, nil,
	)
	bytesOutDesc = prometheus.NewDesc(
		"siranga_bytes_out_total",
		"Bytes streamed from HTTP clients to the tunnel client",
		[]string{"tunnel"}, nil,
	)
	connsDesc = prometheus.NewDesc(
		"siranga_open_connections",
		"Forwarding channels currently open per tunnel",
		[]string{"tunnel"}, nil,
	)
)

// collector projects a registry snapshot into metrics on every scrape
type collector struct {
	registry *registry.Registry
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- tunnelsDesc
	ch <- bytesInDesc
	ch <- bytesOutDesc
	ch <- connsDesc
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.registry.Snapshot()

	ch <- prometheus.MustNewConstMetric(tunnelsDesc, prometheus.GaugeValue, float64(len(stats)))
	for _, stat := range stats {
		ch <- prometheus.MustNewConstMetric(bytesInDesc, prometheus.CounterValue, float64(stat.BytesIn), stat.Name)
		ch <- prometheus.MustNewConstMetric(bytesOutDesc, prometheus.CounterValue, float64(stat.BytesOut), stat.Name)
		ch <- prometheus.MustNewConstMetric(connsDesc, prometheus.GaugeValue, float64(stat.ActiveConns), stat.Name)
	}
}

type Server struct {
	config  *config.Config
	handler http.Handler
}

func NewServer(cfg *config.Config, reg *registry.Registry) *Server {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collector{registry: reg})

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "siranga_build_info",
		Help: "Build information",
	}, []string{"version"})
	buildInfo.WithLabelValues(cfg.ReleaseVersion).Set(1)
	promRegistry.MustRegister(buildInfo)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	return &Server{
		config:  cfg,
		handler: mux,
	}
}

// Handler exposes the mux for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves the metrics endpoints until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.MetricsPort),
		Handler: s.handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
