// Package metrics exposes collector counters and timings in Prometheus
// format. The exporter is optional: when disabled nothing is registered and
// no listener starts.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gnmradar/gnm/internal/model"
	"github.com/gnmradar/gnm/internal/store"
)

// StatsFunc supplies the appender counters on scrape.
type StatsFunc func() store.WriterStats

// Collector registers and serves the collector metrics. It implements the
// scheduler's Observer.
type Collector struct {
	registry *prometheus.Registry

	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	cycleDuration prometheus.Histogram

	srv *http.Server
	log *zap.Logger
}

// New builds the metric set. stats may be nil when no writer is wired.
func New(stats StatsFunc, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	started := time.Now()

	c := &Collector{
		registry: registry,
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gnm_checks_total",
			Help: "Checks executed, by type and persisted status.",
		}, []string{"type", "status"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gnm_check_duration_seconds",
			Help:    "Probe latency by check type.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"type"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gnm_cycle_duration_seconds",
			Help:    "Wall time of full measurement cycles.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		log: log,
	}

	registry.MustRegister(c.checksTotal, c.checkDuration, c.cycleDuration)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gnm_uptime_seconds",
		Help: "Seconds since the collector started.",
	}, func() float64 { return time.Since(started).Seconds() }))

	if stats != nil {
		registry.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "gnm_measurements_inserted_total",
				Help: "Measurement rows successfully persisted.",
			}, func() float64 { return float64(stats().Inserted) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "gnm_measurements_dropped_total",
				Help: "Measurement rows dropped after exhausting retries.",
			}, func() float64 { return float64(stats().Dropped) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "gnm_insert_retries_total",
				Help: "Insert attempts beyond the first, across all rows.",
			}, func() float64 { return float64(stats().Retries) }),
		)
	}
	return c
}

// ObserveCheck records one classified check outcome.
func (c *Collector) ObserveCheck(checkType model.CheckType, status model.Status, d time.Duration) {
	c.checksTotal.WithLabelValues(string(checkType), statusLabel(status)).Inc()
	c.checkDuration.WithLabelValues(string(checkType)).Observe(d.Seconds())
}

// ObserveCycle records one full cycle duration.
func (c *Collector) ObserveCycle(d time.Duration) {
	c.cycleDuration.Observe(d.Seconds())
}

// Handler returns the scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve starts the scrape listener on port. It returns immediately; the
// listener shuts down when ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", c.Handler())
	c.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		c.log.Info("metrics listener started", zap.Int("port", port))
		if err := c.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("metrics listener failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.srv.Shutdown(shutdownCtx)
	}()
}

func statusLabel(s model.Status) string {
	switch s {
	case model.StatusOK:
		return "ok"
	case model.StatusWarn:
		return "warn"
	default:
		return "crit"
	}
}
