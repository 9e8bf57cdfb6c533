// Package metrics exports trip readings and pipeline counters to
// Prometheus.
//
// The Registry is private to tacho (no global default registry) and
// carries the Go runtime and process collectors. Readings arrive through
// Publish, which makes the Registry a reporter sink. Counters owned by
// other packages are exposed through CounterFunc/GaugeFunc callbacks so
// those packages do not depend on Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/logging"
	"github.com/xtxerr/tacho/internal/storage/types"
)

var log = logging.Component("metrics")

// Namespace prefixes every metric name.
const Namespace = "tacho"

// Registry owns the Prometheus registry and the trip gauges.
type Registry struct {
	registry *prometheus.Registry

	SpeedKmh       prometheus.Gauge
	CadenceRpm     prometheus.Gauge
	WindowDistance prometheus.Gauge
	TotalDistance  prometheus.Gauge
	Revolutions    prometheus.Gauge
	BufferFill     prometheus.Gauge
	WindowPulses   prometheus.Gauge
	LastReading    prometheus.Gauge
	Readings       prometheus.Counter

	mu    sync.Mutex
	names map[string]struct{}
}

// New creates a Registry with the trip gauges and runtime collectors
// registered.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		names:    make(map[string]struct{}),

		SpeedKmh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "trip",
			Name:      "speed_kmh",
			Help:      "Average speed over the trailing window in km/h",
		}),
		CadenceRpm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "trip",
			Name:      "cadence_rpm",
			Help:      "Pedal cadence over the trailing window in rpm",
		}),
		WindowDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "trip",
			Name:      "window_distance_meters",
			Help:      "Distance covered inside the trailing window",
		}),
		TotalDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "trip",
			Name:      "distance_meters",
			Help:      "Distance covered since the meter started",
		}),
		Revolutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "trip",
			Name:      "wheel_revolutions",
			Help:      "Wheel revolutions since the meter started",
		}),
		BufferFill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "meter",
			Name:      "buffer_fill_ratio",
			Help:      "Rotation buffer fill (0-1)",
		}),
		WindowPulses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "meter",
			Name:      "window_pulses",
			Help:      "Trigger passes inside the trailing window",
		}),
		LastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "trip",
			Name:      "last_reading_timestamp_seconds",
			Help:      "Unix time of the last published reading",
		}),
		Readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "trip",
			Name:      "readings_total",
			Help:      "Readings published",
		}),
	}

	r.registry.MustRegister(
		r.SpeedKmh,
		r.CadenceRpm,
		r.WindowDistance,
		r.TotalDistance,
		r.Revolutions,
		r.BufferFill,
		r.WindowPulses,
		r.LastReading,
		r.Readings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Name returns "metrics".
func (r *Registry) Name() string {
	return "metrics"
}

// Publish updates the trip gauges from one reading.
func (r *Registry) Publish(_ context.Context, rd types.Reading) error {
	r.SpeedKmh.Set(rd.SpeedKmh)
	r.CadenceRpm.Set(rd.CadenceRpm)
	r.WindowDistance.Set(rd.DistanceM)
	r.TotalDistance.Set(rd.TotalDistanceM)
	r.Revolutions.Set(rd.Revolutions)
	r.WindowPulses.Set(float64(rd.Pulses))
	if rd.BufferCap > 0 {
		r.BufferFill.Set(float64(rd.BufferLen) / float64(rd.BufferCap))
	}
	r.LastReading.Set(float64(rd.TimestampMs) / 1000)
	r.Readings.Inc()
	return nil
}

// =============================================================================
// Callback Metrics
// =============================================================================

// CounterFunc registers a counter whose value is read from fn at scrape
// time. subsystem and name are joined with the namespace.
func (r *Registry) CounterFunc(subsystem, name, help string, fn func() float64) error {
	return r.register(subsystem, name, prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (r *Registry) GaugeFunc(subsystem, name, help string, fn func() float64) error {
	return r.register(subsystem, name, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func (r *Registry) register(subsystem, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := prometheus.BuildFQName(Namespace, subsystem, name)
	if _, exists := r.names[key]; exists {
		return errors.NewValidation(key, "metric already registered")
	}

	if err := r.registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return errors.NewValidation(key, "prometheus conflict")
		}
		return fmt.Errorf("register %s: %w", key, err)
	}

	r.names[key] = struct{}{}
	log.Debug("metric registered", "name", key)
	return nil
}

// Gatherer returns the underlying Prometheus registry.
func (r *Registry) Gatherer() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Mux returns a ServeMux with /metrics and /health.
func (r *Registry) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}
