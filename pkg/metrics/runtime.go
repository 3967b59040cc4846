package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeStats exposes process-level gauges alongside the engine counters.
type RuntimeStats struct {
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	started time.Time
}

// NewRuntimeStats registers process gauges on the given registry.
func NewRuntimeStats(namespace string, registry *prometheus.Registry) (*RuntimeStats, error) {
	r := &RuntimeStats{
		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started",
		}),
		started: time.Now(),
	}

	for _, c := range []prometheus.Collector{r.memoryUsage, r.goroutines, r.uptime} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Collect refreshes the gauges every interval until ctx ends.
func (r *RuntimeStats) Collect(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample()
		}
	}
}

func (r *RuntimeStats) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	r.memoryUsage.Set(float64(memStats.Alloc))
	r.goroutines.Set(float64(runtime.NumGoroutine()))
	r.uptime.Set(time.Since(r.started).Seconds())
}
