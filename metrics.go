package persidict

import "time"

// Metrics provides observability for PersiDict operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                    {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)         {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)     {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing
type InMemoryMetrics struct {
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.Timings[name] = append(m.Timings[name], duration)
}

// Common metric names
const (
	MetricGetSuccess     = "persidict.get.success"
	MetricGetError       = "persidict.get.error"
	MetricGetDuration    = "persidict.get.duration"
	MetricSetSuccess     = "persidict.set.success"
	MetricSetError       = "persidict.set.error"
	MetricSetDuration    = "persidict.set.duration"
	MetricDiscardSuccess = "persidict.discard.success"
	MetricDiscardError   = "persidict.discard.error"

	MetricTransformSuccess  = "persidict.transform.success"
	MetricTransformConflict = "persidict.transform.conflict"
	MetricTransformRetries  = "persidict.transform.retries"

	MetricLockAcquired   = "persidict.lock.acquired"
	MetricLockFailed     = "persidict.lock.failed"
	MetricLockDuration   = "persidict.lock.duration"
	MetricLockContention = "persidict.lock.contention"    // Number of retries needed
	MetricLockTimeout    = "persidict.lock.timeout"       // Locks that timed out
	MetricLockWaitTime   = "persidict.lock.wait_duration" // Time spent waiting for locks

	// Additional metrics for Prometheus integration
	MetricBackendOps     = "persidict.backend.ops"
	MetricBackendErrors  = "persidict.backend.errors"
	MetricBackendLatency = "persidict.backend.latency"
	MetricCacheHits      = "persidict.cache.hits"
	MetricCacheMisses    = "persidict.cache.misses"
	MetricCacheSize      = "persidict.cache.size"
)

// Production integrations:
//
// For Prometheus (github.com/prometheus/client_golang):
//   type PrometheusMetrics struct {
//       counters   map[string]prometheus.Counter
//       gauges     map[string]prometheus.Gauge
//       histograms map[string]prometheus.Histogram
//   }
//
// For Datadog (github.com/DataDog/datadog-go/statsd):
//   type DatadogMetrics struct { client *statsd.Client }
//   func (m *DatadogMetrics) Increment(name string, tags ...string) {
//       m.client.Incr(name, tags, 1)
//   }
//
// For StatsD:
//   type StatsDMetrics struct { client *statsd.Client }
//   func (m *StatsDMetrics) Timing(name string, duration time.Duration, tags ...string) {
//       m.client.Timing(name, duration, tags...)
//   }
