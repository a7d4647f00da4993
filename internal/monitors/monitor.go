package monitors

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrMonitoringSystemUnavailable is returned when neither the primary
	// monitor nor an enabled fallback accepted a sample.
	ErrMonitoringSystemUnavailable = errors.New("monitoring system is unavailable")
)

// MetricType names the kind of a sample.
type MetricType string

const (
	CounterType   MetricType = "counter"
	GaugeType     MetricType = "gauge"
	HistogramType MetricType = "histogram"
)

// Metric names recorded by the API.
const (
	MetricHTTPRequests      = "http_requests_total"
	MetricHTTPDuration      = "http_request_duration_seconds"
	MetricHTTPErrors        = "http_errors_total"
	MetricStoreWrites       = "sipstop_store_writes_total"
	MetricCollectionRecords = "sipstop_collection_records"
)

// Monitor accepts metric samples.
type Monitor interface {
	Counter(ctx context.Context, name string, value float64, labels map[string]string) error
	Gauge(ctx context.Context, name string, value float64, labels map[string]string) error
	Histogram(ctx context.Context, name string, value float64, labels map[string]string) error
	IsHealthy(ctx context.Context) (bool, error)
}

// FallbackStrategy takes samples the primary monitor could not.
type FallbackStrategy interface {
	HandleFailure(ctx context.Context, metricName string, metricType MetricType, value float64, labels map[string]string) error
	IsEnabled() bool
}

// MonitorWithFallback sends samples to the primary monitor while it is
// healthy and to the fallback strategy otherwise. A background probe flips
// it back once the primary recovers.
type MonitorWithFallback struct {
	primary   Monitor
	fallback  FallbackStrategy
	isHealthy bool
	mutex     sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMonitorWithFallback wraps primary. periodicCheck of zero disables the
// recovery probe.
func NewMonitorWithFallback(primary Monitor, fallback FallbackStrategy, periodicCheck time.Duration) *MonitorWithFallback {
	m := &MonitorWithFallback{
		primary:   primary,
		fallback:  fallback,
		isHealthy: true,
		stop:      make(chan struct{}),
	}
	if periodicCheck > 0 {
		go m.probe(periodicCheck)
	}
	return m
}

func (m *MonitorWithFallback) probe(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			healthy, _ := m.primary.IsHealthy(ctx)
			cancel()
			m.setHealthy(healthy)
		case <-m.stop:
			return
		}
	}
}

func (m *MonitorWithFallback) setHealthy(v bool) {
	m.mutex.Lock()
	m.isHealthy = v
	m.mutex.Unlock()
}

type recordFunc func(ctx context.Context, name string, value float64, labels map[string]string) error

func (m *MonitorWithFallback) record(ctx context.Context, kind MetricType, primary recordFunc, name string, value float64, labels map[string]string) error {
	m.mutex.RLock()
	healthy := m.isHealthy
	m.mutex.RUnlock()

	if healthy {
		if err := primary(ctx, name, value, labels); err == nil {
			return nil
		}
		m.setHealthy(false)
	}

	if m.fallback != nil && m.fallback.IsEnabled() {
		return m.fallback.HandleFailure(ctx, name, kind, value, labels)
	}
	return ErrMonitoringSystemUnavailable
}

func (m *MonitorWithFallback) Counter(ctx context.Context, name string, value float64, labels map[string]string) error {
	return m.record(ctx, CounterType, m.primary.Counter, name, value, labels)
}

func (m *MonitorWithFallback) Gauge(ctx context.Context, name string, value float64, labels map[string]string) error {
	return m.record(ctx, GaugeType, m.primary.Gauge, name, value, labels)
}

func (m *MonitorWithFallback) Histogram(ctx context.Context, name string, value float64, labels map[string]string) error {
	return m.record(ctx, HistogramType, m.primary.Histogram, name, value, labels)
}

// IsHealthy reports the last known primary state.
func (m *MonitorWithFallback) IsHealthy(ctx context.Context) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.isHealthy, nil
}

// Stop ends the recovery probe.
func (m *MonitorWithFallback) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Nop discards every sample. Used where metrics are not wired, mostly tests.
type Nop struct{}

func (Nop) Counter(context.Context, string, float64, map[string]string) error   { return nil }
func (Nop) Gauge(context.Context, string, float64, map[string]string) error     { return nil }
func (Nop) Histogram(context.Context, string, float64, map[string]string) error { return nil }
func (Nop) IsHealthy(context.Context) (bool, error)                             { return true, nil }
