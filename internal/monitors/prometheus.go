package monitors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMonitor registers metric vectors lazily on a private registry.
type PrometheusMonitor struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mutex      sync.Mutex
	endpoint   string
	server     *http.Server
	started    atomic.Bool
}

// NewPrometheusMonitor creates a monitor serving its registry at endpoint.
func NewPrometheusMonitor(endpoint string) *PrometheusMonitor {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	return &PrometheusMonitor{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		endpoint:   endpoint,
	}
}

// Handler exposes the registry.
func (p *PrometheusMonitor) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// StartServer serves metrics on addr in the background.
func (p *PrometheusMonitor) StartServer(addr string, onError func(error)) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("prometheus metrics server already started")
	}

	mux := http.NewServeMux()
	mux.Handle(p.endpoint, p.Handler())
	p.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.started.Store(false)
			if onError != nil {
				onError(err)
			}
		}
	}()
	return nil
}

// StopServer shuts the metrics listener down.
func (p *PrometheusMonitor) StopServer(ctx context.Context) error {
	if p.server == nil || !p.started.CompareAndSwap(true, false) {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// register adds c to the registry, or returns the collector already
// registered under the same descriptor.
func register[C prometheus.Collector](reg *prometheus.Registry, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func (p *PrometheusMonitor) counter(name string, labels map[string]string) (*prometheus.CounterVec, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if v, ok := p.counters[name]; ok {
		return v, nil
	}
	v, err := register(p.registry, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelKeys(labels)))
	if err != nil {
		return nil, err
	}
	p.counters[name] = v
	return v, nil
}

func (p *PrometheusMonitor) gauge(name string, labels map[string]string) (*prometheus.GaugeVec, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if v, ok := p.gauges[name]; ok {
		return v, nil
	}
	v, err := register(p.registry, prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelKeys(labels)))
	if err != nil {
		return nil, err
	}
	p.gauges[name] = v
	return v, nil
}

func (p *PrometheusMonitor) histogram(name string, labels map[string]string) (*prometheus.HistogramVec, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if v, ok := p.histograms[name]; ok {
		return v, nil
	}
	v, err := register(p.registry, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    name,
		Buckets: prometheus.DefBuckets,
	}, labelKeys(labels)))
	if err != nil {
		return nil, err
	}
	p.histograms[name] = v
	return v, nil
}

func (p *PrometheusMonitor) Counter(ctx context.Context, name string, value float64, labels map[string]string) error {
	v, err := p.counter(name, labels)
	if err != nil {
		return err
	}
	c, err := v.GetMetricWith(labels)
	if err != nil {
		return err
	}
	c.Add(value)
	return nil
}

func (p *PrometheusMonitor) Gauge(ctx context.Context, name string, value float64, labels map[string]string) error {
	v, err := p.gauge(name, labels)
	if err != nil {
		return err
	}
	g, err := v.GetMetricWith(labels)
	if err != nil {
		return err
	}
	g.Set(value)
	return nil
}

func (p *PrometheusMonitor) Histogram(ctx context.Context, name string, value float64, labels map[string]string) error {
	v, err := p.histogram(name, labels)
	if err != nil {
		return err
	}
	h, err := v.GetMetricWith(labels)
	if err != nil {
		return err
	}
	h.Observe(value)
	return nil
}

// IsHealthy reports whether the registry can still be gathered.
func (p *PrometheusMonitor) IsHealthy(ctx context.Context) (bool, error) {
	if _, err := p.registry.Gather(); err != nil {
		return false, err
	}
	return true, nil
}
