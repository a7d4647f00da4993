package monitors

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// MetricData is one buffered sample.
type MetricData struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// LocalLoggingFallback buffers samples and writes them as JSON log lines
// when the buffer fills or on Flush.
type LocalLoggingFallback struct {
	enabled bool
	logger  *logrus.Logger
	buffer  []MetricData
	mutex   sync.Mutex
	maxSize int
}

// NewLocalLoggingFallback logs flushed batches to out.
func NewLocalLoggingFallback(enabled bool, out io.Writer, maxBufferSize int) *LocalLoggingFallback {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if out != nil {
		logger.SetOutput(out)
	}
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}

	return &LocalLoggingFallback{
		enabled: enabled,
		logger:  logger,
		buffer:  make([]MetricData, 0, maxBufferSize),
		maxSize: maxBufferSize,
	}
}

func (l *LocalLoggingFallback) IsEnabled() bool {
	return l.enabled
}

// HandleFailure buffers the sample, flushing first if the buffer is full.
func (l *LocalLoggingFallback) HandleFailure(ctx context.Context, metricName string, metricType MetricType, value float64, labels map[string]string) error {
	if !l.enabled {
		return nil
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if len(l.buffer) >= l.maxSize {
		l.flushBuffer()
	}
	l.buffer = append(l.buffer, MetricData{
		Name:      metricName,
		Type:      metricType,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	})
	return nil
}

// Buffered returns the number of samples waiting for a flush.
func (l *LocalLoggingFallback) Buffered() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.buffer)
}

func (l *LocalLoggingFallback) flushBuffer() {
	if len(l.buffer) == 0 {
		return
	}

	data, err := json.Marshal(l.buffer)
	if err != nil {
		l.logger.WithError(err).Error("Failed to marshal metrics buffer")
		return
	}
	l.logger.WithField("metrics_count", len(l.buffer)).Info(string(data))
	l.buffer = l.buffer[:0]
}

// Flush writes out everything buffered.
func (l *LocalLoggingFallback) Flush() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.flushBuffer()
}

// PeriodicFlusher flushes a fallback on a fixed interval.
type PeriodicFlusher struct {
	fallback *LocalLoggingFallback
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
	running  atomic.Bool
	stopOnce sync.Once
}

func NewPeriodicFlusher(fallback *LocalLoggingFallback, interval time.Duration) *PeriodicFlusher {
	return &PeriodicFlusher{
		fallback: fallback,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop. Calling it twice is a no-op.
func (p *PeriodicFlusher) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.fallback.Flush()
			case <-p.stopChan:
				return
			}
		}
	}()
}

// Stop ends the loop and performs a final flush.
func (p *PeriodicFlusher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.running.Load() {
			<-p.done
		}
		p.fallback.Flush()
	})
}
