package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushSink adapts the Metric stream onto a Prometheus Pushgateway, the corpus's only time-series-shaped client
// (cuemby-warren's pkg/metrics). Each distinct Path gets its own Gauge, created lazily and reused across pushes
// since the gopsutil/cache samplers report a stable set of paths per process.
type PushSink struct {
	pusher   *push.Pusher
	registry *prometheus.Registry

	mu     sync.Mutex
	gauges map[string]prometheus.Gauge
}

func NewPushSink(gatewayURL, job, instance string) *PushSink {
	registry := prometheus.NewRegistry()
	pusher := push.New(gatewayURL, job).Gatherer(registry).Grouping("instance", instance)
	return &PushSink{
		pusher:   pusher,
		registry: registry,
		gauges:   make(map[string]prometheus.Gauge),
	}
}

func (s *PushSink) Push(ctx context.Context, metrics []Metric) error {
	s.mu.Lock()
	for _, m := range metrics {
		g, ok := s.gauges[m.Path]
		if !ok {
			g = prometheus.NewGauge(prometheus.GaugeOpts{
				Name: sanitizeMetricName(m.Path),
				Help: fmt.Sprintf("fleet metric %s", m.Path),
			})
			s.registry.MustRegister(g)
			s.gauges[m.Path] = g
		}
		g.Set(m.Value)
	}
	s.mu.Unlock()

	if err := s.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to gateway: %w", err)
	}
	return nil
}

// sanitizeMetricName turns a dotted metric path into a Prometheus-legal metric name (letters, digits, underscores).
func sanitizeMetricName(path string) string {
	out := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		b := path[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
			out[i] = b
		default:
			out[i] = '_'
		}
	}
	return "pony_" + string(out)
}
