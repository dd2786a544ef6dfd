package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
)

const (
	bandwidthInterval  = 10 * time.Second
	cpuInterval        = 10 * time.Second
	loadavgInterval    = 30 * time.Second
	memoryInterval     = 30 * time.Second
	heartbeatInterval  = 30 * time.Second
	connectionInterval = 10 * time.Second
)

// Sink is the destination for sampled metrics; internal/metrics/sink.go's PushSink is the concrete binding to
// prometheus/push.
type Sink interface {
	Push(ctx context.Context, metrics []Metric) error
}

// Collector samples the five system sources plus per-connection tunnel stats described in §4.7 and pushes them to
// a Sink on independent cadences.
type Collector struct {
	env, hostname string
	cache         *cache.Cache
	sink          Sink
	log           zerolog.Logger
}

func NewCollector(env, hostname string, c *cache.Cache, sink Sink, logger zerolog.Logger) *Collector {
	return &Collector{
		env:      env,
		hostname: hostname,
		cache:    c,
		sink:     sink,
		log:      logger.With().Str("component", "metrics").Logger(),
	}
}

// Run starts one ticker goroutine per metric source and blocks until ctx is cancelled, mirroring the teacher's
// ticker-per-background-task shape in cmd/uncord/main.go.
func (c *Collector) Run(ctx context.Context) {
	go c.loop(ctx, bandwidthInterval, c.sampleBandwidth)
	go c.loop(ctx, cpuInterval, c.sampleCPU)
	go c.loop(ctx, loadavgInterval, c.sampleLoadAvg)
	go c.loop(ctx, memoryInterval, c.sampleMemory)
	go c.loop(ctx, heartbeatInterval, c.sampleHeartbeat)
	go c.loop(ctx, connectionInterval, c.sampleConnections)
	<-ctx.Done()
}

func (c *Collector) loop(ctx context.Context, interval time.Duration, sample func(ctx context.Context) []Metric) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := sample(ctx)
			if len(metrics) == 0 {
				continue
			}
			pushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := c.sink.Push(pushCtx, metrics)
			cancel()
			if err != nil {
				c.log.Warn().Err(err).Int("count", len(metrics)).Msg("metrics: push failed")
			}
		}
	}
}

func (c *Collector) sampleBandwidth(context.Context) []Metric {
	counters, err := net.IOCounters(true)
	if err != nil {
		c.log.Debug().Err(err).Msg("metrics: bandwidth sample failed")
		return nil
	}
	out := make([]Metric, 0, len(counters)*2)
	for _, iface := range counters {
		out = append(out,
			New(c.path("bandwidth", iface.Name, "bytes_sent"), float64(iface.BytesSent)),
			New(c.path("bandwidth", iface.Name, "bytes_recv"), float64(iface.BytesRecv)),
		)
	}
	return out
}

func (c *Collector) sampleCPU(context.Context) []Metric {
	percentages, err := cpu.Percent(0, true)
	if err != nil {
		c.log.Debug().Err(err).Msg("metrics: cpu sample failed")
		return nil
	}
	out := make([]Metric, len(percentages))
	for i, pct := range percentages {
		out[i] = New(c.path("cpu", "core_"+strconv.Itoa(i), "percent"), pct)
	}
	return out
}

func (c *Collector) sampleLoadAvg(context.Context) []Metric {
	avg, err := load.Avg()
	if err != nil {
		c.log.Debug().Err(err).Msg("metrics: loadavg sample failed")
		return nil
	}
	return []Metric{
		New(c.path("loadavg", "system", "load1"), avg.Load1),
		New(c.path("loadavg", "system", "load5"), avg.Load5),
		New(c.path("loadavg", "system", "load15"), avg.Load15),
	}
}

func (c *Collector) sampleMemory(context.Context) []Metric {
	v, err := mem.VirtualMemory()
	if err != nil {
		c.log.Debug().Err(err).Msg("metrics: memory sample failed")
		return nil
	}
	return []Metric{
		New(c.path("memory", "system", "used_bytes"), float64(v.Used)),
		New(c.path("memory", "system", "available_bytes"), float64(v.Available)),
		New(c.path("memory", "system", "used_percent"), v.UsedPercent),
	}
}

func (c *Collector) sampleHeartbeat(context.Context) []Metric {
	node, ok := c.cache.SelfNode()
	if !ok {
		return nil
	}
	online := 0.0
	if node.Status == ident.NodeOnline {
		online = 1.0
	}
	return []Metric{New(c.path("heartbeat", "node", "online"), online)}
}

func (c *Collector) sampleConnections(context.Context) []Metric {
	node, ok := c.cache.SelfNode()
	if !ok {
		return nil
	}
	conns := c.cache.AllConnectionsOnNode(node.UUID)
	out := make([]Metric, 0, len(conns)*3)
	for _, conn := range conns {
		id := conn.ConnID.String()
		out = append(out,
			New(c.path("connection", id, "uplink"), float64(conn.Uplink)),
			New(c.path("connection", id, "downlink"), float64(conn.Downlink)),
			New(c.path("connection", id, "online"), float64(conn.Online)),
		)
	}
	return out
}

func (c *Collector) path(subsystem, name, metric string) string {
	return Path(c.env, c.hostname, subsystem, name, metric)
}
