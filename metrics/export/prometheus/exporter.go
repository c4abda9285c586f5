package prometheus

import (
	"context"
	"net/http"
	"time"

	"github.com/ofn-labs/authcore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// QueueDepth reports delivery backlog. *dispatch.Queue implements it.
type QueueDepth interface {
	Pending(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context) (int64, error)
}

// Exporter is a prometheus.Collector over an engine's counters. Values are
// read from the engine at scrape time; nothing is registered globally.
type Exporter struct {
	source  metricsSource
	queue   QueueDepth
	timeout time.Duration

	counters   []*prometheus.Desc
	histograms []*prometheus.Desc
	dropped    *prometheus.Desc
	pending    *prometheus.Desc
	dead       *prometheus.Desc
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithQueueDepth adds backlog gauges read from q on each scrape.
func WithQueueDepth(q QueueDepth) Option {
	return func(e *Exporter) { e.queue = q }
}

// WithScrapeTimeout bounds the Redis calls made for queue gauges.
func WithScrapeTimeout(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewExporter creates an Exporter reading from engine.
func NewExporter(engine *authcore.Engine, opts ...Option) *Exporter {
	return NewExporterFromSource(engine, opts...)
}

// NewExporterFromSource creates an Exporter from any snapshot source.
func NewExporterFromSource(source metricsSource, opts ...Option) *Exporter {
	e := &Exporter{
		source:  source,
		timeout: 2 * time.Second,
		dropped: prometheus.NewDesc("authcore_audit_dropped_total",
			"Audit events dropped due to dispatcher backpressure.", nil, nil),
		pending: prometheus.NewDesc("authcore_dispatch_pending_jobs",
			"Delivery jobs waiting in the queue.", nil, nil),
		dead: prometheus.NewDesc("authcore_dispatch_dead_letter_jobs",
			"Delivery jobs parked after permanent failure.", nil, nil),
	}
	for _, def := range authcore.CounterDefs {
		e.counters = append(e.counters, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range authcore.HistogramDefs {
		e.histograms = append(e.histograms, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.counters {
		ch <- d
	}
	for _, d := range e.histograms {
		ch <- d
	}
	ch <- e.dropped
	if e.queue != nil {
		ch <- e.pending
		ch <- e.dead
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e.source == nil {
		return
	}

	snapshot := e.source.MetricsSnapshot()
	for i, def := range authcore.CounterDefs {
		ch <- prometheus.MustNewConstMetric(e.counters[i], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
	}
	for i, def := range authcore.HistogramDefs {
		buckets, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		count, cumulative := cumulativeBuckets(buckets)
		// snapshots carry no sum
		ch <- prometheus.MustNewConstHistogram(e.histograms[i], count, 0, cumulative)
	}
	ch <- prometheus.MustNewConstMetric(e.dropped, prometheus.CounterValue, float64(e.source.AuditDropped()))

	if e.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if n, err := e.queue.Pending(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(e.pending, prometheus.GaugeValue, float64(n))
	} else {
		ch <- prometheus.NewInvalidMetric(e.pending, err)
	}
	if n, err := e.queue.DeadLetters(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(e.dead, prometheus.GaugeValue, float64(n))
	} else {
		ch <- prometheus.NewInvalidMetric(e.dead, err)
	}
}

// Handler serves the exporter from a private registry.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func cumulativeBuckets(buckets []uint64) (uint64, map[float64]uint64) {
	out := make(map[float64]uint64, len(authcore.HistogramBounds))
	var running uint64
	for i, le := range authcore.HistogramBounds {
		if i < len(buckets) {
			running += buckets[i]
		}
		out[le] = running
	}
	for i := len(authcore.HistogramBounds); i < len(buckets); i++ {
		running += buckets[i]
	}
	return running, out
}
