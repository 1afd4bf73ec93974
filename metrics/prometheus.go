// Package metrics exports directory stream events to Prometheus.
//
//	obs := metrics.NewPrometheusObserver(metrics.WithRegisterer(reg))
//	st, err := sqldir.Open(ctx, db, sqldir.WithMetrics(obs))
//
// File names are reduced to their kind (the extension, or "segments" for
// commit descriptors) to keep label cardinality bounded.
package metrics

import (
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/sqldir/store"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "sqldir"

// PrometheusObserver implements store.MetricsObserver.
type PrometheusObserver struct {
	flushedBytes  *prometheus.CounterVec
	refills       *prometheus.CounterVec
	refilledBytes *prometheus.CounterVec
	refillLatency *prometheus.HistogramVec
	spills        *prometheus.CounterVec
	spilledBytes  *prometheus.CounterVec
	commits       *prometheus.CounterVec
	commitBytes   *prometheus.CounterVec
	commitLatency *prometheus.HistogramVec
	deletes       *prometheus.CounterVec
}

var _ store.MetricsObserver = (*PrometheusObserver)(nil)

type observerOptions struct {
	namespace  string
	registerer prometheus.Registerer
	buckets    []float64
}

// Option configures a PrometheusObserver.
type Option func(*observerOptions)

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(o *observerOptions) { o.namespace = ns }
}

// WithRegisterer registers the collectors with r instead of
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *observerOptions) { o.registerer = r }
}

// WithLatencyBuckets sets the histogram buckets in seconds.
func WithLatencyBuckets(buckets []float64) Option {
	return func(o *observerOptions) { o.buckets = buckets }
}

// NewPrometheusObserver creates the collectors and registers them. It
// panics if a collector with the same name is already registered.
func NewPrometheusObserver(optFns ...Option) *PrometheusObserver {
	o := observerOptions{
		namespace:  DefaultNamespace,
		registerer: prometheus.DefaultRegisterer,
		buckets:    prometheus.DefBuckets,
	}
	for _, fn := range optFns {
		fn(&o)
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      name,
			Help:      help,
			Buckets:   o.buckets,
		}, labels)
	}

	p := &PrometheusObserver{
		flushedBytes:  counter("flushed_bytes_total", "Bytes handed from output buffers to their sinks", "kind"),
		refills:       counter("refills_total", "Input buffer refills from the backend", "kind", "status"),
		refilledBytes: counter("refilled_bytes_total", "Bytes read from the backend by input refills", "kind"),
		refillLatency: histogram("refill_duration_seconds", "Latency of input buffer refills", "kind"),
		spills:        counter("spills_total", "Outputs that switched from memory to a temporary file", "kind"),
		spilledBytes:  counter("spilled_bytes_total", "Bytes copied from memory into spill files", "kind"),
		commits:       counter("commits_total", "Outputs published to the backend on close", "kind", "status"),
		commitBytes:   counter("committed_bytes_total", "Bytes published to the backend on close", "kind"),
		commitLatency: histogram("commit_duration_seconds", "Latency of publishing an output on close", "kind"),
		deletes:       counter("deletes_total", "File deletions", "kind", "status"),
	}
	o.registerer.MustRegister(
		p.flushedBytes,
		p.refills,
		p.refilledBytes,
		p.refillLatency,
		p.spills,
		p.spilledBytes,
		p.commits,
		p.commitBytes,
		p.commitLatency,
		p.deletes,
	)
	return p
}

// Kind returns the label used for a file name: "segments" for commit
// descriptors, the extension without the dot otherwise, "none" without one.
func Kind(name string) string {
	if strings.HasPrefix(name, "segments") {
		return "segments"
	}
	if ext := path.Ext(name); len(ext) > 1 {
		return ext[1:]
	}
	return "none"
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (p *PrometheusObserver) OnFlush(name string, bytes int) {
	p.flushedBytes.WithLabelValues(Kind(name)).Add(float64(bytes))
}

func (p *PrometheusObserver) OnRefill(name string, bytes int, d time.Duration, err error) {
	kind := Kind(name)
	p.refills.WithLabelValues(kind, status(err)).Inc()
	if err != nil {
		return
	}
	p.refilledBytes.WithLabelValues(kind).Add(float64(bytes))
	p.refillLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusObserver) OnSpill(name string, bytes int64) {
	kind := Kind(name)
	p.spills.WithLabelValues(kind).Inc()
	p.spilledBytes.WithLabelValues(kind).Add(float64(bytes))
}

func (p *PrometheusObserver) OnCommit(name string, bytes int64, d time.Duration, err error) {
	kind := Kind(name)
	p.commits.WithLabelValues(kind, status(err)).Inc()
	if err != nil {
		return
	}
	p.commitBytes.WithLabelValues(kind).Add(float64(bytes))
	p.commitLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusObserver) OnDelete(name string, err error) {
	p.deletes.WithLabelValues(Kind(name), status(err)).Inc()
}
