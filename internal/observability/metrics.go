package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OptimizerCollector bundles Prometheus metrics for the guidance optimizer
// and provides a ready-to-serve /metrics handler.
type OptimizerCollector struct {
	gatherer prometheus.Gatherer

	BatchesTotal         prometheus.Counter
	AgentsProcessedTotal prometheus.Counter
	LargestBatch         prometheus.Gauge
	PendingRequests      prometheus.Gauge
	CycleDuration        prometheus.Histogram
	TemplateCommits      *prometheus.CounterVec
	StaleCommitments     prometheus.Counter
	Degraded             prometheus.Gauge
}

// NewOptimizerCollector registers optimizer metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewOptimizerCollector(reg prometheus.Registerer) (*OptimizerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	batches, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_batches_total",
		Help: "Cumulative number of dispatched evaluation batches.",
	}), "optimizer_batches_total")
	if err != nil {
		return nil, err
	}
	agents, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_agents_processed_total",
		Help: "Cumulative number of agents resolved across all batches.",
	}), "optimizer_agents_processed_total")
	if err != nil {
		return nil, err
	}
	largest, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "optimizer_largest_batch",
		Help: "Largest single batch dispatched since startup.",
	}), "optimizer_largest_batch")
	if err != nil {
		return nil, err
	}
	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "optimizer_pending_requests",
		Help: "Update requests currently queued for the next cycle.",
	}), "optimizer_pending_requests")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "optimizer_cycle_duration_seconds",
		Help:    "Wall-clock latency of one dispatch-and-resolve cycle.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "optimizer_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optimizer_template_commits_total",
		Help: "Committed control selections per template index; the recycled continuation reports as \"continuation\".",
	}, []string{"template"})
	commits, err = registerCounterVec(reg, commits, "optimizer_template_commits_total")
	if err != nil {
		return nil, err
	}

	stale, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_stale_commitments_total",
		Help: "Cycles in which an agent retained its previous commitment because all fresh candidates were non-finite.",
	}), "optimizer_stale_commitments_total")
	if err != nil {
		return nil, err
	}
	degraded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "optimizer_degraded",
		Help: "1 when the batch backend is unavailable and callers must use the direct evaluation path.",
	}), "optimizer_degraded")
	if err != nil {
		return nil, err
	}

	return &OptimizerCollector{
		gatherer:             gatherer,
		BatchesTotal:         batches,
		AgentsProcessedTotal: agents,
		LargestBatch:         largest,
		PendingRequests:      pending,
		CycleDuration:        duration,
		TemplateCommits:      commits,
		StaleCommitments:     stale,
		Degraded:             degraded,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *OptimizerCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCycle records the outcome of one dispatch cycle.
func (c *OptimizerCollector) ObserveCycle(batchSize int, latency time.Duration) {
	if c == nil {
		return
	}
	if c.BatchesTotal != nil {
		c.BatchesTotal.Inc()
	}
	if c.AgentsProcessedTotal != nil {
		c.AgentsProcessedTotal.Add(float64(batchSize))
	}
	if c.CycleDuration != nil {
		c.CycleDuration.Observe(latency.Seconds())
	}
}

// SetLargestBatch updates the high-water gauge.
func (c *OptimizerCollector) SetLargestBatch(size int) {
	if c == nil || c.LargestBatch == nil {
		return
	}
	c.LargestBatch.Set(float64(size))
}

// SetPendingRequests updates the queue depth gauge.
func (c *OptimizerCollector) SetPendingRequests(count int) {
	if c == nil || c.PendingRequests == nil {
		return
	}
	c.PendingRequests.Set(float64(count))
}

// IncTemplateCommit counts a committed selection for a template index.
func (c *OptimizerCollector) IncTemplateCommit(templateIndex int) {
	if c == nil || c.TemplateCommits == nil {
		return
	}
	label := strconv.Itoa(templateIndex)
	if templateIndex < 0 {
		label = "continuation"
	}
	c.TemplateCommits.WithLabelValues(label).Inc()
}

// IncStaleCommitments counts a stale-retention cycle for an agent.
func (c *OptimizerCollector) IncStaleCommitments() {
	if c == nil || c.StaleCommitments == nil {
		return
	}
	c.StaleCommitments.Inc()
}

// SetDegraded flags batch backend availability.
func (c *OptimizerCollector) SetDegraded(degraded bool) {
	if c == nil || c.Degraded == nil {
		return
	}
	if degraded {
		c.Degraded.Set(1)
	} else {
		c.Degraded.Set(0)
	}
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
