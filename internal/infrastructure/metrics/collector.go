package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ================================================
// METRICS COLLECTOR
// ================================================

// Collector exposes pipeline metrics to Prometheus and keeps a small
// in-process view used by tests and the stats endpoint.
//
// Performance targets tracked here: >=100 emails/s throughput,
// <=50ms queue acceptance p99, <0.1% error rate.
type Collector struct {
	emailSent       prometheus.Counter
	emailFailed     *prometheus.CounterVec
	emailDeadLetter prometheus.Counter
	emailRetried    prometheus.Counter
	emailBounced    prometheus.Counter

	rateLimitAllow   prometheus.Counter
	rateLimitDeny    prometheus.Counter
	rateLimitBlocked prometheus.Counter

	cbOpen          prometheus.Counter
	cbHalfOpenTrial prometheus.Counter
	cbFallback      prometheus.Counter

	pipelineProcess prometheus.Histogram
	queueAccept     prometheus.Histogram

	queueDepth prometheus.Gauge
	dlqDepth   prometheus.Gauge

	// in-process counters for Snapshot()
	sentCount   atomic.Int64
	failedCount atomic.Int64
	totalCount  atomic.Int64

	// 1-minute sliding throughput: one slot per second
	mu    sync.Mutex
	slots [60]throughputSlot
}

type throughputSlot struct {
	second int64
	count  int64
}

// Snapshot is a point-in-time view of the in-process counters.
type Snapshot struct {
	Sent       int64
	Failed     int64
	Total      int64
	ErrorRate  float64
	Throughput float64 // emails per second over the last minute
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		emailSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_sent_total",
			Help: "Emails accepted by the outbound transport.",
		}),
		emailFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_failed_total",
			Help: "Deliveries that reached a failed terminal state.",
		}, []string{"error"}),
		emailDeadLetter: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_deadletter_total",
			Help: "Deliveries persisted to the dead letter queue.",
		}),
		emailRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_retried_total",
			Help: "Delivery attempts re-entered through the retry queue.",
		}),
		emailBounced: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_bounced_total",
			Help: "Transport callbacks reporting a bounce.",
		}),
		rateLimitAllow: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_allow_total",
			Help: "Rate limit decisions that allowed the operation.",
		}),
		rateLimitDeny: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_deny_total",
			Help: "Rate limit decisions that denied the operation.",
		}),
		rateLimitBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_blocked_total",
			Help: "Identities placed into the temporary block state.",
		}),
		cbOpen: factory.NewCounter(prometheus.CounterOpts{
			Name: "cb_open_total",
			Help: "Circuit breaker transitions into the open state.",
		}),
		cbHalfOpenTrial: factory.NewCounter(prometheus.CounterOpts{
			Name: "cb_halfopen_trial_total",
			Help: "Probe calls permitted while half-open.",
		}),
		cbFallback: factory.NewCounter(prometheus.CounterOpts{
			Name: "cb_fallback_total",
			Help: "Calls rejected by the open breaker and queued for retry.",
		}),
		pipelineProcess: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_process_seconds",
			Help:    "End-to-end processing time for one delivery attempt.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		queueAccept: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_accept_seconds",
			Help:    "Time spent blocking in Enqueue before acceptance.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Entries waiting in the in-memory delivery queue.",
		}),
		dlqDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deadletter_depth",
			Help: "Unresolved dead letter records.",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pipeline_throughput_per_second",
		Help: "Deliveries sent per second over the last minute.",
	}, func() float64 { return c.throughput(time.Now()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pipeline_error_rate",
		Help: "Failed deliveries over total processed since start.",
	}, func() float64 { return c.errorRate() })

	return c
}

// ================================================
// RECORDING
// ================================================

func (c *Collector) RecordSent() {
	c.emailSent.Inc()
	c.sentCount.Add(1)
	c.totalCount.Add(1)
	c.markThroughput(time.Now())
}

func (c *Collector) RecordFailed(reason string) {
	c.emailFailed.WithLabelValues(reason).Inc()
	c.failedCount.Add(1)
	c.totalCount.Add(1)
}

func (c *Collector) RecordDeadLetter() { c.emailDeadLetter.Inc() }
func (c *Collector) RecordRetried()    { c.emailRetried.Inc() }
func (c *Collector) RecordBounced()    { c.emailBounced.Inc() }

func (c *Collector) RecordRateLimitAllow()   { c.rateLimitAllow.Inc() }
func (c *Collector) RecordRateLimitDeny()    { c.rateLimitDeny.Inc() }
func (c *Collector) RecordRateLimitBlocked() { c.rateLimitBlocked.Inc() }

func (c *Collector) RecordBreakerOpen()     { c.cbOpen.Inc() }
func (c *Collector) RecordBreakerTrial()    { c.cbHalfOpenTrial.Inc() }
func (c *Collector) RecordBreakerFallback() { c.cbFallback.Inc() }

func (c *Collector) ObserveProcess(d time.Duration) { c.pipelineProcess.Observe(d.Seconds()) }
func (c *Collector) ObserveAccept(d time.Duration)  { c.queueAccept.Observe(d.Seconds()) }

func (c *Collector) SetQueueDepth(n int)      { c.queueDepth.Set(float64(n)) }
func (c *Collector) SetDeadLetterDepth(n int) { c.dlqDepth.Set(float64(n)) }

// ================================================
// SNAPSHOT
// ================================================

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Sent:       c.sentCount.Load(),
		Failed:     c.failedCount.Load(),
		Total:      c.totalCount.Load(),
		ErrorRate:  c.errorRate(),
		Throughput: c.throughput(time.Now()),
	}
}

func (c *Collector) errorRate() float64 {
	total := c.totalCount.Load()
	if total == 0 {
		return 0
	}
	return float64(c.failedCount.Load()) / float64(total)
}

func (c *Collector) markThroughput(now time.Time) {
	sec := now.Unix()
	idx := sec % 60

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[idx].second != sec {
		c.slots[idx] = throughputSlot{second: sec}
	}
	c.slots[idx].count++
}

func (c *Collector) throughput(now time.Time) float64 {
	cutoff := now.Unix() - 60

	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, slot := range c.slots {
		if slot.second > cutoff {
			total += slot.count
		}
	}
	return float64(total) / 60.0
}
