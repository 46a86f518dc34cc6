package collector

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once
	mc   *MetricsCollector

	ErrMetricsNotInitialized = errors.New("metrics collector not initialized")
)

// MetricsCollector exposes the engine's counters and gauges on the shared
// prometheus registry. One instance per process.
type MetricsCollector struct {
	postsReceived    prometheus.Counter
	postsMatched     prometheus.Counter
	postsDropped     prometheus.Counter
	jobsEnqueued     prometheus.Counter
	enqueueFailures  prometheus.Counter
	streamReconnects prometheus.Counter

	refreshes *prometheus.CounterVec

	snapshotGeneration prometheus.Gauge
	listCount          prometheus.Gauge
	blockedDomains     prometheus.Gauge
}

// NewMetricsCollector initializes the singleton collector.
func NewMetricsCollector() *MetricsCollector {
	once.Do(func() {
		mc = &MetricsCollector{
			postsReceived: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingress_posts_received_total",
				Help: "Firehose update events handed to the dispatch pipeline.",
			}),
			postsMatched: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingress_posts_matched_total",
				Help: "Posts that matched a list definition.",
			}),
			postsDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingress_posts_dropped_total",
				Help: "Payloads dropped for decode failures or a missing uri.",
			}),
			jobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingress_jobs_enqueued_total",
				Help: "Fetch jobs pushed to the work queue.",
			}),
			enqueueFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingress_enqueue_failures_total",
				Help: "Fetch jobs that could not be pushed to the work queue.",
			}),
			streamReconnects: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingress_stream_reconnects_total",
				Help: "Firehose reconnect attempts.",
			}),
			refreshes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ingress_cache_refreshes_total",
				Help: "Filter cache refresh outcomes by component.",
			}, []string{"component", "result"}),
			snapshotGeneration: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ingress_snapshot_generation",
				Help: "List snapshot rebuild counter.",
			}),
			listCount: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ingress_list_definitions",
				Help: "Compiled list definitions in the current snapshot.",
			}),
			blockedDomains: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ingress_blocked_domains",
				Help: "Suspended domains in the current snapshot.",
			}),
		}
	})
	return mc
}

// GetMetricsCollector returns the singleton, or an error before init.
// Callers treat a nil collector as "metrics disabled".
func GetMetricsCollector() (*MetricsCollector, error) {
	if mc == nil {
		return nil, ErrMetricsNotInitialized
	}
	return mc, nil
}

func (m *MetricsCollector) IncrementPostsReceived()    { m.postsReceived.Inc() }
func (m *MetricsCollector) IncrementPostsMatched()     { m.postsMatched.Inc() }
func (m *MetricsCollector) IncrementPostsDropped()     { m.postsDropped.Inc() }
func (m *MetricsCollector) IncrementJobsEnqueued()     { m.jobsEnqueued.Inc() }
func (m *MetricsCollector) IncrementEnqueueFailures()  { m.enqueueFailures.Inc() }
func (m *MetricsCollector) IncrementStreamReconnects() { m.streamReconnects.Inc() }

func (m *MetricsCollector) IncrementRefresh(component string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.refreshes.WithLabelValues(component, result).Inc()
}

func (m *MetricsCollector) SetSnapshotGeneration(gen uint64) {
	m.snapshotGeneration.Set(float64(gen))
}

func (m *MetricsCollector) SetListCount(n int) { m.listCount.Set(float64(n)) }

func (m *MetricsCollector) SetBlockedDomains(n int) { m.blockedDomains.Set(float64(n)) }
