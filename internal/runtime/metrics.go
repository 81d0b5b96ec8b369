package runtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// BrokerMetrics tracks broker-wide delivery statistics. Every event updates
// both a Prometheus collector and an in-process counter so the numbers can be
// read back without scraping.
type BrokerMetrics struct {
	mu sync.Mutex

	sent              atomic.Uint64
	rejected          atomic.Uint64
	delivered         atomic.Uint64
	failed            atomic.Uint64
	panics            atomic.Uint64
	dropped           atomic.Uint64
	backpressureWaits atomic.Uint64
	activeWorkers     atomic.Int64

	// Prometheus collectors
	sendsTotal        *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	panicsTotal       *prometheus.CounterVec
	droppedTotal      *prometheus.CounterVec
	backpressureTotal *prometheus.CounterVec
	deliveryDuration  *prometheus.HistogramVec
	mailboxDepth      *prometheus.GaugeVec
	workersActive     prometheus.Gauge
	subscribers       prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// BrokerMetricsSnapshot provides a point-in-time view of broker metrics.
type BrokerMetricsSnapshot struct {
	Sent              uint64    `json:"sent"`
	Rejected          uint64    `json:"rejected"`
	Delivered         uint64    `json:"delivered"`
	Failed            uint64    `json:"failed"`
	Panics            uint64    `json:"panics"`
	Dropped           uint64    `json:"dropped"`
	BackpressureWaits uint64    `json:"backpressure_waits"`
	ActiveWorkers     int64     `json:"active_workers"`
	CollectedAt       time.Time `json:"collected_at"`
}

func newBrokerCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "broker",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newBrokerGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "broker",
		Name:      name,
		Help:      help,
	})
}

// NewBrokerMetrics creates the collectors. Nothing is registered until Register.
func NewBrokerMetrics(registerer prometheus.Registerer) *BrokerMetrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	return &BrokerMetrics{
		registerer:        registerer,
		sendsTotal:        newBrokerCounterVec("sends_total", "Envelopes handed to Send, by outcome", []string{"result"}),
		deliveriesTotal:   newBrokerCounterVec("deliveries_total", "Envelopes handed to subscriber handlers", []string{"subscriber", "mode"}),
		errorsTotal:       newBrokerCounterVec("handler_errors_total", "Handler invocations that returned an error", []string{"subscriber", "mode"}),
		panicsTotal:       newBrokerCounterVec("handler_panics_total", "Queued handler invocations that panicked", []string{"subscriber"}),
		droppedTotal:      newBrokerCounterVec("dropped_total", "Queued envelopes discarded because the subscriber was unregistered", []string{"subscriber"}),
		backpressureTotal: newBrokerCounterVec("backpressure_waits_total", "Sends that blocked on a full bounded mailbox", []string{"subscriber"}),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relay",
				Subsystem: "broker",
				Name:      "delivery_duration_seconds",
				Help:      "Time spent inside subscriber handlers",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"mode"},
		),
		mailboxDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "relay",
				Subsystem: "broker",
				Name:      "mailbox_depth",
				Help:      "Envelopes waiting in a subscriber mailbox",
			},
			[]string{"subscriber"},
		),
		workersActive: newBrokerGauge("active_workers", "Workers currently draining a mailbox"),
		subscribers:   newBrokerGauge("subscribers", "Registered subscribers"),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BrokerMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	all := []prometheus.Collector{
		m.sendsTotal,
		m.deliveriesTotal,
		m.errorsTotal,
		m.panicsTotal,
		m.droppedTotal,
		m.backpressureTotal,
		m.deliveryDuration,
		m.mailboxDepth,
		m.workersActive,
		m.subscribers,
	}

	for _, c := range all {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// newMetricsRegistry returns a registry preloaded with the Go runtime and
// process collectors.
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *BrokerMetrics) recordSend() {
	m.sent.Add(1)
	m.sendsTotal.WithLabelValues("accepted").Inc()
}

func (m *BrokerMetrics) recordRejected() {
	m.rejected.Add(1)
	m.sendsTotal.WithLabelValues("rejected").Inc()
}

func (m *BrokerMetrics) recordDelivery(subscriber string, mode Mode, d time.Duration, err error) {
	m.delivered.Add(1)
	m.deliveriesTotal.WithLabelValues(subscriber, mode.String()).Inc()
	m.deliveryDuration.WithLabelValues(mode.String()).Observe(d.Seconds())
	if err != nil {
		m.failed.Add(1)
		m.errorsTotal.WithLabelValues(subscriber, mode.String()).Inc()
	}
}

func (m *BrokerMetrics) recordPanic(subscriber string) {
	m.panics.Add(1)
	m.panicsTotal.WithLabelValues(subscriber).Inc()
}

func (m *BrokerMetrics) recordDropped(subscriber string) {
	m.dropped.Add(1)
	m.droppedTotal.WithLabelValues(subscriber).Inc()
}

func (m *BrokerMetrics) recordBackpressure(subscriber string) {
	m.backpressureWaits.Add(1)
	m.backpressureTotal.WithLabelValues(subscriber).Inc()
}

func (m *BrokerMetrics) setMailboxDepth(subscriber string, depth int) {
	m.mailboxDepth.WithLabelValues(subscriber).Set(float64(depth))
}

func (m *BrokerMetrics) forgetSubscriber(subscriber string) {
	m.mailboxDepth.DeleteLabelValues(subscriber)
}

func (m *BrokerMetrics) workerStarted() {
	m.activeWorkers.Add(1)
	m.workersActive.Inc()
}

func (m *BrokerMetrics) workerStopped() {
	m.activeWorkers.Add(-1)
	m.workersActive.Dec()
}

func (m *BrokerMetrics) setSubscribers(n int) {
	m.subscribers.Set(float64(n))
}

// Snapshot returns a point-in-time copy of the counters.
func (m *BrokerMetrics) Snapshot() BrokerMetricsSnapshot {
	return BrokerMetricsSnapshot{
		Sent:              m.sent.Load(),
		Rejected:          m.rejected.Load(),
		Delivered:         m.delivered.Load(),
		Failed:            m.failed.Load(),
		Panics:            m.panics.Load(),
		Dropped:           m.dropped.Load(),
		BackpressureWaits: m.backpressureWaits.Load(),
		ActiveWorkers:     m.activeWorkers.Load(),
		CollectedAt:       time.Now(),
	}
}
