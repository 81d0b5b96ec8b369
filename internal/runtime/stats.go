package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// HandlerPanicError wraps a value recovered from a queued handler.
type HandlerPanicError struct {
	Subscriber string
	Value      any
}

func (e *HandlerPanicError) Error() string {
	return "relay: handler of " + e.Subscriber + " panicked: " + formatPanic(e.Value)
}

func (e *HandlerPanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func formatPanic(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}

// SubscriberStats accumulates delivery statistics for one subscriber.
type SubscriberStats struct {
	mu sync.Mutex

	delivered           uint64
	failed              uint64
	dropped             uint64
	totalProcessingTime int64
	lastDeliveredAt     time.Time
	inFlight            uint64
	maxInFlight         uint64
	latency             LatencyMetrics
	throughput          ThroughputMetrics
	errors              ErrorBreakdown

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

// StatsSnapshot is a copy of SubscriberStats safe to hand out and encode.
type StatsSnapshot struct {
	Delivered           uint64            `json:"delivered"`
	Failed              uint64            `json:"failed"`
	Dropped             uint64            `json:"dropped"`
	TotalProcessingTime int64             `json:"total_processing_time_ns"`
	LastDeliveredAt     time.Time         `json:"last_delivered_at"`
	Latency             LatencyMetrics    `json:"latency"`
	Throughput          ThroughputMetrics `json:"throughput"`
	Errors              ErrorBreakdown    `json:"errors"`
	Backlog             BacklogMetrics    `json:"backlog"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Handler   uint64 `json:"handler"`
	Panic     uint64 `json:"panic"`
	Cancelled uint64 `json:"cancelled"`
	LastError string `json:"last_error,omitempty"`
}

// BacklogMetrics describes in-flight work and the mailbox fill level.
// MailboxCapacity is -1 for unbounded mailboxes and 0 for direct modes.
type BacklogMetrics struct {
	InFlight        uint64 `json:"in_flight"`
	MaxInFlight     uint64 `json:"max_in_flight"`
	MailboxDepth    int    `json:"mailbox_depth"`
	MailboxCapacity int    `json:"mailbox_capacity"`
}

type ErrorCategory string

const (
	ErrorCategoryNone      ErrorCategory = "none"
	ErrorCategoryHandler   ErrorCategory = "handler"
	ErrorCategoryPanic     ErrorCategory = "panic"
	ErrorCategoryCancelled ErrorCategory = "cancelled"
)

func newSubscriberStats() *SubscriberStats {
	return &SubscriberStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *SubscriberStats) onDeliveryStart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
}

func (s *SubscriberStats) onDeliveryFinish(duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight > 0 {
		s.inFlight--
	}

	s.delivered++
	if err != nil {
		s.failed++
	}
	s.totalProcessingTime += int64(duration)
	s.lastDeliveredAt = time.Now().UTC()

	s.latencyWindow.Add(duration)
	snapshot := s.latencyWindow.Snapshot()
	snapshot.LastNs = int64(duration)
	snapshot.AverageNs = s.totalProcessingTime / int64(s.delivered)
	s.latency = snapshot

	tp := s.throughputWindow.AddAndSnapshot(time.Now())
	s.throughput.CurrentRPS = tp.CurrentRPS
	s.throughput.WindowSeconds = tp.WindowSeconds
	s.throughput.MessagesInWindow = uint64(tp.Count)
	s.throughput.TotalMessages = s.delivered

	s.errors.Record(classifyError(err), err)
}

func (s *SubscriberStats) onDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *SubscriberStats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatsSnapshot{
		Delivered:           s.delivered,
		Failed:              s.failed,
		Dropped:             s.dropped,
		TotalProcessingTime: s.totalProcessingTime,
		LastDeliveredAt:     s.lastDeliveredAt,
		Latency:             s.latency,
		Throughput:          s.throughput,
		Errors:              s.errors,
		Backlog: BacklogMetrics{
			InFlight:    s.inFlight,
			MaxInFlight: s.maxInFlight,
		},
	}
}

func classifyError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var panicErr *HandlerPanicError
	if errors.As(err, &panicErr) {
		return ErrorCategoryPanic
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryCancelled
	}
	return ErrorCategoryHandler
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Handler++
	case ErrorCategoryPanic:
		e.Panic++
	case ErrorCategoryCancelled:
		e.Cancelled++
	default:
		e.Handler++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := range lw.filled {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
