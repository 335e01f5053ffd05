package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "actuator_dashboard"

// Result label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Lock outcome label values.
const (
	LockConfirmed = "confirmed"
	LockExpired   = "expired"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Channel tracks reads, writes and reconciliation outcomes per channel.
// A nil *Channel is valid and records nothing.
type Channel struct {
	Reads        *prometheus.CounterVec
	Writes       *prometheus.CounterVec
	Toggles      *prometheus.CounterVec
	LockOutcomes *prometheus.CounterVec
	PendingLocks *prometheus.GaugeVec
}

// NewChannel creates and registers channel metrics on the given registry.
func NewChannel(reg prometheus.Registerer) *Channel {
	m := &Channel{
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reads_total",
			Help:      "Channel reads by result.",
		}, []string{"channel", "result"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "batch_writes_total",
			Help:      "Batched channel writes by result.",
		}, []string{"channel", "result"}),
		Toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "toggles_total",
			Help:      "Toggle commands accepted.",
		}, []string{"channel"}),
		LockOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "lock_outcomes_total",
			Help:      "Pending-write locks cleared, by outcome.",
		}, []string{"channel", "outcome"}),
		PendingLocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "pending_locks",
			Help:      "Fields currently holding a pending-write lock.",
		}, []string{"channel"}),
	}

	reg.MustRegister(m.Reads, m.Writes, m.Toggles, m.LockOutcomes, m.PendingLocks)
	return m
}

func (m *Channel) ObserveRead(channel string, ok bool) {
	if m == nil {
		return
	}
	m.Reads.WithLabelValues(channel, result(ok)).Inc()
}

func (m *Channel) ObserveWrite(channel string, ok bool) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(channel, result(ok)).Inc()
}

func (m *Channel) ObserveToggle(channel string) {
	if m == nil {
		return
	}
	m.Toggles.WithLabelValues(channel).Inc()
}

func (m *Channel) ObserveLock(channel, outcome string) {
	if m == nil {
		return
	}
	m.LockOutcomes.WithLabelValues(channel, outcome).Inc()
}

func (m *Channel) SetPending(channel string, n int) {
	if m == nil {
		return
	}
	m.PendingLocks.WithLabelValues(channel).Set(float64(n))
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultFailed
}
