// Package metrics exposes payment counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"khoaugment/internal/models"
)

const namespace = "khoaugment"

// Payments counts intent transitions, ledger anomalies, provider callbacks
// and scheduler job runs. A nil *Payments is a valid no-op recorder.
type Payments struct {
	transitions *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
	callbacks   *prometheus.CounterVec
	jobs        *prometheus.CounterVec
}

// New registers the payment counters with reg, or with the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Payments {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Payments{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "intent_transitions_total",
			Help:      "Payment intent status transitions.",
		}, []string{"from", "to", "cause"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "anomalies_total",
			Help:      "Outcomes recorded without a status change, or rejected.",
		}, []string{"kind"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "callbacks_total",
			Help:      "Provider callbacks by acknowledgement result.",
		}, []string{"provider", "result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job runs by outcome.",
		}, []string{"job", "outcome"}),
	}
	reg.MustRegister(p.transitions, p.anomalies, p.callbacks, p.jobs)
	return p
}

func (p *Payments) Transition(from, to models.IntentStatus, cause models.LedgerCause) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(string(from), string(to), string(cause)).Inc()
}

func (p *Payments) Anomaly(kind string) {
	if p == nil {
		return
	}
	p.anomalies.WithLabelValues(kind).Inc()
}

// Callback counts one provider callback by the acknowledgement sent back.
func (p *Payments) Callback(provider, result string) {
	if p == nil {
		return
	}
	p.callbacks.WithLabelValues(provider, result).Inc()
}

// JobRun counts one scheduler run; outcome is "ok", "error" or "panic".
func (p *Payments) JobRun(job, outcome string) {
	if p == nil {
		return
	}
	p.jobs.WithLabelValues(job, outcome).Inc()
}
