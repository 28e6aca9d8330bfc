// Package metrics holds the domain counters shared by the services.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts domain outcomes. A nil *Recorder is a no-op.
type Recorder struct {
	invitations   *prometheus.CounterVec
	assignments   *prometheus.CounterVec
	notifyFailure *prometheus.CounterVec
	consensus     prometheus.Counter
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns a Recorder registered with the default Prometheus registry.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = New(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// New builds a Recorder and registers its collectors with reg. Collectors
// that are already registered are reused.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamforge",
			Subsystem: "invitations",
			Name:      "transitions_total",
			Help:      "Invitation operations by action and outcome",
		}, []string{"action", "outcome"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamforge",
			Subsystem: "assignment",
			Name:      "attempts_total",
			Help:      "Guide assignment attempts by outcome",
		}, []string{"outcome"}),
		notifyFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamforge",
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notifications that could not be delivered",
		}, []string{"kind"}),
		consensus: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamforge",
			Subsystem: "consensus",
			Name:      "signals_total",
			Help:      "Consensus signals emitted by the tracker",
		}),
	}
	if reg == nil {
		return r
	}
	r.invitations = register(reg, r.invitations).(*prometheus.CounterVec)
	r.assignments = register(reg, r.assignments).(*prometheus.CounterVec)
	r.notifyFailure = register(reg, r.notifyFailure).(*prometheus.CounterVec)
	r.consensus = register(reg, r.consensus).(prometheus.Counter)
	return r
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
	}
	return c
}

// Invitation counts an invitation operation.
func (r *Recorder) Invitation(action, outcome string) {
	if r == nil {
		return
	}
	r.invitations.WithLabelValues(action, outcome).Inc()
}

// Assignment counts an assignment attempt.
func (r *Recorder) Assignment(outcome string) {
	if r == nil {
		return
	}
	r.assignments.WithLabelValues(outcome).Inc()
}

// NotifyFailure counts a failed notification.
func (r *Recorder) NotifyFailure(kind string) {
	if r == nil {
		return
	}
	r.notifyFailure.WithLabelValues(kind).Inc()
}

// ConsensusSignal counts an emitted consensus signal.
func (r *Recorder) ConsensusSignal() {
	if r == nil {
		return
	}
	r.consensus.Inc()
}
