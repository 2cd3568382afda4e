package authz

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus collectors for decisions and persistence.
// A nil *Metrics records nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	persists  *prometheus.CounterVec
	reloads   *prometheus.CounterVec
}

// NewMetrics registers the collectors on registerer. A nil registerer yields
// a nil *Metrics so engines built in tests do not collide on a shared registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_authz_decisions_total",
		Help: "Authorization decisions by result.",
	}, []string{"result"})
	persists := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_authz_saves_total",
		Help: "Rule snapshot saves by status.",
	}, []string{"status"})
	reloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_authz_reloads_total",
		Help: "Rule snapshot reloads by status.",
	}, []string{"status"})
	registerer.MustRegister(decisions, persists, reloads)
	return &Metrics{decisions: decisions, persists: persists, reloads: reloads}
}

func (m *Metrics) observeDecision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.decisions.WithLabelValues("allow").Inc()
		return
	}
	m.decisions.WithLabelValues("deny").Inc()
}

func (m *Metrics) observeSave(err error) {
	if m == nil {
		return
	}
	m.persists.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) observeReload(err error) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
