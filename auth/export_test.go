package auth

import (
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCounter exposes one labelled counter to the external test package.
func MetricsCounter(m *Metrics, name string, t sessions.SessionType, outcome string) prometheus.Collector {
	vecs := map[string]*prometheus.CounterVec{
		"bootstraps_total":      m.bootstraps,
		"sign_ins_total":        m.signIns,
		"sign_outs_total":       m.signOuts,
		"token_refreshes_total": m.refreshes,
		"profile_fetches_total": m.profileFetches,
	}
	return vecs[name].WithLabelValues(t.String(), outcome)
}
