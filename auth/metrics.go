package auth

import (
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "storefront_auth"

// Metrics counts session operations by session type and outcome. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	bootstraps     *prometheus.CounterVec
	signIns        *prometheus.CounterVec
	signOuts       *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	profileFetches *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	newVec := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, []string{"session", "outcome"})
	}

	m := &Metrics{
		bootstraps:     newVec("bootstraps_total", "Session bootstraps by outcome."),
		signIns:        newVec("sign_ins_total", "In-context sign-ins by outcome."),
		signOuts:       newVec("sign_outs_total", "Sign-outs by remote revocation outcome."),
		refreshes:      newVec("token_refreshes_total", "Token refresh attempts by outcome."),
		profileFetches: newVec("profile_fetches_total", "Profile reads by outcome."),
	}
	if reg != nil {
		reg.MustRegister(m.bootstraps, m.signIns, m.signOuts, m.refreshes, m.profileFetches)
	}
	return m
}

func (m *Metrics) bootstrap(t sessions.SessionType, outcome string) {
	if m != nil {
		m.bootstraps.WithLabelValues(t.String(), outcome).Inc()
	}
}

func (m *Metrics) signIn(t sessions.SessionType, outcome string) {
	if m != nil {
		m.signIns.WithLabelValues(t.String(), outcome).Inc()
	}
}

func (m *Metrics) signOut(t sessions.SessionType, outcome string) {
	if m != nil {
		m.signOuts.WithLabelValues(t.String(), outcome).Inc()
	}
}

func (m *Metrics) refresh(t sessions.SessionType, outcome string) {
	if m != nil {
		m.refreshes.WithLabelValues(t.String(), outcome).Inc()
	}
}

func (m *Metrics) profileFetch(t sessions.SessionType, outcome string) {
	if m != nil {
		m.profileFetches.WithLabelValues(t.String(), outcome).Inc()
	}
}
