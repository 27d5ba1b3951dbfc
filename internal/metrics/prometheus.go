package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Broker-wide Prometheus collectors. The collectors are usable as soon as
// the package is loaded; Register attaches them to a registry so they show
// up on the metrics endpoint.
var (
	LoginSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_logins_success_total",
		Help: "Completed login flows, labeled by provider.",
	}, []string{"provider"})

	LoginFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_logins_failure_total",
		Help: "Failed login flows, labeled by provider.",
	}, []string{"provider"})

	IdentitiesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_identities_created_total",
		Help: "Identities created on first login.",
	})

	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_tokens_issued_total",
		Help: "Access tokens issued.",
	})

	TokensRefreshedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_tokens_refreshed_total",
		Help: "Access tokens refreshed.",
	})

	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_tokens_revoked_total",
		Help: "Access tokens revoked.",
	})

	// Sessions that lapse without an explicit logout are never subtracted,
	// so this gauge is an upper bound on live sessions.
	ActiveSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "identity_active_sessions",
		Help: "Sessions issued minus sessions explicitly ended. Upper bound; natural expiry is not subtracted.",
	})
)

// Register attaches the broker collectors to reg. It should be called once
// at startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("prometheus registry is nil, metrics will not be exported")
		return
	}
	collectors := []prometheus.Collector{
		LoginSuccessTotal,
		LoginFailureTotal,
		IdentitiesCreatedTotal,
		TokensIssuedTotal,
		TokensRefreshedTotal,
		TokensRevokedTotal,
		ActiveSessionsGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metrics collector")
		}
	}
}
