package assetcache

import "github.com/prometheus/client_golang/prometheus"

// Response sources reported in metrics and the X-Ratingsync-Source header.
const (
	SourceCache    = "cache"
	SourceNetwork  = "network"
	SourceAlias    = "alias"
	SourceFallback = "fallback"
	SourceProxy    = "proxy"
)

// Metrics counts responses by source and install results by tier.
// A nil *Metrics records nothing.
type Metrics struct {
	responses *prometheus.CounterVec
	installs  *prometheus.CounterVec
}

// NewMetrics creates the cache metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratingsync",
			Subsystem: "cache",
			Name:      "responses_total",
			Help:      "Responses served by the asset cache, by source.",
		}, []string{"source"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratingsync",
			Subsystem: "cache",
			Name:      "install_assets_total",
			Help:      "Assets processed during installation, by tier and result.",
		}, []string{"tier", "result"}),
	}
	reg.MustRegister(m.responses, m.installs)
	return m
}

func (m *Metrics) served(source string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(source).Inc()
}

func (m *Metrics) installed(tier Tier, result string) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(string(tier), result).Inc()
}
