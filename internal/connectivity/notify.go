package connectivity

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Notification texts shown for each transition.
const (
	MessageOnline  = "You are back online. Pending ratings will sync automatically."
	MessageOffline = "You are offline. Ratings are saved locally and will sync when you are back online."
)

// StatusSink reflects the current connectivity into a status surface.
type StatusSink interface {
	ConnectionStatus(online bool)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(online bool)

// ConnectionStatus calls f.
func (f StatusFunc) ConnectionStatus(online bool) {
	f(online)
}

// Notifier tells the user about a transition.
type Notifier interface {
	Notify(online bool, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(online bool, message string)

// Notify calls f.
func (f NotifierFunc) Notify(online bool, message string) {
	f(online, message)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs message at info level.
func (n LogNotifier) Notify(online bool, message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(message, "online", online)
}

// Gauge exposes connectivity as ratingsync_online (1 online, 0 offline).
type Gauge struct {
	g prometheus.Gauge
}

// NewGauge creates the gauge and registers it with reg.
func NewGauge(reg prometheus.Registerer) *Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ratingsync",
		Name:      "online",
		Help:      "Whether the device currently considers itself online.",
	})
	reg.MustRegister(g)
	return &Gauge{g: g}
}

// ConnectionStatus sets the gauge.
func (g *Gauge) ConnectionStatus(online bool) {
	if online {
		g.g.Set(1)
		return
	}
	g.g.Set(0)
}
