package j4go

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the bridge's Prometheus collectors. Collectors are always
// recorded; they are only exported when a Registerer is given.
type Metrics struct {
	// Invocations counts managed calls by kind (constructor, instance,
	// static, field) and outcome (ok, error).
	Invocations *prometheus.CounterVec
	// Deliveries counts callback deliveries by mode (function, channel)
	// and outcome (ok, rejected).
	Deliveries *prometheus.CounterVec
	// LiveInstances is the number of open Instances.
	LiveInstances prometheus.Gauge
	// AttachedThreads is the number of goroutines attached by the bridge.
	AttachedThreads prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg if not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "j4go",
			Name:      "invocations_total",
			Help:      "Managed calls made through the bridge.",
		}, []string{"kind", "outcome"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "j4go",
			Name:      "callback_deliveries_total",
			Help:      "Objects delivered from the managed side to native callbacks.",
		}, []string{"mode", "outcome"}),
		LiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "j4go",
			Name:      "live_instances",
			Help:      "Open Instances holding a global reference.",
		}),
		AttachedThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "j4go",
			Name:      "attached_threads",
			Help:      "Goroutines attached to the runtime by the bridge.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Invocations, m.Deliveries, m.LiveInstances, m.AttachedThreads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
