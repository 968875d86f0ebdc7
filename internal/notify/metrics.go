package notify

import "github.com/prometheus/client_golang/prometheus"

// Push delivery outcomes.
const (
	resultSent   = "sent"
	resultFailed = "failed"
	resultPruned = "pruned"
)

// Metrics counts push deliveries and live updates.
type Metrics struct {
	pushes     *prometheus.CounterVec
	broadcasts prometheus.Counter
}

// NewMetrics creates the notification metrics and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "balancer",
			Subsystem: "notify",
			Name:      "push_sends_total",
			Help:      "Web push deliveries by outcome.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "balancer",
			Subsystem: "notify",
			Name:      "status_broadcasts_total",
			Help:      "Device status updates forwarded to live clients.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.pushes, m.broadcasts} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) recordPush(result string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(result).Inc()
}

func (m *Metrics) recordBroadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}
