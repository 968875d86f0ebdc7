package downstream

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for task outcomes.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Metrics counts calls to the device-control service.
type Metrics struct {
	tasks    *prometheus.CounterVec
	commands *prometheus.CounterVec
	pending  prometheus.Gauge
}

// NewMetrics creates the downstream metrics and registers them on reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "balancer",
			Subsystem: "downstream",
			Name:      "sync_tasks_total",
			Help:      "Fire-and-forget sync notifications sent to the device-control service.",
		}, []string{"operation", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "balancer",
			Subsystem: "downstream",
			Name:      "commands_total",
			Help:      "Proxied device commands by HTTP status class.",
		}, []string{"operation", "status_class"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "balancer",
			Subsystem: "downstream",
			Name:      "sync_queue_depth",
			Help:      "Sync notifications waiting to be sent.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.tasks, m.commands, m.pending} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *Metrics) recordTask(operation string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailed
	}
	m.tasks.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) recordCommand(operation string, status int) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(operation, statusClass(status)).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
