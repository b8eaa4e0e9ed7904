package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "ogon"
	subsystem = "sessiond"
)

// Label names for sessiond metrics.
const (
	labelModule    = "module"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelCallType  = "call_type"
	labelStatus    = "status"
)

// -------------------------------------------------------------------------
// Collector — Prometheus session manager metrics
// -------------------------------------------------------------------------

// Collector holds all ogon-sessiond Prometheus metrics.
//
//   - Sessions/Connections gauges track currently active entities.
//   - StateTransitions counts FSM changes for alerting on flapping sessions.
//   - Calls counts RPC dispatch outcomes by call type and status.
//   - TasksQueued tracks the executor queues.
//   - MonitoredProcesses tracks the process monitor's child count.
type Collector struct {
	// Sessions tracks the number of currently active sessions.
	Sessions prometheus.Gauge

	// Connections tracks the number of currently active RPC connections.
	Connections prometheus.Gauge

	// StateTransitions counts session FSM state transitions, labeled with
	// the old and new state for precise alerting (e.g., Connected->Disconnected).
	StateTransitions *prometheus.CounterVec

	// Calls counts RPC calls dispatched, labeled by call type and outcome
	// status.
	Calls *prometheus.CounterVec

	// CallLatency observes RPC call round-trip duration in seconds.
	CallLatency *prometheus.HistogramVec

	// TasksQueued tracks the number of tasks currently queued per module.
	TasksQueued *prometheus.GaugeVec

	// MonitoredProcesses tracks the number of child processes currently
	// tracked by the process monitor.
	MonitoredProcesses prometheus.Gauge

	// ProcessExits counts process monitor reap events.
	ProcessExits prometheus.Counter
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.Connections,
		c.StateTransitions,
		c.Calls,
		c.CallLatency,
		c.TasksQueued,
		c.MonitoredProcesses,
		c.ProcessExits,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	transitionLabels := []string{labelFromState, labelToState}
	callLabels := []string{labelCallType, labelStatus}

	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently active sessions.",
		}),

		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of currently active RPC connections.",
		}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total session FSM state transitions.",
		}, transitionLabels),

		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "calls_total",
			Help:      "Total RPC calls dispatched, by call type and outcome status.",
		}, callLabels),

		CallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "call_latency_seconds",
			Help:      "RPC call round-trip latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelCallType}),

		TasksQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_queued",
			Help:      "Number of tasks currently queued per module.",
		}, []string{labelModule}),

		MonitoredProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "monitored_processes",
			Help:      "Number of child processes currently tracked by the process monitor.",
		}),

		ProcessExits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "process_exits_total",
			Help:      "Total child process exits observed by the process monitor.",
		}),
	}
}

// -------------------------------------------------------------------------
// Session / Connection Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge.
func (c *Collector) RegisterSession() {
	c.Sessions.Inc()
}

// UnregisterSession decrements the active sessions gauge.
func (c *Collector) UnregisterSession() {
	c.Sessions.Dec()
}

// RegisterConnection increments the active connections gauge.
func (c *Collector) RegisterConnection() {
	c.Connections.Inc()
}

// UnregisterConnection decrements the active connections gauge.
func (c *Collector) UnregisterConnection() {
	c.Connections.Dec()
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the state transition counter with the
// old and new state labels.
func (c *Collector) RecordStateTransition(from, to string) {
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

// -------------------------------------------------------------------------
// RPC Calls
// -------------------------------------------------------------------------

// RecordCall increments the call counter for callType/status and observes
// the latency in seconds.
func (c *Collector) RecordCall(callType, status string, latencySeconds float64) {
	c.Calls.WithLabelValues(callType, status).Inc()
	c.CallLatency.WithLabelValues(callType).Observe(latencySeconds)
}

// -------------------------------------------------------------------------
// Task Executor
// -------------------------------------------------------------------------

// SetTasksQueued sets the queued-task gauge for a module name.
func (c *Collector) SetTasksQueued(module string, n int) {
	c.TasksQueued.WithLabelValues(module).Set(float64(n))
}

// -------------------------------------------------------------------------
// Process Monitor
// -------------------------------------------------------------------------

// RegisterProcess increments the monitored-process gauge.
func (c *Collector) RegisterProcess() {
	c.MonitoredProcesses.Inc()
}

// UnregisterProcess decrements the monitored-process gauge and increments
// the process-exit counter. Called when the process monitor reaps a child.
func (c *Collector) UnregisterProcess() {
	c.MonitoredProcesses.Dec()
	c.ProcessExits.Inc()
}
