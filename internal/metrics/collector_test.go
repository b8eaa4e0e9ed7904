package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/ogon-project/ogon-sessiond/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.Connections == nil {
		t.Error("Connections is nil")
	}
	if c.StateTransitions == nil {
		t.Error("StateTransitions is nil")
	}
	if c.Calls == nil {
		t.Error("Calls is nil")
	}
	if c.CallLatency == nil {
		t.Error("CallLatency is nil")
	}
	if c.TasksQueued == nil {
		t.Error("TasksQueued is nil")
	}
	if c.MonitoredProcesses == nil {
		t.Error("MonitoredProcesses is nil")
	}
	if c.ProcessExits == nil {
		t.Error("ProcessExits is nil")
	}

	// Verify registration does not panic.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestRegisterUnregisterSession(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RegisterSession()
	c.RegisterSession()
	if val := gaugeValue(t, c.Sessions); val != 2 {
		t.Errorf("Sessions = %v, want 2", val)
	}

	c.UnregisterSession()
	if val := gaugeValue(t, c.Sessions); val != 1 {
		t.Errorf("Sessions = %v, want 1", val)
	}
}

func TestRegisterUnregisterConnection(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RegisterConnection()
	if val := gaugeValue(t, c.Connections); val != 1 {
		t.Errorf("Connections = %v, want 1", val)
	}

	c.UnregisterConnection()
	if val := gaugeValue(t, c.Connections); val != 0 {
		t.Errorf("Connections = %v, want 0", val)
	}
}

func TestStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordStateTransition("Init", "LogonInProgress")
	c.RecordStateTransition("Init", "LogonInProgress")
	c.RecordStateTransition("LogonInProgress", "Active")

	if val := counterValue(t, c.StateTransitions, "Init", "LogonInProgress"); val != 2 {
		t.Errorf("StateTransitions(Init->LogonInProgress) = %v, want 2", val)
	}
	if val := counterValue(t, c.StateTransitions, "LogonInProgress", "Active"); val != 1 {
		t.Errorf("StateTransitions(LogonInProgress->Active) = %v, want 1", val)
	}
}

func TestRecordCall(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordCall("Ping", "success", 0.001)
	c.RecordCall("Ping", "success", 0.002)
	c.RecordCall("Ping", "timeout", 10.0)

	if val := counterValue(t, c.Calls, "Ping", "success"); val != 2 {
		t.Errorf("Calls(Ping, success) = %v, want 2", val)
	}
	if val := counterValue(t, c.Calls, "Ping", "timeout"); val != 1 {
		t.Errorf("Calls(Ping, timeout) = %v, want 1", val)
	}
}

func TestSetTasksQueued(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetTasksQueued("greeter", 3)
	if val := gaugeVecValue(t, c.TasksQueued, "greeter"); val != 3 {
		t.Errorf("TasksQueued(greeter) = %v, want 3", val)
	}

	c.SetTasksQueued("greeter", 1)
	if val := gaugeVecValue(t, c.TasksQueued, "greeter"); val != 1 {
		t.Errorf("TasksQueued(greeter) = %v, want 1", val)
	}
}

func TestRegisterUnregisterProcess(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RegisterProcess()
	c.RegisterProcess()
	if val := gaugeValue(t, c.MonitoredProcesses); val != 2 {
		t.Errorf("MonitoredProcesses = %v, want 2", val)
	}

	c.UnregisterProcess()
	if val := gaugeValue(t, c.MonitoredProcesses); val != 1 {
		t.Errorf("MonitoredProcesses = %v, want 1", val)
	}
	if val := counterValueScalar(t, c.ProcessExits); val != 1 {
		t.Errorf("ProcessExits = %v, want 1", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func gaugeVecValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func counterValueScalar(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
