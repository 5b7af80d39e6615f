package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RunRequest("started")
	m.RunRequest("started")
	m.RunRequest("already_running")
	m.TaskStarted()
	m.WatchdogArmed()
	m.BridgeMessage("to_task")

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"run requests started", m.RunRequests.WithLabelValues("started"), 2},
		{"run requests already_running", m.RunRequests.WithLabelValues("already_running"), 1},
		{"task starts", m.TaskStarts, 1},
		{"task running", m.TaskRunning, 1},
		{"watchdog arms", m.WatchdogArms, 1},
		{"bridge to_task", m.BridgeMessages.WithLabelValues("to_task"), 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	m.TaskTerminated()
	if got := testutil.ToFloat64(m.TaskRunning); got != 0 {
		t.Errorf("task running after termination = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.TaskTerminations); got != 1 {
		t.Errorf("task terminations = %v, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	// Must not panic.
	m.RunRequest("started")
	m.TaskStarted()
	m.TaskTerminated()
	m.SetRunning(true)
	m.WatchdogArmed()
	m.BridgeMessage("to_task")
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.TaskStarted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "keepalive_task_starts_total 1") {
		t.Errorf("exposition missing the start counter, got:\n%s", body)
	}
}
