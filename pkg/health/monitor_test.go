package health

import (
	"testing"
	"time"
)

func TestRecord_ThreeConsecutiveFailuresGoRed(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("digicert")

	for i := 0; i < 3; i++ {
		m.Record("digicert", false, 100*time.Millisecond, "connectionFailure")
	}

	if m.IsHealthy("digicert") {
		t.Fatal("expected provider to be unhealthy after 3 consecutive failures")
	}
	h, _ := m.GetHealth("digicert")
	if h.Status != Red {
		t.Errorf("status = %v, want red", h.Status)
	}
}

func TestRecord_FailbackRequiresThreeConsecutiveSuccesses(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("digicert")

	for i := 0; i < 3; i++ {
		m.Record("digicert", false, 100*time.Millisecond, "connectionFailure")
	}
	if m.IsHealthy("digicert") {
		t.Fatal("expected red after failures")
	}

	m.Record("digicert", true, 50*time.Millisecond, "")
	m.Record("digicert", true, 50*time.Millisecond, "")
	if m.IsHealthy("digicert") {
		t.Fatal("expected still unhealthy after only 2 consecutive successes")
	}

	m.Record("digicert", true, 50*time.Millisecond, "")
	if !m.IsHealthy("digicert") {
		t.Fatal("expected healthy after 3 consecutive successes (failback gate)")
	}
}

func TestRecord_HighP95ForcesRed(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("digicert")

	for i := 0; i < 20; i++ {
		m.Record("digicert", true, 3*time.Second, "")
	}

	h, _ := m.GetHealth("digicert")
	if h.Status != Red {
		t.Errorf("status = %v, want red for p95 > 2000ms", h.Status)
	}
}

func TestHealthySorted_OrdersByP95ThenSuccessRate(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("slow")
	m.Register("fast")

	for i := 0; i < 5; i++ {
		m.Record("slow", true, 500*time.Millisecond, "")
		m.Record("fast", true, 50*time.Millisecond, "")
	}

	order := m.HealthySorted()
	if len(order) != 2 || order[0] != "fast" || order[1] != "slow" {
		t.Errorf("HealthySorted() = %v, want [fast slow]", order)
	}
}

func TestSLOCompliance_FlagsLatencyViolation(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("digicert")
	for i := 0; i < 5; i++ {
		m.Record("digicert", true, 1500*time.Millisecond, "")
	}

	violations := m.SLOCompliance("digicert", SLA{P95LatencyMS: 900, MonthlyErrorBudgetPct: 1})
	if len(violations) == 0 {
		t.Fatal("expected at least one SLA violation")
	}
}

type recordingNotifier struct {
	transitions []string
}

func (r *recordingNotifier) NotifyTransition(providerID string, from, to Status) {
	r.transitions = append(r.transitions, providerID+":"+string(from)+"->"+string(to))
}

func TestNotifierFiresOnTransition(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewMonitor(nil, rec)
	m.Register("digicert")

	for i := 0; i < 3; i++ {
		m.Record("digicert", false, 100*time.Millisecond, "connectionFailure")
	}

	if len(rec.transitions) == 0 {
		t.Fatal("expected a transition to be recorded")
	}
}
