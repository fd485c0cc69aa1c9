package failover

import (
	"context"
	"testing"
	"time"

	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
	"github.com/sentrytsa/tsamediator/pkg/health"
	"github.com/sentrytsa/tsamediator/pkg/provider"
)

type stubAdapter struct {
	id      string
	delay   time.Duration
	success bool
	errMsg  string
}

func (s *stubAdapter) ID() string { return s.id }

func (s *stubAdapter) SendRequest(ctx context.Context, req asn1tsp.Request) provider.Outcome {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return provider.Outcome{Success: false, Error: "connectionFailure", Latency: s.delay}
	}
	if s.success {
		return provider.Outcome{Success: true, Response: &asn1tsp.Response{Status: asn1tsp.PKIStatusGranted}, Latency: s.delay}
	}
	return provider.Outcome{Success: false, Error: s.errMsg, Latency: s.delay}
}

func newTestRegistry(adapters ...*stubAdapter) *provider.Registry {
	reg := provider.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	return reg
}

func TestDecide_PicksFirstHealthyAsPrimary(t *testing.T) {
	m := health.NewMonitor(nil, nil)
	m.Register("digicert")
	m.Register("globalsign")
	for i := 0; i < 5; i++ {
		m.Record("digicert", true, 50*time.Millisecond, "")
		m.Record("globalsign", true, 50*time.Millisecond, "")
	}

	c := NewController(newTestRegistry(), m, 0, nil)
	d := c.Decide([]string{"digicert", "globalsign"})

	if d.Primary != "digicert" {
		t.Errorf("Primary = %q, want digicert", d.Primary)
	}
	if len(d.SecondaryPreferred) != 1 || d.SecondaryPreferred[0] != "globalsign" {
		t.Errorf("SecondaryPreferred = %v, want [globalsign]", d.SecondaryPreferred)
	}
}

func TestDecide_SkipsUnhealthyAndReportsExtra(t *testing.T) {
	m := health.NewMonitor(nil, nil)
	m.Register("digicert")
	m.Register("sectigo")
	for i := 0; i < 3; i++ {
		m.Record("digicert", false, 100*time.Millisecond, "connectionFailure")
	}
	for i := 0; i < 5; i++ {
		m.Record("sectigo", true, 50*time.Millisecond, "")
	}

	c := NewController(newTestRegistry(), m, 0, nil)
	d := c.Decide([]string{"digicert"})

	if d.Primary != "" {
		t.Errorf("Primary = %q, want none (the only preferred provider is unhealthy)", d.Primary)
	}
	if len(d.SecondaryExtra) != 1 || d.SecondaryExtra[0] != "sectigo" {
		t.Errorf("SecondaryExtra = %v, want [sectigo] (only healthy provider, outside the preferred order)", d.SecondaryExtra)
	}
}

func TestDecide_NoHealthyProviders(t *testing.T) {
	m := health.NewMonitor(nil, nil)
	m.Register("digicert")
	for i := 0; i < 3; i++ {
		m.Record("digicert", false, 100*time.Millisecond, "connectionFailure")
	}

	c := NewController(newTestRegistry(), m, 0, nil)
	d := c.Decide([]string{"digicert"})

	if d.HasPrimary() {
		t.Fatal("expected no primary when every provider is unhealthy")
	}
	if d.Reason == "" {
		t.Error("expected a reason to be set")
	}
}

func TestExecute_PrimarySucceedsWithoutHedging(t *testing.T) {
	primary := &stubAdapter{id: "digicert", delay: 5 * time.Millisecond, success: true}
	secondary := &stubAdapter{id: "globalsign", delay: 5 * time.Millisecond, success: true}
	reg := newTestRegistry(primary, secondary)
	m := health.NewMonitor(nil, nil)
	m.Register("digicert")
	m.Register("globalsign")

	c := NewController(reg, m, 50*time.Millisecond, nil)
	decision := Decision{Primary: "digicert", SecondaryPreferred: []string{"globalsign"}}

	id, out, err := c.Execute(context.Background(), "req-1", "acme", decision, asn1tsp.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "digicert" {
		t.Errorf("winner = %q, want digicert", id)
	}
	if !out.Success {
		t.Error("expected successful outcome")
	}
}

func TestExecute_HedgeWinsWhenPrimaryIsSlow(t *testing.T) {
	primary := &stubAdapter{id: "digicert", delay: 200 * time.Millisecond, success: true}
	secondary := &stubAdapter{id: "globalsign", delay: 5 * time.Millisecond, success: true}
	reg := newTestRegistry(primary, secondary)
	m := health.NewMonitor(nil, nil)
	m.Register("digicert")
	m.Register("globalsign")

	c := NewController(reg, m, 20*time.Millisecond, nil)
	decision := Decision{Primary: "digicert", SecondaryPreferred: []string{"globalsign"}}

	id, out, err := c.Execute(context.Background(), "req-2", "acme", decision, asn1tsp.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "globalsign" {
		t.Errorf("winner = %q, want globalsign (hedged attempt)", id)
	}
	if !out.Success {
		t.Error("expected successful outcome")
	}
}

func TestExecute_AllAttemptsFailReturnsFirstError(t *testing.T) {
	primary := &stubAdapter{id: "digicert", delay: 5 * time.Millisecond, success: false, errMsg: "systemFailure"}
	reg := newTestRegistry(primary)
	m := health.NewMonitor(nil, nil)
	m.Register("digicert")

	c := NewController(reg, m, 20*time.Millisecond, nil)
	decision := Decision{Primary: "digicert"}

	_, _, err := c.Execute(context.Background(), "req-3", "acme", decision, asn1tsp.Request{})
	if err == nil {
		t.Fatal("expected an error when the only attempt fails")
	}
}

func TestExecute_AllAttemptsFailReturnsPrimaryErrorNotFirstArrival(t *testing.T) {
	// Secondary is faster and fails first; primary is slower and fails with
	// a distinct error after it. §4.3 requires the primary's error, not
	// whichever attempt happens to report first.
	primary := &stubAdapter{id: "digicert", delay: 60 * time.Millisecond, success: false, errMsg: "systemFailure"}
	secondary := &stubAdapter{id: "globalsign", delay: 5 * time.Millisecond, success: false, errMsg: "connectionFailure"}
	reg := newTestRegistry(primary, secondary)
	m := health.NewMonitor(nil, nil)
	m.Register("digicert")
	m.Register("globalsign")

	c := NewController(reg, m, 20*time.Millisecond, nil)
	decision := Decision{Primary: "digicert", SecondaryPreferred: []string{"globalsign"}}

	_, _, err := c.Execute(context.Background(), "req-5", "acme", decision, asn1tsp.Request{})
	if err == nil {
		t.Fatal("expected an error when every attempt fails")
	}
	if err.Message != "systemFailure" {
		t.Errorf("error = %q, want the primary's classified error (systemFailure), not the hedge's (connectionFailure)", err.Message)
	}
}

func TestExecute_NoPrimaryReturnsNoHealthyProvider(t *testing.T) {
	c := NewController(newTestRegistry(), health.NewMonitor(nil, nil), 0, nil)
	_, _, err := c.Execute(context.Background(), "req-4", "acme", Decision{Reason: "all providers unhealthy"}, asn1tsp.Request{})
	if err == nil {
		t.Fatal("expected an error when there is no primary")
	}
}
