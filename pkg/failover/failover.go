// Package failover implements the failover controller (C3): routing
// decisions over a tenant's preferred provider order and healthy set, and
// hedged execution that races the primary against up to two secondaries.
package failover

import (
	"context"
	"sync"
	"time"

	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
	"github.com/sentrytsa/tsamediator/pkg/health"
	"github.com/sentrytsa/tsamediator/pkg/provider"
	"github.com/sentrytsa/tsamediator/pkg/tsaerr"
)

// DefaultHedgeDelay is the delay after which, if the primary is still in
// flight, hedged requests are issued to secondaries.
const DefaultHedgeDelay = 300 * time.Millisecond

// maxHedges caps the number of secondaries hedged to, per §4.3.
const maxHedges = 2

// Decision is the outcome of Decide: which provider is primary, which are
// eligible secondaries, and why (when there is no primary).
type Decision struct {
	Primary            string
	SecondaryPreferred []string
	SecondaryExtra     []string
	Reason             string
}

// HasPrimary reports whether a primary provider was found.
func (d Decision) HasPrimary() bool { return d.Primary != "" }

// Controller selects providers and executes hedged attempts against them.
type Controller struct {
	registry   *provider.Registry
	monitor    *health.Monitor
	hedgeDelay time.Duration
	limiter    *HedgeBurstLimiter

	mu       sync.Mutex
	attempts map[string]context.CancelFunc // request_id+suffix -> cancel
}

// NewController builds a Controller. hedgeDelay <= 0 uses DefaultHedgeDelay.
// limiter may be nil, in which case hedging is never rate-limited.
func NewController(registry *provider.Registry, monitor *health.Monitor, hedgeDelay time.Duration, limiter *HedgeBurstLimiter) *Controller {
	if hedgeDelay <= 0 {
		hedgeDelay = DefaultHedgeDelay
	}
	return &Controller{
		registry:   registry,
		monitor:    monitor,
		hedgeDelay: hedgeDelay,
		limiter:    limiter,
		attempts:   make(map[string]context.CancelFunc),
	}
}

// Decide walks preferredOrder to find the first healthy provider (primary)
// and the remaining healthy preferred providers (secondary_preferred), then
// appends any other healthy providers not in preferredOrder
// (secondary_extra), ordered by the monitor's healthy-sorted ranking.
func (c *Controller) Decide(preferredOrder []string) Decision {
	seen := make(map[string]bool, len(preferredOrder))
	var decision Decision

	for _, id := range preferredOrder {
		if seen[id] || !c.monitor.IsHealthy(id) {
			continue
		}
		seen[id] = true
		if decision.Primary == "" {
			decision.Primary = id
		} else {
			decision.SecondaryPreferred = append(decision.SecondaryPreferred, id)
		}
	}

	for _, id := range c.monitor.HealthySorted() {
		if !seen[id] {
			decision.SecondaryExtra = append(decision.SecondaryExtra, id)
		}
	}

	if decision.Primary == "" {
		decision.Reason = "all providers unhealthy"
	}
	return decision
}

// attemptResult is one completed provider attempt.
type attemptResult struct {
	providerID string
	outcome    provider.Outcome
}

// Execute runs the hedged call described by decision. requestID scopes the
// active-attempts registry entries for this call. It returns the winning
// provider ID and outcome, or a *tsaerr.Error (no_healthy_provider,
// deadline_exceeded, or provider_transport).
func (c *Controller) Execute(ctx context.Context, requestID, tenantID string, decision Decision, req asn1tsp.Request) (string, provider.Outcome, *tsaerr.Error) {
	if !decision.HasPrimary() {
		return "", provider.Outcome{}, tsaerr.New(tsaerr.NoHealthyProvider, decision.Reason)
	}

	secondaries := append(append([]string{}, decision.SecondaryPreferred...), decision.SecondaryExtra...)

	resultCh := make(chan attemptResult, 1+maxHedges)
	var cancels []context.CancelFunc
	var cancelsMu sync.Mutex

	launch := func(suffix, providerID string) {
		adapter, err := c.registry.Get(providerID)
		if err != nil {
			return
		}
		attemptCtx, cancel := context.WithCancel(ctx)
		key := requestID + suffix
		c.mu.Lock()
		c.attempts[key] = cancel
		c.mu.Unlock()

		cancelsMu.Lock()
		cancels = append(cancels, cancel)
		cancelsMu.Unlock()

		go func() {
			defer func() {
				c.mu.Lock()
				delete(c.attempts, key)
				c.mu.Unlock()
			}()
			out := adapter.SendRequest(attemptCtx, req)
			select {
			case resultCh <- attemptResult{providerID: providerID, outcome: out}:
			case <-attemptCtx.Done():
			}
		}()
	}

	cancelAll := func() {
		cancelsMu.Lock()
		defer cancelsMu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
	}

	launch("-primary", decision.Primary)
	launched := 1

	hedgeTimer := time.NewTimer(c.hedgeDelay)
	defer hedgeTimer.Stop()
	hedged := false

	var results []attemptResult
	var primaryError *tsaerr.Error

	for {
		select {
		case res := <-resultCh:
			results = append(results, res)
			c.monitor.Record(res.providerID, res.outcome.Success, res.outcome.Latency, res.outcome.Error)

			if res.outcome.Success {
				cancelAll()
				return res.providerID, res.outcome, nil
			}
			if res.providerID == decision.Primary {
				primaryError = tsaerr.New(tsaerr.ProviderTransport, res.outcome.Error)
			}
			if len(results) >= launched {
				cancelAll()
				return "", provider.Outcome{}, primaryError
			}

		case <-hedgeTimer.C:
			if hedged {
				continue
			}
			hedged = true
			allowed, _ := c.limiter.Allow(ctx, tenantID)
			n := len(secondaries)
			if n > maxHedges {
				n = maxHedges
			}
			if !allowed {
				n = 0
			}
			for i := 0; i < n; i++ {
				launch(hedgeSuffix(i), secondaries[i])
				launched++
			}
			if n == 0 && len(results) >= launched {
				cancelAll()
				return "", provider.Outcome{}, primaryError
			}

		case <-ctx.Done():
			cancelAll()
			return "", provider.Outcome{}, tsaerr.New(tsaerr.DeadlineExceeded, "per-call deadline exceeded")
		}
	}
}

// RecordValidationFailure reports a C5-level defect (e.g. imprint or nonce
// mismatch) against providerID, so health classification reflects
// validator-level failures alongside transport failures, per §4.6 step 4.
func (c *Controller) RecordValidationFailure(providerID, errorClass string) {
	c.monitor.Record(providerID, false, 0, errorClass)
}

func hedgeSuffix(i int) string {
	if i == 0 {
		return "-hedge-0"
	}
	return "-hedge-1"
}
