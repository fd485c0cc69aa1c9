package orchestrator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
	"github.com/sentrytsa/tsamediator/pkg/failover"
	"github.com/sentrytsa/tsamediator/pkg/policy"
	"github.com/sentrytsa/tsamediator/pkg/provider"
	"github.com/sentrytsa/tsamediator/pkg/tokenvalidator"
	"github.com/sentrytsa/tsamediator/pkg/tsaerr"
)

type fakePolicyLoader struct {
	rec policy.PolicyRecord
	err *tsaerr.Error
}

func (f fakePolicyLoader) Load(ctx context.Context, tenantID string) (policy.PolicyRecord, *tsaerr.Error) {
	return f.rec, f.err
}

type fakeFailover struct {
	decision failover.Decision
	provider string
	outcome  provider.Outcome
	err      *tsaerr.Error

	recordedProvider string
	recordedClass    string
}

func (f *fakeFailover) Decide(preferredOrder []string) failover.Decision { return f.decision }

func (f *fakeFailover) Execute(ctx context.Context, requestID, tenantID string, decision failover.Decision, req asn1tsp.Request) (string, provider.Outcome, *tsaerr.Error) {
	return f.provider, f.outcome, f.err
}

func (f *fakeFailover) RecordValidationFailure(providerID, errorClass string) {
	f.recordedProvider = providerID
	f.recordedClass = errorClass
}

type fakeValidator struct {
	result tokenvalidator.Result
}

func (f fakeValidator) Validate(ctx context.Context, token *asn1tsp.Response, expectedImprint asn1tsp.MessageImprint, anchors []policy.TrustAnchor, expectedNonce *big.Int) tokenvalidator.Result {
	return f.result
}

func testPolicyRecord(tenantID string) policy.PolicyRecord {
	p := policy.DefaultPolicy(tenantID)
	return policy.PolicyRecord{Policy: p, Version: 1, Fingerprint: policy.Fingerprint(p)}
}

func TestIssueHappyPath(t *testing.T) {
	rec := testPolicyRecord("acme")
	pl := fakePolicyLoader{rec: rec}
	fo := &fakeFailover{
		decision: failover.Decision{Primary: "digicert"},
		provider: "digicert",
		outcome:  provider.Outcome{Success: true, Response: &asn1tsp.Response{Granted: true}},
	}
	v := fakeValidator{result: tokenvalidator.Result{
		Valid:     true,
		GenTime:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PolicyOID: "2.16.840.1.114412.7.1",
		TSAID:     "digicert",
	}}

	o := New(pl, fo, v)
	result, err := o.Issue(context.Background(), "acme", asn1tsp.MessageImprint{}, nil, "")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if result.ProviderID != "digicert" {
		t.Errorf("ProviderID = %q, want digicert", result.ProviderID)
	}
	if result.PolicyOID != "2.16.840.1.114412.7.1" {
		t.Errorf("PolicyOID = %q", result.PolicyOID)
	}
	if result.PolicyFingerprint != rec.Fingerprint {
		t.Errorf("PolicyFingerprint mismatch")
	}
}

func TestIssuePolicyUnavailable(t *testing.T) {
	pl := fakePolicyLoader{err: tsaerr.New(tsaerr.PolicyUnavailable, "boom")}
	o := New(pl, &fakeFailover{}, fakeValidator{})

	_, err := o.Issue(context.Background(), "acme", asn1tsp.MessageImprint{}, nil, "")
	if err == nil || err.Kind != tsaerr.PolicyUnavailable {
		t.Fatalf("expected policy_unavailable, got %v", err)
	}
}

func TestIssuePolicyNotAccepted(t *testing.T) {
	rec := testPolicyRecord("acme")
	pl := fakePolicyLoader{rec: rec}
	o := New(pl, &fakeFailover{}, fakeValidator{})

	_, err := o.Issue(context.Background(), "acme", asn1tsp.MessageImprint{}, nil, "1.2.3.4")
	if err == nil || err.Kind != tsaerr.PolicyNotAccepted {
		t.Fatalf("expected policy_not_accepted, got %v", err)
	}
}

func TestIssueNoHealthyProvider(t *testing.T) {
	rec := testPolicyRecord("acme")
	pl := fakePolicyLoader{rec: rec}
	fo := &fakeFailover{
		decision: failover.Decision{Reason: "all providers unhealthy"},
		err:      tsaerr.New(tsaerr.NoHealthyProvider, "all providers unhealthy"),
	}
	o := New(pl, fo, fakeValidator{})

	_, err := o.Issue(context.Background(), "acme", asn1tsp.MessageImprint{}, nil, "")
	if err == nil || err.Kind != tsaerr.NoHealthyProvider {
		t.Fatalf("expected no_healthy_provider, got %v", err)
	}
}

func TestIssueValidationFailureRecordsAgainstProvider(t *testing.T) {
	rec := testPolicyRecord("acme")
	pl := fakePolicyLoader{rec: rec}
	fo := &fakeFailover{
		decision: failover.Decision{Primary: "digicert"},
		provider: "digicert",
		outcome:  provider.Outcome{Success: true, Response: &asn1tsp.Response{Granted: true}},
	}
	v := fakeValidator{result: tokenvalidator.Result{Valid: false, Reason: tokenvalidator.ReasonImprintMismatch}}

	o := New(pl, fo, v)
	_, err := o.Issue(context.Background(), "acme", asn1tsp.MessageImprint{}, nil, "")
	if err == nil || err.Kind != tsaerr.ValidationFailed {
		t.Fatalf("expected validation_failed, got %v", err)
	}
	if err.Reason != string(tokenvalidator.ReasonImprintMismatch) {
		t.Errorf("Reason = %q", err.Reason)
	}
	if fo.recordedProvider != "digicert" {
		t.Errorf("expected failure recorded against digicert, got %q", fo.recordedProvider)
	}
}

func TestIssueNonceMismatchRecordsNonceErrorClass(t *testing.T) {
	rec := testPolicyRecord("acme")
	pl := fakePolicyLoader{rec: rec}
	fo := &fakeFailover{
		decision: failover.Decision{Primary: "digicert"},
		provider: "digicert",
		outcome:  provider.Outcome{Success: true, Response: &asn1tsp.Response{Granted: true}},
	}
	v := fakeValidator{result: tokenvalidator.Result{Valid: false, Reason: tokenvalidator.ReasonNonceMismatch}}

	o := New(pl, fo, v)
	expectedNonce := big.NewInt(42)
	_, err := o.Issue(context.Background(), "acme", asn1tsp.MessageImprint{}, expectedNonce, "")
	if err == nil || err.Reason != string(tokenvalidator.ReasonNonceMismatch) {
		t.Fatalf("expected nonce_mismatch, got %v", err)
	}
	if fo.recordedClass != provider.ErrNonceMismatch {
		t.Errorf("recordedClass = %q, want %q", fo.recordedClass, provider.ErrNonceMismatch)
	}
}
