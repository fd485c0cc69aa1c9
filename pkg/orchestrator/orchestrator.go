// Package orchestrator implements the request orchestrator (C6): the
// mediator's single public entry point for issuing a verified timestamp.
// It consults the policy manager, drives the failover controller, and
// hands the winning response to the token validator, translating every
// failure into the closed tsaerr.Kind enumeration.
package orchestrator

import (
	"context"
	"encoding/asn1"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
	"github.com/sentrytsa/tsamediator/pkg/failover"
	"github.com/sentrytsa/tsamediator/pkg/policy"
	"github.com/sentrytsa/tsamediator/pkg/provider"
	"github.com/sentrytsa/tsamediator/pkg/tokenvalidator"
	"github.com/sentrytsa/tsamediator/pkg/tsaerr"
)

// Result is the successful outcome of Issue, per §4.6 step 5.
type Result struct {
	Token             *asn1tsp.Response
	GenTime           string // RFC3339, UTC
	PolicyOID         string
	TSAID             string
	ProviderID        string
	PolicyFingerprint string
	Qualified         bool // read-only annotation, §SPEC_FULL supplemental feature; never a trust decision
}

// PolicyLoader is the subset of *policy.Manager the orchestrator depends
// on, narrowed to an interface so Issue can be exercised against a fake in
// tests without a live Postgres-backed store.
type PolicyLoader interface {
	Load(ctx context.Context, tenantID string) (policy.PolicyRecord, *tsaerr.Error)
}

// FailoverExecutor is the subset of *failover.Controller the orchestrator
// depends on.
type FailoverExecutor interface {
	Decide(preferredOrder []string) failover.Decision
	Execute(ctx context.Context, requestID, tenantID string, decision failover.Decision, req asn1tsp.Request) (string, provider.Outcome, *tsaerr.Error)
	RecordValidationFailure(providerID, errorClass string)
}

// TokenValidator is the subset of *tokenvalidator.Validator the
// orchestrator depends on.
type TokenValidator interface {
	Validate(ctx context.Context, token *asn1tsp.Response, expectedImprint asn1tsp.MessageImprint, anchors []policy.TrustAnchor, expectedNonce *big.Int) tokenvalidator.Result
}

// Orchestrator wires C4 (policy), C3 (failover), and C5 (validation)
// behind the single Issue operation.
type Orchestrator struct {
	policies  PolicyLoader
	failover  FailoverExecutor
	validator TokenValidator
}

// New builds an Orchestrator from its three collaborators.
func New(policies PolicyLoader, fo FailoverExecutor, validator TokenValidator) *Orchestrator {
	return &Orchestrator{policies: policies, failover: fo, validator: validator}
}

// Issue performs one end-to-end timestamp issuance for tenantID, per §4.6.
func (o *Orchestrator) Issue(ctx context.Context, tenantID string, imprint asn1tsp.MessageImprint, nonce *big.Int, reqPolicy string) (Result, *tsaerr.Error) {
	// 1. Load policy.
	rec, perr := o.policies.Load(ctx, tenantID)
	if perr != nil {
		return Result{}, perr
	}

	// 2. Form request; validate requested policy OID against accepted set.
	req := asn1tsp.Request{
		MessageImprint: imprint,
		Nonce:          nonce,
		CertReq:        true,
	}
	if reqPolicy != "" {
		accepted := false
		for _, oid := range rec.Policy.AcceptedPolicyOIDs {
			if oid == reqPolicy {
				accepted = true
				break
			}
		}
		if !accepted {
			return Result{}, tsaerr.New(tsaerr.PolicyNotAccepted, "requested policy OID not in tenant's accepted set")
		}
		if parsed, ok := parseOID(reqPolicy); ok {
			req.ReqPolicy = parsed
		}
	}

	// 3. Route and execute the hedged call.
	requestID := uuid.NewString()
	decision := o.failover.Decide(rec.Policy.RoutingPriority)
	providerID, outcome, ferr := o.failover.Execute(ctx, requestID, tenantID, decision, req)
	if ferr != nil {
		return Result{}, ferr
	}

	// 4. Validate the winning response.
	result := o.validator.Validate(ctx, outcome.Response, imprint, rec.Policy.AcceptedTrustAnchors, nonce)
	if !result.Valid {
		errorClass := provider.ErrPolicyRejected
		if result.Reason == tokenvalidator.ReasonNonceMismatch {
			errorClass = provider.ErrNonceMismatch
		}
		o.failover.RecordValidationFailure(providerID, errorClass)
		return Result{}, tsaerr.ValidationFailure(string(result.Reason))
	}

	// 5. Success.
	return Result{
		Token:             outcome.Response,
		GenTime:           result.GenTime.UTC().Format(rfc3339),
		PolicyOID:         result.PolicyOID,
		TSAID:             result.TSAID,
		ProviderID:        providerID,
		PolicyFingerprint: rec.Fingerprint,
		Qualified:         provider.IsQualifiedPolicyOID(result.PolicyOID),
	}, nil
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

// parseOID parses a dotted-decimal OID string, as validated by C4, into an
// asn1.ObjectIdentifier suitable for the request's ReqPolicy field.
func parseOID(s string) (asn1.ObjectIdentifier, bool) {
	parts := strings.Split(s, ".")
	oid := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false
		}
		oid = append(oid, n)
	}
	return oid, true
}
