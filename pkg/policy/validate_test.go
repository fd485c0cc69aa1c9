package policy

import "testing"

func validPolicy() TenantPolicy {
	return TenantPolicy{
		TenantID: "acme-corp",
		AcceptedTrustAnchors: []TrustAnchor{
			{
				Name:           "root",
				PEMCertificate: "-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----",
				RequiredEKU:    timestampingEKU,
			},
		},
		AcceptedPolicyOIDs: []string{"2.16.840.1.114412.7.1"},
		RoutingPriority:    []string{"digicert"},
		SLA:                SLA{P95LatencyMS: 900, MonthlyErrorBudgetPct: 1},
	}
}

func TestValidate_AcceptsWellFormedPolicy(t *testing.T) {
	known := map[string]bool{"digicert": true}
	errs, _ := Validate(validPolicy(), known)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
}

func TestValidate_RejectsShortTenantID(t *testing.T) {
	p := validPolicy()
	p.TenantID = "ab"
	errs, _ := Validate(p, nil)
	if len(errs) == 0 {
		t.Fatal("expected a tenant_id error")
	}
}

func TestValidate_RejectsMissingPEMMarkers(t *testing.T) {
	p := validPolicy()
	p.AcceptedTrustAnchors[0].PEMCertificate = "not a certificate"
	errs, _ := Validate(p, nil)
	found := false
	for _, e := range errs {
		if e.Code == "pem_markers" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a pem_markers error")
	}
}

func TestValidate_RejectsWrongEKU(t *testing.T) {
	p := validPolicy()
	p.AcceptedTrustAnchors[0].RequiredEKU = "1.2.3.4"
	errs, _ := Validate(p, nil)
	found := false
	for _, e := range errs {
		if e.Code == "eku" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an eku error")
	}
}

func TestValidate_RejectsMalformedOID(t *testing.T) {
	p := validPolicy()
	p.AcceptedPolicyOIDs = []string{"not-an-oid"}
	errs, _ := Validate(p, nil)
	found := false
	for _, e := range errs {
		if e.Code == "oid" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an oid error")
	}
}

func TestValidate_UnknownProviderIsError(t *testing.T) {
	p := validPolicy()
	p.RoutingPriority = []string{"not-registered"}
	errs, _ := Validate(p, map[string]bool{"digicert": true})
	found := false
	for _, e := range errs {
		if e.Code == "unknown_provider" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an unknown_provider error")
	}
}

func TestValidate_DuplicateProviderIsWarningOnly(t *testing.T) {
	p := validPolicy()
	p.RoutingPriority = []string{"digicert", "digicert"}
	errs, warnings := Validate(p, map[string]bool{"digicert": true})
	for _, e := range errs {
		if e.Code == "duplicate" {
			t.Fatal("duplicate routing priority must be a warning, not an error")
		}
	}
	found := false
	for _, w := range warnings {
		if w.Code == "duplicate" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a duplicate warning")
	}
}

func TestValidate_SLABoundaries(t *testing.T) {
	p := validPolicy()
	p.SLA.P95LatencyMS = 0
	errs, _ := Validate(p, nil)
	if len(errs) == 0 {
		t.Fatal("expected an error for non-positive p95_latency_ms")
	}

	p = validPolicy()
	p.SLA.MonthlyErrorBudgetPct = 150
	errs, _ = Validate(p, nil)
	if len(errs) == 0 {
		t.Fatal("expected an error for out-of-range monthly_error_budget_pct")
	}
}

func TestFingerprint_StableUnderOIDReordering(t *testing.T) {
	p1 := validPolicy()
	p1.AcceptedPolicyOIDs = []string{"1.1.1", "2.2.2"}
	p2 := validPolicy()
	p2.AcceptedPolicyOIDs = []string{"2.2.2", "1.1.1"}

	if Fingerprint(p1) != Fingerprint(p2) {
		t.Fatal("fingerprint should be stable under accepted_policy_oids reordering")
	}
}

func TestFingerprint_ChangesOnRoutingPriorityReorder(t *testing.T) {
	p1 := validPolicy()
	p1.RoutingPriority = []string{"digicert", "globalsign"}
	p2 := validPolicy()
	p2.RoutingPriority = []string{"globalsign", "digicert"}

	if Fingerprint(p1) == Fingerprint(p2) {
		t.Fatal("fingerprint should change when routing priority order changes (it is semantically significant)")
	}
}
