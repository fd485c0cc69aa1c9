package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint computes a deterministic hash over a stable, sorted
// serialization of the policy fields named in §4.4. accepted_policy_oids and
// the trust anchor names are sorted, so their order does not change the
// fingerprint; routing_priority keeps its order, since that order decides
// routing, so reordering it changes the fingerprint.
func Fingerprint(p TenantPolicy) string {
	oids := append([]string{}, p.AcceptedPolicyOIDs...)
	sort.Strings(oids)

	anchors := make([]string, len(p.AcceptedTrustAnchors))
	for i, a := range p.AcceptedTrustAnchors {
		anchors[i] = a.Name
	}
	sort.Strings(anchors)

	var b strings.Builder
	fmt.Fprintf(&b, "tenant_id=%s\n", p.TenantID)
	fmt.Fprintf(&b, "accepted_policy_oids=%s\n", strings.Join(oids, ","))
	fmt.Fprintf(&b, "routing_priority=%s\n", strings.Join(p.RoutingPriority, ","))
	fmt.Fprintf(&b, "sla.p95_latency_ms=%g\n", p.SLA.P95LatencyMS)
	fmt.Fprintf(&b, "accepted_trust_anchors.names=%s\n", strings.Join(anchors, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
