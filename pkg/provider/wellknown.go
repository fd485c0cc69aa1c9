package provider

// TSAInfo describes a publicly known TSA endpoint so deployments can wire
// up C1 adapters and seed a tenant's default routing_priority without
// hand-copying URLs from vendor documentation.
type TSAInfo struct {
	URL      string
	Name     string
	Regions  []string
	Standing string // "evidentiary", "legal", or "qualified"
}

// WellKnownTSAServers is a small built-in directory of public TSA
// endpoints. It is data the adapter and policy layers consume; it is not
// itself a trust decision — a provider's presence here says nothing about
// whether any tenant's policy accepts it.
var WellKnownTSAServers = map[string]TSAInfo{
	"digicert": {
		URL:      "https://timestamp.digicert.com",
		Name:     "DigiCert Timestamp",
		Regions:  []string{"GLOBAL", "US"},
		Standing: "legal",
	},
	"sectigo": {
		URL:      "https://timestamp.sectigo.com",
		Name:     "Sectigo Timestamp",
		Regions:  []string{"GLOBAL"},
		Standing: "qualified",
	},
	"globalsign": {
		URL:      "https://timestamp.globalsign.com/tsa/r6advanced1",
		Name:     "GlobalSign Timestamp",
		Regions:  []string{"GLOBAL", "EU"},
		Standing: "qualified",
	},
	"freetsa": {
		URL:      "https://freetsa.org/tsr",
		Name:     "FreeTSA",
		Regions:  []string{"GLOBAL"},
		Standing: "evidentiary",
	},
	"apple": {
		URL:      "http://timestamp.apple.com/ts01",
		Name:     "Apple Timestamp",
		Regions:  []string{"GLOBAL", "US"},
		Standing: "evidentiary",
	},
	"comodo": {
		URL:      "http://timestamp.comodoca.com",
		Name:     "Comodo Timestamp",
		Regions:  []string{"GLOBAL"},
		Standing: "legal",
	},
}

// qualifiedPolicyPrefixes are policy OID prefixes known to belong to
// eIDAS-qualified TSAs. This is a read-only annotation, never a trust
// decision: C5 validates trust exclusively against configured anchors.
var qualifiedPolicyPrefixes = []string{
	"0.4.0.2023",          // ETSI qualified timestamp policy
	"1.3.6.1.4.1.13762.3", // example QTSP policy arc
}

// IsQualifiedPolicyOID reports whether policyOID matches a known
// eIDAS-qualified TSA policy prefix. Callers may surface this as metadata
// on a verified token; it must never gate acceptance, which is governed
// solely by the tenant's accepted_policy_oids and trust anchors.
func IsQualifiedPolicyOID(policyOID string) bool {
	for _, prefix := range qualifiedPolicyPrefixes {
		if len(policyOID) >= len(prefix) && policyOID[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
