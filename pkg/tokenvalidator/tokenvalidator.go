// Package tokenvalidator implements the token validator (C5): given a
// parsed TimeStampToken, an expected MessageImprint, and a tenant's trust
// anchors, it runs the full RFC 3161/5816 check order and returns a
// structured verification outcome. No raw parser detail ever leaves this
// package; every failure maps to one of the closed Reason values below.
package tokenvalidator

import (
	"context"
	"crypto/x509"
	"math/big"
	"time"

	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
	"github.com/sentrytsa/tsamediator/pkg/policy"
)

// Reason is the closed enumeration of validation failure reasons, per §4.5.
// Callers switch on Reason, never on message text.
type Reason string

const (
	ReasonInvalidInput                     Reason = "invalid_input"
	ReasonInvalidVersion                   Reason = "invalid_version"
	ReasonInvalidPolicyOID                 Reason = "invalid_policy_oid"
	ReasonImprintMismatch                  Reason = "imprint_mismatch"
	ReasonInvalidSerial                    Reason = "invalid_serial"
	ReasonInvalidGenTime                   Reason = "invalid_gen_time"
	ReasonInvalidAccuracy                  Reason = "invalid_accuracy"
	ReasonNonceMismatch                    Reason = "nonce_mismatch"
	ReasonUnknownExtensions                Reason = "unknown_extensions"
	ReasonMissingOrNoncriticalTimestampEKU Reason = "missing_or_noncritical_timestamping_eku"
	ReasonUntrustedChain                   Reason = "untrusted_chain"
	ReasonBadSignature                     Reason = "bad_signature"
	ReasonESSCertIDMismatch                Reason = "ess_cert_id_mismatch"
)

// Result is the outcome of Validate. When Valid is false, only Reason is
// populated; every other field is the zero value, so nothing from a
// failed parse leaks to the caller.
type Result struct {
	Valid        bool
	GenTime      time.Time
	HasAccuracy  bool
	Accuracy     asn1tsp.Accuracy
	PolicyOID    string
	TSAID        string
	SerialNumber *big.Int
	Reason       Reason
}

// allowedExtensionOIDs is the allow-list of TSTInfo extension OIDs §4.5
// step 9 checks against. Empty by default: a deployment wires in any
// extensions its accepted TSAs are known to emit.
var allowedExtensionOIDs = map[string]bool{}

// AllowExtension registers an additional TSTInfo extension OID as known,
// so it passes step 9 instead of failing unknown_extensions.
func AllowExtension(oid string) {
	allowedExtensionOIDs[oid] = true
}

// ChainValidator is the external certificate-chain collaborator (§6.1):
// full X.509 path validation including revocation, reduced to the boolean
// contract the core consumes.
type ChainValidator interface {
	Validate(ctx context.Context, signer *x509.Certificate, chain []*x509.Certificate, anchor policy.TrustAnchor) bool
}

// CMSVerifier is the external CMS signature collaborator (§6.2): verifies
// the signature over the encoded TSTInfo, reduced to a boolean contract.
type CMSVerifier interface {
	Verify(tokenDER []byte, signerCert *x509.Certificate) bool
}

// Clock abstracts time.Now for deterministic tests of the gen_time bound.
type Clock func() time.Time

// Validator runs the C5 check order against its configured collaborators.
type Validator struct {
	chain ChainValidator
	cms   CMSVerifier
	now   Clock
}

// New builds a Validator. now defaults to time.Now when nil.
func New(chain ChainValidator, cms CMSVerifier, now Clock) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{chain: chain, cms: cms, now: now}
}
