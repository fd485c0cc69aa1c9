package tokenvalidator

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"
	"encoding/asn1"
	"hash"
	"math/big"
	"regexp"
	"time"

	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
	"github.com/sentrytsa/tsamediator/pkg/policy"
)

var oidPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)+$`)

var oidExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}

// maxSerial is 2^64, the inclusive upper bound of §3's serial_number range.
var maxSerial = new(big.Int).Lsh(big.NewInt(1), 64)

// maxNonce is 2^256, the exclusive upper bound of the nonce range.
var maxNonce = new(big.Int).Lsh(big.NewInt(1), 256)

// maxAccuracyMicros is 60 * 10^6 microseconds, per §3.
const maxAccuracyMicros = 60 * 1_000_000

// yearMin is the earliest acceptable gen_time, per §3.
const yearMin = 2000

// clockSkewTolerance is added to "now" for gen_time's upper bound.
const clockSkewTolerance = 1 * time.Hour

// Validate runs the full check order of §4.5 against token, failing fast
// on the first violated invariant.
func (v *Validator) Validate(ctx context.Context, token *asn1tsp.Response, expectedImprint asn1tsp.MessageImprint, anchors []policy.TrustAnchor, expectedNonce *big.Int) Result {
	fail := func(reason Reason) Result { return Result{Valid: false, Reason: reason} }

	// 1. Inputs present and well-typed.
	if token == nil || !token.Granted || token.TSTInfo == nil || token.SignerCert == nil {
		return fail(ReasonInvalidInput)
	}
	// The expected imprint must use a SHA-2 algorithm (SHA-1 is rejected) and
	// carry exactly that algorithm's digest length.
	if n := asn1tsp.DigestLength(expectedImprint.HashAlgorithm); n == 0 || len(expectedImprint.HashedMessage) != n {
		return fail(ReasonInvalidInput)
	}
	info := token.TSTInfo

	// 2. Version.
	if info.Version != 1 {
		return fail(ReasonInvalidVersion)
	}

	// 3. Policy OID well-formed.
	if !oidPattern.MatchString(info.Policy.String()) {
		return fail(ReasonInvalidPolicyOID)
	}

	// 4. MessageImprint match, constant-time.
	if !info.MessageImprint.Equal(expectedImprint) {
		return fail(ReasonImprintMismatch)
	}

	// 5. Serial: positive, within (0, 2^64].
	if info.SerialNumber == nil || info.SerialNumber.Sign() <= 0 || info.SerialNumber.Cmp(maxSerial) > 0 {
		return fail(ReasonInvalidSerial)
	}

	// 6. GenTime: UTC, within [year 2000, now + 1h].
	genTime := info.GenTime.UTC()
	now := v.now().UTC()
	if genTime.Year() < yearMin || genTime.After(now.Add(clockSkewTolerance)) {
		return fail(ReasonInvalidGenTime)
	}

	// 7. Accuracy, if present.
	if info.HasAccuracy {
		a := info.Accuracy
		if a.Seconds < 0 || a.Millis < 0 || a.Micros < 0 || a.TotalMicros() > maxAccuracyMicros {
			return fail(ReasonInvalidAccuracy)
		}
	}

	// 8. Nonce echo, constant-time.
	if expectedNonce != nil {
		if expectedNonce.Sign() < 0 || expectedNonce.Cmp(maxNonce) >= 0 {
			return fail(ReasonInvalidInput)
		}
		if info.Nonce == nil || info.Nonce.Sign() < 0 || info.Nonce.Cmp(maxNonce) >= 0 {
			return fail(ReasonNonceMismatch)
		}
		if !constantTimeBigIntEqual(info.Nonce, expectedNonce) {
			return fail(ReasonNonceMismatch)
		}
	}

	// 9. Extensions allow-list.
	for _, ext := range info.Extensions {
		if !allowedExtensionOIDs[ext.String()] {
			return fail(ReasonUnknownExtensions)
		}
	}

	// 10. Signer certificate EKU: timestamping, marked critical.
	if !hasCriticalTimestampingEKU(token.SignerCert) {
		return fail(ReasonMissingOrNoncriticalTimestampEKU)
	}

	// 11. Chain to a configured trust anchor.
	if v.chain == nil || !chainsToAnyAnchor(ctx, v.chain, token.SignerCert, token.Certificates, anchors) {
		return fail(ReasonUntrustedChain)
	}

	// 12. CMS signature over TSTInfo verifies.
	if v.cms == nil || !v.cms.Verify(token.TokenDER, token.SignerCert) {
		return fail(ReasonBadSignature)
	}

	// 13. ESSCertIDv2 check.
	if !essCertIDMatches(token) {
		return fail(ReasonESSCertIDMismatch)
	}

	return Result{
		Valid:        true,
		GenTime:      genTime,
		HasAccuracy:  info.HasAccuracy,
		Accuracy:     info.Accuracy,
		PolicyOID:    info.Policy.String(),
		TSAID:        token.SignerCert.Subject.CommonName,
		SerialNumber: info.SerialNumber,
	}
}

func chainsToAnyAnchor(ctx context.Context, cv ChainValidator, signer *x509.Certificate, chain []*x509.Certificate, anchors []policy.TrustAnchor) bool {
	for _, anchor := range anchors {
		if cv.Validate(ctx, signer, chain, anchor) {
			return true
		}
	}
	return false
}

func hasCriticalTimestampingEKU(cert *x509.Certificate) bool {
	hasUsage := false
	for _, u := range cert.ExtKeyUsage {
		if u == x509.ExtKeyUsageTimeStamping {
			hasUsage = true
			break
		}
	}
	if !hasUsage {
		return false
	}
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidExtKeyUsage) {
			return ext.Critical
		}
	}
	return false
}

func essCertIDMatches(token *asn1tsp.Response) bool {
	algOID, certHash, found, err := asn1tsp.SigningCertificateV2Hash(token.SignedAttrsDER)
	if err != nil || !found {
		return false
	}
	h, ok := hashForOID(algOID)
	if !ok {
		return false
	}
	h.Write(token.SignerCert.Raw)
	computed := h.Sum(nil)
	return len(computed) == len(certHash) && subtle.ConstantTimeCompare(computed, certHash) == 1
}

// hashForOID returns the hash.Hash for a SHA-2 family OID. SHA-1 and any
// unrecognized OID are rejected, never instantiated.
func hashForOID(oid asn1.ObjectIdentifier) (hash.Hash, bool) {
	switch {
	case oid.Equal(asn1tsp.OIDSHA256):
		return sha256.New(), true
	case oid.Equal(asn1tsp.OIDSHA384):
		return sha512.New384(), true
	case oid.Equal(asn1tsp.OIDSHA512):
		return sha512.New(), true
	default:
		return nil, false
	}
}

// constantTimeBigIntEqual compares two non-negative big.Ints in time
// independent of their value, by comparing fixed-width 32-byte encodings.
func constantTimeBigIntEqual(a, b *big.Int) bool {
	var abuf, bbuf [32]byte
	a.FillBytes(abuf[:])
	b.FillBytes(bbuf[:])
	return subtle.ConstantTimeCompare(abuf[:], bbuf[:]) == 1
}
