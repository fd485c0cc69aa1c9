// Package asn1tsp implements the RFC 3161 Time-Stamp Protocol wire format:
// TimeStampReq/TimeStampResp DER encoding and decoding, and the CMS
// SignedData envelope that carries a TSTInfo. It is deliberately limited to
// encoding/decoding — no network I/O and no cryptographic verification live
// here; those belong to pkg/provider and pkg/tokenvalidator respectively.
package asn1tsp

import (
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// nonceBits is the bit width new nonces are generated with. The data model
// allows nonces up to 2^256; 192 bits is ample replay protection while
// keeping requests small.
const nonceBits = 192

// RandomNonce generates a cryptographically random nonce in [0, 2^256), per
// the data model's nonce range.
func RandomNonce() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), nonceBits)
	return rand.Int(rand.Reader, limit)
}

// Hash algorithm OIDs accepted for a MessageImprint. SHA-1 is intentionally
// absent: RFC 5816 restricts ESSCertIDv2 (and this mediator, by extension)
// to the SHA-2 family.
var (
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26} // rejected, never advertised

	OIDSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDTSTInfo       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
	OIDMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}

	// OIDSigningCertificateV2 is the ESSCertIDv2 signed attribute (RFC 5816).
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}

	// OIDTimestampingEKU is the extended key usage a TSA signer certificate
	// must carry, marked critical, per RFC 3161 §2.3.
	OIDTimestampingEKU = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}
)

// digestLengths maps an accepted hash OID to its digest length in bytes.
var digestLengths = map[string]int{
	OIDSHA256.String(): 32,
	OIDSHA384.String(): 48,
	OIDSHA512.String(): 64,
}

// DigestLength returns the expected digest length for a hash algorithm OID,
// or 0 if the OID is unknown or rejected (e.g. SHA-1).
func DigestLength(oid asn1.ObjectIdentifier) int {
	return digestLengths[oid.String()]
}

// PKIStatus values, RFC 3161 §2.4.2.
const (
	PKIStatusGranted                = 0
	PKIStatusGrantedWithMods        = 1
	PKIStatusRejection              = 2
	PKIStatusWaiting                = 3
	PKIStatusRevocationWarning      = 4
	PKIStatusRevocationNotification = 5
)

// PKIFailInfo bits, RFC 3161 §2.4.3.
const (
	PKIFailBadAlg              = 0
	PKIFailBadRequest          = 2
	PKIFailBadDataFormat       = 5
	PKIFailTimeNotAvailable    = 14
	PKIFailUnacceptedPolicy    = 15
	PKIFailUnacceptedExtension = 16
	PKIFailAddInfoNotAvailable = 17
	PKIFailSystemFailure       = 25
)

// MessageImprint is the algorithm-OID + hash bytes pair that identifies the
// content being timestamped.
type MessageImprint struct {
	HashAlgorithm asn1.ObjectIdentifier
	HashedMessage []byte
}

// Equal performs a constant-time comparison of the algorithm OID and hash
// bytes, per §4.5's constant-time requirement for imprint comparisons.
func (m MessageImprint) Equal(other MessageImprint) bool {
	algEq := constantTimeStringEqual(m.HashAlgorithm.String(), other.HashAlgorithm.String())
	hashEq := constantTimeBytesEqual(m.HashedMessage, other.HashedMessage)
	return algEq && hashEq
}

// wire structures, unexported: ASN.1 DER shapes exactly as specified by
// RFC 3161 §3 and RFC 5652 (CMS), never surfaced to callers directly.

type wireMessageImprint struct {
	HashAlgorithm wireAlgorithmIdentifier
	HashedMessage []byte
}

type wireAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type wireTSRequest struct {
	Version        int
	MessageImprint wireMessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional"`
	Extensions     []asn1.RawValue       `asn1:"optional,tag:0"`
}

type wirePKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type wireTSResponse struct {
	Status         wirePKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

type wireContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type wireSignedData struct {
	Version          int
	DigestAlgorithms []wireAlgorithmIdentifier `asn1:"set"`
	EncapContentInfo wireEncapContentInfo
	Certificates     asn1.RawValue   `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue   `asn1:"optional,tag:1"`
	SignerInfos      []wireSignerInfo `asn1:"set"`
}

type wireEncapContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

type wireSignerInfo struct {
	Version            int
	SignerIdentifier   asn1.RawValue
	DigestAlgorithm    wireAlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm wireAlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

type wireAttribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

type wireTSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint wireMessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time
	Accuracy       wireAccuracy    `asn1:"optional"`
	Ordering       bool            `asn1:"optional"`
	Nonce          *big.Int        `asn1:"optional"`
	TSA            asn1.RawValue   `asn1:"optional,tag:0"`
	Extensions     []asn1.RawValue `asn1:"optional,tag:1"`
}

type wireAccuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// Request is the exported, caller-facing TimeStampReq.
type Request struct {
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier // nil/empty if unspecified
	Nonce          *big.Int              // nil if unspecified
	CertReq        bool
}

// BuildRequest DER-encodes r as an RFC 3161 TimeStampReq.
func BuildRequest(r Request) ([]byte, error) {
	wire := wireTSRequest{
		Version: 1,
		MessageImprint: wireMessageImprint{
			HashAlgorithm: wireAlgorithmIdentifier{Algorithm: r.MessageImprint.HashAlgorithm},
			HashedMessage: r.MessageImprint.HashedMessage,
		},
		Nonce:   r.Nonce,
		CertReq: r.CertReq,
	}
	if len(r.ReqPolicy) > 0 {
		wire.ReqPolicy = r.ReqPolicy
	}
	data, err := asn1.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp request: %w", err)
	}
	return data, nil
}

// Accuracy mirrors TSTInfo's optional accuracy component.
type Accuracy struct {
	Seconds int
	Millis  int
	Micros  int
}

// TotalMicros returns the accuracy expressed as total microseconds.
func (a Accuracy) TotalMicros() int64 {
	return int64(a.Seconds)*1_000_000 + int64(a.Millis)*1_000 + int64(a.Micros)
}

// TSTInfo is the exported, caller-facing signed payload of a timestamp token.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time
	HasAccuracy    bool
	Accuracy       Accuracy
	Nonce          *big.Int // nil if the token carried none
	Extensions     []asn1.ObjectIdentifier
	raw            []byte // the exact encapsulated content bytes, for CMS digest verification
}

// Raw returns the exact DER bytes of the encapsulated TSTInfo content, as
// they were signed — required for ESSCertIDv2/CMS digest verification.
func (t TSTInfo) Raw() []byte { return t.raw }

// Response is the decoded TimeStampResp plus, when granted, the parsed token.
type Response struct {
	Status       int
	StatusString string
	FailInfo     int
	Granted      bool

	TSTInfo      *TSTInfo
	Certificates []*x509.Certificate
	SignerCert   *x509.Certificate

	// SignedAttrs and Signature are passed through untouched for the CMS
	// signature verifier collaborator (§6.2); digestAlgOID names the
	// declared digest algorithm for the signature.
	SignedAttrsDER []byte
	Signature      []byte
	DigestAlgOID   asn1.ObjectIdentifier

	// TokenDER is the exact DER bytes of the CMS ContentInfo (the
	// TimeStampToken), for collaborators that re-parse the SignedData
	// structure directly rather than through the fields above.
	TokenDER []byte
}

// ParseResponse decodes an RFC 3161 TimeStampResp and, when the status is
// granted, the embedded CMS SignedData carrying the TSTInfo.
func ParseResponse(der []byte) (*Response, error) {
	var wire wireTSResponse
	if _, err := asn1.Unmarshal(der, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal timestamp response: %w", err)
	}

	resp := &Response{Status: wire.Status.Status}
	if len(wire.Status.StatusString) > 0 {
		resp.StatusString = wire.Status.StatusString[0]
	}
	resp.FailInfo = bitStringToInt(wire.Status.FailInfo)
	resp.Granted = resp.Status == PKIStatusGranted || resp.Status == PKIStatusGrantedWithMods

	if !resp.Granted || len(wire.TimeStampToken.FullBytes) == 0 {
		return resp, nil
	}
	resp.TokenDER = wire.TimeStampToken.FullBytes

	var ci wireContentInfo
	if _, err := asn1.Unmarshal(wire.TimeStampToken.FullBytes, &ci); err != nil {
		return nil, fmt.Errorf("unmarshal timestamp token content info: %w", err)
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("timestamp token content type is not SignedData")
	}

	var sd wireSignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("unmarshal CMS SignedData: %w", err)
	}

	if !sd.EncapContentInfo.ContentType.Equal(OIDTSTInfo) {
		return nil, fmt.Errorf("CMS encapsulated content is not TSTInfo")
	}
	if len(sd.EncapContentInfo.Content.Bytes) == 0 {
		return nil, fmt.Errorf("CMS encapsulated content is empty")
	}

	// eContent is an OCTET STRING whose value is the DER-encoded TSTInfo.
	var eContent []byte
	if _, err := asn1.Unmarshal(sd.EncapContentInfo.Content.Bytes, &eContent); err != nil {
		return nil, fmt.Errorf("unmarshal CMS encapsulated content octet string: %w", err)
	}

	tst, err := parseTSTInfo(eContent)
	if err != nil {
		return nil, fmt.Errorf("parse TSTInfo: %w", err)
	}
	resp.TSTInfo = tst

	if len(sd.Certificates.Bytes) > 0 {
		certs, err := x509.ParseCertificates(sd.Certificates.Bytes)
		if err == nil {
			resp.Certificates = certs
			if len(certs) > 0 {
				resp.SignerCert = certs[0]
			}
		}
	}

	if len(sd.SignerInfos) > 0 {
		si := sd.SignerInfos[0]
		resp.Signature = si.Signature
		resp.DigestAlgOID = si.DigestAlgorithm.Algorithm
		if len(si.SignedAttrs.Bytes) > 0 {
			resp.SignedAttrsDER = si.SignedAttrs.FullBytes
		}
	}

	return resp, nil
}

func parseTSTInfo(der []byte) (*TSTInfo, error) {
	var wire wireTSTInfo
	if _, err := asn1.Unmarshal(der, &wire); err != nil {
		return nil, err
	}

	info := &TSTInfo{
		Version: wire.Version,
		Policy:  wire.Policy,
		MessageImprint: MessageImprint{
			HashAlgorithm: wire.MessageImprint.HashAlgorithm.Algorithm,
			HashedMessage: wire.MessageImprint.HashedMessage,
		},
		SerialNumber: wire.SerialNumber,
		GenTime:      wire.GenTime,
		Nonce:        wire.Nonce,
		raw:          der,
	}

	if wire.Accuracy.Seconds != 0 || wire.Accuracy.Millis != 0 || wire.Accuracy.Micros != 0 {
		info.HasAccuracy = true
		info.Accuracy = Accuracy{
			Seconds: wire.Accuracy.Seconds,
			Millis:  wire.Accuracy.Millis,
			Micros:  wire.Accuracy.Micros,
		}
	}

	for _, ext := range wire.Extensions {
		var oid asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(ext.Bytes, &oid); err == nil {
			info.Extensions = append(info.Extensions, oid)
		}
	}

	return info, nil
}

// SigningCertificateV2Hash extracts the certificate hash carried in the
// ESSCertIDv2 signed attribute, if present. algOID is the hash algorithm the
// attribute declares (defaults to SHA-256 per RFC 5816 when omitted).
func SigningCertificateV2Hash(signedAttrsDER []byte) (algOID asn1.ObjectIdentifier, certHash []byte, found bool, err error) {
	if len(signedAttrsDER) == 0 {
		return nil, nil, false, nil
	}

	// SignedAttrs is an implicit [0] SET OF Attribute; re-tag to a universal
	// SET so asn1.Unmarshal can decode it generically.
	raw := signedAttrsDER
	if len(raw) > 0 {
		retagged := make([]byte, len(raw))
		copy(retagged, raw)
		retagged[0] = 0x31 // SET tag
		raw = retagged
	}

	var attrs []wireAttribute
	if _, err := asn1.UnmarshalWithParams(raw, &attrs, "set"); err != nil {
		return nil, nil, false, fmt.Errorf("unmarshal signed attributes: %w", err)
	}

	for _, a := range attrs {
		if !a.Type.Equal(OIDSigningCertificateV2) || len(a.Values) == 0 {
			continue
		}
		var sigCertV2 essSigningCertificateV2
		if _, err := asn1.Unmarshal(a.Values[0].FullBytes, &sigCertV2); err != nil {
			return nil, nil, false, fmt.Errorf("unmarshal ESSCertIDv2 attribute: %w", err)
		}
		if len(sigCertV2.Certs) == 0 {
			return nil, nil, false, fmt.Errorf("ESSCertIDv2 attribute carries no certificate id")
		}
		cert := sigCertV2.Certs[0]
		alg := cert.HashAlgorithm.Algorithm
		if len(alg) == 0 {
			alg = OIDSHA256
		}
		return alg, cert.CertHash, true, nil
	}

	return nil, nil, false, nil
}

type essSigningCertificateV2 struct {
	Certs []essCertIDv2 `asn1:""`
}

type essCertIDv2 struct {
	HashAlgorithm wireAlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  asn1.RawValue `asn1:"optional"`
}

// constantTimeBytesEqual compares two byte slices in time independent of
// their content, but not of their length (mismatched lengths return false
// immediately, which is acceptable: lengths are not secret).
func constantTimeBytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func constantTimeStringEqual(a, b string) bool {
	return constantTimeBytesEqual([]byte(a), []byte(b))
}

func bitStringToInt(bs asn1.BitString) int {
	v := 0
	for i := 0; i < bs.BitLength; i++ {
		if bs.At(i) != 0 {
			v |= 1 << i
		}
	}
	return v
}
