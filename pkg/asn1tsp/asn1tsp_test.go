package asn1tsp

import (
	"encoding/asn1"
	"math/big"
	"testing"
)

func TestBuildRequestRoundTrips(t *testing.T) {
	req := Request{
		MessageImprint: MessageImprint{
			HashAlgorithm: OIDSHA256,
			HashedMessage: make([]byte, 32),
		},
		Nonce:   big.NewInt(12345),
		CertReq: true,
	}

	der, err := BuildRequest(req)
	if err != nil {
		t.Fatalf("BuildRequest() error: %v", err)
	}

	var wire wireTSRequest
	if _, err := asn1.Unmarshal(der, &wire); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if wire.Version != 1 {
		t.Errorf("Version = %d, want 1", wire.Version)
	}
	if !wire.MessageImprint.HashAlgorithm.Algorithm.Equal(OIDSHA256) {
		t.Errorf("hash algorithm = %v, want SHA-256", wire.MessageImprint.HashAlgorithm.Algorithm)
	}
	if wire.Nonce == nil || wire.Nonce.Cmp(big.NewInt(12345)) != 0 {
		t.Errorf("nonce = %v, want 12345", wire.Nonce)
	}
	if !wire.CertReq {
		t.Error("CertReq = false, want true")
	}
}

func TestDigestLength(t *testing.T) {
	tests := []struct {
		name string
		oid  asn1.ObjectIdentifier
		want int
	}{
		{"sha256", OIDSHA256, 32},
		{"sha384", OIDSHA384, 48},
		{"sha512", OIDSHA512, 64},
		{"sha1 rejected", OIDSHA1, 0},
		{"unknown", asn1.ObjectIdentifier{1, 2, 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DigestLength(tt.oid); got != tt.want {
				t.Errorf("DigestLength(%v) = %d, want %d", tt.oid, got, tt.want)
			}
		})
	}
}

func TestMessageImprintEqual(t *testing.T) {
	a := MessageImprint{HashAlgorithm: OIDSHA256, HashedMessage: []byte{1, 2, 3}}
	b := MessageImprint{HashAlgorithm: OIDSHA256, HashedMessage: []byte{1, 2, 3}}
	c := MessageImprint{HashAlgorithm: OIDSHA256, HashedMessage: []byte{1, 2, 4}}
	d := MessageImprint{HashAlgorithm: OIDSHA384, HashedMessage: []byte{1, 2, 3}}

	if !a.Equal(b) {
		t.Error("expected equal imprints to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected differing hash bytes to compare unequal")
	}
	if a.Equal(d) {
		t.Error("expected differing algorithms to compare unequal")
	}
}

func TestParseResponseRejection(t *testing.T) {
	wire := wireTSResponse{
		Status: wirePKIStatusInfo{Status: PKIStatusRejection},
	}
	der, err := asn1.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	resp, err := ParseResponse(der)
	if err != nil {
		t.Fatalf("ParseResponse() error: %v", err)
	}
	if resp.Granted {
		t.Error("expected Granted = false for PKIStatusRejection")
	}
	if resp.TSTInfo != nil {
		t.Error("expected no TSTInfo for a rejected response")
	}
}

func TestRandomNonceInRange(t *testing.T) {
	n, err := RandomNonce()
	if err != nil {
		t.Fatalf("RandomNonce() error: %v", err)
	}
	if n.Sign() < 0 {
		t.Error("expected non-negative nonce")
	}
	limit := new(big.Int).Lsh(big.NewInt(1), 256)
	if n.Cmp(limit) >= 0 {
		t.Error("expected nonce < 2^256")
	}
}
