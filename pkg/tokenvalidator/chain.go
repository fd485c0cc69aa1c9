package tokenvalidator

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/sentrytsa/tsamediator/pkg/policy"
)

var errInvalidPEM = errors.New("tokenvalidator: invalid PEM certificate")

// DefaultChainValidator is the real (non-placeholder) default
// implementation of the certificate-chain collaborator (§6.1): full X.509
// path validation to the anchor plus best-effort OCSP revocation checking
// when the signer certificate advertises an OCSP responder.
type DefaultChainValidator struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDefaultChainValidator builds a DefaultChainValidator. httpClient
// defaults to an http.Client with a 5s timeout when nil.
func NewDefaultChainValidator(httpClient *http.Client, logger *slog.Logger) *DefaultChainValidator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &DefaultChainValidator{httpClient: httpClient, logger: logger}
}

// Validate implements ChainValidator.
func (d *DefaultChainValidator) Validate(ctx context.Context, signer *x509.Certificate, chain []*x509.Certificate, anchor policy.TrustAnchor) bool {
	root, err := parsePEMCertificate(anchor.PEMCertificate)
	if err != nil {
		return false
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)

	intermediates := x509.NewCertPool()
	for _, c := range chain {
		if c.Equal(signer) || c.Equal(root) {
			continue
		}
		intermediates.AddCert(c)
	}

	chains, err := signer.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	})
	if err != nil || len(chains) == 0 {
		return false
	}

	if !d.checkRevocation(ctx, signer, chains[0]) {
		return false
	}

	return true
}

// checkRevocation performs a best-effort OCSP check: if the signer
// certificate carries no OCSP responder URL, revocation is not checked
// here (CRL-based deployments wire their own ChainValidator). A responder
// that explicitly reports the certificate revoked fails the chain.
func (d *DefaultChainValidator) checkRevocation(ctx context.Context, signer *x509.Certificate, verifiedChain []*x509.Certificate) bool {
	if len(signer.OCSPServer) == 0 || len(verifiedChain) < 2 {
		return true
	}
	issuer := verifiedChain[1]

	reqBytes, err := ocsp.CreateRequest(signer, issuer, nil)
	if err != nil {
		d.logWarn("building OCSP request", err)
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signer.OCSPServer[0], bytes.NewReader(reqBytes))
	if err != nil {
		d.logWarn("building OCSP HTTP request", err)
		return true
	}
	req.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logWarn("sending OCSP request", err)
		return true
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		d.logWarn("reading OCSP response", err)
		return true
	}

	ocspResp, err := ocsp.ParseResponseForCert(body, signer, issuer)
	if err != nil {
		d.logWarn("parsing OCSP response", err)
		return true
	}

	return ocspResp.Status != ocsp.Revoked
}

func (d *DefaultChainValidator) logWarn(msg string, err error) {
	if d.logger != nil {
		d.logger.Warn("OCSP revocation check skipped: "+msg, "error", err)
	}
}

func parsePEMCertificate(pemData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errInvalidPEM
	}
	return x509.ParseCertificate(block.Bytes)
}
