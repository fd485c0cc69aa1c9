package tokenvalidator

import (
	"crypto/x509"

	"go.mozilla.org/pkcs7"
)

// DefaultCMSVerifier is the real (non-placeholder) default implementation
// of the CMS signature collaborator (§6.2): it re-parses the CMS
// SignedData structure and verifies the signature over the encapsulated
// TSTInfo using the certificates it carries.
type DefaultCMSVerifier struct{}

// NewDefaultCMSVerifier builds a DefaultCMSVerifier.
func NewDefaultCMSVerifier() *DefaultCMSVerifier { return &DefaultCMSVerifier{} }

// Verify implements CMSVerifier.
func (d *DefaultCMSVerifier) Verify(tokenDER []byte, signerCert *x509.Certificate) bool {
	if len(tokenDER) == 0 {
		return false
	}
	p7, err := pkcs7.Parse(tokenDER)
	if err != nil {
		return false
	}
	if err := p7.Verify(); err != nil {
		return false
	}
	return true
}
