// Package x509inspect parses X.509 certificates and RFC 3161 TimeStampResp
// containers and extracts the URIs and certificates the PAdES LTV flow needs
// (CRL distribution points, AIA OCSP/caIssuers, TSA signer/issuer
// certificates), and builds the one OCSPRequest shape the engine needs.
package x509inspect

import (
	"crypto/x509"
	"fmt"

	"github.com/avylen/padessign/codec"
	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"golang.org/x/crypto/ocsp"
)

// ErrNotFound is returned when no matching URI or certificate is present.
var ErrNotFound = fmt.Errorf("x509inspect: not found")

// ErrParseFailure is returned when the input does not decode as the
// expected ASN.1 structure.
var ErrParseFailure = fmt.Errorf("x509inspect: parse failure")

func parseCertDER(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return cert, nil
}

// ExtractCRLURL returns the first CRL Distribution Points URI reachable
// from b64: if it decodes to an X.509 certificate, that certificate's own
// URI is used. If it instead decodes to a TimeStampResp, the first
// certificate embedded in its timeStampToken is used instead, so a TSA's
// signing certificate can be revocation-checked the same way.
func ExtractCRLURL(b64 string) (string, error) {
	der, err := codec.Base64Decode(b64)
	if err != nil {
		return "", err
	}

	if cert, err := x509.ParseCertificate(der); err == nil {
		return firstCRLURL(cert)
	}

	ts, err := timestamp.ParseResponse(der)
	if err != nil {
		return "", fmt.Errorf("%w: not an X.509 certificate or TimeStampResp", ErrParseFailure)
	}
	p7, err := pkcs7.Parse(ts.RawToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if len(p7.Certificates) == 0 {
		return "", fmt.Errorf("%w: no certificate embedded in TimeStampToken", ErrNotFound)
	}
	return firstCRLURL(p7.Certificates[0])
}

func firstCRLURL(cert *x509.Certificate) (string, error) {
	if len(cert.CRLDistributionPoints) == 0 {
		return "", fmt.Errorf("%w: no CRLDistributionPoints URI", ErrNotFound)
	}
	return cert.CRLDistributionPoints[0], nil
}

// ExtractOCSPURL implements extractOcspUrl: the lowest-indexed AIA
// accessMethod=id-ad-ocsp URI on the end-entity certificate. The issuer
// parameter is accepted for API symmetry with extractCaIssuersUrl and
// buildOcspRequest, but the AIA OCSP locator is read off the subject
// certificate itself, matching crypto/x509's own extraction.
func ExtractOCSPURL(certB64, issuerB64 string) (string, error) {
	der, err := codec.Base64Decode(certB64)
	if err != nil {
		return "", err
	}
	cert, err := parseCertDER(der)
	if err != nil {
		return "", err
	}
	if len(cert.OCSPServer) == 0 {
		return "", fmt.Errorf("%w: no AIA id-ad-ocsp URI", ErrNotFound)
	}
	return cert.OCSPServer[0], nil
}

// ExtractCAIssuersURL implements extractCaIssuersUrl.
func ExtractCAIssuersURL(certB64 string) (string, error) {
	der, err := codec.Base64Decode(certB64)
	if err != nil {
		return "", err
	}
	cert, err := parseCertDER(der)
	if err != nil {
		return "", err
	}
	if len(cert.IssuingCertificateURL) == 0 {
		return "", fmt.Errorf("%w: no AIA id-ad-caIssuers URI", ErrNotFound)
	}
	return cert.IssuingCertificateURL[0], nil
}

// ExtractTSASignerCert implements extractTsaSignerCert: the certificate at
// index 0 of the embedded-certificate set of the TSResp's timeStampToken.
func ExtractTSASignerCert(tsrB64 string) (string, error) {
	certs, err := tsaTokenCertificates(tsrB64)
	if err != nil {
		return "", err
	}
	if len(certs) < 1 {
		return "", fmt.Errorf("%w: no certificate embedded in TimeStampToken", ErrNotFound)
	}
	return codec.Base64Encode(certs[0].Raw), nil
}

// ExtractTSAIssuerCert implements extractTsaIssuerCert: the certificate at
// index 1 of the same set. Callers must fall back to AIA caIssuers on the
// signer certificate when only one certificate is embedded.
func ExtractTSAIssuerCert(tsrB64 string) (string, error) {
	certs, err := tsaTokenCertificates(tsrB64)
	if err != nil {
		return "", err
	}
	if len(certs) < 2 {
		return "", fmt.Errorf("%w: only one certificate embedded in TimeStampToken", ErrNotFound)
	}
	return codec.Base64Encode(certs[1].Raw), nil
}

func tsaTokenCertificates(tsrB64 string) ([]*x509.Certificate, error) {
	der, err := codec.Base64Decode(tsrB64)
	if err != nil {
		return nil, err
	}
	ts, err := timestamp.ParseResponse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	p7, err := pkcs7.Parse(ts.RawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return p7.Certificates, nil
}

// BuildOCSPRequest implements buildOcspRequest: a DER OCSPRequest with a
// single CertID built with SHA-1 issuer name/key hash (the RFC 6960
// default) and the subject certificate's serial number, no requestor name,
// no nonce, no other extensions.
func BuildOCSPRequest(certB64, issuerB64 string) (string, error) {
	certDER, err := codec.Base64Decode(certB64)
	if err != nil {
		return "", err
	}
	issuerDER, err := codec.Base64Decode(issuerB64)
	if err != nil {
		return "", err
	}
	cert, err := parseCertDER(certDER)
	if err != nil {
		return "", err
	}
	issuer, err := parseCertDER(issuerDER)
	if err != nil {
		return "", err
	}

	req, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return codec.Base64Encode(req), nil
}
