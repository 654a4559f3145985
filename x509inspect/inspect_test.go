package x509inspect_test

import (
	"crypto"
	"strings"
	"testing"

	"github.com/avylen/padessign/codec"
	"github.com/avylen/padessign/internal/testpki"
	"github.com/avylen/padessign/x509inspect"
)

func TestExtractCRLURLFromCertificate(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	defer pki.Close()

	_, leaf := pki.IssueLeaf("crl-test")
	url, err := x509inspect.ExtractCRLURL(codec.Base64Encode(leaf.Raw))
	if err != nil {
		t.Fatalf("ExtractCRLURL: %v", err)
	}
	if !strings.HasSuffix(url, "/crl") {
		t.Fatalf("ExtractCRLURL = %q, want suffix /crl", url)
	}
}

func TestExtractCRLURLNotFound(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	defer pki.Close()

	if _, err := x509inspect.ExtractCRLURL(codec.Base64Encode(pki.RootCert.Raw)); err == nil {
		t.Fatal("expected NotFound for a certificate with no CDP")
	}
}

func TestExtractOCSPAndCAIssuersURL(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	defer pki.Close()

	_, leaf := pki.IssueLeaf("aia-test")
	issuer := pki.Chain()[0]

	ocspURL, err := x509inspect.ExtractOCSPURL(codec.Base64Encode(leaf.Raw), codec.Base64Encode(issuer.Raw))
	if err != nil {
		t.Fatalf("ExtractOCSPURL: %v", err)
	}
	if !strings.HasSuffix(ocspURL, "/ocsp") {
		t.Fatalf("ExtractOCSPURL = %q", ocspURL)
	}

	caIssuersURL, err := x509inspect.ExtractCAIssuersURL(codec.Base64Encode(leaf.Raw))
	if err != nil {
		t.Fatalf("ExtractCAIssuersURL: %v", err)
	}
	if !strings.HasSuffix(caIssuersURL, "/ca") {
		t.Fatalf("ExtractCAIssuersURL = %q", caIssuersURL)
	}
}

func TestBuildOCSPRequest(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	defer pki.Close()

	_, leaf := pki.IssueLeaf("ocsp-test")
	issuer := pki.Chain()[0]

	reqB64, err := x509inspect.BuildOCSPRequest(codec.Base64Encode(leaf.Raw), codec.Base64Encode(issuer.Raw))
	if err != nil {
		t.Fatalf("BuildOCSPRequest: %v", err)
	}
	der, err := codec.Base64Decode(reqB64)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(der) == 0 {
		t.Fatal("empty OCSP request")
	}
}

func TestExtractTSASignerAndIssuerCert(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	defer pki.Close()

	tsaKey, tsaCert := pki.IssueLeaf("tsa-signer")
	chain := pki.Chain()

	tsr, err := testpki.NewTimeStampResponse(pki, []byte("digest-to-stamp-012345678901234"), crypto.SHA256, tsaKey, tsaCert, chain)
	if err != nil {
		t.Fatalf("NewTimeStampResponse: %v", err)
	}
	tsrB64 := codec.Base64Encode(tsr)

	signerB64, err := x509inspect.ExtractTSASignerCert(tsrB64)
	if err != nil {
		t.Fatalf("ExtractTSASignerCert: %v", err)
	}
	if signerB64 == "" {
		t.Fatal("empty signer certificate")
	}

	if _, err := x509inspect.ExtractTSAIssuerCert(tsrB64); err != nil {
		t.Fatalf("ExtractTSAIssuerCert: %v", err)
	}
}
