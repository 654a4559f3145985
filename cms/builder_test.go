package cms

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"encoding/asn1"
	"testing"

	"github.com/avylen/padessign/internal/testpki"
	"github.com/digitorus/pkcs7"
)

func newTestBuilder(t *testing.T) (*Builder, *testpki.TestPKI, crypto.Signer) {
	t.Helper()
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	t.Cleanup(pki.Close)

	signer, leaf := pki.IssueLeaf("cms-signer")
	chain := pki.Chain()
	chainDER := make([][]byte, len(chain))
	for i, c := range chain {
		chainDER[i] = c.Raw
	}

	b := NewBuilder()
	if err := b.Initialize(leaf.Raw, chainDER, Params{
		DigestAlg:               crypto.SHA256,
		SkipWriteSigningTime:    true,
		WrapDigest:              false,
		AddSigningCertificateV2: true,
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return b, pki, signer
}

func externallySign(t *testing.T, signer crypto.Signer, digest []byte) []byte {
	t.Helper()
	sig, err := signer.Sign(nil, digest, crypto.SHA256)
	if err != nil {
		t.Fatalf("external sign: %v", err)
	}
	return sig
}

func TestBuilderBaselineBFlow(t *testing.T) {
	b, _, signer := newTestBuilder(t)

	if err := b.AppendData([]byte("the bytes of both PDF ByteRange spans")); err != nil {
		t.Fatalf("AppendData: %v", err)
	}

	digest, err := b.ComputeHashToSign()
	if err != nil {
		t.Fatalf("ComputeHashToSign: %v", err)
	}
	if len(digest) == 0 {
		t.Fatal("empty digest to sign")
	}
	if b.State() != ComputedHash {
		t.Fatalf("state = %v, want ComputedHash", b.State())
	}

	sig := externallySign(t, signer, digest)

	der, err := b.ComputeSignature(sig)
	if err != nil {
		t.Fatalf("ComputeSignature: %v", err)
	}
	if len(der) == 0 {
		t.Fatal("empty CMS output")
	}
	if b.State() != ComputedSignature {
		t.Fatalf("state = %v, want ComputedSignature", b.State())
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		t.Fatalf("parsing produced CMS: %v", err)
	}
	if len(p7.Signers) != 1 {
		t.Fatalf("got %d signers, want 1", len(p7.Signers))
	}
	if !bytes.Equal(p7.Signers[0].EncryptedDigest, sig) {
		t.Fatal("EncryptedDigest in the finished CMS does not match the externally supplied signature")
	}
}

func TestBuilderAttachesTimestampToken(t *testing.T) {
	b, pki, signer := newTestBuilder(t)

	if err := b.AppendData([]byte("signed content")); err != nil {
		t.Fatalf("AppendData: %v", err)
	}
	digest, err := b.ComputeHashToSign()
	if err != nil {
		t.Fatalf("ComputeHashToSign: %v", err)
	}
	sig := externallySign(t, signer, digest)

	// The TST must imprint the signatureValue, which is only known once the
	// external signature comes back - mirroring the real B-T flow where the
	// TSA is contacted with the CMS SignerInfo's EncryptedDigest.
	tsaKey, tsaCert := pki.IssueLeaf("tsa")
	sigDigest := sha256.Sum256(sig)
	tsr, err := testpki.NewTimeStampResponse(pki, sigDigest[:], crypto.SHA256, tsaKey, tsaCert, pki.Chain())
	if err != nil {
		t.Fatalf("NewTimeStampResponse: %v", err)
	}

	if err := b.AddAttribute(oidTimeStampToken, tsr, false, false); err != nil {
		t.Fatalf("AddAttribute(timeStampToken): %v", err)
	}

	der, err := b.ComputeSignature(sig)
	if err != nil {
		t.Fatalf("ComputeSignature: %v", err)
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		t.Fatalf("parsing produced CMS: %v", err)
	}
	found := false
	for _, attr := range p7.Signers[0].UnauthenticatedAttributes {
		if attr.Type.Equal(oidTimeStampToken) {
			found = true
		}
	}
	if !found {
		t.Fatal("finished CMS is missing the id-aa-timeStampToken unsigned attribute")
	}
}

func TestBuilderRejectsUnsignedAttributeBeforeHash(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	if err := b.AddAttribute(asn1.ObjectIdentifier{1, 2, 3}, []byte("x"), false, true); err == nil {
		t.Fatal("expected ErrInvalidState when adding an unsigned attribute before ComputeHashToSign")
	}
}

func TestBuilderRejectsSignedAttributeAfterHash(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	if err := b.AppendData([]byte("x")); err != nil {
		t.Fatalf("AppendData: %v", err)
	}
	if _, err := b.ComputeHashToSign(); err != nil {
		t.Fatalf("ComputeHashToSign: %v", err)
	}
	if err := b.AddAttribute(asn1.ObjectIdentifier{1, 2, 3}, []byte("x"), true, true); err == nil {
		t.Fatal("expected ErrInvalidState when adding a signed attribute after ComputeHashToSign")
	}
}

func TestBuilderRejectsMalformedTimestampToken(t *testing.T) {
	b, _, signer := newTestBuilder(t)
	if err := b.AppendData([]byte("x")); err != nil {
		t.Fatalf("AppendData: %v", err)
	}
	digest, err := b.ComputeHashToSign()
	if err != nil {
		t.Fatalf("ComputeHashToSign: %v", err)
	}
	_ = externallySign(t, signer, digest)

	if err := b.AddAttribute(oidTimeStampToken, []byte("not a TimeStampResp"), false, false); err == nil {
		t.Fatal("expected ErrInvalidAttribute for malformed TimeStampResp bytes")
	}
}
