package sign

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"strings"
	"testing"

	"github.com/avylen/padessign/cms"
	"github.com/avylen/padessign/internal/testpki"
	"github.com/digitorus/pkcs7"
)

func TestPrepareAndEmbedSignatureRoundTrip(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	signer, cert := pki.IssueLeaf("approval-signer")

	inputFile, rdr := buildMinimalPDFReader(t)
	defer inputFile.Close()
	size, err := inputFile.Seek(0, 2)
	if err != nil {
		t.Fatalf("stat input: %v", err)
	}
	if _, err := inputFile.Seek(0, 0); err != nil {
		t.Fatalf("rewind input: %v", err)
	}
	_ = rdr // the PDF is re-parsed by Prepare itself

	signData := SignData{
		Signature: SignDataSignature{
			CertType: ApprovalSignature,
			Info: SignDataSignatureInfo{
				Reason: "Testing",
			},
		},
		Signer:            signer,
		DigestAlgorithm:   crypto.SHA256,
		Certificate:       cert,
		CertificateChains: [][]*x509.Certificate{pki.Chain()},
	}

	context, err := Prepare(inputFile, size, signData)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	toHash, err := context.ContentToHash()
	if err != nil {
		t.Fatalf("ContentToHash: %v", err)
	}
	if len(toHash) == 0 {
		t.Fatal("empty content to hash")
	}

	chainDER := make([][]byte, 0, len(pki.Chain()))
	for _, c := range pki.Chain() {
		chainDER = append(chainDER, c.Raw)
	}

	b := cms.NewBuilder()
	if err := b.Initialize(cert.Raw, chainDER, cms.Params{DigestAlg: crypto.SHA256, SkipWriteSigningTime: true}); err != nil {
		t.Fatalf("cms.Initialize: %v", err)
	}
	if err := b.AppendData(toHash); err != nil {
		t.Fatalf("cms.AppendData: %v", err)
	}
	digest, err := b.ComputeHashToSign()
	if err != nil {
		t.Fatalf("cms.ComputeHashToSign: %v", err)
	}
	sig, err := signer.Sign(nil, digest, crypto.SHA256)
	if err != nil {
		t.Fatalf("external sign: %v", err)
	}
	der, err := b.ComputeSignature(sig)
	if err != nil {
		t.Fatalf("cms.ComputeSignature: %v", err)
	}

	final, err := context.EmbedSignature(der)
	if err != nil {
		t.Fatalf("EmbedSignature: %v", err)
	}
	if len(final) == 0 {
		t.Fatal("empty final document")
	}
	if !bytes.Contains(final, []byte("/ByteRange[0 ")) {
		t.Fatal("final document missing a filled-in /ByteRange")
	}
	if strings.Contains(string(final), signatureByteRangePlaceholder) {
		t.Fatal("ByteRange placeholder was never replaced")
	}

	if _, err := pkcs7.Parse(der); err != nil {
		t.Fatalf("produced CMS does not parse: %v", err)
	}
}
