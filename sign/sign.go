// Package sign implements the PDF-specific half of a signing pass: turning
// an input document and a SignData description into an incremental update
// that reserves space for a signature, and later splicing that signature
// (built independently, e.g. by the cms package) into the reserved space.
//
// It deliberately knows nothing about where a signature value comes from -
// Prepare returns the exact bytes that must be hashed and signed, and
// EmbedSignature accepts whatever DER comes back - so the same machinery
// serves both an ordinary CMS signature and a DocTimeStamp's TimeStampToken.
package sign

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pkcs7"
	"github.com/mattetti/filebuffer"
)

// Prepare reads the whole of input into a fresh incremental update: it adds
// the new signature field, a rebuilt catalog, a /DSS dictionary (if
// signData.RevocationData carries anything), and a matching xref
// section/trailer, leaving /Contents filled with a zero placeholder of
// exactly the size reserved and /ByteRange already set to the final spans
// around it. The returned SignContext's
// ContentToHash method then exposes what must be hashed and signed.
func Prepare(input io.ReadSeeker, size int64, signData SignData) (*SignContext, error) {
	ra, ok := input.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("sign: input must implement io.ReaderAt")
	}
	rdr, err := pdf.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("sign: parsing input PDF: %w", err)
	}

	context := &SignContext{
		PDFReader:    rdr,
		InputFile:    input,
		SignData:     signData,
		OutputBuffer: filebuffer.New([]byte{}),
		lastXrefID:   uint32(rdr.XrefInformation.ItemCount - 1),
	}

	if err := context.prepare(); err != nil {
		return nil, err
	}
	return context, nil
}

func (context *SignContext) prepare() error {
	if context.SignData.Signature.CertType == 0 {
		context.SignData.Signature.CertType = ApprovalSignature
	}
	if context.SignData.Signature.DocMDPPerm == 0 {
		context.SignData.Signature.DocMDPPerm = DoNotAllowAnyChangesPerms
	}
	if !context.SignData.DigestAlgorithm.Available() {
		context.SignData.DigestAlgorithm = crypto.SHA256
	}

	if _, err := context.InputFile.Seek(0, 0); err != nil {
		return err
	}
	if _, err := io.Copy(context.OutputBuffer, context.InputFile); err != nil {
		return err
	}
	// A PDF always needs an empty line after %%EOF for a further
	// incremental update to be appended safely.
	if _, err := context.OutputBuffer.Write([]byte("\n")); err != nil {
		return err
	}

	if err := context.reserveSignatureSpace(); err != nil {
		return fmt.Errorf("sign: sizing signature placeholder: %w", err)
	}

	if err := context.writeSignaturePlaceholder(); err != nil {
		return fmt.Errorf("sign: writing signature placeholder: %w", err)
	}

	if !context.SignData.RevocationData.IsEmpty() {
		if err := context.writeDSS(context.SignData.RevocationData); err != nil {
			return err
		}
	}

	catalog, err := context.createCatalog(context.SignData.objectId)
	if err != nil {
		return fmt.Errorf("sign: building catalog: %w", err)
	}
	context.CatalogData.ObjectId, err = context.addObject([]byte(catalog))
	if err != nil {
		return fmt.Errorf("sign: writing catalog: %w", err)
	}

	if err := context.writeXref(); err != nil {
		return fmt.Errorf("sign: writing xref: %w", err)
	}
	if err := context.writeTrailer(); err != nil {
		return fmt.Errorf("sign: writing trailer: %w", err)
	}
	if err := context.updateByteRange(); err != nil {
		return fmt.Errorf("sign: updating ByteRange: %w", err)
	}

	return nil
}

// reserveSignatureSpace computes SignatureMaxLength, the number of hex
// characters the /Contents placeholder must reserve, from everything known
// before the signature itself exists: the signer's key size, the digest
// algorithm (hashed twice over: the file digest and the signing-certificate
// attribute), the certificate chain, and the revocation material the
// caller already fetched. A signature timestamp token (B-T, B-LT, B-LTA, or
// whenever a TSA URL is set) or a DocTimeStamp token cannot be sized
// exactly in advance, so each gets a fixed 9000-byte allowance.
func (context *SignContext) reserveSignatureSpace() error {
	base := context.SignatureMaxLengthBase
	if base == 0 {
		base = context.SignData.ContentsFloor
	}
	if base == 0 {
		base = uint32(hex.EncodedLen(512))
	}
	context.SignatureMaxLength = base

	if context.SignData.Signature.CertType == TimeStampSignature {
		context.SignatureMaxLength += uint32(hex.EncodedLen(9000))
		return nil
	}

	if context.SignData.Certificate == nil {
		return fmt.Errorf("certificate is required")
	}
	if context.SignData.Signer != nil {
		if err := ValidateSignerCertificateMatch(context.SignData.Signer, context.SignData.Certificate); err != nil {
			return fmt.Errorf("signer/certificate validation failed: %w", err)
		}
	}

	var sigSize int
	if context.SignData.SignatureSizeOverride > 0 {
		sigSize = int(context.SignData.SignatureSizeOverride)
	} else {
		var err error
		sigSize, err = PublicKeySignatureSize(context.SignData.Certificate.PublicKey)
		if err != nil {
			sigSize = DefaultSignatureSize
		}
	}
	context.SignatureMaxLength += uint32(hex.EncodedLen(sigSize))
	context.SignatureMaxLength += uint32(hex.EncodedLen(context.SignData.DigestAlgorithm.Size() * 2))

	degenerated, err := pkcs7.DegenerateCertificate(context.SignData.Certificate.Raw)
	if err != nil {
		return fmt.Errorf("failed to degenerate certificate: %w", err)
	}
	context.SignatureMaxLength += uint32(hex.EncodedLen(len(degenerated)))
	context.SignatureMaxLength += uint32(hex.EncodedLen(len(context.SignData.Certificate.RawIssuer)))

	if len(context.SignData.CertificateChains) > 0 && len(context.SignData.CertificateChains[0]) > 1 {
		for _, cert := range context.SignData.CertificateChains[0][1:] {
			degenerated, err := pkcs7.DegenerateCertificate(cert.Raw)
			if err != nil {
				return fmt.Errorf("failed to degenerate certificate in chain: %w", err)
			}
			context.SignatureMaxLength += uint32(hex.EncodedLen(len(degenerated)))
		}
	}

	for _, entry := range context.SignData.RevocationData.CRLs {
		context.SignatureMaxLength += uint32(hex.EncodedLen(len(entry)))
	}
	for _, entry := range context.SignData.RevocationData.OCSPs {
		context.SignatureMaxLength += uint32(hex.EncodedLen(len(entry)))
	}

	timestamped := context.SignData.Conformance != "" && context.SignData.Conformance != ConformanceB
	if context.SignData.TSA.URL != "" || timestamped {
		context.SignatureMaxLength += uint32(hex.EncodedLen(9000))
	}

	return nil
}

var (
	ErrNilSigner      = errors.New("signer cannot be nil")
	ErrNilPublicKey   = errors.New("public key cannot be nil")
	ErrNilCertificate = errors.New("certificate cannot be nil")
	ErrUnsupportedKey = errors.New("unsupported key type")
	ErrKeyMismatch    = errors.New("signer public key does not match certificate")
)

// DefaultSignatureSize is reserveSignatureSpace's fallback estimate for a
// public key type it doesn't otherwise have a closed-form size for.
const DefaultSignatureSize = 8192

// SignatureSize estimates the DER-encoded signature length a signer will
// produce, for a caller that holds a local crypto.Signer rather than
// routing through the cms package's deferred, hash-only builder - the
// same estimate reserveSignatureSpace falls back to via
// PublicKeySignatureSize when SignData.SignatureSizeOverride is unset.
func SignatureSize(signer crypto.Signer) (int, error) {
	if signer == nil {
		return 0, ErrNilSigner
	}

	pub := signer.Public()
	if pub == nil {
		return 0, ErrNilPublicKey
	}

	return PublicKeySignatureSize(pub)
}

// PublicKeySignatureSize returns the maximum signature size reserveSignatureSpace
// should budget for a given public key type. Do not use
// Certificate.SignatureAlgorithm for this - that names how the CA signed the
// certificate, not the size of signatures this key itself produces.
func PublicKeySignatureSize(pub crypto.PublicKey) (int, error) {
	if pub == nil {
		return 0, ErrNilPublicKey
	}

	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N == nil {
			return 0, fmt.Errorf("%w: RSA key has nil modulus", ErrUnsupportedKey)
		}
		return k.Size(), nil

	case *ecdsa.PublicKey:
		if k.Curve == nil {
			return 0, fmt.Errorf("%w: ECDSA key has nil curve", ErrUnsupportedKey)
		}
		// ECDSA signatures are DER-encoded as SEQUENCE { r INTEGER, s INTEGER } per RFC 3279 Section 2.2.3.
		// Max size: 2 coords + 9 bytes overhead (SEQUENCE tag/len, two INTEGER tag/len, two padding bytes)
		coordSize := (k.Curve.Params().BitSize + 7) / 8
		return 2*coordSize + 9, nil

	case ed25519.PublicKey:
		return ed25519.SignatureSize, nil

	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// ValidateSignerCertificateMatch checks that signer's public key is the one
// embedded in cert, the cross-check reserveSignatureSpace runs before
// trusting a caller-supplied local signer's key for the size estimate above.
func ValidateSignerCertificateMatch(signer crypto.Signer, cert *x509.Certificate) error {
	if signer == nil {
		return ErrNilSigner
	}
	if cert == nil {
		return ErrNilCertificate
	}

	signerPub := signer.Public()
	if signerPub == nil {
		return ErrNilPublicKey
	}

	signerPubBytes, err := x509.MarshalPKIXPublicKey(signerPub)
	if err != nil {
		return fmt.Errorf("failed to marshal signer public key: %w", err)
	}

	certPubBytes, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal certificate public key: %w", err)
	}

	if len(signerPubBytes) != len(certPubBytes) {
		return ErrKeyMismatch
	}

	for i := range signerPubBytes {
		if signerPubBytes[i] != certPubBytes[i] {
			return ErrKeyMismatch
		}
	}

	return nil
}
