// Package cms builds a CMS SignedData (RFC 5652) CAdES-shaped SignerInfo in
// two passes so the private key can live in an external signing service:
// the first pass produces the exact byte string that service must sign, the
// second installs the signature it returns and finishes the structure.
//
// It is built on github.com/digitorus/pkcs7, the same library the sign
// package uses to size its placeholder, driven through a crypto.Signer stub
// that never holds a key (see deferred_signer.go).
package cms

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/pkcs7"
)

// ErrInvalidAttribute is returned by AddAttribute when value cannot be
// parsed into the attribute shape its oid or asOctetString flag demands.
var ErrInvalidAttribute = errors.New("cms: invalid attribute")

// ErrInvalidState is returned when a builder method is called out of
// sequence for the current State.
var ErrInvalidState = errors.New("cms: invalid state for operation")

// State is the CMS builder's own small state machine, independent of (but
// driven by) the signing session's state machine.
type State int

const (
	Uninitialized State = iota
	Initialized
	AppendingData
	ComputedHash
	ComputedSignature
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case AppendingData:
		return "AppendingData"
	case ComputedHash:
		return "ComputedHash"
	case ComputedSignature:
		return "ComputedSignature"
	default:
		return "Unknown"
	}
}

// Params configures Initialize. DigestAlg defaults to SHA-256 when zero.
type Params struct {
	DigestAlg               crypto.Hash
	SkipMimeCap             bool
	SkipWriteSigningTime    bool
	WrapDigest              bool
	AddSigningCertificateV2 bool

	// SigningTime, when non-nil, is marshaled into the signingTime signed
	// attribute instead of time.Now().UTC(). Callers that need repeat runs
	// over the same input to produce byte-identical CMS structures set
	// this to the same instant they used for the PDF /M field.
	SigningTime *time.Time
}

// Builder implements the four-step CMS SignedData construction contract:
// Initialize, AppendData, ComputeHashToSign, ComputeSignature, with
// AddAttribute usable between Initialize and ComputeSignature depending on
// whether the attribute is signed or unsigned.
type Builder struct {
	state State

	params Params
	cert   *x509.Certificate
	chain  []*x509.Certificate

	data bytes.Buffer

	extraSigned   []pkcs7.Attribute
	extraUnsigned []pkcs7.Attribute

	signedData *pkcs7.SignedData
	deferred   *deferredSigner
}

// NewBuilder returns a Builder in state Uninitialized.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) requireState(want State) error {
	if b.state != want {
		return fmt.Errorf("%w: have %s, want %s", ErrInvalidState, b.state, want)
	}
	return nil
}

// Initialize implements initialize(endCertDER, chainDER[], params).
// It precomputes nothing eagerly beyond parsing the certificates; the
// ESSCertIDv2 hash over endCertDER is computed lazily in ComputeHashToSign
// so AddAttribute(signed) calls made beforehand can still land ahead of it
// in signed-attribute order.
func (b *Builder) Initialize(endCertDER []byte, chainDER [][]byte, params Params) error {
	if err := b.requireState(Uninitialized); err != nil {
		return err
	}
	cert, err := x509.ParseCertificate(endCertDER)
	if err != nil {
		return fmt.Errorf("cms: parsing end-entity certificate: %w", err)
	}
	chain := make([]*x509.Certificate, 0, len(chainDER))
	for i, der := range chainDER {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("cms: parsing chain certificate %d: %w", i, err)
		}
		chain = append(chain, c)
	}
	if params.DigestAlg == 0 {
		params.DigestAlg = crypto.SHA256
	}

	b.params = params
	b.cert = cert
	b.chain = chain
	b.state = Initialized
	return nil
}

// AppendData implements appendData(bytes): Initialized or AppendingData ->
// AppendingData. The library hashes signed content internally from the
// concatenation of every AppendData call, so this only buffers.
func (b *Builder) AppendData(content []byte) error {
	if b.state != Initialized && b.state != AppendingData {
		return fmt.Errorf("%w: have %s, want Initialized or AppendingData", ErrInvalidState, b.state)
	}
	b.data.Write(content)
	b.state = AppendingData
	return nil
}

// AddAttribute implements addAttribute(oid, valueBytes, signed, asOctetString).
// Signed attributes are only accepted before ComputeHashToSign locks the
// signed-attribute set; unsigned attributes are only accepted afterward,
// before ComputeSignature finalizes the SignerInfo.
func (b *Builder) AddAttribute(oid asn1.ObjectIdentifier, value []byte, signed, asOctetString bool) error {
	if signed {
		if b.state != Initialized && b.state != AppendingData {
			return fmt.Errorf("%w: signed attributes are locked after ComputeHashToSign", ErrInvalidState)
		}
		attr, err := rawAttribute(oid, value, asOctetString)
		if err != nil {
			return err
		}
		b.extraSigned = append(b.extraSigned, *attr)
		return nil
	}

	if b.state != ComputedHash {
		return fmt.Errorf("%w: unsigned attributes require ComputeHashToSign to have run first", ErrInvalidState)
	}

	var attr *pkcs7.Attribute
	var err error
	if oid.Equal(oidTimeStampToken) {
		attr, err = timeStampTokenAttribute(value)
	} else {
		attr, err = rawAttribute(oid, value, asOctetString)
	}
	if err != nil {
		return err
	}
	b.extraUnsigned = append(b.extraUnsigned, *attr)
	return b.signedData.GetSignedData().SignerInfos[0].SetUnauthenticatedAttributes(b.extraUnsigned)
}

// ComputeHashToSign implements computeHashToSign(). It runs the full
// signed-attribute construction through pkcs7.AddSignerChain, routed
// through a deferredSigner that never holds a key: the library hashes the
// DER-encoded signed-attributes SET with the configured digest and hands
// that hash to the signer, which is exactly the byte string an external
// signing service is expected to sign.
func (b *Builder) ComputeHashToSign() ([]byte, error) {
	if b.state != Initialized && b.state != AppendingData {
		return nil, fmt.Errorf("%w: have %s, want Initialized or AppendingData", ErrInvalidState, b.state)
	}

	signedData, err := pkcs7.NewSignedData(b.data.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cms: initializing SignedData: %w", err)
	}
	signedData.SetDigestAlgorithm(oidFromHash(b.params.DigestAlg))

	extraSigned := append([]pkcs7.Attribute(nil), b.extraSigned...)
	if b.params.AddSigningCertificateV2 {
		sc, err := signingCertificateV2Attribute(b.cert.Raw, b.params.DigestAlg)
		if err != nil {
			return nil, err
		}
		extraSigned = append(extraSigned, *sc)
	}
	if !b.params.SkipWriteSigningTime {
		signingTime := time.Now().UTC()
		if b.params.SigningTime != nil {
			signingTime = b.params.SigningTime.UTC()
		}
		der, err := asn1.MarshalWithParams(signingTime, "generalized")
		if err != nil {
			return nil, fmt.Errorf("cms: encoding signingTime: %w", err)
		}
		extraSigned = append(extraSigned, pkcs7.Attribute{
			Type:  oidSigningTime,
			Value: asn1.RawValue{FullBytes: der},
		})
	}

	b.deferred = newDeferredSigner(b.cert.PublicKey, 0)

	config := pkcs7.SignerInfoConfig{ExtraSignedAttributes: extraSigned}
	if err := signedData.AddSignerChain(b.cert, b.deferred, b.chain, config); err != nil {
		return nil, fmt.Errorf("cms: building SignerInfo: %w", err)
	}
	signedData.Detach()

	digest, err := b.deferred.capturedDigest()
	if err != nil {
		return nil, err
	}

	b.signedData = signedData
	b.state = ComputedHash

	if !b.params.WrapDigest {
		return digest, nil
	}
	h := b.params.DigestAlg.New()
	h.Write(digest)
	return h.Sum(nil), nil
}

// ComputeSignature implements computeSignature(externalSignature): installs
// the externally produced signature into the SignerInfo this builder
// already constructed and finishes the CMS ContentInfo.
func (b *Builder) ComputeSignature(externalSignature []byte) ([]byte, error) {
	if err := b.requireState(ComputedHash); err != nil {
		return nil, err
	}

	b.signedData.GetSignedData().SignerInfos[0].EncryptedDigest = externalSignature

	der, err := b.signedData.Finish()
	if err != nil {
		return nil, fmt.Errorf("cms: finishing SignedData: %w", err)
	}
	b.state = ComputedSignature
	return der, nil
}

// State reports the builder's current state, mostly for session-level
// bookkeeping and tests.
func (b *Builder) State() State { return b.state }
