// Package session ties the codec, cms, sign and revocation packages
// together behind the single state machine a caller actually
// drives: construct a Session over one PDF, walk it through
// beginSigning/finishSigning (and, for the B-LTA profile,
// beginSigningLTA/finishSigningLTA), and collect the finished document. A
// Session never holds a private key - every signature or timestamp value
// crosses its boundary as bytes the caller already obtained from whatever
// external signing service or TSA it talks to.
package session

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/avylen/padessign/cms"
	"github.com/avylen/padessign/codec"
	"github.com/avylen/padessign/revocation"
	"github.com/avylen/padessign/sign"
)

// State is a Session's position in its state machine. The zero value,
// Uninitialized, is never observed outside of a Session under construction;
// New always returns a Session already in Prepared.
type State int

const (
	Uninitialized State = iota
	Prepared
	AwaitingSignature
	Finalized
	AwaitingLTATimestamp
	AwaitingLTASignature
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Prepared:
		return "Prepared"
	case AwaitingSignature:
		return "AwaitingSignature"
	case Finalized:
		return "Finalized"
	case AwaitingLTATimestamp:
		return "AwaitingLTATimestamp"
	case AwaitingLTASignature:
		return "AwaitingLTASignature"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// CertificateBundle is the signing identity a Session is constructed with,
// exactly as a remote signing service or CSC provider would hand it back:
// base64 DER for the end-entity certificate and, separately, base64 DER for
// the rest of the chain (intermediates then root, no leaf - the same
// convention cms.Builder.Initialize's chainDER parameter uses).
type CertificateBundle struct {
	CredentialID     string
	EndEntityCertB64 string
	ChainCertsB64    []string
}

// Config is everything a Session needs at construction time: the signing
// identity, which baseline profile to build towards, and the signature
// field metadata that ends up in the PDF.
type Config struct {
	Bundle          CertificateBundle
	Conformance     sign.Conformance
	DigestAlgorithm crypto.Hash

	CertType   sign.CertType
	DocMDPPerm sign.DocMDPPerm
	Info       sign.SignDataSignatureInfo

	// SignatureSizeOverride and ContentsFloor pass straight through to the
	// matching SignData fields; see sign.SignData for what each controls.
	SignatureSizeOverride uint32
	ContentsFloor         uint32

	// FreezeSigningDate, when non-nil, pins /M and the signing-time
	// attribute to this instant instead of the current UTC time - see
	// config.EngineConfig.FreezeSigningDate.
	FreezeSigningDate *time.Time
}

// Session drives one document through exactly one signing protocol run. It
// is not safe for concurrent use; independent documents need independent
// Sessions.
type Session struct {
	state State
	cfg   Config

	leaf     *x509.Certificate
	chain    []*x509.Certificate // intermediates + root, no leaf
	chainDER [][]byte

	signCtx *sign.SignContext
	builder *cms.Builder

	finalDocument []byte

	ltaSignCtx *sign.SignContext
}

func validConformance(c sign.Conformance) bool {
	switch c {
	case sign.ConformanceB, sign.ConformanceT, sign.ConformanceLT, sign.ConformanceLTA:
		return true
	default:
		return false
	}
}

// New decodes cfg's certificate bundle and returns a Session in state
// Prepared. It fails with InvalidConformanceLevel if cfg.Conformance isn't
// one of the four baseline profiles, with MalformedInput if the end-entity
// certificate or any chain certificate isn't valid base64, and with
// ParseFailure if one doesn't parse as an X.509 certificate.
func New(cfg Config) (*Session, error) {
	if !validConformance(cfg.Conformance) {
		return nil, wrapf(InvalidConformanceLevel, "session: unrecognized conformance %q", cfg.Conformance)
	}
	if cfg.DigestAlgorithm == 0 {
		cfg.DigestAlgorithm = crypto.SHA256
	}

	leafDER, err := base64.StdEncoding.DecodeString(cfg.Bundle.EndEntityCertB64)
	if err != nil {
		return nil, wrapf(MalformedInput, "session: decoding end-entity certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, wrapf(ParseFailure, "session: parsing end-entity certificate: %w", err)
	}

	chain := make([]*x509.Certificate, 0, len(cfg.Bundle.ChainCertsB64))
	chainDER := make([][]byte, 0, len(cfg.Bundle.ChainCertsB64))
	for i, b64 := range cfg.Bundle.ChainCertsB64 {
		der, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, wrapf(MalformedInput, "session: decoding chain certificate %d: %w", i, err)
		}
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, wrapf(ParseFailure, "session: parsing chain certificate %d: %w", i, err)
		}
		chain = append(chain, c)
		chainDER = append(chainDER, der)
	}

	return &Session{
		state:    Prepared,
		cfg:      cfg,
		leaf:     leaf,
		chain:    chain,
		chainDER: chainDER,
	}, nil
}

// State reports the Session's current position in its state machine.
func (s *Session) State() State { return s.state }

func (s *Session) fail(err error) error {
	s.state = Failed
	return err
}

func (s *Session) signingDate() time.Time {
	if s.cfg.FreezeSigningDate != nil {
		return *s.cfg.FreezeSigningDate
	}
	return time.Now().UTC()
}

// BeginSigning implements the beginSigning protocol: it builds the
// incremental update reserving the signature field and /Contents
// placeholder, initializes a CMS builder over the reserved ByteRange
// content, and returns the hash, standard-base64 encoded and then
// percent-encoded, that the caller must
// have signed externally. Valid only from Prepared; on success the Session
// moves to AwaitingSignature.
func (s *Session) BeginSigning(input io.ReadSeeker, size int64) (string, error) {
	if s.state != Prepared {
		return "", wrapf(InvalidState, "session: BeginSigning called in state %s, want Prepared", s.state)
	}

	info := s.cfg.Info
	info.Date = s.signingDate()

	signData := sign.SignData{
		Signature: sign.SignDataSignature{
			CertType:   s.cfg.CertType,
			DocMDPPerm: s.cfg.DocMDPPerm,
			Info:       info,
		},
		DigestAlgorithm:       s.cfg.DigestAlgorithm,
		Certificate:           s.leaf,
		CertificateChains:     [][]*x509.Certificate{append([]*x509.Certificate{s.leaf}, s.chain...)},
		Conformance:           s.cfg.Conformance,
		SignatureSizeOverride: s.cfg.SignatureSizeOverride,
		ContentsFloor:         s.cfg.ContentsFloor,
	}

	signCtx, err := sign.Prepare(input, size, signData)
	if err != nil {
		return "", s.fail(wrapf(IOError, "session: preparing incremental update: %w", err))
	}

	toHash, err := signCtx.ContentToHash()
	if err != nil {
		return "", s.fail(wrapf(InvalidState, "session: reading content to hash: %w", err))
	}

	signingTime := s.signingDate()
	builder := cms.NewBuilder()
	if err := builder.Initialize(s.leaf.Raw, s.chainDER, cms.Params{
		DigestAlg:               s.cfg.DigestAlgorithm,
		AddSigningCertificateV2: true,
		SigningTime:             &signingTime,
	}); err != nil {
		return "", s.fail(wrapf(ParseFailure, "session: initializing CMS builder: %w", err))
	}
	if err := builder.AppendData(toHash); err != nil {
		return "", s.fail(wrapf(InvalidState, "session: feeding ByteRange content to CMS builder: %w", err))
	}
	digest, err := builder.ComputeHashToSign()
	if err != nil {
		return "", s.fail(wrapf(InvalidState, "session: computing hash to sign: %w", err))
	}

	s.signCtx = signCtx
	s.builder = builder
	s.state = AwaitingSignature

	return codec.URLEncode(codec.Base64Encode(digest)), nil
}

// FinishSigning implements the finishSigning protocol. signedValueB64 is
// the base64-encoded raw signature the caller obtained externally over the
// digest BeginSigning returned. tsrB64, required for every conformance but
// B-B, is a base64-encoded RFC 3161 TimeStampResp over the signature value,
// registered as the CMS SignerInfo's unsigned timeStampToken attribute.
// validationData, meaningful for B-LT and B-LTA, is appended to the
// document's /DSS as a further incremental update once the signature
// itself is embedded. Valid only from AwaitingSignature; on success the
// Session moves to Finalized (B-B/T/LT) or AwaitingLTATimestamp (B-LTA).
func (s *Session) FinishSigning(signedValueB64, tsrB64 string, validationData revocation.ValidationData) ([]byte, error) {
	if s.state != AwaitingSignature {
		return nil, wrapf(InvalidState, "session: FinishSigning called in state %s, want AwaitingSignature", s.state)
	}

	sig, err := codec.Base64Decode(signedValueB64)
	if err != nil {
		return nil, s.fail(wrapf(MalformedInput, "session: decoding signed value: %w", err))
	}

	if s.cfg.Conformance != sign.ConformanceB {
		if tsrB64 == "" {
			return nil, s.fail(wrapf(MalformedInput, "session: conformance %s requires a signature timestamp", s.cfg.Conformance))
		}
		tsr, err := codec.Base64Decode(tsrB64)
		if err != nil {
			return nil, s.fail(wrapf(MalformedInput, "session: decoding timestamp response: %w", err))
		}
		if err := s.builder.AddAttribute(cms.TimeStampTokenOID, tsr, false, false); err != nil {
			return nil, s.fail(wrapf(TimestampRejected, "session: attaching signature timestamp: %w", err))
		}
	}

	der, err := s.builder.ComputeSignature(sig)
	if err != nil {
		return nil, s.fail(wrapf(InvalidState, "session: computing CMS signature: %w", err))
	}

	document, err := s.signCtx.EmbedSignature(der)
	if err != nil {
		if err == sign.ErrSignatureOverflow {
			return nil, s.fail(wrapf(SignatureOverflow, "session: %w", err))
		}
		return nil, s.fail(wrapf(IOError, "session: embedding signature: %w", err))
	}

	if (s.cfg.Conformance == sign.ConformanceLT || s.cfg.Conformance == sign.ConformanceLTA) && !validationData.IsEmpty() {
		document, err = sign.AppendDSS(document, validationData)
		if err != nil {
			return nil, s.fail(wrapf(IOError, "session: appending DSS: %w", err))
		}
	}

	s.finalDocument = document
	if s.cfg.Conformance == sign.ConformanceLTA {
		s.state = AwaitingLTATimestamp
	} else {
		s.state = Finalized
	}
	return document, nil
}

// BeginSigningLTA implements the beginSigningLTA protocol for the B-LTA
// profile: it reopens the just-finalized document, adds a second signature
// field carrying a DocTimeStamp, and returns the percent-encoded base64
// hash of its reserved ByteRange content - the bytes a TSA must timestamp.
// Valid only from AwaitingLTATimestamp; on success the Session moves to
// AwaitingLTASignature.
func (s *Session) BeginSigningLTA() (string, error) {
	if s.state != AwaitingLTATimestamp {
		return "", wrapf(InvalidState, "session: BeginSigningLTA called in state %s, want AwaitingLTATimestamp", s.state)
	}

	signData := sign.SignData{
		Signature: sign.SignDataSignature{
			CertType: sign.TimeStampSignature,
			Info:     sign.SignDataSignatureInfo{Date: s.signingDate()},
		},
		DigestAlgorithm: s.cfg.DigestAlgorithm,
		Conformance:     s.cfg.Conformance,
		ContentsFloor:   s.cfg.ContentsFloor,
	}

	ltaSignCtx, err := sign.Prepare(newByteReader(s.finalDocument), int64(len(s.finalDocument)), signData)
	if err != nil {
		return "", s.fail(wrapf(IOError, "session: preparing DocTimeStamp update: %w", err))
	}

	toHash, err := ltaSignCtx.ContentToHash()
	if err != nil {
		return "", s.fail(wrapf(InvalidState, "session: reading DocTimeStamp content to hash: %w", err))
	}

	h := s.cfg.DigestAlgorithm.New()
	h.Write(toHash)

	s.ltaSignCtx = ltaSignCtx
	s.state = AwaitingLTASignature

	return codec.URLEncode(codec.Base64Encode(h.Sum(nil))), nil
}

// FinishSigningLTA implements the finishSigningLTA protocol: it validates
// tsrB64 as a successful RFC 3161 TimeStampResp, extracts its
// TimeStampToken and embeds it verbatim into the reserved /Contents slot,
// then, if validationData (the TSA's own chain/revocation material) is
// present, appends a further /DSS update. Valid only from
// AwaitingLTASignature; on success the Session moves to Complete.
func (s *Session) FinishSigningLTA(tsrB64 string, validationData revocation.ValidationData) ([]byte, error) {
	if s.state != AwaitingLTASignature {
		return nil, wrapf(InvalidState, "session: FinishSigningLTA called in state %s, want AwaitingLTASignature", s.state)
	}

	tsr, err := codec.Base64Decode(tsrB64)
	if err != nil {
		return nil, s.fail(wrapf(MalformedInput, "session: decoding timestamp response: %w", err))
	}

	token, err := sign.ExtractTimeStampToken(tsr)
	if err != nil {
		return nil, s.fail(wrapf(TimestampRejected, "session: %w", err))
	}

	document, err := s.ltaSignCtx.EmbedSignature(token)
	if err != nil {
		if err == sign.ErrSignatureOverflow {
			return nil, s.fail(wrapf(SignatureOverflow, "session: %w", err))
		}
		return nil, s.fail(wrapf(IOError, "session: embedding DocTimeStamp token: %w", err))
	}

	if !validationData.IsEmpty() {
		document, err = sign.AppendDSS(document, validationData)
		if err != nil {
			return nil, s.fail(wrapf(IOError, "session: appending DSS: %w", err))
		}
	}

	s.finalDocument = document
	s.state = Complete
	return document, nil
}

// byteReader is the smallest io.ReadSeeker over an in-memory document -
// used by BeginSigningLTA, which reopens the bytes FinishSigning already
// produced rather than any caller-owned file.
type byteReader struct {
	b   []byte
	pos int64
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *byteReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = int64(len(r.b)) + offset
	default:
		return 0, fmt.Errorf("session: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("session: negative seek position")
	}
	r.pos = newPos
	return r.pos, nil
}
