package cms

import (
	"crypto"
	"encoding/asn1"
	"fmt"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// OID constants named in the CMS signed-attribute contract.
var (
	oidContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	oidMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	oidSigningCertificate   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 12}
	oidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	oidTimeStampToken       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
)

// TimeStampTokenOID is the id-aa-timeStampToken OID (RFC 3161 / RFC 5035),
// exported so a caller building a B-T/B-LT/B-LTA signature can pass it to
// AddAttribute without reaching into cms internals.
var TimeStampTokenOID = oidTimeStampToken

// hashOIDs maps the digest algorithms this engine supports to their
// AlgorithmIdentifier OIDs, for the SignedData digestAlgorithm field and
// the ESSCertIDv2 hash-algorithm field.
var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   {1, 3, 14, 3, 2, 26},
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

func oidFromHash(h crypto.Hash) asn1.ObjectIdentifier {
	if oid, ok := hashOIDs[h]; ok {
		return oid
	}
	return hashOIDs[crypto.SHA256]
}

// signingCertificateV2Attribute builds the id-aa-signingCertificateV2 (or,
// for a SHA-1 digest, the legacy id-aa-signingCertificate) signed attribute
// binding the SignerInfo to endCert, per RFC 5035. Adapted from the ESSCertID
// construction the engine uses when writing PDF signature dictionaries
// directly; here it feeds a CMS builder instead of a PDF object.
func signingCertificateV2Attribute(endCertRaw []byte, digestAlg crypto.Hash) (*pkcs7.Attribute, error) {
	hash := digestAlg.New()
	hash.Write(endCertRaw)

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // SigningCertificate(V2)
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // []ESSCertID(v2)
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // ESSCertID(v2)
				if digestAlg != crypto.SHA1 && digestAlg != crypto.SHA256 { // SHA-256 is the implicit default
					b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // AlgorithmIdentifier
						b.AddASN1ObjectIdentifier(oidFromHash(digestAlg))
					})
				}
				b.AddASN1OctetString(hash.Sum(nil)) // certHash
			})
		})
	})

	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: building ESSCertID: %v", ErrInvalidAttribute, err)
	}

	attr := pkcs7.Attribute{
		Type:  oidSigningCertificateV2,
		Value: asn1.RawValue{FullBytes: der},
	}
	if digestAlg == crypto.SHA1 {
		attr.Type = oidSigningCertificate
	}
	return &attr, nil
}

// timeStampTokenAttribute implements the id-aa-timeStampToken branch of
// addAttribute: value is a DER TimeStampResp, its embedded timeStampToken
// (a PKCS#7 SignedData ContentInfo) is extracted and re-encoded as the
// unsigned attribute value.
func timeStampTokenAttribute(value []byte) (*pkcs7.Attribute, error) {
	ts, err := timestamp.ParseResponse(value)
	if err != nil {
		return nil, fmt.Errorf("%w: not a TimeStampResp: %v", ErrInvalidAttribute, err)
	}
	if _, err := pkcs7.Parse(ts.RawToken); err != nil {
		return nil, fmt.Errorf("%w: embedded timeStampToken does not parse as CMS SignedData: %v", ErrInvalidAttribute, err)
	}
	return &pkcs7.Attribute{
		Type:  oidTimeStampToken,
		Value: asn1.RawValue{FullBytes: ts.RawToken},
	}, nil
}

// rawAttribute builds a generic signed or unsigned attribute value, either
// as an OCTET STRING wrapping value verbatim, or by re-parsing value as a
// single ASN.1 element (an "ASN1_TYPE" in the contract's terms).
func rawAttribute(oid asn1.ObjectIdentifier, value []byte, asOctetString bool) (*pkcs7.Attribute, error) {
	if asOctetString {
		der, err := asn1.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding OCTET STRING: %v", ErrInvalidAttribute, err)
		}
		return &pkcs7.Attribute{Type: oid, Value: asn1.RawValue{FullBytes: der}}, nil
	}

	var probe asn1.RawValue
	if _, err := asn1.Unmarshal(value, &probe); err != nil {
		return nil, fmt.Errorf("%w: value is not a single ASN.1 element: %v", ErrInvalidAttribute, err)
	}
	return &pkcs7.Attribute{Type: oid, Value: asn1.RawValue{FullBytes: probe.FullBytes}}, nil
}
