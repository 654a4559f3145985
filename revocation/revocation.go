// Package revocation holds the base64-DER revocation bundle a caller
// assembles out-of-band (via the collab CRL/OCSP fetchers) and passes into
// finishSigning/finishSigningLTA for embedding into the PDF DSS.
package revocation

// ValidationData is three ordered sequences of base64 DER blobs. An empty
// ValidationData is valid. Order within each sequence is preserved into the
// PDF DSS arrays; deduplication is the caller's responsibility.
type ValidationData struct {
	Certificates []string
	CRLs         []string
	OCSPs        []string
}

// IsEmpty reports whether every sequence is empty, letting callers skip a
// DSS update entirely.
func (v ValidationData) IsEmpty() bool {
	return len(v.Certificates) == 0 && len(v.CRLs) == 0 && len(v.OCSPs) == 0
}

// Merge appends other's entries after v's own, preserving order, and
// returns the combined ValidationData. The receiver is not modified.
func (v ValidationData) Merge(other ValidationData) ValidationData {
	return ValidationData{
		Certificates: append(append([]string(nil), v.Certificates...), other.Certificates...),
		CRLs:         append(append([]string(nil), v.CRLs...), other.CRLs...),
		OCSPs:        append(append([]string(nil), v.OCSPs...), other.OCSPs...),
	}
}
