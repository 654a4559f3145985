package cms

import (
	"crypto"
	"fmt"
	"io"
)

// deferredSigner is a crypto.Signer stub standing in for the external
// signing service during phase A. Its Sign method never touches a private
// key: it records the digest it is handed so computeHashToSign can return
// it, and returns a zero-filled placeholder (placeholderLen bytes, or the
// digest's length when placeholderLen is not positive) so library code
// built around crypto.Signer (here,
// github.com/digitorus/pkcs7's AddSignerChain) completes normally.
//
// This is the Go-idiomatic translation of the "fake private key" pattern
// documented in CmsContext.cpp: that implementation hands OpenSSL a
// synthetic EVP_PKEY and later overwrites the produced ASN1_STRING in
// place; this implementation instead captures the digest through the
// standard library's own signer interface and overwrites the exported
// SignerInfo.EncryptedDigest field once the external signature arrives.
type deferredSigner struct {
	public       crypto.PublicKey
	placeholder  int
	capturedHash []byte
	capturedOpts crypto.SignerOpts
}

func newDeferredSigner(public crypto.PublicKey, placeholderLen int) *deferredSigner {
	return &deferredSigner{public: public, placeholder: placeholderLen}
}

func (d *deferredSigner) Public() crypto.PublicKey { return d.public }

// Sign records digest (the hash of the signed-attributes DER, per CMS) and
// returns placeholder-length zero bytes. It never fails and never uses
// rand or opts beyond recording them for inspection.
func (d *deferredSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	d.capturedHash = append([]byte(nil), digest...)
	d.capturedOpts = opts
	n := d.placeholder
	if n <= 0 {
		n = len(digest)
	}
	return make([]byte, n), nil
}

// capturedDigest returns the digest most recently passed to Sign, or nil if
// Sign has not yet been called.
func (d *deferredSigner) capturedDigest() ([]byte, error) {
	if d.capturedHash == nil {
		return nil, fmt.Errorf("cms: computeHashToSign was not driven through a signing pass")
	}
	return d.capturedHash, nil
}
