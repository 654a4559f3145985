// Package pkcs11 is a reference PKCS#11 (HSM/token) collaborator: it
// answers the digest session.BeginSigning returns with the base64
// signature session.FinishSigning expects, using a private key that
// never leaves the hardware module.
//
// NOTE: this is provided on a "best-effort" basis. It demonstrates the
// session open/find-key/sign/close sequence most PKCS#11 modules expect,
// but may not cover every module's attribute quirks.
package pkcs11

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/miekg/pkcs11"
)

// Config identifies the token and key a Client drives.
type Config struct {
	// ModulePath is the PKCS#11 module's shared library path (e.g.
	// "/usr/lib/softhsm/libsofthsm2.so").
	ModulePath string

	// TokenLabel selects a slot by its token label; the first available
	// slot is used when empty.
	TokenLabel string

	// KeyLabel selects the private key (and, for CertificateChain, the
	// certificate object) by CKA_LABEL; the first private key found is
	// used when empty.
	KeyLabel string

	PIN string

	// PublicKey picks the signing mechanism: CKM_ECDSA for an ECDSA key,
	// CKM_RSA_PKCS otherwise, including when it is unset. The token's
	// CKA_KEY_TYPE is not read.
	PublicKey crypto.PublicKey
}

// Client drives a PKCS#11 module to sign digests and read certificate
// objects off a token. It holds no state between calls - every SignDigest
// and CertificateChain call opens its own module handle and session, since
// HSM connections are not safe to assume live across an unrelated amount
// of wall-clock time between pipeline steps.
type Client struct {
	cfg Config
}

// NewClient validates cfg and returns a Client ready to sign. It does not
// open the module - that happens lazily per call - so a Client can be
// constructed before the HSM is reachable.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ModulePath == "" {
		return nil, fmt.Errorf("pkcs11: ModulePath is required")
	}
	return &Client{cfg: cfg}, nil
}

type moduleSession struct {
	ctx      *pkcs11.Ctx
	session  pkcs11.SessionHandle
	loggedIn bool
}

func (c *Client) openSession() (*moduleSession, error) {
	ctx := pkcs11.New(c.cfg.ModulePath)
	if ctx == nil {
		return nil, fmt.Errorf("pkcs11: failed to load module %s", c.cfg.ModulePath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("pkcs11: initializing module: %w", err)
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("pkcs11: listing slots: %w", err)
	}

	var slotID uint
	found := false
	for _, sID := range slots {
		info, err := ctx.GetTokenInfo(sID)
		if err != nil {
			continue
		}
		if info.Label == c.cfg.TokenLabel || c.cfg.TokenLabel == "" {
			slotID = sID
			found = true
			break
		}
	}
	if !found {
		ctx.Destroy()
		return nil, fmt.Errorf("pkcs11: token with label %q not found", c.cfg.TokenLabel)
	}

	session, err := ctx.OpenSession(slotID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("pkcs11: opening session: %w", err)
	}

	loggedIn := false
	if c.cfg.PIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, c.cfg.PIN); err != nil {
			_ = ctx.CloseSession(session)
			ctx.Destroy()
			return nil, fmt.Errorf("pkcs11: logging in: %w", err)
		}
		loggedIn = true
	}

	return &moduleSession{ctx: ctx, session: session, loggedIn: loggedIn}, nil
}

func (ms *moduleSession) close() {
	if ms.loggedIn {
		_ = ms.ctx.Logout(ms.session)
	}
	_ = ms.ctx.CloseSession(ms.session)
	_ = ms.ctx.Finalize()
	ms.ctx.Destroy()
}

func (ms *moduleSession) findObjects(class uint, label string) ([]pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, class)}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if err := ms.ctx.FindObjectsInit(ms.session, template); err != nil {
		return nil, fmt.Errorf("pkcs11: finding objects: %w", err)
	}
	defer func() { _ = ms.ctx.FindObjectsFinal(ms.session) }()

	objs, _, err := ms.ctx.FindObjects(ms.session, 16)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: finding objects: %w", err)
	}
	return objs, nil
}

// SignDigest answers the digest session.BeginSigning returned - standard
// base64, then percent-encoded - with the standard-base64 signature
// session.FinishSigning expects as signedValueB64.
func (c *Client) SignDigest(ctx context.Context, digestB64URL string, hashAlg crypto.Hash) (string, error) {
	digestB64, err := url.QueryUnescape(digestB64URL)
	if err != nil {
		return "", fmt.Errorf("pkcs11: un-percent-encoding digest: %w", err)
	}
	digest, err := base64.StdEncoding.DecodeString(digestB64)
	if err != nil {
		return "", fmt.Errorf("pkcs11: decoding digest: %w", err)
	}

	ms, err := c.openSession()
	if err != nil {
		return "", err
	}
	defer ms.close()

	objs, err := ms.findObjects(pkcs11.CKO_PRIVATE_KEY, c.cfg.KeyLabel)
	if err != nil {
		return "", err
	}
	if len(objs) == 0 {
		return "", fmt.Errorf("pkcs11: private key not found")
	}
	privKey := objs[0]

	mechanism := signingMechanism(c.cfg.PublicKey)

	if err := ms.ctx.SignInit(ms.session, []*pkcs11.Mechanism{mechanism}, privKey); err != nil {
		return "", fmt.Errorf("pkcs11: sign init failed: %w", err)
	}

	sig, err := ms.ctx.Sign(ms.session, digest)
	if err != nil {
		return "", fmt.Errorf("pkcs11: sign failed: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

// CertificateChain returns the DER bytes of every certificate object on the
// token matching KeyLabel, the shape session.CertificateBundle needs for
// EndEntityCertB64/ChainCertsB64. Tokens that keep the leaf certificate
// alongside the key under the same label return it first, but this does
// not sort - callers with a multi-certificate token should set KeyLabel to
// select the leaf precisely and fetch intermediates another way.
func (c *Client) CertificateChain() ([][]byte, error) {
	ms, err := c.openSession()
	if err != nil {
		return nil, err
	}
	defer ms.close()

	objs, err := ms.findObjects(pkcs11.CKO_CERTIFICATE, c.cfg.KeyLabel)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("pkcs11: no certificate objects found for label %q", c.cfg.KeyLabel)
	}

	chain := make([][]byte, 0, len(objs))
	for _, obj := range objs {
		attrs, err := ms.ctx.GetAttributeValue(ms.session, obj, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
		})
		if err != nil {
			return nil, fmt.Errorf("pkcs11: reading certificate value: %w", err)
		}
		if len(attrs) == 0 || len(attrs[0].Value) == 0 {
			continue
		}
		chain = append(chain, attrs[0].Value)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("pkcs11: certificate objects carried no CKA_VALUE")
	}
	return chain, nil
}

func signingMechanism(pub crypto.PublicKey) *pkcs11.Mechanism {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	case *rsa.PublicKey:
		return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
	default:
		return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
	}
}
