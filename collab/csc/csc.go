// Package csc is a reference Cloud Signature Consortium (CSC) API v2
// client: the remote collaborator a caller plugs in to answer the digest
// session.BeginSigning returns with the base64 signature
// session.FinishSigning expects, without ever holding the private key
// itself - the signing operation happens entirely on the CSC service.
//
// It should be compatible with CSC v1.0.4, v2.0, v2.1 and v2.2 compliant
// services. See https://cloudsignatureconsortium.org/ for the API
// specification this wire format implements.
package csc

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Config configures the CSC client.
type Config struct {
	// BaseURL is the CSC API base URL (e.g. "https://example.com/csc/v1").
	BaseURL string

	// CredentialID names the signing credential this client drives.
	CredentialID string

	// AuthToken is the authorization header value (e.g. "Bearer ey...").
	AuthToken string

	// PIN and OTP authorize the credential when the service requires it.
	PIN string
	OTP string

	// HTTPClient is an optional custom HTTP client. http.DefaultClient if nil.
	HTTPClient *http.Client
}

// Client drives a CSC credential through credentials/info,
// credentials/authorize and signatures/signHash.
type Client struct {
	cfg        Config
	httpClient *http.Client
	signAlgo   string
}

// NewClient fetches the credential's info (its certificate chain and
// supported signing algorithms) and returns a Client ready to sign.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("csc: BaseURL is required")
	}
	if cfg.CredentialID == "" {
		return nil, fmt.Errorf("csc: CredentialID is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	c := &Client{cfg: cfg, httpClient: client}
	info, err := c.credentialInfo()
	if err != nil {
		return nil, fmt.Errorf("csc: fetching credential info: %w", err)
	}
	if len(info.Key.Algo) > 0 {
		c.signAlgo = info.Key.Algo[0]
	}
	return c, nil
}

type credentialInfoRequest struct {
	CredentialID string `json:"credentialID"`
}

type credentialInfoResponse struct {
	Key struct {
		Status string   `json:"status"`
		Algo   []string `json:"algo"`
		Len    int      `json:"len"`
	} `json:"key"`
	Cert struct {
		Status       string   `json:"status"`
		Certificates []string `json:"certificates"`
	} `json:"cert"`
	AuthMode string `json:"authMode"`
}

func (c *Client) credentialInfo() (*credentialInfoResponse, error) {
	body, err := c.doRequest(context.Background(), "credentials/info", credentialInfoRequest{CredentialID: c.cfg.CredentialID})
	if err != nil {
		return nil, err
	}
	var info credentialInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing credentials/info response: %w", err)
	}
	return &info, nil
}

// CertificateChain returns the credential's certificate chain (leaf first)
// as DER bytes, the shape session.CertificateBundle needs for
// EndEntityCertB64/ChainCertsB64.
func (c *Client) CertificateChain() ([][]byte, error) {
	info, err := c.credentialInfo()
	if err != nil {
		return nil, fmt.Errorf("csc: fetching credential info: %w", err)
	}
	chain := make([][]byte, 0, len(info.Cert.Certificates))
	for i, b64 := range info.Cert.Certificates {
		der, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("csc: decoding certificate %d: %w", i, err)
		}
		if _, err := x509.ParseCertificate(der); err != nil {
			return nil, fmt.Errorf("csc: parsing certificate %d: %w", i, err)
		}
		chain = append(chain, der)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("csc: credential has no certificates")
	}
	return chain, nil
}

type signHashRequest struct {
	CredentialID string   `json:"credentialID"`
	SAD          string   `json:"SAD,omitempty"`
	Hashes       []string `json:"hash"`
	HashAlgo     string   `json:"hashAlgo"`
	SignAlgo     string   `json:"signAlgo"`
}

type signHashResponse struct {
	Signatures []string `json:"signatures"`
}

// SignDigest answers the digest session.BeginSigning returned -
// standard base64, then percent-encoded, exactly what the caller reads off the
// wire - with the standard-base64 signature session.FinishSigning expects
// as signedValueB64. hashAlgoOID identifies the digest algorithm as a
// dotted OID string (see HashAlgoOID for the algorithms this engine uses).
func (c *Client) SignDigest(ctx context.Context, digestB64URL, hashAlgoOID string) (string, error) {
	digestB64, err := url.QueryUnescape(digestB64URL)
	if err != nil {
		return "", fmt.Errorf("csc: un-percent-encoding digest: %w", err)
	}
	digest, err := base64.StdEncoding.DecodeString(digestB64)
	if err != nil {
		return "", fmt.Errorf("csc: decoding digest: %w", err)
	}

	sad, err := c.authorizeCredential(ctx)
	if err != nil {
		return "", fmt.Errorf("csc: authorizing credential: %w", err)
	}

	req := signHashRequest{
		CredentialID: c.cfg.CredentialID,
		SAD:          sad,
		Hashes:       []string{base64.StdEncoding.EncodeToString(digest)},
		HashAlgo:     hashAlgoOID,
		SignAlgo:     c.signAlgo,
	}

	body, err := c.doRequest(ctx, "signatures/signHash", req)
	if err != nil {
		return "", fmt.Errorf("csc: signHash request failed: %w", err)
	}

	var resp signHashResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("csc: parsing signHash response: %w", err)
	}
	if len(resp.Signatures) == 0 {
		return "", fmt.Errorf("csc: signHash returned no signatures")
	}

	// The service already returns standard base64, so this only validates
	// it round-trips cleanly before session.FinishSigning sees it.
	if _, err := base64.StdEncoding.DecodeString(resp.Signatures[0]); err != nil {
		return "", fmt.Errorf("csc: signature is not valid base64: %w", err)
	}
	return resp.Signatures[0], nil
}

type authorizeCredentialRequest struct {
	CredentialID  string `json:"credentialID"`
	NumSignatures int    `json:"numSignatures"`
	PIN           string `json:"PIN,omitempty"`
	OTP           string `json:"OTP,omitempty"`
}

type authorizeCredentialResponse struct {
	SAD string `json:"SAD"`
}

// authorizeCredential obtains the Signature Activation Data a one-shot
// signHash call authorizes under. Some services skip authorization
// entirely for credentials that don't require it, so a failure here is
// treated as "no SAD needed" rather than fatal.
func (c *Client) authorizeCredential(ctx context.Context) (string, error) {
	req := authorizeCredentialRequest{
		CredentialID:  c.cfg.CredentialID,
		NumSignatures: 1,
		PIN:           c.cfg.PIN,
		OTP:           c.cfg.OTP,
	}

	body, err := c.doRequest(ctx, "credentials/authorize", req)
	if err != nil {
		return "", nil
	}
	var resp authorizeCredentialResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nil
	}
	return resp.SAD, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// HashAlgoOID returns the CSC hashAlgo OID string for the digest algorithms
// this engine signs with.
func HashAlgoOID(name string) string {
	switch name {
	case "SHA-256":
		return "2.16.840.1.101.3.4.2.1"
	case "SHA-384":
		return "2.16.840.1.101.3.4.2.2"
	case "SHA-512":
		return "2.16.840.1.101.3.4.2.3"
	default:
		return ""
	}
}
