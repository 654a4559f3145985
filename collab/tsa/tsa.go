// Package tsa is a reference RFC 3161 Time-Stamp Authority client: the
// collaborator a caller plugs in to obtain the TimeStampResp bytes that
// session.FinishSigning and session.FinishSigningLTA expect as base64
// input. It never touches a private key - only the TSA's public HTTP
// endpoint.
package tsa

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/digitorus/timestamp"
)

// Client talks the RFC 3161 time-stamp protocol over HTTP: it requests a
// timestamp over an already-computed digest and hands back the raw
// TimeStampResp, leaving session.FinishSigning to embed it.
type Client struct {
	// URL is the TSA's time-stamp endpoint.
	URL string

	// Username and Password, if both set, are sent as HTTP Basic auth.
	Username string
	Password string

	// HTTPClient is used to perform the request. http.DefaultClient if nil.
	HTTPClient *http.Client
}

// Timestamp requests a timestamp over messageDigest (a digest already
// computed with hashAlg, not the original content) and returns the
// base64-encoded DER TimeStampResp.
func (c *Client) Timestamp(ctx context.Context, messageDigest []byte, hashAlg crypto.Hash) (string, error) {
	tsReq, err := (&timestamp.Request{
		HashAlgorithm: hashAlg,
		HashedMessage: messageDigest,
		Certificates:  true,
	}).Marshal()
	if err != nil {
		return "", fmt.Errorf("tsa: creating request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(tsReq))
	if err != nil {
		return "", fmt.Errorf("tsa: preparing request (%s): %w", c.URL, err)
	}
	req.Header.Set("Content-Type", "application/timestamp-query")
	req.Header.Set("Content-Transfer-Encoding", "binary")
	if c.Username != "" && c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tsa: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tsa: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("tsa: non-success response (%d): %s", resp.StatusCode, string(body))
	}

	if _, err := timestamp.ParseResponse(body); err != nil {
		return "", fmt.Errorf("tsa: parsing response: %w", err)
	}

	return base64.StdEncoding.EncodeToString(body), nil
}
