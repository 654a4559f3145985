// Package revfetch is a reference implementation of the three HTTP-based
// revocation/chain-building collaborators a caller plugs into the engine:
// CRL fetch, OCSP POST, and AIA caIssuers fetch. Each returns the response
// body base64-encoded, ready to go straight into
// revocation.ValidationData; none of them parse
// or validate the response - that is left to x509inspect and the caller,
// matching how the engine keeps "fetch" and "inspect" as separate
// concerns.
package revfetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
)

// CRLFetcher performs a plain HTTP GET against a CRL distribution point.
type CRLFetcher struct {
	HTTPClient *http.Client
}

// Fetch retrieves the DER CRL at url and returns it base64-encoded, the
// shape revocation.ValidationData.CRLs expects.
func (f *CRLFetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := httpGet(ctx, f.HTTPClient, url)
	if err != nil {
		return "", fmt.Errorf("crl fetch: %w", err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// OCSPFetcher POSTs a DER OCSPRequest (built by x509inspect.BuildOCSPRequest)
// to a responder URL.
type OCSPFetcher struct {
	HTTPClient *http.Client
}

// Post sends requestDER (raw bytes, not base64) to url and returns the
// base64-encoded DER OCSPResponse, the shape
// revocation.ValidationData.OCSPs expects.
func (f *OCSPFetcher) Post(ctx context.Context, url string, requestDER []byte) (string, error) {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestDER))
	if err != nil {
		return "", fmt.Errorf("ocsp post: preparing request (%s): %w", url, err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocsp post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ocsp post: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("ocsp post: non-success response (%d): %s", resp.StatusCode, string(body))
	}

	return base64.StdEncoding.EncodeToString(body), nil
}

// AIAFetcher fetches the issuing certificate named by a certificate's
// Authority Information Access id-ad-caIssuers extension.
type AIAFetcher struct {
	HTTPClient *http.Client
}

// Fetch retrieves the DER certificate at url and returns it
// base64-encoded, the shape revocation.ValidationData.Certificates
// expects.
func (f *AIAFetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := httpGet(ctx, f.HTTPClient, url)
	if err != nil {
		return "", fmt.Errorf("aia fetch: %w", err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("preparing request (%s): %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("non-success response (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
