package tsa

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avylen/padessign/internal/testpki"
	"github.com/digitorus/timestamp"
)

func TestClientTimestamp(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	t.Cleanup(pki.Close)
	tsaKey, tsaCert := pki.IssueLeaf("tsa")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, err := timestamp.ParseRequest(body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		sum := sha256.Sum256([]byte("whatever was hashed by the caller"))
		resp, err := testpki.NewTimeStampResponse(pki, sum[:], crypto.SHA256, tsaKey, tsaCert, pki.Chain())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/timestamp-reply")
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	client := &Client{URL: server.URL}
	digest := sha256.Sum256([]byte("content to timestamp"))
	tsrB64, err := client.Timestamp(context.Background(), digest[:], crypto.SHA256)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}

	der, err := base64.StdEncoding.DecodeString(tsrB64)
	if err != nil {
		t.Fatalf("decoding returned base64: %v", err)
	}
	if _, err := timestamp.ParseResponse(der); err != nil {
		t.Fatalf("returned value does not parse as a TimeStampResp: %v", err)
	}
}

func TestClientTimestampRejectsNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("tsa overloaded"))
	}))
	defer server.Close()

	client := &Client{URL: server.URL}
	digest := sha256.Sum256([]byte("content to timestamp"))
	if _, err := client.Timestamp(context.Background(), digest[:], crypto.SHA256); err == nil {
		t.Fatal("expected an error for a 503 response")
	}
}

func TestClientTimestampSendsBasicAuth(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	t.Cleanup(pki.Close)
	tsaKey, tsaCert := pki.IssueLeaf("tsa")

	var sawAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); ok && u == "client" && p == "secret" {
			sawAuth = true
		}
		sum := sha256.Sum256([]byte("x"))
		resp, err := testpki.NewTimeStampResponse(pki, sum[:], crypto.SHA256, tsaKey, tsaCert, pki.Chain())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	client := &Client{URL: server.URL, Username: "client", Password: "secret"}
	digest := sha256.Sum256([]byte("content to timestamp"))
	if _, err := client.Timestamp(context.Background(), digest[:], crypto.SHA256); err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if !sawAuth {
		t.Fatal("server did not observe HTTP basic auth credentials")
	}
}
