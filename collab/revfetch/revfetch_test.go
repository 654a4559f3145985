package revfetch

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCRLFetcherFetch(t *testing.T) {
	want := []byte("fake-der-crl-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(want)
	}))
	defer server.Close()

	f := &CRLFetcher{}
	got, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != base64.StdEncoding.EncodeToString(want) {
		t.Fatalf("got %q, want the base64 of %q", got, want)
	}
}

func TestCRLFetcherNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := &CRLFetcher{}
	if _, err := f.Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestOCSPFetcherPost(t *testing.T) {
	wantReq := []byte("der-ocsp-request")
	wantResp := []byte("der-ocsp-response")
	var sawContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawContentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		if err != nil || string(body) != string(wantReq) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write(wantResp)
	}))
	defer server.Close()

	f := &OCSPFetcher{}
	got, err := f.Post(context.Background(), server.URL, wantReq)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got != base64.StdEncoding.EncodeToString(wantResp) {
		t.Fatalf("got %q, want the base64 of %q", got, wantResp)
	}
	if sawContentType != "application/ocsp-request" {
		t.Fatalf("Content-Type = %q, want application/ocsp-request", sawContentType)
	}
}

func TestAIAFetcherFetch(t *testing.T) {
	want := []byte("fake-der-issuer-certificate")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(want)
	}))
	defer server.Close()

	f := &AIAFetcher{}
	got, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != base64.StdEncoding.EncodeToString(want) {
		t.Fatalf("got %q, want the base64 of %q", got, want)
	}
}
