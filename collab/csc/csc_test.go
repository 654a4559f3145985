package csc

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{
		CredentialID: "test",
	})
	if err == nil {
		t.Error("expected error for missing BaseURL")
	}
}

func TestNewClient_RequiresCredentialID(t *testing.T) {
	_, err := NewClient(Config{
		BaseURL: "https://example.com",
	})
	if err == nil {
		t.Error("expected error for missing CredentialID")
	}
}

func TestNewClient_CapturesSignAlgo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"key": {"status": "enabled", "algo": ["1.2.840.113549.1.1.11"], "len": 2048},
			"cert": {"status": "valid", "certificates": []},
			"authMode": "explicit"
		}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:      server.URL,
		CredentialID: "test-key",
		AuthToken:    "Bearer test",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if client.signAlgo != "1.2.840.113549.1.1.11" {
		t.Errorf("signAlgo = %q, want the algo credentials/info advertised", client.signAlgo)
	}
}

func TestNewClient_NoCertificatesStillConstructs(t *testing.T) {
	// A credential with no certificates yet (e.g. pending issuance) should
	// still yield a usable Client - CertificateChain is where that's fatal,
	// not construction.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"key": {"status": "enabled", "algo": [], "len": 0},
			"cert": {"status": "pending", "certificates": []},
			"authMode": "explicit"
		}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:      server.URL,
		CredentialID: "test-key",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.CertificateChain(); err == nil {
		t.Error("expected CertificateChain to error on an empty certificate list")
	}
}

func TestHashAlgoOID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"SHA-256", "2.16.840.1.101.3.4.2.1"},
		{"SHA-384", "2.16.840.1.101.3.4.2.2"},
		{"SHA-512", "2.16.840.1.101.3.4.2.3"},
		{"MD5", ""}, // Unsupported
	}

	for _, tt := range tests {
		got := HashAlgoOID(tt.name)
		if got != tt.want {
			t.Errorf("HashAlgoOID(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
