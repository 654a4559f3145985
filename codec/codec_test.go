package codec

import (
	"bytes"
	"testing"
)

func TestBase64RoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 37),
	}
	for _, b := range cases {
		enc := Base64Encode(b)
		dec, err := Base64Decode(enc)
		if err != nil {
			t.Fatalf("Base64Decode(%q): %v", enc, err)
		}
		if !bytes.Equal(dec, b) {
			t.Fatalf("round trip mismatch: got %x want %x", dec, b)
		}
	}
}

func TestBase64DecodeMalformed(t *testing.T) {
	if _, err := Base64Decode("not-base64!!"); err == nil {
		t.Fatal("expected error for malformed base64")
	}
}

func TestHexRoundTrip(t *testing.T) {
	b := []byte{0x00, 0x01, 0xFE, 0xFF}
	enc := HexEncode(b)
	if enc != "0001feff" {
		t.Fatalf("HexEncode = %q, want lowercase", enc)
	}
	dec, err := HexDecode(enc)
	if err != nil {
		t.Fatalf("HexDecode: %v", err)
	}
	if !bytes.Equal(dec, b) {
		t.Fatalf("round trip mismatch: got %x want %x", dec, b)
	}
}

func TestHexDecodeMalformed(t *testing.T) {
	if _, err := HexDecode("xyz"); err == nil {
		t.Fatal("expected error for malformed hex")
	}
}

func TestURLEncode(t *testing.T) {
	cases := map[string]string{
		"abcXYZ019-_.~": "abcXYZ019-_.~",
		"hash value":    "hash%20value",
		"a+b/c=":        "a%2Bb%2Fc%3D",
	}
	for in, want := range cases {
		if got := URLEncode(in); got != want {
			t.Errorf("URLEncode(%q) = %q, want %q", in, got, want)
		}
	}
}
