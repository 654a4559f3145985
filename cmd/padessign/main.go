// Command padessign drives the session façade end to end against a local
// PEM certificate/key pair - the simplest possible stand-in for "a caller
// that already has a signature from somewhere else", which is all the
// session package ever assumes about where a signature comes from.
package main

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/url"
	"os"

	"github.com/avylen/padessign/codec"
	"github.com/avylen/padessign/config"
	"github.com/avylen/padessign/revocation"
	"github.com/avylen/padessign/session"
	"github.com/avylen/padessign/sign"
)

func main() {
	in := flag.String("in", "", "input PDF path")
	out := flag.String("out", "", "output PDF path")
	certPath := flag.String("cert", "", "PEM end-entity certificate path")
	keyPath := flag.String("key", "", "PEM private key path (PKCS#1 or PKCS#8)")
	chainPath := flag.String("chain", "", "PEM file with the rest of the chain (intermediates, then root); optional")
	conformance := flag.String("conformance", "", "ADES_B_B, ADES_B_T, ADES_B_LT or ADES_B_LTA; the config's default_conformance if unset")
	configPath := flag.String("config", "", "engine config TOML path; uses built-in defaults if unset or missing")
	reason := flag.String("reason", "", "signature /Reason")
	location := flag.String("location", "", "signature /Location")
	name := flag.String("name", "", "signature /Name")
	flag.Parse()

	if *in == "" || *out == "" || *certPath == "" || *keyPath == "" {
		log.Fatal("usage: padessign -in in.pdf -out out.pdf -cert cert.pem -key key.pem [-chain chain.pem] [-conformance ADES_B_B] [-config engine.toml]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	signer, leafDER, err := loadSigner(*keyPath, *certPath)
	if err != nil {
		log.Fatalf("loading signing identity: %v", err)
	}
	chainDER, err := loadChain(*chainPath)
	if err != nil {
		log.Fatalf("loading certificate chain: %v", err)
	}

	level := sign.Conformance(*conformance)
	if *conformance == "" {
		level = cfg.Conformance()
	}

	info := sign.SignDataSignatureInfo{
		Reason:   orDefault(*reason, cfg.Info.Reason),
		Location: orDefault(*location, cfg.Info.Location),
		Name:     *name,
	}

	freeze, err := cfg.FreezeSigningDate()
	if err != nil {
		log.Fatalf("parsing freeze_signing_date: %v", err)
	}

	s, err := session.New(session.Config{
		Bundle: session.CertificateBundle{
			EndEntityCertB64: base64.StdEncoding.EncodeToString(leafDER),
			ChainCertsB64:    b64All(chainDER),
		},
		Conformance:       level,
		DigestAlgorithm:   cfg.Digest(),
		CertType:          sign.ApprovalSignature,
		Info:              info,
		ContentsFloor:     uint32(cfg.ContentsFloorFor(level)),
		FreezeSigningDate: freeze,
	})
	if err != nil {
		log.Fatalf("starting session: %v", err)
	}

	inputFile, err := os.Open(*in)
	if err != nil {
		log.Fatalf("opening input: %v", err)
	}
	defer inputFile.Close()
	size, err := inputFile.Seek(0, 2)
	if err != nil {
		log.Fatalf("stat input: %v", err)
	}
	if _, err := inputFile.Seek(0, 0); err != nil {
		log.Fatalf("rewind input: %v", err)
	}

	hashB64URL, err := s.BeginSigning(inputFile, size)
	if err != nil {
		log.Fatalf("beginning signing: %v", err)
	}

	digest, err := decodeDigest(hashB64URL)
	if err != nil {
		log.Fatalf("decoding digest to sign: %v", err)
	}
	sig, err := signer.Sign(nil, digest, cfg.Digest())
	if err != nil {
		log.Fatalf("signing: %v", err)
	}

	final, err := s.FinishSigning(base64.StdEncoding.EncodeToString(sig), "", revocation.ValidationData{})
	if err != nil {
		log.Fatalf("finishing signing: %v", err)
	}

	if err := ioutil.WriteFile(*out, final, 0o644); err != nil {
		log.Fatalf("writing output: %v", err)
	}
	log.Println("Signed PDF written to " + *out)
}

// decodeDigest reverses session.BeginSigning's percent-encoded base64
// encoding - the same two-step decode an external signing service's own
// client library would perform.
func decodeDigest(hashB64URL string) ([]byte, error) {
	b64, err := url.QueryUnescape(hashB64URL)
	if err != nil {
		return nil, err
	}
	return codec.Base64Decode(b64)
}

func loadSigner(keyPath, certPath string) (crypto.Signer, []byte, error) {
	certPEM, err := ioutil.ReadFile(certPath)
	if err != nil {
		return nil, nil, err
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("no PEM block found in %s", certPath)
	}
	if _, err := x509.ParseCertificate(certBlock.Bytes); err != nil {
		return nil, nil, err
	}

	keyPEM, err := ioutil.ReadFile(keyPath)
	if err != nil {
		return nil, nil, err
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("no PEM block found in %s", keyPath)
	}

	if key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes); err == nil {
		return key, certBlock.Bytes, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, fmt.Errorf("key in %s does not implement crypto.Signer", keyPath)
	}
	return signer, certBlock.Bytes, nil
}

func loadChain(chainPath string) ([][]byte, error) {
	if chainPath == "" {
		return nil, nil
	}
	data, err := ioutil.ReadFile(chainPath)
	if err != nil {
		return nil, err
	}
	var chain [][]byte
	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		chain = append(chain, block.Bytes)
		data = rest
	}
	return chain, nil
}

func b64All(ders [][]byte) []string {
	out := make([]string, len(ders))
	for i, der := range ders {
		out[i] = base64.StdEncoding.EncodeToString(der)
	}
	return out
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
