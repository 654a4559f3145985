package testpki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	"github.com/digitorus/pkcs7"
)

// TSR status codes per RFC 3161 PKIStatus.
const (
	TSRStatusGranted        = 0
	TSRStatusGrantedWithMod = 1
	TSRStatusRejection      = 2
	TSRStatusWaiting        = 3
)

type tstMessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint tstMessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time `asn1:"generalized"`
	Nonce          *big.Int  `asn1:"optional"`
}

type pkiStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type timeStampResp struct {
	Status         pkiStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

var oidBaselineTimeStampPolicy = asn1.ObjectIdentifier{0, 4, 0, 2023, 1, 1}

// hashAlgOIDs copies the SHA-2 entries of cms.hashOIDs; duplicated here so
// testpki has no dependency on the cms package.
var hashAlgOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

// NewTimeStampResponse builds a DER-encoded RFC 3161 TimeStampResp granting
// a timestamp over hashedMessage, signed by tsaKey/tsaCert. The returned
// bytes parse with github.com/digitorus/timestamp.ParseResponse.
func NewTimeStampResponse(t *TestPKI, hashedMessage []byte, hashAlg crypto.Hash, tsaKey crypto.Signer, tsaCert *x509.Certificate, chain []*x509.Certificate) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}

	info := tstInfo{
		Version: 1,
		Policy:  oidBaselineTimeStampPolicy,
		MessageImprint: tstMessageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: hashAlgOIDs[hashAlg]},
			HashedMessage: hashedMessage,
		},
		SerialNumber: serial,
		GenTime:      time.Now().UTC(),
	}
	infoDER, err := asn1.Marshal(info)
	if err != nil {
		return nil, err
	}

	signedData, err := pkcs7.NewSignedData(infoDER)
	if err != nil {
		return nil, err
	}
	if err := signedData.AddSignerChain(tsaCert, tsaKey, chain, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, err
	}
	token, err := signedData.Finish()
	if err != nil {
		return nil, err
	}

	resp := timeStampResp{
		Status:         pkiStatusInfo{Status: TSRStatusGranted},
		TimeStampToken: asn1.RawValue{FullBytes: token},
	}
	return asn1.Marshal(resp)
}

// NewRejectedTimeStampResponse builds a DER-encoded TimeStampResp with
// status=rejection (2) and no timeStampToken, the shape a TSA sends back
// when it refuses to issue a timestamp over a request.
func NewRejectedTimeStampResponse() ([]byte, error) {
	resp := struct {
		Status pkiStatusInfo
	}{
		Status: pkiStatusInfo{
			Status:       TSRStatusRejection,
			StatusString: []string{"timestamp request rejected for testing"},
		},
	}
	return asn1.Marshal(resp)
}
