package sign

import (
	"crypto"
	"crypto/x509"
	"io"
	"time"

	"github.com/avylen/padessign/revocation"
	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
)

// Conformance identifies which PAdES baseline profile a SignContext is
// building towards. It only affects placeholder sizing and which
// collaborators the caller is expected to have fed - the byte-level
// mechanics (ByteRange, Contents placeholder, incremental update) are the
// same for every level. It is a string, not an int enum, because the same
// value is also used as a human-readable selector in configuration files
// and error messages.
type Conformance string

const (
	ConformanceB   Conformance = "ADES_B_B"
	ConformanceT   Conformance = "ADES_B_T"
	ConformanceLT  Conformance = "ADES_B_LT"
	ConformanceLTA Conformance = "ADES_B_LTA"
)

type CatalogData struct {
	ObjectId   uint32
	RootString string
}

// DSSData tracks the object ID of an already-written /DSS dictionary so a
// later incremental update (adding a DocTimeStamp's own chain/revocation
// material) can supersede it instead of leaving an orphaned first copy.
type DSSData struct {
	ObjectId uint32
}

type TSA struct {
	URL      string
	Username string
	Password string
}

type SignData struct {
	Signature         SignDataSignature
	Signer            crypto.Signer
	DigestAlgorithm   crypto.Hash
	Certificate       *x509.Certificate
	CertificateChains [][]*x509.Certificate
	TSA               TSA
	RevocationData    revocation.ValidationData
	Conformance       Conformance

	// SignatureSizeOverride, when non-zero, replaces the signer's own
	// PublicKeySignatureSize estimate. Remote signing services sometimes pad
	// or wrap the raw signature (e.g. a CSC provider adding its own
	// envelope), so the caller may know better than the public key alone.
	SignatureSizeOverride uint32

	// ContentsFloor, when non-zero, replaces reserveSignatureSpace's default
	// 512-byte base before any certificate/revocation overhead is added - a
	// caller that already knows it wants B-T/LT/LTA headroom (a TSA
	// response or DocTimeStamp token adds bytes no certificate-chain math
	// accounts for) sets this instead of relying on the built-in default.
	ContentsFloor uint32

	// CompressLevel determines compression level (zlib) for stream objects.
	CompressLevel int

	objectId uint32
}

//go:generate stringer -type=CertType
type CertType uint

const (
	CertificationSignature CertType = iota + 1
	ApprovalSignature
	UsageRightsSignature
	TimeStampSignature
)

//go:generate stringer -type=DocMDPPerm
type DocMDPPerm uint

const (
	DoNotAllowAnyChangesPerms DocMDPPerm = iota + 1
	AllowFillingExistingFormFieldsAndSignaturesPerms
	AllowFillingExistingFormFieldsAndSignaturesAndCRUDAnnotationsPerms
)

type SignDataSignature struct {
	CertType   CertType
	DocMDPPerm DocMDPPerm
	Info       SignDataSignatureInfo
}

type SignDataSignatureInfo struct {
	Name        string
	Location    string
	Reason      string
	ContactInfo string
	Date        time.Time
}

// xrefEntry records the byte offset at which an object (new or rewritten)
// was appended to OutputBuffer, for the incremental xref table/stream.
type xrefEntry struct {
	ID     uint32
	Offset int64
}

// SignContext carries the state of one incremental-update signing pass: the
// original document, the buffer the updated document is assembled into, and
// the bookkeeping needed to emit a valid trailing xref section. A SignContext
// is built by Prepare and driven to completion by EmbedSignature; it is not
// reused across signing passes.
type SignContext struct {
	InputFile    io.ReadSeeker
	OutputBuffer *filebuffer.Buffer
	SignData     SignData
	CatalogData  CatalogData
	DSSData      DSSData
	PDFReader    *pdf.Reader

	NewXrefStart               int64
	ByteRangeValues            []int64
	ByteRangeStartByte         int64
	SignatureContentsStartByte int64
	SignatureMaxLength         uint32
	SignatureMaxLengthBase     uint32

	lastXrefID         uint32
	newXrefEntries     []xrefEntry
	updatedXrefEntries []xrefEntry

	// CompressLevel determines compression level (zlib) for stream objects.
	CompressLevel int
}
