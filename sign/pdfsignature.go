package sign

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// ErrSignatureOverflow is returned by EmbedSignature when the signature
// (or DocTimeStamp token) produced by the external collaborator does not
// fit in the /Contents placeholder reserved during Prepare. Unlike a
// single-pass signer, a two-phase remote signing flow cannot silently widen
// the placeholder and retry: the caller must restart the whole signing
// operation with a larger reserved size.
var ErrSignatureOverflow = errors.New("sign: signature does not fit in reserved /Contents placeholder")

const signatureByteRangePlaceholder = "/ByteRange[0 ********** ********** **********]"

// createSignaturePlaceholder builds the /Sig field body - everything except
// the envelope addRawObject adds - and reports where, relative to the start
// of that body, the /ByteRange entry and the /Contents hex digits (just
// after the opening '<') begin.
// Both values are only meaningful once translated into absolute file offsets
// by the offset addRawObject returns for this object.
func (context *SignContext) createSignaturePlaceholder() (body []byte, byteRangeRelStart int64, contentsRelStart int64) {
	var buf bytes.Buffer
	if context.SignData.Signature.CertType == TimeStampSignature {
		buf.WriteString("<< /Type /DocTimeStamp")
	} else {
		buf.WriteString("<< /Type /Sig")
	}
	buf.WriteString(" /Filter /Adobe.PPKLite")
	if context.SignData.Signature.CertType == TimeStampSignature {
		buf.WriteString(" /SubFilter /ETSI.RFC3161")
	} else {
		buf.WriteString(" /SubFilter /ETSI.CAdES.detached")
	}

	byteRangeRelStart = int64(buf.Len()) + 1
	buf.WriteString(" " + signatureByteRangePlaceholder)

	contentsRelStart = int64(buf.Len()) + 11
	buf.WriteString(" /Contents<")
	buf.Write(bytes.Repeat([]byte("0"), int(context.SignatureMaxLength)))
	buf.WriteString(">")

	switch context.SignData.Signature.CertType {
	case CertificationSignature, UsageRightsSignature:
		buf.WriteString(" /Reference [ << /Type /SigRef")
		switch context.SignData.Signature.CertType {
		case CertificationSignature:
			buf.WriteString(" /TransformMethod /DocMDP")
			buf.WriteString(" /TransformParams << /Type /TransformParams")
			buf.WriteString(" /P " + strconv.Itoa(int(context.SignData.Signature.DocMDPPerm)))
			buf.WriteString(" /V /1.2")
		case UsageRightsSignature:
			buf.WriteString(" /TransformMethod /UR3")
			buf.WriteString(" /TransformParams << /Type /TransformParams /V /2.2")
		}
		buf.WriteString(" >> >> ]")
	}

	if context.SignData.Signature.Info.Name != "" {
		buf.WriteString(" /Name " + pdfString(context.SignData.Signature.Info.Name))
	}
	if context.SignData.Signature.Info.Location != "" {
		buf.WriteString(" /Location " + pdfString(context.SignData.Signature.Info.Location))
	}
	if context.SignData.Signature.Info.Reason != "" {
		buf.WriteString(" /Reason " + pdfString(context.SignData.Signature.Info.Reason))
	}
	if context.SignData.Signature.Info.ContactInfo != "" {
		buf.WriteString(" /ContactInfo " + pdfString(context.SignData.Signature.Info.ContactInfo))
	}
	buf.WriteString(" /M " + pdfDateTime(context.SignData.Signature.Info.Date))
	buf.WriteString(" >>")

	return buf.Bytes(), byteRangeRelStart, contentsRelStart
}

// writeSignaturePlaceholder appends the signature field object and records
// ByteRangeStartByte/SignatureContentsStartByte as absolute offsets into
// OutputBuffer, for updateByteRange and EmbedSignature to use once the rest
// of the incremental update has been appended after this object.
func (context *SignContext) writeSignaturePlaceholder() error {
	body, byteRangeRel, contentsRel := context.createSignaturePlaceholder()

	header := []byte(strconv.Itoa(int(context.nextObjectID())) + " 0 obj\n")
	full := append(append(append([]byte{}, header...), body...), []byte("\nendobj\n")...)

	id, objectOffset, err := context.addRawObject(full)
	if err != nil {
		return err
	}
	context.SignData.objectId = id

	headerLen := int64(len(header))
	context.ByteRangeStartByte = objectOffset + headerLen + byteRangeRel
	context.SignatureContentsStartByte = objectOffset + headerLen + contentsRel
	return nil
}

// ContentToHash returns the two ByteRange spans concatenated - the exact
// byte string a conformant verifier re-hashes, and so the exact byte string
// the CMS builder's AppendData must be fed.
func (context *SignContext) ContentToHash() ([]byte, error) {
	if len(context.ByteRangeValues) != 4 {
		return nil, fmt.Errorf("sign: ByteRange not computed yet")
	}
	if _, err := context.OutputBuffer.Seek(0, 0); err != nil {
		return nil, err
	}
	fileContent := context.OutputBuffer.Buff.Bytes()

	content := make([]byte, 0, context.ByteRangeValues[1]+context.ByteRangeValues[3])
	content = append(content, fileContent[context.ByteRangeValues[0]:context.ByteRangeValues[0]+context.ByteRangeValues[1]]...)
	content = append(content, fileContent[context.ByteRangeValues[2]:context.ByteRangeValues[2]+context.ByteRangeValues[3]]...)
	return content, nil
}

// EmbedSignature hex-encodes der and writes it into the /Contents
// placeholder reserved by writeSignaturePlaceholder, returning the finished
// document bytes. der may be a CMS SignedData or a free-standing
// TimeStampToken, depending on which field type Prepare built.
func (context *SignContext) EmbedSignature(der []byte) ([]byte, error) {
	dst := make([]byte, hex.EncodedLen(len(der)))
	hex.Encode(dst, der)

	if uint32(len(dst)) > context.SignatureMaxLength {
		return nil, fmt.Errorf("%w: need %d hex bytes, reserved %d", ErrSignatureOverflow, len(dst), context.SignatureMaxLength)
	}
	// Pad with trailing zero bytes so /Contents keeps its declared length -
	// PDF hex strings tolerate an even-length run of extra zero nibbles.
	if pad := int(context.SignatureMaxLength) - len(dst); pad > 0 {
		dst = append(dst, bytes.Repeat([]byte("0"), pad)...)
	}

	if _, err := context.OutputBuffer.Seek(0, 0); err != nil {
		return nil, err
	}
	fileContent := context.OutputBuffer.Buff.Bytes()

	contentsStart := context.SignatureContentsStartByte
	var out bytes.Buffer
	out.Write(fileContent[:contentsStart])
	out.Write(dst)
	out.Write(fileContent[contentsStart+int64(len(dst)):])

	return out.Bytes(), nil
}
