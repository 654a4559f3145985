package sign

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/avylen/padessign/revocation"
	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
)

// AppendDSS takes an already fully signed document and appends a further
// incremental update that creates or extends its /DSS dictionary with data,
// adding no signature field and touching no existing /ByteRange. This is
// the update finishSigning performs, after the CMS signature itself is
// already embedded, to carry the signing certificate's own chain/
// revocation material without rewriting any previously signed byte.
func AppendDSS(document []byte, data revocation.ValidationData) ([]byte, error) {
	if data.IsEmpty() {
		return document, nil
	}

	rdr, err := pdf.NewReader(bytes.NewReader(document), int64(len(document)))
	if err != nil {
		return nil, fmt.Errorf("sign: parsing document for DSS append: %w", err)
	}

	context := &SignContext{
		PDFReader:    rdr,
		InputFile:    bytes.NewReader(document),
		OutputBuffer: filebuffer.New([]byte{}),
		lastXrefID:   uint32(rdr.XrefInformation.ItemCount - 1),
	}

	if _, err := context.OutputBuffer.Write(document); err != nil {
		return nil, err
	}
	if _, err := context.OutputBuffer.Write([]byte("\n")); err != nil {
		return nil, err
	}

	if err := context.writeDSS(data); err != nil {
		return nil, err
	}

	catalog, err := context.createCatalog(0)
	if err != nil {
		return nil, fmt.Errorf("sign: building DSS-update catalog: %w", err)
	}
	context.CatalogData.ObjectId, err = context.addObject([]byte(catalog))
	if err != nil {
		return nil, fmt.Errorf("sign: writing DSS-update catalog: %w", err)
	}

	if err := context.writeXref(); err != nil {
		return nil, fmt.Errorf("sign: writing DSS-update xref: %w", err)
	}
	if err := context.writeTrailer(); err != nil {
		return nil, fmt.Errorf("sign: writing DSS-update trailer: %w", err)
	}

	return context.OutputBuffer.Buff.Bytes(), nil
}

// writeDSS appends a /DSS dictionary plus one stream object per certificate,
// CRL and OCSP response in data, and records the DSS object's ID so
// createCatalog can reference it. Every blob in data is base64 DER; each
// becomes its own uncompressed stream object, addressed from the /Certs,
// /CRLs or /OCSPs array by indirect reference - the arrangement B-LT and
// B-LTA validation expects, see ETSI EN 319 142-1 clause 4.7. If the
// document already carries a /DSS (a prior signing pass), its existing
// indirect references are carried forward ahead of the new ones: DSS
// arrays are append-only, never rewritten.
func (context *SignContext) writeDSS(data revocation.ValidationData) error {
	existingCerts, existingCRLs, existingOCSPs := context.existingDSSRefs()
	if data.IsEmpty() && len(existingCerts) == 0 && len(existingCRLs) == 0 && len(existingOCSPs) == 0 {
		return nil
	}

	certIDs, err := context.writeDERStreams(data.Certificates)
	if err != nil {
		return fmt.Errorf("sign: writing DSS certificate streams: %w", err)
	}
	crlIDs, err := context.writeDERStreams(data.CRLs)
	if err != nil {
		return fmt.Errorf("sign: writing DSS CRL streams: %w", err)
	}
	ocspIDs, err := context.writeDERStreams(data.OCSPs)
	if err != nil {
		return fmt.Errorf("sign: writing DSS OCSP streams: %w", err)
	}

	var dss strings.Builder
	dss.WriteString("<< /Type /DSS")
	writeRefArray(&dss, "Certs", append(existingCerts, certIDs...))
	writeRefArray(&dss, "CRLs", append(existingCRLs, crlIDs...))
	writeRefArray(&dss, "OCSPs", append(existingOCSPs, ocspIDs...))
	dss.WriteString(" >>")

	id, err := context.addObject([]byte(dss.String()))
	if err != nil {
		return fmt.Errorf("sign: writing DSS dictionary: %w", err)
	}
	context.DSSData.ObjectId = id
	return nil
}

// existingDSSRefs returns the object IDs already referenced by the input
// document's /DSS dictionary, if any, so a later writeDSS call preserves
// them instead of orphaning them.
func (context *SignContext) existingDSSRefs() (certs, crls, ocsps []uint32) {
	root := context.PDFReader.Trailer().Key("Root")
	dss := root.Key("DSS")
	if dss.IsNull() {
		return nil, nil, nil
	}
	return dssRefIDs(dss.Key("Certs")), dssRefIDs(dss.Key("CRLs")), dssRefIDs(dss.Key("OCSPs"))
}

func dssRefIDs(arr pdf.Value) []uint32 {
	if arr.IsNull() {
		return nil
	}
	ids := make([]uint32, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		ids = append(ids, arr.Index(i).GetPtr().GetID())
	}
	return ids
}

// writeDERStreams base64-decodes each entry and writes it as its own
// minimal PDF stream object, returning the assigned object IDs in order.
func (context *SignContext) writeDERStreams(entries []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(entries))
	for _, entry := range entries {
		der, err := base64.StdEncoding.DecodeString(entry)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 DER blob: %w", err)
		}

		var body strings.Builder
		fmt.Fprintf(&body, "<< /Length %d >>\nstream\n", len(der))
		body.Write(der)
		body.WriteString("\nendstream")

		id, err := context.addObject([]byte(body.String()))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeRefArray(b *strings.Builder, name string, ids []uint32) {
	if len(ids) == 0 {
		return
	}
	b.WriteString(" /" + name + " [")
	for i, id := range ids {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strconv.Itoa(int(id)) + " 0 R")
	}
	b.WriteString("]")
}
