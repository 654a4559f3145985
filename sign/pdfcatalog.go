package sign

import (
	"strconv"
	"strings"
)

// createCatalog rebuilds the document catalog so its /AcroForm references
// the new signature field and, once a DSS exists, its /DSS entry - this is
// the object an incremental update's new /Root points at.
func (context *SignContext) createCatalog(signatureObjectId uint32) (string, error) {
	var catalogBuilder strings.Builder

	catalogBuilder.WriteString("<< /Type /Catalog")

	root := context.PDFReader.Trailer().Key("Root")
	rootPtr := root.GetPtr()
	context.CatalogData.RootString = strconv.Itoa(int(rootPtr.GetID())) + " " + strconv.Itoa(int(rootPtr.GetGen())) + " R"

	foundPages, foundNames := false, false
	for _, key := range root.Keys() {
		switch key {
		case "Pages":
			foundPages = true
		case "Names":
			foundNames = true
		}
		if foundPages && foundNames {
			break
		}
	}

	if foundPages {
		pages := root.Key("Pages").GetPtr()
		catalogBuilder.WriteString(" /Pages " + strconv.Itoa(int(pages.GetID())) + " " + strconv.Itoa(int(pages.GetGen())) + " R")
	}
	if foundNames {
		names := root.Key("Names").GetPtr()
		catalogBuilder.WriteString(" /Names " + strconv.Itoa(int(names.GetID())) + " " + strconv.Itoa(int(names.GetGen())) + " R")
	}

	if context.DSSData.ObjectId != 0 {
		catalogBuilder.WriteString(" /DSS " + strconv.Itoa(int(context.DSSData.ObjectId)) + " 0 R")
	}

	catalogBuilder.WriteString(" /AcroForm << /Fields [")
	wroteField := false
	if acroForm := root.Key("AcroForm"); !acroForm.IsNull() {
		fields := acroForm.Key("Fields")
		for i := 0; i < fields.Len(); i++ {
			ptr := fields.Index(i).GetPtr()
			if wroteField {
				catalogBuilder.WriteString(" ")
			}
			catalogBuilder.WriteString(strconv.Itoa(int(ptr.GetID())) + " " + strconv.Itoa(int(ptr.GetGen())) + " R")
			wroteField = true
		}
	}
	// signatureObjectId is 0 for a DSS-only incremental update (AppendDSS),
	// which adds no new signature field and must leave /AcroForm untouched.
	if signatureObjectId != 0 {
		if wroteField {
			catalogBuilder.WriteString(" ")
		}
		catalogBuilder.WriteString(strconv.Itoa(int(signatureObjectId)) + " 0 R")
	}
	catalogBuilder.WriteString("]")
	catalogBuilder.WriteString(" /NeedAppearances false")

	// Signature flags (Table 225): bit 1 (SignaturesExist) plus bit 2
	// (AppendOnly) for every signature shape except usage-rights signatures,
	// which only ever set bit 1. A DSS-only update (signatureObjectId == 0)
	// adds no field, so it carries the existing /SigFlags forward unchanged
	// rather than recomputing it from a CertType that doesn't apply here.
	if signatureObjectId != 0 {
		switch context.SignData.Signature.CertType {
		case CertificationSignature, ApprovalSignature, TimeStampSignature:
			catalogBuilder.WriteString(" /SigFlags 3")
		case UsageRightsSignature:
			catalogBuilder.WriteString(" /SigFlags 1")
		}
	} else if acroForm := root.Key("AcroForm"); !acroForm.IsNull() {
		if flags := acroForm.Key("SigFlags"); !flags.IsNull() {
			catalogBuilder.WriteString(" /SigFlags " + strconv.Itoa(int(flags.Int64())))
		}
	}

	catalogBuilder.WriteString(" >>") // close AcroForm
	catalogBuilder.WriteString(" >>") // close catalog

	return catalogBuilder.String(), nil
}
