package sign

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/digitorus/pdf"
)

// buildMinimalPDFReader assembles the smallest classic-xref-table PDF that
// digitorus/pdf can parse (catalog -> pages -> one empty page) and returns
// it opened both as a *os.File (for InputFile) and a *pdf.Reader.
func buildMinimalPDFReader(t *testing.T) (*os.File, *pdf.Reader) {
	t.Helper()

	var buf bytes.Buffer
	offsets := make([]int, 4)

	buf.WriteString("%PDF-1.7\n")

	offsets[0] = buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[1] = buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[2] = buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>\nendobj\n")

	xrefStart := buf.Len()
	buf.WriteString("xref\n0 4\n")
	buf.WriteString("0000000000 65535 f\r\n")
	for i := 0; i < 3; i++ {
		buf.WriteString(fmt.Sprintf("%010d 00000 n\r\n", offsets[i]))
	}
	buf.WriteString("trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefStart))
	buf.WriteString("%%EOF\n")

	f, err := os.CreateTemp(t.TempDir(), "minimal-*.pdf")
	if err != nil {
		t.Fatalf("creating temp PDF: %v", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		t.Fatalf("writing temp PDF: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("seeking temp PDF: %v", err)
	}

	r, err := pdf.NewReader(f, int64(buf.Len()))
	if err != nil {
		t.Fatalf("parsing minimal PDF: %v", err)
	}
	return f, r
}
