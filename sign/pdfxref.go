package sign

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// writeXref emits the incremental cross-reference section matching the
// original document's own xref flavour: a classic table when the document
// used one, a cross-reference stream when it used one. It runs once per
// incremental update a SignContext produces - once for the signature field
// reservation, and again for the DocTimeStamp update a B-LTA rollover
// appends on top of an already-finalized document.
func (context *SignContext) writeXref() error {
	switch context.PDFReader.XrefInformation.Type {
	case "table":
		offset, err := context.OutputBuffer.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("seeking to end of output buffer: %w", err)
		}
		context.NewXrefStart = offset
		return context.writeIncrXrefTable()
	case "stream":
		return context.writeXrefStream()
	default:
		return fmt.Errorf("unsupported xref type: %q", context.PDFReader.XrefInformation.Type)
	}
}

// writeIncrXrefTable is writeXref's classic-table branch: it rewrites the
// already-updated object entries (the field dictionary whose /V now points
// at the new signature) followed by a fresh subsection for every object
// this update introduced.
func (context *SignContext) writeIncrXrefTable() error {
	if _, err := context.OutputBuffer.Write([]byte("xref\n")); err != nil {
		return fmt.Errorf("failed to write incremental xref header: %w", err)
	}

	for _, entry := range context.updatedXrefEntries {
		pageXrefObj := fmt.Sprintf("%d %d\n", entry.ID, 1)
		if _, err := context.OutputBuffer.Write([]byte(pageXrefObj)); err != nil {
			return fmt.Errorf("failed to write updated xref object: %w", err)
		}

		xrefLine := fmt.Sprintf("%010d 00000 n\r\n", entry.Offset)
		if _, err := context.OutputBuffer.Write([]byte(xrefLine)); err != nil {
			return fmt.Errorf("failed to write updated incremental xref entry: %w", err)
		}
	}

	startXrefObj := fmt.Sprintf("%d %d\n", context.lastXrefID+1, len(context.newXrefEntries))
	if _, err := context.OutputBuffer.Write([]byte(startXrefObj)); err != nil {
		return fmt.Errorf("failed to write starting xref object: %w", err)
	}

	for _, entry := range context.newXrefEntries {
		xrefLine := fmt.Sprintf("%010d 00000 n\r\n", entry.Offset)
		if _, err := context.OutputBuffer.Write([]byte(xrefLine)); err != nil {
			return fmt.Errorf("failed to write incremental xref entry: %w", err)
		}
	}

	return nil
}

// writeTrailer closes out the incremental update writeXref just wrote: for
// a classic table it rewrites the source trailer dictionary's /Root, /Size
// and /Prev in place, leaving the rest of the dictionary (including any
// DocMDP-relevant keys from an earlier signature) untouched, and for a
// stream xref it emits the bare startxref pointer - the stream object
// already carries its own trailer keys. Both branches finish with the new
// startxref offset and the %%EOF every incremental update needs.
func (context *SignContext) writeTrailer() error {
	switch context.PDFReader.XrefInformation.Type {
	case "table":
		trailerLength := context.PDFReader.XrefInformation.IncludingTrailerEndPos - context.PDFReader.XrefInformation.EndPos

		if _, err := context.InputFile.Seek(context.PDFReader.XrefInformation.EndPos+1, 0); err != nil {
			return err
		}
		trailerBuf := make([]byte, trailerLength)
		if _, err := context.InputFile.Read(trailerBuf); err != nil {
			return err
		}

		rootString := "Root " + context.CatalogData.RootString
		newRoot := "Root " + strconv.FormatInt(int64(context.CatalogData.ObjectId), 10) + " 0 R"

		sizeString := "Size " + strconv.FormatInt(context.PDFReader.XrefInformation.ItemCount, 10)
		newSize := "Size " + strconv.FormatInt(context.PDFReader.XrefInformation.ItemCount+int64(len(context.newXrefEntries)+1), 10)

		prevString := "Prev " + context.PDFReader.Trailer().Key("Prev").String()
		newPrev := "Prev " + strconv.FormatInt(context.PDFReader.XrefInformation.StartPos, 10)

		trailerString := string(trailerBuf)
		trailerString = strings.ReplaceAll(trailerString, rootString, newRoot)
		trailerString = strings.ReplaceAll(trailerString, sizeString, newSize)
		if strings.Contains(trailerString, prevString) {
			trailerString = strings.ReplaceAll(trailerString, prevString, newPrev)
		} else {
			// No prior incremental update, so the source trailer has no
			// /Prev yet - add the one chaining back to it.
			trailerString = strings.ReplaceAll(trailerString, newRoot, newRoot+"\n  /"+newPrev)
		}

		// Normalize indentation so every dictionary entry lines up the
		// same regardless of how the source trailer happened to be
		// formatted.
		lines := strings.Split(trailerString, "\n")
		for i, line := range lines {
			if strings.HasPrefix(line, " ") {
				lines[i] = "    " + strings.TrimSpace(line)
			}
		}
		trailerString = strings.Join(lines, "\n") + "\n"

		if _, err := context.OutputBuffer.Write([]byte(trailerString)); err != nil {
			return err
		}
	case "stream":
		if _, err := context.OutputBuffer.Write([]byte("startxref\n")); err != nil {
			return err
		}
	}

	if _, err := context.OutputBuffer.Write([]byte(strconv.FormatInt(context.NewXrefStart, 10) + "\n")); err != nil {
		return err
	}

	if _, err := context.OutputBuffer.Write([]byte("%%EOF\n")); err != nil {
		return err
	}

	return nil
}
