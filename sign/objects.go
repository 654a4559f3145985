package sign

import (
	"fmt"
	"io"
)

// nextObjectID reports the ID the next addObject/addRawObject call will
// assign, for callers that need to reference it before that object exists
// (e.g. a catalog pointing at a signature field written moments later).
func (context *SignContext) nextObjectID() uint32 {
	return context.lastXrefID + 1
}

// addRawObject appends data verbatim - data must already be a complete
// "N 0 obj ... endobj" indirect object - and records its starting offset as
// a new xref entry. It returns the assigned ID and that starting offset, the
// latter needed by callers (the signature placeholder) that must translate
// byte positions measured from the start of their own object body into
// absolute file offsets.
func (context *SignContext) addRawObject(data []byte) (uint32, int64, error) {
	offset, err := context.OutputBuffer.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("seeking to end of output buffer: %w", err)
	}
	if _, err := context.OutputBuffer.Write(data); err != nil {
		return 0, 0, fmt.Errorf("writing object: %w", err)
	}

	id := context.nextObjectID()
	context.newXrefEntries = append(context.newXrefEntries, xrefEntry{ID: id, Offset: offset})
	context.lastXrefID = id
	return id, offset, nil
}

// addObject wraps body - a dictionary or stream body, with no envelope of
// its own - into a fresh indirect object and appends it.
func (context *SignContext) addObject(body []byte) (uint32, error) {
	id := context.nextObjectID()
	full := append([]byte(fmt.Sprintf("%d 0 obj\n", id)), body...)
	full = append(full, []byte("\nendobj\n")...)
	gotID, _, err := context.addRawObject(full)
	return gotID, err
}

// updateObject rewrites an existing object (by ID) at the end of
// OutputBuffer - the only way an incremental update may change an object's
// contents - and records it as an updated xref entry.
func (context *SignContext) updateObject(id uint32, body []byte) error {
	offset, err := context.OutputBuffer.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seeking to end of output buffer: %w", err)
	}
	full := append([]byte(fmt.Sprintf("%d 0 obj\n", id)), body...)
	full = append(full, []byte("\nendobj\n")...)
	if _, err := context.OutputBuffer.Write(full); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}

	context.updatedXrefEntries = append(context.updatedXrefEntries, xrefEntry{ID: id, Offset: offset})
	return nil
}

// lastObjectOffset returns the offset recorded for the most recently added
// (not updated) object - used by writeXref to find where the xref stream
// object itself, once written, begins for startxref to point to.
func (context *SignContext) lastObjectOffset() int64 {
	if len(context.newXrefEntries) == 0 {
		return 0
	}
	return context.newXrefEntries[len(context.newXrefEntries)-1].Offset
}
