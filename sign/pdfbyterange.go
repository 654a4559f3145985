package sign

import (
	"fmt"
	"strings"
)

// updateByteRange fills in the /ByteRange placeholder left in the signature
// field once the document's final size (after xref/trailer) is known: byte
// 0 up to the /Contents hex string, and everything after it to EOF.
func (context *SignContext) updateByteRange() error {
	size, err := context.OutputBuffer.Seek(0, 2)
	if err != nil {
		return fmt.Errorf("seeking to end of output buffer: %w", err)
	}
	// Don't count the trailing newline added after %%EOF as file length.
	fileSize := size - 1

	context.ByteRangeValues = make([]int64, 4)
	context.ByteRangeValues[0] = 0
	// SignatureContentsStartByte is the first hex digit; the excluded span
	// also covers the enclosing '<' and '>'.
	context.ByteRangeValues[1] = context.SignatureContentsStartByte - 1
	context.ByteRangeValues[2] = context.ByteRangeValues[1] + int64(context.SignatureMaxLength) + 2
	context.ByteRangeValues[3] = fileSize - context.ByteRangeValues[2]

	newByteRange := fmt.Sprintf("/ByteRange[%d %d %d %d]",
		context.ByteRangeValues[0], context.ByteRangeValues[1], context.ByteRangeValues[2], context.ByteRangeValues[3])
	if pad := len(signatureByteRangePlaceholder) - len(newByteRange); pad > 0 {
		newByteRange += strings.Repeat(" ", pad)
	}

	if _, err := context.OutputBuffer.Seek(context.ByteRangeStartByte, 0); err != nil {
		return fmt.Errorf("seeking to ByteRange placeholder: %w", err)
	}
	if _, err := context.OutputBuffer.Write([]byte(newByteRange)); err != nil {
		return fmt.Errorf("writing ByteRange: %w", err)
	}

	return nil
}
