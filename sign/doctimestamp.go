package sign

import (
	"fmt"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

// ExtractTimeStampToken validates a raw RFC 3161 TimeStampResp (as returned
// by a TSA collaborator) and returns the TimeStampToken DER it carries -
// exactly the bytes a DocTimeStamp field's /Contents holds, with no further
// CMS wrapping. Unlike an ordinary signature, a DocTimeStamp is the TSA's
// own SignedData, not one this module builds.
func ExtractTimeStampToken(resp []byte) ([]byte, error) {
	ts, err := timestamp.ParseResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("sign: parsing timestamp response: %w", err)
	}
	if _, err := pkcs7.Parse(ts.RawToken); err != nil {
		return nil, fmt.Errorf("sign: timestamp response token is not a valid CMS SignedData: %w", err)
	}
	return ts.RawToken, nil
}
