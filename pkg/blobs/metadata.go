package blobs

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/edgeblobs/blobs_sdk_go/internal/blobsapi"
)

const (
	base64Prefix = "b64;"

	// MetadataHeaderInternal carries metadata on edge and signed URL requests.
	MetadataHeaderInternal = "x-amz-meta-user"
	// MetadataHeaderExternal carries metadata on requests proxied by the API.
	MetadataHeaderExternal = "netlify-blobs-metadata"

	metadataMaxSize = 2 * 1024
)

// Metadata is a JSON object attached to a blob.
type Metadata map[string]any

// EncodeMetadata serializes m into a header value. A nil map encodes to "".
// Values that would not fit in the header budget are rejected, never truncated.
func EncodeMetadata(m Metadata) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := blobsapi.Encode(m)
	if err != nil {
		return "", &ValidationError{Field: "metadata", Reason: "metadata must be JSON serializable", Err: err}
	}
	payload := base64Prefix + base64.StdEncoding.EncodeToString(data)
	if len(MetadataHeaderExternal)+len(payload) > metadataMaxSize {
		return "", &ValidationError{Field: "metadata", Reason: ErrMetadataTooLarge.Error(), Err: ErrMetadataTooLarge}
	}
	return payload, nil
}

// DecodeMetadata parses a header value produced by EncodeMetadata. Values
// without the encoding prefix decode to an empty object. The payload may be
// padded or unpadded base64 but must hold a JSON object.
func DecodeMetadata(header string) (Metadata, error) {
	if !strings.HasPrefix(header, base64Prefix) {
		return Metadata{}, nil
	}
	payload := header[len(base64Prefix):]
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		var rawErr error
		if data, rawErr = base64.RawStdEncoding.DecodeString(payload); rawErr != nil {
			return nil, &DecodeError{Err: err}
		}
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if m == nil {
		m = Metadata{}
	}
	return m, nil
}

func metadataFromResponse(resp *http.Response) (Metadata, error) {
	if resp == nil || resp.Header == nil {
		return Metadata{}, nil
	}
	value := resp.Header.Get(MetadataHeaderInternal)
	if value == "" {
		value = resp.Header.Get(MetadataHeaderExternal)
	}
	return DecodeMetadata(value)
}
