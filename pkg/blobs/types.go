package blobs

import (
	"fmt"
	"io"
)

// Consistency selects whether reads may be served from the edge cache.
type Consistency string

const (
	// ConsistencyEventual allows cached edge reads.
	ConsistencyEventual Consistency = "eventual"
	// ConsistencyStrong forces reads through the uncached edge URL.
	ConsistencyStrong Consistency = "strong"
)

// ResponseType selects how a blob body is decoded by Get and GetWithMetadata.
type ResponseType int

const (
	// TypeText decodes the body as a string. It is the default.
	TypeText ResponseType = iota
	// TypeArrayBuffer returns the raw body as []byte.
	TypeArrayBuffer
	// TypeBlob returns a *Blob carrying the bytes and their content type.
	TypeBlob
	// TypeJSON decodes the body as JSON into an any.
	TypeJSON
	// TypeStream returns the live body as an io.ReadCloser the caller must close.
	TypeStream
)

var responseTypeNames = map[ResponseType]string{
	TypeText:        "text",
	TypeArrayBuffer: "arrayBuffer",
	TypeBlob:        "blob",
	TypeJSON:        "json",
	TypeStream:      "stream",
}

func (t ResponseType) String() string {
	if name, ok := responseTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ResponseType(%d)", int(t))
}

// ParseResponseType maps a type name ("text", "arrayBuffer", "blob", "json",
// "stream") to its ResponseType.
func ParseResponseType(name string) (ResponseType, error) {
	for t, n := range responseTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("invalid 'type' property: %s. Expected: arrayBuffer, blob, json, stream, or text", name)}
}

// Blob is a binary payload together with its declared content type.
type Blob struct {
	Data        []byte
	ContentType string
}

// GetOptions controls Get.
type GetOptions struct {
	Consistency Consistency
	Type        ResponseType
}

// GetMetadataOptions controls GetMetadata.
type GetMetadataOptions struct {
	Consistency Consistency
}

// GetWithMetadataOptions controls GetWithMetadata.
type GetWithMetadataOptions struct {
	Consistency Consistency
	// ETag, when set, makes the read conditional on the blob having changed.
	ETag string
	Type ResponseType
}

// SetOptions controls Set, SetStream and SetJSON.
type SetOptions struct {
	Metadata Metadata
}

// BlobMetadata is the result of GetMetadata.
type BlobMetadata struct {
	ETag     string
	Metadata Metadata
}

// BlobWithMetadata is the result of GetWithMetadata. Data holds the decoded
// body; it is nil when NotModified is set.
type BlobWithMetadata struct {
	Data        any
	ETag        string
	Metadata    Metadata
	NotModified bool
}

// Close releases the body of a TypeStream result.
func (r *BlobWithMetadata) Close() error {
	if r == nil {
		return nil
	}
	if rc, ok := r.Data.(io.ReadCloser); ok {
		return rc.Close()
	}
	return nil
}

// ListOptions controls Store.List and Store.ListPages.
type ListOptions struct {
	Prefix string
	// Directories folds keys sharing a path segment into directory entries.
	Directories bool
}

// ListBlob is one entry of a blob listing.
type ListBlob struct {
	ETag string
	Key  string
}

// ListResult holds blobs and directories from one or more list pages.
type ListResult struct {
	Blobs       []ListBlob
	Directories []string
}

// ListStoresResult holds store names from one or more list pages.
type ListStoresResult struct {
	Stores []string
}
