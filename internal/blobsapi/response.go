// Package blobsapi holds the JSON wire formats exchanged with the blobs
// service: signed URL responses and list pages.
package blobsapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SignedURLAccept is the Accept header value asking the API to answer with a
// signed URL instead of proxying the blob.
const SignedURLAccept = "application/json;type=signed-url"

// SignedURL is the body returned by the API for a signed URL request.
type SignedURL struct {
	URL string `json:"url"`
}

// BlobEntry is one blob in a list page.
type BlobEntry struct {
	ETag         string `json:"etag"`
	Key          string `json:"key"`
	LastModified string `json:"last_modified,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// BlobsPage is one page of a blob listing.
type BlobsPage struct {
	Blobs       []BlobEntry `json:"blobs"`
	Directories []string    `json:"directories"`
	NextCursor  *string     `json:"next_cursor"`
}

// StoresPage is one page of a store listing.
type StoresPage struct {
	Stores     []string `json:"stores"`
	NextCursor *string  `json:"next_cursor"`
}

// Cursor returns the next cursor, or "" when the page is the last one.
func (p *BlobsPage) Cursor() string {
	return cursorValue(p.NextCursor)
}

// Cursor returns the next cursor, or "" when the page is the last one.
func (p *StoresPage) Cursor() string {
	return cursorValue(p.NextCursor)
}

func cursorValue(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}

// DecodeSignedURL parses a signed URL response body.
func DecodeSignedURL(body []byte) (string, error) {
	var payload SignedURL
	if err := Decode(body, &payload); err != nil {
		return "", fmt.Errorf("blobsapi: decode signed URL: %w", err)
	}
	if payload.URL == "" {
		return "", errors.New("blobsapi: signed URL response has no url")
	}
	return payload.URL, nil
}

// DecodeBlobsPage parses a blob listing page.
func DecodeBlobsPage(body []byte) (*BlobsPage, error) {
	var page BlobsPage
	if err := Decode(body, &page); err != nil {
		return nil, fmt.Errorf("blobsapi: decode blobs page: %w", err)
	}
	return &page, nil
}

// DecodeStoresPage parses a store listing page.
func DecodeStoresPage(body []byte) (*StoresPage, error) {
	var page StoresPage
	if err := Decode(body, &page); err != nil {
		return nil, fmt.Errorf("blobsapi: decode stores page: %w", err)
	}
	return &page, nil
}

// Decode unmarshals body into out. An empty body decodes as JSON null.
func Decode(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		trimmed = []byte("null")
	}
	return json.Unmarshal(trimmed, out)
}

// Encode serializes v without HTML escaping and without a trailing newline.
func Encode(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
