package blobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/edgeblobs/blobs_sdk_go/internal/blobsapi"
	"github.com/edgeblobs/blobs_sdk_go/internal/httpx"
)

const (
	deployStorePrefix = "deploy:"
	legacyStorePrefix = "netlify-internal/legacy-namespace/"
	siteStorePrefix   = "site:"
)

// Store is a namespace of blobs. It is immutable and safe for concurrent use.
type Store struct {
	client *Client
	name   string
}

// Name returns the namespace the store addresses, including its scope prefix.
func (s *Store) Name() string {
	return s.name
}

// Get reads the blob stored under key and decodes it according to
// opts.Type. A missing blob yields (nil, nil).
func (s *Store) Get(ctx context.Context, key string, opts *GetOptions) (any, error) {
	var o GetOptions
	if opts != nil {
		o = *opts
	}
	if err := checkResponseType(o.Type); err != nil {
		return nil, err
	}

	resp, err := s.read(ctx, key, o.Consistency, nil)
	if err != nil || resp == nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		httpx.CloseBody(resp)
		return nil, &InternalError{StatusCode: resp.StatusCode}
	}
	return decodeBody(resp, o.Type)
}

// GetJSON reads the blob stored under key and unmarshals it into a T. A
// missing blob yields (nil, nil).
func GetJSON[T any](ctx context.Context, s *Store, key string, opts *GetOptions) (*T, error) {
	var o GetOptions
	if opts != nil {
		o = *opts
	}
	resp, err := s.read(ctx, key, o.Consistency, nil)
	if err != nil || resp == nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		httpx.CloseBody(resp)
		return nil, &InternalError{StatusCode: resp.StatusCode}
	}
	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("blobs: read body: %w", err)
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("blobs: decode JSON body: %w", err)
	}
	return &value, nil
}

// GetMetadata returns the ETag and metadata of the blob under key without
// reading its body. A missing blob yields (nil, nil).
func (s *Store) GetMetadata(ctx context.Context, key string, opts *GetMetadataOptions) (*BlobMetadata, error) {
	var o GetMetadataOptions
	if opts != nil {
		o = *opts
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	resp, err := s.client.makeRequest(ctx, requestSpec{
		consistency: o.Consistency,
		key:         key,
		method:      http.MethodHead,
		storeName:   s.name,
	})
	if err != nil {
		return nil, err
	}
	httpx.CloseBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotModified {
		return nil, &InternalError{StatusCode: resp.StatusCode}
	}
	metadata, err := metadataFromResponse(resp)
	if err != nil {
		return nil, err
	}
	return &BlobMetadata{ETag: resp.Header.Get("ETag"), Metadata: metadata}, nil
}

// GetWithMetadata reads the blob under key along with its ETag and
// metadata. When opts.ETag is set the read is conditional: if the blob is
// unchanged the result has NotModified set and no Data. A missing blob
// yields (nil, nil).
func (s *Store) GetWithMetadata(ctx context.Context, key string, opts *GetWithMetadataOptions) (*BlobWithMetadata, error) {
	var o GetWithMetadataOptions
	if opts != nil {
		o = *opts
	}
	if err := checkResponseType(o.Type); err != nil {
		return nil, err
	}

	var header http.Header
	if o.ETag != "" {
		header = http.Header{"If-None-Match": []string{o.ETag}}
	}
	resp, err := s.read(ctx, key, o.Consistency, header)
	if err != nil || resp == nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotModified {
		httpx.CloseBody(resp)
		return nil, &InternalError{StatusCode: resp.StatusCode}
	}

	metadata, err := metadataFromResponse(resp)
	if err != nil {
		httpx.CloseBody(resp)
		return nil, err
	}
	result := &BlobWithMetadata{ETag: resp.Header.Get("ETag"), Metadata: metadata}

	// A 304 never carries a body, whether or not an ETag was supplied.
	if resp.StatusCode == http.StatusNotModified {
		httpx.CloseBody(resp)
		result.NotModified = true
		return result, nil
	}

	data, err := decodeBody(resp, o.Type)
	if err != nil {
		return nil, err
	}
	result.Data = data
	return result, nil
}

// Set writes data under key.
func (s *Store) Set(ctx context.Context, key string, data []byte, opts *SetOptions) error {
	return s.put(ctx, key, bytes.NewReader(data), false, nil, opts)
}

// SetStream writes the contents of r under key. The body is streamed and
// cannot be replayed, so transient failures are not retried.
func (s *Store) SetStream(ctx context.Context, key string, r io.Reader, opts *SetOptions) error {
	return s.put(ctx, key, r, true, nil, opts)
}

// SetJSON serializes value as JSON and writes it under key.
func (s *Store) SetJSON(ctx context.Context, key string, value any, opts *SetOptions) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	payload, err := blobsapi.Encode(value)
	if err != nil {
		return fmt.Errorf("blobs: encode value: %w", err)
	}
	header := http.Header{"Content-Type": []string{"application/json"}}
	return s.put(ctx, key, bytes.NewReader(payload), false, header, opts)
}

// Delete removes the blob under key. Deleting a missing blob succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	resp, err := s.client.makeRequest(ctx, requestSpec{
		key:       key,
		method:    http.MethodDelete,
		storeName: s.name,
	})
	if err != nil {
		return err
	}
	httpx.CloseBody(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return &InternalError{StatusCode: resp.StatusCode}
	}
}

func (s *Store) put(ctx context.Context, key string, body io.Reader, stream bool, header http.Header, opts *SetOptions) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	var o SetOptions
	if opts != nil {
		o = *opts
	}

	resp, err := s.client.makeRequest(ctx, requestSpec{
		body:      body,
		stream:    stream,
		header:    header,
		key:       key,
		metadata:  o.Metadata,
		method:    http.MethodPut,
		storeName: s.name,
	})
	if err != nil {
		return err
	}
	httpx.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		return &InternalError{StatusCode: resp.StatusCode}
	}
	return nil
}

// read issues a GET for key. A 404 is consumed and reported as a nil response.
func (s *Store) read(ctx context.Context, key string, consistency Consistency, header http.Header) (*http.Response, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	resp, err := s.client.makeRequest(ctx, requestSpec{
		consistency: consistency,
		header:      header,
		key:         key,
		method:      http.MethodGet,
		storeName:   s.name,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		httpx.CloseBody(resp)
		return nil, nil
	}
	return resp, nil
}

func checkResponseType(t ResponseType) error {
	if _, ok := responseTypeNames[t]; !ok {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("invalid 'type' property: %s. Expected: arrayBuffer, blob, json, stream, or text", t)}
	}
	return nil
}

// decodeBody is the single dispatch point for response types. It takes
// ownership of resp.Body, handing it to the caller only for TypeStream.
func decodeBody(resp *http.Response, t ResponseType) (any, error) {
	if t == TypeStream {
		return resp.Body, nil
	}

	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("blobs: read body: %w", err)
	}

	switch t {
	case TypeText:
		return string(data), nil
	case TypeArrayBuffer:
		return data, nil
	case TypeBlob:
		return &Blob{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
	case TypeJSON:
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("blobs: decode JSON body: %w", err)
		}
		return value, nil
	default:
		return nil, checkResponseType(t)
	}
}
