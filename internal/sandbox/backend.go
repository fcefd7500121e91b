package sandbox

import (
	"context"
	"errors"

	"github.com/opencontainers/go-digest"
)

// ErrNotFound is returned by backends when a blob does not exist.
var ErrNotFound = errors.New("sandbox: not found")

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
	// Metadata is the encoded metadata header value, stored verbatim.
	Metadata string
	ETag     string
}

// Entry is a listed blob.
type Entry struct {
	Key  string
	ETag string
}

// Backend persists blobs for the sandbox. Implementations must be safe for
// concurrent use. List and Stores return results in ascending byte order.
type Backend interface {
	Get(ctx context.Context, site, store, key string) (*Object, error)
	Put(ctx context.Context, site, store, key string, obj *Object) error
	Delete(ctx context.Context, site, store, key string) error
	List(ctx context.Context, site, store, prefix string) ([]Entry, error)
	Stores(ctx context.Context, site, prefix string) ([]string, error)
}

// ETagFor returns the quoted strong ETag of data.
func ETagFor(data []byte) string {
	return `"` + digest.SHA256.FromBytes(data).Encoded() + `"`
}
