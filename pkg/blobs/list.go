package blobs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/edgeblobs/blobs_sdk_go/internal/blobsapi"
	"github.com/edgeblobs/blobs_sdk_go/internal/httpx"
)

// pager drives a cursor-paginated listing. It is forward-only, finite and
// single-use; it must not be advanced from more than one goroutine.
type pager[T any] struct {
	fetch  func(ctx context.Context, cursor string) (T, string, error)
	cursor string
	done   bool
	page   T
	err    error
}

func (p *pager[T]) next(ctx context.Context) bool {
	if p.done {
		return false
	}
	page, next, err := p.fetch(ctx, p.cursor)
	if err != nil {
		p.err = err
		p.done = true
		var zero T
		p.page = zero
		return false
	}
	p.page = page
	if next == "" {
		p.done = true
	} else {
		p.cursor = next
	}
	return true
}

// ListIterator yields the pages of a blob listing.
//
//	it := store.ListPages(nil)
//	for it.Next(ctx) {
//		page := it.Page()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type ListIterator struct {
	p pager[*ListResult]
}

// Next fetches the next page. It returns false once the listing is
// exhausted or a request failed.
func (it *ListIterator) Next(ctx context.Context) bool {
	return it.p.next(ctx)
}

// Page returns the page fetched by the last successful call to Next.
func (it *ListIterator) Page() *ListResult {
	return it.p.page
}

// Err returns the error that stopped the iteration, if any.
func (it *ListIterator) Err() error {
	return it.p.err
}

// ListPages returns an iterator over the pages of the store's blobs.
func (s *Store) ListPages(opts *ListOptions) *ListIterator {
	params := url.Values{}
	if opts != nil {
		if opts.Prefix != "" {
			params.Set("prefix", opts.Prefix)
		}
		if opts.Directories {
			params.Set("directories", "true")
		}
	}

	return &ListIterator{p: pager[*ListResult]{
		fetch: func(ctx context.Context, cursor string) (*ListResult, string, error) {
			body, err := s.client.fetchPage(ctx, s.name, params, cursor)
			if err != nil {
				return nil, "", err
			}
			page, err := blobsapi.DecodeBlobsPage(body)
			if err != nil {
				return nil, "", err
			}
			return formatBlobsPage(page), page.Cursor(), nil
		},
	}}
}

// List returns every blob and directory in the store, following cursors
// until the last page.
func (s *Store) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	result := &ListResult{Blobs: []ListBlob{}, Directories: []string{}}
	it := s.ListPages(opts)
	for it.Next(ctx) {
		page := it.Page()
		result.Blobs = append(result.Blobs, page.Blobs...)
		result.Directories = append(result.Directories, page.Directories...)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func formatBlobsPage(page *blobsapi.BlobsPage) *ListResult {
	result := &ListResult{
		Blobs:       make([]ListBlob, 0, len(page.Blobs)),
		Directories: page.Directories,
	}
	for _, b := range page.Blobs {
		if b.Key == "" {
			continue
		}
		result.Blobs = append(result.Blobs, ListBlob{ETag: b.ETag, Key: b.Key})
	}
	if result.Directories == nil {
		result.Directories = []string{}
	}
	return result
}

// fetchPage requests one listing page for storeName, or the store listing
// when storeName is empty.
func (c *Client) fetchPage(ctx context.Context, storeName string, params url.Values, cursor string) ([]byte, error) {
	pageParams := url.Values{}
	for k, v := range params {
		pageParams[k] = append([]string(nil), v...)
	}
	if cursor != "" {
		pageParams.Set("cursor", cursor)
	}

	resp, err := c.makeRequest(ctx, requestSpec{
		method:     http.MethodGet,
		parameters: pageParams,
		storeName:  storeName,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		httpx.CloseBody(resp)
		return nil, &InternalError{StatusCode: resp.StatusCode}
	}
	body, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("blobs: read list page: %w", err)
	}
	return body, nil
}
