package blobs

import (
	"context"
	"net/url"
	"strings"

	"github.com/edgeblobs/blobs_sdk_go/internal/blobsapi"
)

// StoreIterator yields the pages of a store listing.
type StoreIterator struct {
	p pager[*ListStoresResult]
}

// Next fetches the next page. It returns false once the listing is
// exhausted or a request failed.
func (it *StoreIterator) Next(ctx context.Context) bool {
	return it.p.next(ctx)
}

// Page returns the page fetched by the last successful call to Next.
func (it *StoreIterator) Page() *ListStoresResult {
	return it.p.page
}

// Err returns the error that stopped the iteration, if any.
func (it *StoreIterator) Err() error {
	return it.p.err
}

// ListStorePages returns an iterator over the site's stores. Deploy-scoped
// stores are left out and the site scope prefix is removed from names.
func (c *Client) ListStorePages() *StoreIterator {
	params := url.Values{"prefix": []string{siteStorePrefix}}
	return &StoreIterator{p: pager[*ListStoresResult]{
		fetch: func(ctx context.Context, cursor string) (*ListStoresResult, string, error) {
			body, err := c.fetchPage(ctx, "", params, cursor)
			if err != nil {
				return nil, "", err
			}
			page, err := blobsapi.DecodeStoresPage(body)
			if err != nil {
				return nil, "", err
			}
			return &ListStoresResult{Stores: formatStoreNames(page.Stores)}, page.Cursor(), nil
		},
	}}
}

// ListStores returns every store of the site, following cursors until the
// last page.
func (c *Client) ListStores(ctx context.Context) (*ListStoresResult, error) {
	result := &ListStoresResult{Stores: []string{}}
	it := c.ListStorePages()
	for it.Next(ctx) {
		result.Stores = append(result.Stores, it.Page().Stores...)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func formatStoreNames(stores []string) []string {
	out := make([]string, 0, len(stores))
	for _, name := range stores {
		if strings.HasPrefix(name, deployStorePrefix) {
			continue
		}
		out = append(out, strings.TrimPrefix(name, siteStorePrefix))
	}
	return out
}
