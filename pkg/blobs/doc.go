// Package blobs is a client for a key-value blob storage service.
//
// Requests reach the service in one of three ways, chosen per request by
// the Client: directly through a caching edge endpoint, through an uncached
// edge endpoint when strong consistency is requested, or through the API,
// which hands out short-lived signed URLs for reads and writes. Transient
// failures (network errors, 429 and 5xx responses) are retried a bounded
// number of times, honouring the service's rate limit reset header.
//
// A Store addresses one namespace. Stores are obtained from a Client, or
// from the host platform's environment context with GetStore and
// GetDeployStore:
//
//	store, err := blobs.GetStore("uploads", nil)
//	if err != nil {
//		return err
//	}
//	if err := store.SetJSON(ctx, "hello", map[string]string{"message": "world"}, nil); err != nil {
//		return err
//	}
//	value, err := store.Get(ctx, "hello", &blobs.GetOptions{Type: blobs.TypeJSON})
//
// Reads of missing blobs return nil without an error. Any other unexpected
// status is reported as an *InternalError.
package blobs
