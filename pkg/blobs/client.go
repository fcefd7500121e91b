package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgeblobs/blobs_sdk_go/internal/blobsapi"
	"github.com/edgeblobs/blobs_sdk_go/internal/httpx"
)

// DefaultAPIURL is used when neither an edge URL nor an API URL is configured.
const DefaultAPIURL = "https://api.netlify.com"

const putCacheControl = "max-age=0, stale-while-revalidate=60"

// Doer performs a single HTTP exchange. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes how to reach the blobs service. When EdgeURL is set,
// requests go straight to the edge; otherwise they go through the API at
// APIURL, which hands out signed URLs for reads and writes.
type Config struct {
	APIURL          string
	EdgeURL         string
	UncachedEdgeURL string
	SiteID          string
	Token           string

	// Consistency is the default for reads that do not set their own.
	Consistency Consistency
	// HTTPClient performs the exchanges. Defaults to a plain *http.Client.
	HTTPClient Doer
	// Logger receives retry diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// RetryDelay overrides the wait between retries of failed exchanges.
	RetryDelay time.Duration
}

// Client routes store operations to the edge or the API. It is immutable
// and safe for concurrent use.
type Client struct {
	apiURL          *url.URL
	edgeURL         *url.URL
	uncachedEdgeURL *url.URL
	siteID          string
	token           string
	consistency     Consistency
	transport       *httpx.Client
}

// NewClient validates cfg and builds a Client from it.
func NewClient(cfg Config) (*Client, error) {
	var missing []string
	if cfg.SiteID == "" {
		missing = append(missing, "siteID")
	}
	if cfg.Token == "" {
		missing = append(missing, "token")
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}

	consistency := cfg.Consistency
	if consistency == "" {
		consistency = ConsistencyEventual
	}
	if err := validateConsistency(consistency); err != nil {
		return nil, err
	}

	c := &Client{
		siteID:      cfg.SiteID,
		token:       cfg.Token,
		consistency: consistency,
	}

	var err error
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if c.apiURL, err = parseBaseURL("apiURL", apiURL); err != nil {
		return nil, err
	}
	if c.edgeURL, err = parseBaseURL("edgeURL", cfg.EdgeURL); err != nil {
		return nil, err
	}
	if c.uncachedEdgeURL, err = parseBaseURL("uncachedEdgeURL", cfg.UncachedEdgeURL); err != nil {
		return nil, err
	}

	policy := httpx.DefaultRetryPolicy
	if cfg.RetryDelay > 0 {
		policy.RetryDelay = cfg.RetryDelay
	}
	opts := []httpx.Option{
		httpx.WithRetryPolicy(policy),
		httpx.WithLogger(cfg.Logger),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, httpx.WithDoer(cfg.HTTPClient))
	}
	c.transport = httpx.NewClient(opts...)
	return c, nil
}

// Store returns the site-scoped store with the given name. Names carrying
// the legacy namespace prefix address the raw namespace instead.
func (c *Client) Store(name string) (*Store, error) {
	if name == "" {
		return nil, &ConfigurationError{Missing: []string{"name"}}
	}
	if strings.HasPrefix(name, legacyStorePrefix) {
		raw := strings.TrimPrefix(name, legacyStorePrefix)
		if raw == "" {
			return nil, &ConfigurationError{Missing: []string{"name"}}
		}
		if err := ValidateStoreName(raw); err != nil {
			return nil, err
		}
		return &Store{client: c, name: raw}, nil
	}
	if err := ValidateStoreName(name); err != nil {
		return nil, err
	}
	return &Store{client: c, name: siteStorePrefix + name}, nil
}

// DeployStore returns the store scoped to a single deploy.
func (c *Client) DeployStore(deployID string) (*Store, error) {
	if deployID == "" {
		return nil, &ConfigurationError{Missing: []string{"deployID"}}
	}
	if err := ValidateDeployID(deployID); err != nil {
		return nil, err
	}
	return &Store{client: c, name: deployStorePrefix + deployID}, nil
}

type requestSpec struct {
	body        io.Reader
	stream      bool
	consistency Consistency
	header      http.Header
	key         string
	metadata    Metadata
	method      string
	parameters  url.Values
	storeName   string
}

type finalRequest struct {
	url    string
	header http.Header
}

// buildRequest decides where a request goes and which headers it carries.
// In API mode, GET and PUT on a key first obtain a signed URL.
func (c *Client) buildRequest(ctx context.Context, op requestSpec) (*finalRequest, error) {
	encodedMetadata, err := EncodeMetadata(op.metadata)
	if err != nil {
		return nil, err
	}

	consistency := op.consistency
	if consistency == "" {
		consistency = c.consistency
	}
	if err := validateConsistency(consistency); err != nil {
		return nil, err
	}

	urlPath := "/" + c.siteID
	if op.storeName != "" {
		urlPath += "/" + op.storeName
	}
	if op.key != "" {
		urlPath += "/" + op.key
	}

	if c.edgeURL != nil {
		base := c.edgeURL
		if consistency == ConsistencyStrong {
			if c.uncachedEdgeURL == nil {
				return nil, ErrConsistency
			}
			base = c.uncachedEdgeURL
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.token)
		if encodedMetadata != "" {
			header.Set(MetadataHeaderInternal, encodedMetadata)
		}
		return &finalRequest{url: resolveURL(base, urlPath, op.parameters), header: header}, nil
	}

	apiHeader := http.Header{}
	apiHeader.Set("Authorization", "Bearer "+c.token)
	apiURL := resolveURL(c.apiURL, "/api/v1/blobs"+urlPath, op.parameters)

	if op.storeName == "" || op.key == "" {
		return &finalRequest{url: apiURL, header: apiHeader}, nil
	}

	if encodedMetadata != "" {
		apiHeader.Set(MetadataHeaderExternal, encodedMetadata)
	}
	if op.method == http.MethodHead || op.method == http.MethodDelete {
		return &finalRequest{url: apiURL, header: apiHeader}, nil
	}

	signedHeader := apiHeader.Clone()
	signedHeader.Set("Accept", blobsapi.SignedURLAccept)
	res, err := c.do(ctx, &httpx.Request{Method: op.method, URL: apiURL, Header: signedHeader})
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		httpx.CloseBody(res)
		return nil, &InternalError{StatusCode: res.StatusCode}
	}
	body, err := httpx.ReadAllAndClose(res.Body)
	if err != nil {
		return nil, fmt.Errorf("blobs: read signed URL response: %w", err)
	}
	signedURL, err := blobsapi.DecodeSignedURL(body)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if encodedMetadata != "" {
		header.Set(MetadataHeaderInternal, encodedMetadata)
	}
	return &finalRequest{url: signedURL, header: header}, nil
}

func (c *Client) makeRequest(ctx context.Context, op requestSpec) (*http.Response, error) {
	final, err := c.buildRequest(ctx, op)
	if err != nil {
		return nil, err
	}

	header := final.header
	if header == nil {
		header = http.Header{}
	}
	for k, values := range op.header {
		header.Del(k)
		for _, v := range values {
			header.Add(k, v)
		}
	}
	if op.method == http.MethodPut {
		header.Set("Cache-Control", putCacheControl)
	}

	return c.do(ctx, &httpx.Request{
		Method: op.method,
		URL:    final.url,
		Header: header,
		Body:   op.body,
		Stream: op.stream,
	})
}

func (c *Client) do(ctx context.Context, req *httpx.Request) (*http.Response, error) {
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		var attemptsErr *httpx.AttemptsError
		if errors.As(err, &attemptsErr) {
			return nil, &TransportError{Attempts: attemptsErr.Attempts, Err: attemptsErr.Err}
		}
		return nil, err
	}
	return resp, nil
}

// resolveURL places path on base. Escapes already present in path are sent
// as written, so a key holding "%2F" reaches the server unchanged.
func resolveURL(base *url.URL, path string, params url.Values) string {
	u := *base
	u.RawPath = escapePath(path)
	if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = unescaped
	} else {
		u.Path = path
		u.RawPath = ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// escapePath percent-encodes path byte by byte, leaving slashes and
// well-formed %XX sequences alone. A stray '%' becomes "%25".
func escapePath(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		switch {
		case path[i] == '/':
			b.WriteByte('/')
		case path[i] == '%' && i+2 < len(path) && isHex(path[i+1]) && isHex(path[i+2]):
			b.WriteString(path[i : i+3])
			i += 2
		default:
			b.WriteString(url.PathEscape(path[i : i+1]))
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func parseBaseURL(field, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationError{Field: field, Reason: err.Error(), Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not an absolute URL", raw)}
	}
	return u, nil
}

func validateConsistency(c Consistency) error {
	switch c {
	case ConsistencyEventual, ConsistencyStrong:
		return nil
	default:
		return &ValidationError{Field: "consistency", Reason: fmt.Sprintf("unknown consistency mode %q", c)}
	}
}
