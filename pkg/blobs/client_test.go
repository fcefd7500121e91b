package blobs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSiteID = "site-123"
	testToken  = "secret-token"
)

type recordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

// recorder is a Doer that records every exchange and answers from a queue of
// canned responses, falling back to an empty 200.
type recorder struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses []*http.Response
	err       error
}

func (r *recorder) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, recordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	if r.err != nil {
		return nil, r.err
	}
	if len(r.responses) == 0 {
		return response(http.StatusOK, "", nil), nil
	}
	resp := r.responses[0]
	r.responses = r.responses[1:]
	return resp, nil
}

func (r *recorder) queue(resps ...*http.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resps...)
}

func response(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func signedURLResponse(u string) *http.Response {
	return response(http.StatusOK, `{"url":"`+u+`"}`, http.Header{"Content-Type": {"application/json"}})
}

func newRecordingClient(t *testing.T, cfg Config) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	if cfg.SiteID == "" {
		cfg.SiteID = testSiteID
	}
	if cfg.Token == "" {
		cfg.Token = testToken
	}
	cfg.HTTPClient = rec
	cfg.RetryDelay = time.Millisecond
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client, rec
}

func TestNewClientReportsMissingSettings(t *testing.T) {
	_, err := NewClient(Config{})
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"siteID", "token"}, cerr.Missing)

	_, err = NewClient(Config{SiteID: testSiteID})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"token"}, cerr.Missing)
}

func TestNewClientRejectsBadSettings(t *testing.T) {
	var verr *ValidationError

	_, err := NewClient(Config{SiteID: testSiteID, Token: testToken, EdgeURL: "edge.local"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "edgeURL", verr.Field)

	_, err = NewClient(Config{SiteID: testSiteID, Token: testToken, Consistency: "sometimes"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "consistency", verr.Field)
}

func TestStoreNames(t *testing.T) {
	client, _ := newRecordingClient(t, Config{EdgeURL: "https://edge.local"})

	s, err := client.Store("images")
	require.NoError(t, err)
	assert.Equal(t, "site:images", s.Name())

	s, err = client.Store("netlify-internal/legacy-namespace/old")
	require.NoError(t, err)
	assert.Equal(t, "old", s.Name())

	_, err = client.Store("netlify-internal/legacy-namespace/a/b")
	assert.Error(t, err)

	_, err = client.Store("")
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)

	_, err = client.Store("netlify-internal/legacy-namespace/")
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"name"}, cerr.Missing)

	s, err = client.DeployStore("6527dfab35be400008332a1d")
	require.NoError(t, err)
	assert.Equal(t, "deploy:6527dfab35be400008332a1d", s.Name())

	_, err = client.DeployStore("not a deploy")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestEdgeReadGoesStraightToEdge(t *testing.T) {
	client, rec := newRecordingClient(t, Config{EdgeURL: "https://edge.local", UncachedEdgeURL: "https://uncached.local"})
	rec.queue(response(http.StatusOK, "hello", nil))
	s, err := client.Store("images")
	require.NoError(t, err)

	value, err := s.Get(context.Background(), "dir/key", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "https://edge.local/site-123/site:images/dir/key", req.URL)
	assert.Equal(t, "Bearer "+testToken, req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("Accept"))
}

func TestKeyEscapesAreSentAsWritten(t *testing.T) {
	client, rec := newRecordingClient(t, Config{EdgeURL: "https://edge.local"})
	s, err := client.Store("images")
	require.NoError(t, err)

	for key, want := range map[string]string{
		"a%2Fb c":  "https://edge.local/site-123/site:images/a%2Fb%20c",
		"100%":     "https://edge.local/site-123/site:images/100%25",
		"dir/é?#x": "https://edge.local/site-123/site:images/dir/%C3%A9%3F%23x",
	} {
		rec.queue(response(http.StatusOK, "v", nil))
		_, err := s.Get(context.Background(), key, nil)
		require.NoError(t, err, key)
		assert.Equal(t, want, rec.requests[len(rec.requests)-1].URL, key)
	}
}

func TestEdgeStrongReadUsesUncachedURL(t *testing.T) {
	client, rec := newRecordingClient(t, Config{
		EdgeURL:         "https://edge.local",
		UncachedEdgeURL: "https://uncached.local",
		Consistency:     ConsistencyStrong,
	})
	s, err := client.Store("images")
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "k", nil)
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "k", &GetOptions{Consistency: ConsistencyEventual})
	require.NoError(t, err)

	require.Len(t, rec.requests, 2)
	assert.Equal(t, "https://uncached.local/site-123/site:images/k", rec.requests[0].URL)
	assert.Equal(t, "https://edge.local/site-123/site:images/k", rec.requests[1].URL)
}

func TestStrongReadWithoutUncachedURLFailsBeforeNetwork(t *testing.T) {
	client, rec := newRecordingClient(t, Config{EdgeURL: "https://edge.local"})
	s, err := client.Store("images")
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "k", &GetOptions{Consistency: ConsistencyStrong})
	require.ErrorIs(t, err, ErrConsistency)
	_, err = s.GetMetadata(context.Background(), "k", &GetMetadataOptions{Consistency: ConsistencyStrong})
	require.ErrorIs(t, err, ErrConsistency)
	assert.Empty(t, rec.requests)
}

func TestEdgeWriteCarriesMetadataAndCacheControl(t *testing.T) {
	client, rec := newRecordingClient(t, Config{EdgeURL: "https://edge.local"})
	s, err := client.Store("images")
	require.NoError(t, err)

	err = s.Set(context.Background(), "k", []byte("payload"), &SetOptions{Metadata: Metadata{"a": "b"}})
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "payload", req.Body)
	assert.Equal(t, "max-age=0, stale-while-revalidate=60", req.Header.Get("Cache-Control"))
	wantMeta, _ := EncodeMetadata(Metadata{"a": "b"})
	assert.Equal(t, wantMeta, req.Header.Get(MetadataHeaderInternal))
	assert.Empty(t, req.Header.Get(MetadataHeaderExternal))
}

func TestAPIReadExchangesSignedURL(t *testing.T) {
	client, rec := newRecordingClient(t, Config{APIURL: "https://api.local"})
	rec.queue(
		signedURLResponse("https://signed.local/object?sig=1"),
		response(http.StatusOK, "from-signed", nil),
	)
	s, err := client.Store("images")
	require.NoError(t, err)

	value, err := s.Get(context.Background(), "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-signed", value)

	require.Len(t, rec.requests, 2)
	first, second := rec.requests[0], rec.requests[1]
	assert.Equal(t, http.MethodGet, first.Method)
	assert.Equal(t, "https://api.local/api/v1/blobs/site-123/site:images/k", first.URL)
	assert.Equal(t, "application/json;type=signed-url", first.Header.Get("Accept"))
	assert.Equal(t, "Bearer "+testToken, first.Header.Get("Authorization"))

	assert.Equal(t, http.MethodGet, second.Method)
	assert.Equal(t, "https://signed.local/object?sig=1", second.URL)
	assert.Empty(t, second.Header.Get("Authorization"))
}

func TestAPIWriteSendsMetadataOnBothLegs(t *testing.T) {
	client, rec := newRecordingClient(t, Config{})
	rec.queue(signedURLResponse("https://signed.local/put"))
	s, err := client.Store("images")
	require.NoError(t, err)

	meta := Metadata{"owner": "me"}
	require.NoError(t, s.Set(context.Background(), "k", []byte("v"), &SetOptions{Metadata: meta}))
	encoded, _ := EncodeMetadata(meta)

	require.Len(t, rec.requests, 2)
	first, second := rec.requests[0], rec.requests[1]
	assert.Equal(t, http.MethodPut, first.Method)
	assert.True(t, strings.HasPrefix(first.URL, DefaultAPIURL+"/api/v1/blobs/"))
	assert.Equal(t, encoded, first.Header.Get(MetadataHeaderExternal))
	assert.Empty(t, first.Body)

	assert.Equal(t, http.MethodPut, second.Method)
	assert.Equal(t, "https://signed.local/put", second.URL)
	assert.Equal(t, encoded, second.Header.Get(MetadataHeaderInternal))
	assert.Equal(t, "v", second.Body)
}

func TestAPIHeadAndDeleteSkipSignedURL(t *testing.T) {
	client, rec := newRecordingClient(t, Config{APIURL: "https://api.local"})
	rec.queue(
		response(http.StatusOK, "", http.Header{"Etag": {`"abc"`}}),
		response(http.StatusNoContent, "", nil),
	)
	s, err := client.Store("images")
	require.NoError(t, err)

	meta, err := s.GetMetadata(context.Background(), "k", nil)
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, meta.ETag)
	assert.Equal(t, Metadata{}, meta.Metadata)
	require.NoError(t, s.Delete(context.Background(), "k"))

	require.Len(t, rec.requests, 2)
	assert.Equal(t, http.MethodHead, rec.requests[0].Method)
	assert.Equal(t, http.MethodDelete, rec.requests[1].Method)
	for _, req := range rec.requests {
		assert.Equal(t, "https://api.local/api/v1/blobs/site-123/site:images/k", req.URL)
		assert.Empty(t, req.Header.Get("Accept"))
	}
}

func TestAPISignedURLFailureIsInternalError(t *testing.T) {
	client, rec := newRecordingClient(t, Config{APIURL: "https://api.local"})
	rec.queue(response(http.StatusForbidden, "", nil))
	s, err := client.Store("images")
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "k", nil)
	var ierr *InternalError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, http.StatusForbidden, ierr.StatusCode)
	assert.Len(t, rec.requests, 1)
}

func TestListRequestsCarryParameters(t *testing.T) {
	client, rec := newRecordingClient(t, Config{APIURL: "https://api.local"})
	rec.queue(
		response(http.StatusOK, `{"blobs":[{"etag":"1","key":"a"}],"directories":[],"next_cursor":"c2"}`, nil),
		response(http.StatusOK, `{"blobs":[{"etag":"2","key":"b"}],"directories":["d"]}`, nil),
	)
	s, err := client.Store("images")
	require.NoError(t, err)

	result, err := s.List(context.Background(), &ListOptions{Prefix: "p/", Directories: true})
	require.NoError(t, err)
	assert.Equal(t, []ListBlob{{ETag: "1", Key: "a"}, {ETag: "2", Key: "b"}}, result.Blobs)
	assert.Equal(t, []string{"d"}, result.Directories)

	require.Len(t, rec.requests, 2)
	first, err := url.Parse(rec.requests[0].URL)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/blobs/site-123/site:images", first.Path)
	assert.Equal(t, "p/", first.Query().Get("prefix"))
	assert.Equal(t, "true", first.Query().Get("directories"))
	assert.Empty(t, first.Query().Get("cursor"))

	second, err := url.Parse(rec.requests[1].URL)
	require.NoError(t, err)
	assert.Equal(t, "c2", second.Query().Get("cursor"))
	assert.Equal(t, "p/", second.Query().Get("prefix"))
}

func TestTransportFailureSurfacesAttempts(t *testing.T) {
	client, rec := newRecordingClient(t, Config{EdgeURL: "https://edge.local"})
	rec.err = errors.New("dial tcp: connection refused")
	s, err := client.Store("images")
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "k", nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 6, terr.Attempts)
	assert.Len(t, rec.requests, 6)
}

func TestInvalidResponseTypeFailsBeforeNetwork(t *testing.T) {
	client, rec := newRecordingClient(t, Config{EdgeURL: "https://edge.local"})
	s, err := client.Store("images")
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "k", &GetOptions{Type: ResponseType(99)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)

	_, err = s.Get(context.Background(), "/bad", nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "key", verr.Field)
	assert.Empty(t, rec.requests)
}
