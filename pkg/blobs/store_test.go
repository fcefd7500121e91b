package blobs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeblobs/blobs_sdk_go/internal/sandbox"
)

type sandboxMode struct {
	name   string
	config func(baseURL string) Config
}

var sandboxModes = []sandboxMode{
	{name: "edge", config: func(baseURL string) Config {
		return Config{EdgeURL: baseURL, UncachedEdgeURL: baseURL}
	}},
	{name: "api", config: func(baseURL string) Config {
		return Config{APIURL: baseURL}
	}},
}

type sandboxEnv struct {
	server   *sandbox.Server
	client   *Client
	requests *atomic.Int32
}

func newSandboxEnv(t *testing.T, mode sandboxMode, opts sandbox.Options) *sandboxEnv {
	t.Helper()
	opts.Token = testToken
	srv := sandbox.New(opts)

	var requests atomic.Int32
	handler := srv.Handler()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := mode.config(ts.URL)
	cfg.SiteID = testSiteID
	cfg.Token = testToken
	cfg.RetryDelay = time.Millisecond
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return &sandboxEnv{server: srv, client: client, requests: &requests}
}

func (e *sandboxEnv) store(t *testing.T, name string) *Store {
	t.Helper()
	s, err := e.client.Store(name)
	require.NoError(t, err)
	return s
}

func forEachMode(t *testing.T, fn func(t *testing.T, mode sandboxMode)) {
	for _, mode := range sandboxModes {
		mode := mode
		t.Run(mode.name, func(t *testing.T) { fn(t, mode) })
	}
}

func TestStoreRoundTrip(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode sandboxMode) {
		ctx := context.Background()
		s := newSandboxEnv(t, mode, sandbox.Options{}).store(t, "images")

		value, err := s.Get(ctx, "dir/photo", nil)
		require.NoError(t, err)
		assert.Nil(t, value)

		meta := Metadata{"owner": "ana", "size": float64(2)}
		require.NoError(t, s.Set(ctx, "dir/photo", []byte("pixels"), &SetOptions{Metadata: meta}))

		value, err = s.Get(ctx, "dir/photo", nil)
		require.NoError(t, err)
		assert.Equal(t, "pixels", value)

		info, err := s.GetMetadata(ctx, "dir/photo", nil)
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, meta, info.Metadata)
		assert.NotEmpty(t, info.ETag)

		full, err := s.GetWithMetadata(ctx, "dir/photo", nil)
		require.NoError(t, err)
		require.NotNil(t, full)
		assert.Equal(t, "pixels", full.Data)
		assert.Equal(t, info.ETag, full.ETag)
		assert.Equal(t, meta, full.Metadata)
		assert.False(t, full.NotModified)

		require.NoError(t, s.Delete(ctx, "dir/photo"))
		require.NoError(t, s.Delete(ctx, "dir/photo"), "deleting a missing blob succeeds")

		value, err = s.Get(ctx, "dir/photo", nil)
		require.NoError(t, err)
		assert.Nil(t, value)
		info, err = s.GetMetadata(ctx, "dir/photo", nil)
		require.NoError(t, err)
		assert.Nil(t, info)
		full, err = s.GetWithMetadata(ctx, "dir/photo", nil)
		require.NoError(t, err)
		assert.Nil(t, full)
	})
}

func TestStoreResponseTypes(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode sandboxMode) {
		ctx := context.Background()
		s := newSandboxEnv(t, mode, sandbox.Options{}).store(t, "types")
		require.NoError(t, s.SetJSON(ctx, "doc", map[string]any{"name": "<b>", "n": 1}, nil))

		text, err := s.Get(ctx, "doc", &GetOptions{Type: TypeText})
		require.NoError(t, err)
		assert.Equal(t, `{"n":1,"name":"<b>"}`, text)

		raw, err := s.Get(ctx, "doc", &GetOptions{Type: TypeArrayBuffer})
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"n":1,"name":"<b>"}`), raw)

		blob, err := s.Get(ctx, "doc", &GetOptions{Type: TypeBlob})
		require.NoError(t, err)
		require.IsType(t, &Blob{}, blob)
		assert.Equal(t, "application/json", blob.(*Blob).ContentType)

		decoded, err := s.Get(ctx, "doc", &GetOptions{Type: TypeJSON})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "<b>", "n": float64(1)}, decoded)

		stream, err := s.Get(ctx, "doc", &GetOptions{Type: TypeStream})
		require.NoError(t, err)
		rc, ok := stream.(io.ReadCloser)
		require.True(t, ok)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, `{"n":1,"name":"<b>"}`, string(data))

		type doc struct {
			Name string `json:"name"`
			N    int    `json:"n"`
		}
		typed, err := GetJSON[doc](ctx, s, "doc", nil)
		require.NoError(t, err)
		assert.Equal(t, &doc{Name: "<b>", N: 1}, typed)

		missing, err := GetJSON[doc](ctx, s, "nope", nil)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestStoreSetStream(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode sandboxMode) {
		ctx := context.Background()
		s := newSandboxEnv(t, mode, sandbox.Options{}).store(t, "streams")

		require.NoError(t, s.SetStream(ctx, "big", strings.NewReader(strings.Repeat("x", 64*1024)), nil))
		value, err := s.Get(ctx, "big", &GetOptions{Type: TypeArrayBuffer})
		require.NoError(t, err)
		assert.Len(t, value, 64*1024)
	})
}

func TestStoreConditionalRead(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode sandboxMode) {
		ctx := context.Background()
		s := newSandboxEnv(t, mode, sandbox.Options{}).store(t, "cond")
		meta := Metadata{"v": float64(1)}
		require.NoError(t, s.Set(ctx, "k", []byte("one"), &SetOptions{Metadata: meta}))

		first, err := s.GetWithMetadata(ctx, "k", nil)
		require.NoError(t, err)

		same, err := s.GetWithMetadata(ctx, "k", &GetWithMetadataOptions{ETag: first.ETag})
		require.NoError(t, err)
		require.NotNil(t, same)
		assert.True(t, same.NotModified)
		assert.Nil(t, same.Data)
		assert.Equal(t, first.ETag, same.ETag)
		assert.Equal(t, meta, same.Metadata)

		require.NoError(t, s.Set(ctx, "k", []byte("two"), nil))
		changed, err := s.GetWithMetadata(ctx, "k", &GetWithMetadataOptions{ETag: first.ETag})
		require.NoError(t, err)
		assert.False(t, changed.NotModified)
		assert.Equal(t, "two", changed.Data)
		assert.NotEqual(t, first.ETag, changed.ETag)
		assert.Equal(t, Metadata{}, changed.Metadata)
	})
}

func TestStoreRetriesTransientFailures(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode sandboxMode) {
		ctx := context.Background()
		env := newSandboxEnv(t, mode, sandbox.Options{})
		s := env.store(t, "retry")

		env.server.InjectFailures(1, http.StatusTooManyRequests, 0)
		env.server.InjectFailures(1, http.StatusServiceUnavailable, 0)
		require.NoError(t, s.Set(ctx, "k", []byte("v"), nil))

		env.server.InjectFailures(2, http.StatusBadGateway, 0)
		value, err := s.Get(ctx, "k", nil)
		require.NoError(t, err)
		assert.Equal(t, "v", value)
	})
}

func TestStoreGivesUpAfterRetryBudget(t *testing.T) {
	env := newSandboxEnv(t, sandboxModes[0], sandbox.Options{})
	s := env.store(t, "retry")

	env.server.InjectFailures(6, http.StatusInternalServerError, 0)
	_, err := s.Get(context.Background(), "k", nil)
	var ierr *InternalError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, http.StatusInternalServerError, ierr.StatusCode)
	assert.EqualValues(t, 6, env.requests.Load())
}

func TestStoreStreamWriteIsNotRetried(t *testing.T) {
	env := newSandboxEnv(t, sandboxModes[0], sandbox.Options{})
	s := env.store(t, "retry")

	env.server.InjectFailures(1, http.StatusServiceUnavailable, 0)
	err := s.SetStream(context.Background(), "k", strings.NewReader("once"), nil)
	var ierr *InternalError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, http.StatusServiceUnavailable, ierr.StatusCode)
	assert.EqualValues(t, 1, env.requests.Load())
}

func TestStoreStrongConsistencyAgainstSandbox(t *testing.T) {
	env := newSandboxEnv(t, sandboxModes[0], sandbox.Options{})
	s := env.store(t, "strong")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("fresh"), nil))
	value, err := s.Get(ctx, "k", &GetOptions{Consistency: ConsistencyStrong})
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)
}

func TestDeployStoreIsIsolatedFromSiteStore(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode sandboxMode) {
		ctx := context.Background()
		env := newSandboxEnv(t, mode, sandbox.Options{})
		site := env.store(t, "shared")
		deploy, err := env.client.DeployStore("deploy1")
		require.NoError(t, err)

		require.NoError(t, deploy.Set(ctx, "k", []byte("deploy"), nil))
		value, err := site.Get(ctx, "k", nil)
		require.NoError(t, err)
		assert.Nil(t, value)

		value, err = deploy.Get(ctx, "k", nil)
		require.NoError(t, err)
		assert.Equal(t, "deploy", value)
	})
}
