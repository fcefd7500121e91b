// Package sandbox is a local emulator of the blobs service. It speaks both
// the edge protocol and the API protocol, including signed URLs, so the SDK
// and tools built on it can run without the hosted service.
package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	metadataHeaderInternal = "x-amz-meta-user"
	metadataHeaderExternal = "netlify-blobs-metadata"
	signedURLAccept        = "application/json;type=signed-url"
	rateLimitHeader        = "X-RateLimit-Reset"

	defaultPageSize  = 1000
	defaultSignedTTL = time.Minute
)

// Options configures a Server.
type Options struct {
	// Token is the bearer token every edge and API request must present.
	Token string
	// PageSize caps the entries returned per list page.
	PageSize int
	// Backend stores the blobs. Defaults to a MemoryBackend.
	Backend Backend
	// Logger receives one line per request. Defaults to slog.Default().
	Logger *slog.Logger
	// SignedURLTTL bounds how long an issued signed URL stays valid.
	SignedURLTTL time.Duration
}

type signedTarget struct {
	site, store, key string
	method           string
	expires          time.Time
}

type failure struct {
	status int
	reset  time.Duration
}

// Server is the sandbox HTTP server.
type Server struct {
	echo      *echo.Echo
	backend   Backend
	token     string
	pageSize  int
	signedTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	signed   map[string]signedTarget
	failures []failure
}

// New builds a Server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		backend:   opts.Backend,
		token:     opts.Token,
		pageSize:  opts.PageSize,
		signedTTL: opts.SignedURLTTL,
		logger:    opts.Logger,
		now:       time.Now,
		signed:    make(map[string]signedTarget),
	}
	if s.backend == nil {
		s.backend = NewMemoryBackend()
	}
	if s.pageSize <= 0 {
		s.pageSize = defaultPageSize
	}
	if s.signedTTL <= 0 {
		s.signedTTL = defaultSignedTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("sandbox request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(s.injectFailures)

	blobMethods := []string{http.MethodGet, http.MethodPut, http.MethodHead, http.MethodDelete}

	e.GET("/_health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.Match([]string{http.MethodGet, http.MethodPut}, "/signed/:id", s.handleSigned)

	e.GET("/api/v1/blobs/:site", s.handleListStores, s.requireToken)
	e.GET("/api/v1/blobs/:site/:store", s.handleListBlobs, s.requireToken)
	e.Match(blobMethods, "/api/v1/blobs/:site/:store/*", s.handleAPIBlob, s.requireToken)

	e.GET("/:site", s.handleListStores, s.requireToken)
	e.GET("/:site/:store", s.handleListBlobs, s.requireToken)
	e.Match(blobMethods, "/:site/:store/*", s.handleEdgeBlob, s.requireToken)

	s.echo = e
	return s
}

// Handler exposes the server as an http.Handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// InjectFailures makes the next n requests fail with status. When reset is
// positive the responses carry a rate limit reset header that far ahead.
func (s *Server) InjectFailures(n int, status int, reset time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, failure{status: status, reset: reset})
	}
}

func (s *Server) injectFailures(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		if len(s.failures) == 0 {
			s.mu.Unlock()
			return next(c)
		}
		f := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()

		if f.reset > 0 {
			resetAt := s.now().Add(f.reset).Unix()
			c.Response().Header().Set(rateLimitHeader, strconv.FormatInt(resetAt, 10))
		}
		return c.NoContent(f.status)
	}
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.token != "" && c.Request().Header.Get("Authorization") != "Bearer "+s.token {
			return c.NoContent(http.StatusUnauthorized)
		}
		return next(c)
	}
}

func (s *Server) handleEdgeBlob(c echo.Context) error {
	return s.serveBlob(c, c.Param("site"), c.Param("store"), blobKeyParam(c), c.Request().Method)
}

func (s *Server) handleAPIBlob(c echo.Context) error {
	site, store, key := c.Param("site"), c.Param("store"), blobKeyParam(c)
	method := c.Request().Method
	if (method == http.MethodGet || method == http.MethodPut) && c.Request().Header.Get("Accept") == signedURLAccept {
		return s.issueSignedURL(c, site, store, key, method)
	}
	return s.serveBlob(c, site, store, key, method)
}

func (s *Server) issueSignedURL(c echo.Context, site, store, key, method string) error {
	id := uuid.NewString()
	s.mu.Lock()
	s.signed[id] = signedTarget{site: site, store: store, key: key, method: method, expires: s.now().Add(s.signedTTL)}
	s.mu.Unlock()

	signedURL := c.Scheme() + "://" + c.Request().Host + "/signed/" + id
	return c.JSON(http.StatusOK, map[string]string{"url": signedURL})
}

func (s *Server) handleSigned(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	target, ok := s.signed[id]
	if ok && s.now().After(target.expires) {
		delete(s.signed, id)
		ok = false
	}
	s.mu.Unlock()

	if !ok || target.method != c.Request().Method {
		return c.NoContent(http.StatusForbidden)
	}
	if err := s.serveBlob(c, target.site, target.store, target.key, target.method); err != nil {
		return err
	}
	// Spent once served; a server error leaves it usable for a retry.
	if c.Response().Status < http.StatusInternalServerError {
		s.mu.Lock()
		delete(s.signed, id)
		s.mu.Unlock()
	}
	return nil
}

func (s *Server) serveBlob(c echo.Context, site, store, key, method string) error {
	ctx := c.Request().Context()
	if key == "" {
		return c.NoContent(http.StatusBadRequest)
	}

	switch method {
	case http.MethodGet, http.MethodHead:
		obj, err := s.backend.Get(ctx, site, store, key)
		if errors.Is(err, ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		if err != nil {
			return err
		}
		h := c.Response().Header()
		h.Set("ETag", obj.ETag)
		if obj.Metadata != "" {
			h.Set(metadataHeaderInternal, obj.Metadata)
			h.Set(metadataHeaderExternal, obj.Metadata)
		}
		if etagMatches(c.Request().Header.Get("If-None-Match"), obj.ETag) {
			return c.NoContent(http.StatusNotModified)
		}
		if method == http.MethodHead {
			return c.NoContent(http.StatusOK)
		}
		contentType := obj.ContentType
		if contentType == "" {
			contentType = echo.MIMEOctetStream
		}
		return c.Blob(http.StatusOK, contentType, obj.Data)

	case http.MethodPut:
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		metadata := c.Request().Header.Get(metadataHeaderInternal)
		if metadata == "" {
			metadata = c.Request().Header.Get(metadataHeaderExternal)
		}
		obj := &Object{
			Data:        data,
			ContentType: c.Request().Header.Get(echo.HeaderContentType),
			Metadata:    metadata,
			ETag:        ETagFor(data),
		}
		if err := s.backend.Put(ctx, site, store, key, obj); err != nil {
			return err
		}
		c.Response().Header().Set("ETag", obj.ETag)
		return c.NoContent(http.StatusOK)

	case http.MethodDelete:
		err := s.backend.Delete(ctx, site, store, key)
		if errors.Is(err, ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
	return c.NoContent(http.StatusMethodNotAllowed)
}

type listBlob struct {
	ETag string `json:"etag"`
	Key  string `json:"key"`
}

type blobsPage struct {
	Blobs       []listBlob `json:"blobs"`
	Directories []string   `json:"directories"`
	NextCursor  *string    `json:"next_cursor"`
}

type storesPage struct {
	Stores     []string `json:"stores"`
	NextCursor *string  `json:"next_cursor"`
}

func (s *Server) handleListBlobs(c echo.Context) error {
	prefix := c.QueryParam("prefix")
	directories := c.QueryParam("directories") == "true"
	offset, err := decodeCursor(c.QueryParam("cursor"))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	entries, err := s.backend.List(c.Request().Context(), c.Param("site"), c.Param("store"), prefix)
	if err != nil {
		return err
	}

	type item struct {
		blob *listBlob
		dir  string
	}
	items := make([]item, 0, len(entries))
	seenDirs := make(map[string]bool)
	for _, e := range entries {
		if directories {
			rest := strings.TrimPrefix(e.Key, prefix)
			if idx := strings.Index(rest, "/"); idx >= 0 {
				dir := prefix + rest[:idx]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					items = append(items, item{dir: dir})
				}
				continue
			}
		}
		items = append(items, item{blob: &listBlob{ETag: e.ETag, Key: e.Key}})
	}

	window, next := s.paginate(len(items), offset)
	page := blobsPage{Blobs: []listBlob{}, Directories: []string{}, NextCursor: next}
	for _, it := range items[window.start:window.end] {
		if it.blob != nil {
			page.Blobs = append(page.Blobs, *it.blob)
		} else {
			page.Directories = append(page.Directories, it.dir)
		}
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleListStores(c echo.Context) error {
	offset, err := decodeCursor(c.QueryParam("cursor"))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	names, err := s.backend.Stores(c.Request().Context(), c.Param("site"), c.QueryParam("prefix"))
	if err != nil {
		return err
	}
	window, next := s.paginate(len(names), offset)
	return c.JSON(http.StatusOK, storesPage{
		Stores:     append([]string{}, names[window.start:window.end]...),
		NextCursor: next,
	})
}

type pageWindow struct {
	start, end int
}

func (s *Server) paginate(total, offset int) (pageWindow, *string) {
	if offset > total {
		offset = total
	}
	end := offset + s.pageSize
	if end >= total {
		return pageWindow{start: offset, end: total}, nil
	}
	cursor := encodeCursor(end)
	return pageWindow{start: offset, end: end}, &cursor
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("offset:" + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	value, ok := strings.CutPrefix(string(raw), "offset:")
	if !ok {
		return 0, errors.New("sandbox: malformed cursor")
	}
	offset, err := strconv.Atoi(value)
	if err != nil || offset < 0 {
		return 0, errors.New("sandbox: malformed cursor")
	}
	return offset, nil
}

func blobKeyParam(c echo.Context) string {
	raw := c.Param("*")
	if key, err := url.PathUnescape(raw); err == nil {
		return key
	}
	return raw
}

func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
