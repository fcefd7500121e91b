package blobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/edgeblobs/blobs_sdk_go/internal/blobsapi"
)

// ContextVariable is the environment variable the host platform uses to hand
// the blobs context to the process.
const ContextVariable = "NETLIFY_BLOBS_CONTEXT"

// EnvironmentContext is the configuration injected by the host platform.
type EnvironmentContext struct {
	SiteID          string `json:"siteID,omitempty"`
	Token           string `json:"token,omitempty"`
	EdgeURL         string `json:"edgeURL,omitempty"`
	UncachedEdgeURL string `json:"uncachedEdgeURL,omitempty"`
	APIURL          string `json:"apiURL,omitempty"`
	DeployID        string `json:"deployID,omitempty"`
}

// ContextSource loads and stores the environment context. Implementations
// adapt whatever mechanism the host platform uses.
type ContextSource interface {
	LoadContext() (EnvironmentContext, error)
	StoreContext(EnvironmentContext) error
}

// EnvSource keeps the context base64-encoded in a process environment
// variable (ContextVariable unless Variable is set).
type EnvSource struct {
	Variable string
}

// DefaultSource is consulted by GetStore, GetDeployStore and ListStores.
var DefaultSource ContextSource = EnvSource{}

func (s EnvSource) variable() string {
	if s.Variable != "" {
		return s.Variable
	}
	return ContextVariable
}

// LoadContext reads the context. A missing or malformed value yields an
// empty context.
func (s EnvSource) LoadContext() (EnvironmentContext, error) {
	raw := strings.TrimSpace(os.Getenv(s.variable()))
	if raw == "" {
		return EnvironmentContext{}, nil
	}
	ec, err := DecodeContext(raw)
	if err != nil {
		return EnvironmentContext{}, nil
	}
	return ec, nil
}

// StoreContext writes the context to the environment variable.
func (s EnvSource) StoreContext(ec EnvironmentContext) error {
	encoded, err := EncodeContext(ec)
	if err != nil {
		return err
	}
	return os.Setenv(s.variable(), encoded)
}

// EncodeContext serializes ec into its transport form: base64 of its JSON.
func EncodeContext(ec EnvironmentContext) (string, error) {
	data, err := blobsapi.Encode(ec)
	if err != nil {
		return "", fmt.Errorf("blobs: encode environment context: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeContext parses the transport form produced by EncodeContext.
func DecodeContext(encoded string) (EnvironmentContext, error) {
	var ec EnvironmentContext
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ec, fmt.Errorf("blobs: decode environment context: %w", err)
	}
	if err := json.Unmarshal(data, &ec); err != nil {
		return ec, fmt.Errorf("blobs: decode environment context: %w", err)
	}
	return ec, nil
}

// LambdaEvent is the subset of a function invocation event carrying the
// blobs connection details.
type LambdaEvent struct {
	Blobs   string            `json:"blobs"`
	Headers map[string]string `json:"headers"`
}

// ConnectLambda derives the environment context from a function invocation
// event and stores it in dst (DefaultSource when nil).
func ConnectLambda(event LambdaEvent, dst ContextSource) error {
	if dst == nil {
		dst = DefaultSource
	}
	raw, err := base64.StdEncoding.DecodeString(event.Blobs)
	if err != nil {
		return fmt.Errorf("blobs: decode lambda blobs payload: %w", err)
	}
	var data struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("blobs: decode lambda blobs payload: %w", err)
	}

	return dst.StoreContext(EnvironmentContext{
		DeployID: headerValue(event.Headers, "x-nf-deploy-id"),
		EdgeURL:  data.URL,
		SiteID:   headerValue(event.Headers, "x-nf-site-id"),
		Token:    data.Token,
	})
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// GetStore returns the named site store, configured from the environment
// context with any non-empty field of overrides taking precedence.
func GetStore(name string, overrides *Config) (*Store, error) {
	return GetStoreWithSource(DefaultSource, name, overrides)
}

// GetStoreWithSource is GetStore reading the context from src.
func GetStoreWithSource(src ContextSource, name string, overrides *Config) (*Store, error) {
	if name == "" {
		return nil, &ConfigurationError{Missing: []string{"name"}}
	}
	client, _, err := clientFromSource(src, overrides)
	if err != nil {
		return nil, err
	}
	return client.Store(name)
}

// GetDeployStore returns the store of deployID, or of the deploy named by
// the environment context when deployID is empty.
func GetDeployStore(deployID string, overrides *Config) (*Store, error) {
	return GetDeployStoreWithSource(DefaultSource, deployID, overrides)
}

// GetDeployStoreWithSource is GetDeployStore reading the context from src.
func GetDeployStoreWithSource(src ContextSource, deployID string, overrides *Config) (*Store, error) {
	client, ec, err := clientFromSource(src, overrides)
	if err != nil {
		return nil, err
	}
	if deployID == "" {
		deployID = ec.DeployID
	}
	return client.DeployStore(deployID)
}

// ListStores lists the site's stores using the environment context.
func ListStores(ctx context.Context, overrides *Config) (*ListStoresResult, error) {
	return ListStoresWithSource(ctx, DefaultSource, overrides)
}

// ListStoresWithSource is ListStores reading the context from src.
func ListStoresWithSource(ctx context.Context, src ContextSource, overrides *Config) (*ListStoresResult, error) {
	client, _, err := clientFromSource(src, overrides)
	if err != nil {
		return nil, err
	}
	return client.ListStores(ctx)
}

// ListStorePages is the paginated form of ListStores.
func ListStorePages(overrides *Config) (*StoreIterator, error) {
	return ListStorePagesWithSource(DefaultSource, overrides)
}

// ListStorePagesWithSource is ListStorePages reading the context from src.
func ListStorePagesWithSource(src ContextSource, overrides *Config) (*StoreIterator, error) {
	client, _, err := clientFromSource(src, overrides)
	if err != nil {
		return nil, err
	}
	return client.ListStorePages(), nil
}

// clientFromSource loads the context fresh on every call; nothing read from
// the environment outlives the returned client.
func clientFromSource(src ContextSource, overrides *Config) (*Client, EnvironmentContext, error) {
	if src == nil {
		src = DefaultSource
	}
	ec, err := src.LoadContext()
	if err != nil {
		return nil, ec, fmt.Errorf("blobs: load environment context: %w", err)
	}
	client, err := NewClient(MergeConfig(overrides, ec))
	if err != nil {
		return nil, ec, err
	}
	return client, ec, nil
}

// MergeConfig fills the empty connection fields of overrides from ec.
func MergeConfig(overrides *Config, ec EnvironmentContext) Config {
	var cfg Config
	if overrides != nil {
		cfg = *overrides
	}
	cfg.SiteID = firstNonEmpty(cfg.SiteID, ec.SiteID)
	cfg.Token = firstNonEmpty(cfg.Token, ec.Token)
	cfg.APIURL = firstNonEmpty(cfg.APIURL, ec.APIURL)
	cfg.EdgeURL = firstNonEmpty(cfg.EdgeURL, ec.EdgeURL)
	cfg.UncachedEdgeURL = firstNonEmpty(cfg.UncachedEdgeURL, ec.UncachedEdgeURL)
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
