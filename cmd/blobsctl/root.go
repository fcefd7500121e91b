package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgeblobs/blobs_sdk_go/internal/logger"
	"github.com/edgeblobs/blobs_sdk_go/pkg/blobs"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	siteID          string
	token           string
	edgeURL         string
	uncachedEdgeURL string
	apiURL          string
	consistency     string
	logLevel        string
	logFormat       string

	logger *slog.Logger
}

func newRootCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blobsctl",
		Short: "`blobsctl` reads and writes blobs",
		Long: "`blobsctl` reads and writes blobs. Connection settings come from flags, then BLOBS_* " +
			"variables, then the " + blobs.ContextVariable + " context.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			o.logger = logger.New(o.logLevel, o.logFormat, cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.siteID, "site-id", getEnv("BLOBS_SITE_ID", ""), "site the stores belong to")
	flags.StringVar(&o.token, "token", getEnv("BLOBS_TOKEN", ""), "bearer token")
	flags.StringVar(&o.edgeURL, "edge-url", getEnv("BLOBS_EDGE_URL", ""), "edge endpoint; when empty requests go through the API")
	flags.StringVar(&o.uncachedEdgeURL, "uncached-edge-url", getEnv("BLOBS_UNCACHED_EDGE_URL", ""), "edge endpoint for strongly consistent reads")
	flags.StringVar(&o.apiURL, "api-url", getEnv("BLOBS_API_URL", ""), "API endpoint (default "+blobs.DefaultAPIURL+")")
	flags.StringVar(&o.consistency, "consistency", getEnv("BLOBS_CONSISTENCY", ""), "default read consistency: eventual or strong")
	flags.StringVar(&o.logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "debug, info, warn or error")
	flags.StringVar(&o.logFormat, "log-format", getEnv("LOG_FORMAT", "text"), "text or json")

	cmd.AddCommand(
		newGetCmd(o),
		newSetCmd(o),
		newDeleteCmd(o),
		newMetaCmd(o),
		newListCmd(o),
		newStoresCmd(o),
		newSandboxCmd(o),
	)
	return cmd
}

// clientConfig maps the flags onto the client configuration. Empty fields
// are filled from the environment context by the blobs package.
func (o *rootOptions) clientConfig() blobs.Config {
	return blobs.Config{
		APIURL:          o.apiURL,
		EdgeURL:         o.edgeURL,
		UncachedEdgeURL: o.uncachedEdgeURL,
		SiteID:          o.siteID,
		Token:           o.token,
		Consistency:     blobs.Consistency(o.consistency),
		Logger:          o.logger,
	}
}

func (o *rootOptions) openStore(name string) (*blobs.Store, error) {
	cfg := o.clientConfig()
	return blobs.GetStore(name, &cfg)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}
