package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/edgeblobs/blobs_sdk_go/internal/sandbox"
	"github.com/edgeblobs/blobs_sdk_go/pkg/blobs"
)

const defaultSandboxSiteID = "sandbox"

type sandboxOptions struct {
	addr      string
	pageSize  int
	redisAddr string
}

func newSandboxCmd(o *rootOptions) *cobra.Command {
	var so sandboxOptions
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local blobs service",
		Long: "`sandbox` serves the edge and API protocols on one address and prints the " +
			blobs.ContextVariable + " value that points clients at it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandbox(cmd, o, so)
		},
	}
	cmd.Flags().StringVar(&so.addr, "addr", getEnv("BLOBS_SANDBOX_ADDR", "127.0.0.1:8787"), "listen address")
	cmd.Flags().IntVar(&so.pageSize, "page-size", 1000, "entries per list page")
	cmd.Flags().StringVar(&so.redisAddr, "redis-addr", getEnv("BLOBS_SANDBOX_REDIS_ADDR", ""), "keep blobs in Redis at this address instead of memory")
	return cmd
}

func runSandbox(cmd *cobra.Command, o *rootOptions, so sandboxOptions) error {
	ctx := cmd.Context()
	siteID := o.siteID
	if siteID == "" {
		siteID = defaultSandboxSiteID
	}
	token := o.token
	if token == "" {
		token = uuid.NewString()
	}

	var backend sandbox.Backend = sandbox.NewMemoryBackend()
	if so.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: so.redisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", so.redisAddr, err)
		}
		backend = sandbox.NewRedisBackend(rdb, "")
	}

	srv := sandbox.New(sandbox.Options{
		Token:    token,
		PageSize: so.pageSize,
		Backend:  backend,
		Logger:   o.logger,
	})

	baseURL := "http://" + advertisedHost(so.addr)
	encoded, err := blobs.EncodeContext(blobs.EnvironmentContext{
		SiteID:          siteID,
		Token:           token,
		EdgeURL:         baseURL,
		UncachedEdgeURL: baseURL,
		APIURL:          baseURL,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "export %s=%s\n", blobs.ContextVariable, encoded)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(so.addr) }()
	o.logger.Info("sandbox listening", "addr", so.addr, "site_id", siteID, "redis", so.redisAddr != "")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// advertisedHost turns a listen address into one clients can dial.
func advertisedHost(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
