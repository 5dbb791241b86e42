package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"weibomcp/internal/cache"
	"weibomcp/internal/config"
	"weibomcp/internal/logging"
	"weibomcp/internal/mcp"
	"weibomcp/internal/services"
	"weibomcp/internal/version"
	"weibomcp/internal/weibo"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the Weibo MCP server",
		Long:  "Start the MCP server on the configured transport (stdio or streamable HTTP)",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetFullVersionString())
		},
	}
)

const shutdownGracePeriod = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	// Export viper-resolved values (flags, config file, prefixed env) so
	// config.Load sees them through its plain env accessors.
	if v := viper.GetString("transport"); v != "" {
		os.Setenv("TRANSPORT", v)
	}
	if v := viper.GetInt("mcp_port"); v != 0 {
		os.Setenv("MCP_PORT", strconv.Itoa(v))
	}
	if viper.GetBool("debug") {
		os.Setenv("DEBUG", "true")
	}
	if v := viper.GetString("weibo_cookie"); v != "" {
		os.Setenv("WEIBO_COOKIE", v)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Initialize(cfg.Debug)

	client := weibo.NewClient(cfg.RequestTimeout)
	sessions := weibo.NewSessionManager(cfg.Cookie, cfg.SessionTTL, client)
	limiter := weibo.NewLimiter(weibo.LimiterConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		AcquireTimeout:    cfg.AcquireTimeout,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
	})
	results := cache.New(cfg.CacheSize, cfg.CacheTTL)
	service := services.NewWeiboService(client, sessions, limiter, results, cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax)

	srv := mcp.NewServer(service, cfg)
	ctx := context.Background()

	if cfg.Transport == config.TransportStdio {
		// Stdio serves until the client closes the stream.
		return srv.StartStdio(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx, cfg.MCPPort)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		// Startup failure (port bind) surfaces here as a non-zero exit.
		return err
	case sig := <-sigCh:
		logging.Info("Received signal %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
