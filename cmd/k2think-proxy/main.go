// Command k2think-proxy runs the OpenAI-compatible proxy in front of the
// K2-Think upstream. Grounded on the reference gateway's cmd/axonhub
// entrypoint (explicit construction of the server and its dependencies) and
// a sibling pack repo's cobra-based cmd/ layout (root command with a
// persistent --config flag, signal.NotifyContext-driven graceful shutdown).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrelay/k2think-proxy/internal/admin"
	"github.com/openrelay/k2think-proxy/internal/config"
	"github.com/openrelay/k2think-proxy/internal/dispatcher"
	"github.com/openrelay/k2think-proxy/internal/log"
	"github.com/openrelay/k2think-proxy/internal/pool"
	"github.com/openrelay/k2think-proxy/internal/refresher"
	"github.com/openrelay/k2think-proxy/internal/server"
	"github.com/openrelay/k2think-proxy/internal/tokenstore"
	"github.com/openrelay/k2think-proxy/internal/upstreamclient"
	"github.com/openrelay/k2think-proxy/internal/watcher"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "k2think-proxy",
		Short: "OpenAI-compatible HTTP proxy in front of the K2-Think upstream",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Debug: cfg.DebugLogging, File: cfg.LogFile})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := loadInitialPool(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to load initial token pool", log.Cause(err))
		os.Exit(1)
	}

	client := upstreamclient.New(cfg.UpstreamChatURL, cfg.UpstreamLoginURL, cfg.RequestTimeout())

	ref := refresher.New(cfg.AccountsFile, cfg.TokensFile, p, client.Login, cfg.TokenUpdateInterval(), cfg.EnableTokenAutoUpdate)
	ref.Start(ctx)
	defer ref.Stop()

	// The accounts file drives a full account-login refresh when it changes;
	// the tokens file instead gets the same plain reload as
	// POST /admin/tokens/reload, wired further down once Admin exists.
	fw, err := watcher.New([]string{cfg.AccountsFile}, 250*time.Millisecond, func(ctx context.Context) {
		ref.ForceUpdate(ctx)
	})
	if err != nil {
		log.Warn(ctx, "failed to start account file watcher", log.Cause(err))
	} else {
		fw.Start(ctx)
		defer fw.Stop()
	}

	d := dispatcher.New(dispatcher.Config{
		AllowAnyAPIKey:  cfg.AllowAnyAPIKey,
		ValidAPIKey:     cfg.ValidAPIKey,
		UpstreamModelID: cfg.UpstreamModelID,
		ModelOverride:   cfg.ModelOverride,
		ToolSupport:     cfg.ToolSupport,
		ScanLimit:       cfg.ScanLimit,
		OutputThinking:  cfg.OutputThinking,
	}, p, client, ref)

	a := admin.New(admin.Config{AdminKey: cfg.AdminKey, TokensFile: cfg.TokensFile}, p, ref)

	if tw, err := watcher.New([]string{cfg.TokensFile}, 250*time.Millisecond, func(ctx context.Context) {
		if _, err := a.ReloadTokens(ctx); err != nil {
			log.Warn(ctx, "token file watcher reload failed", log.Cause(err))
		}
	}); err != nil {
		log.Warn(ctx, "failed to start token file watcher", log.Cause(err))
	} else {
		tw.Start(ctx)
		defer tw.Stop()
	}

	srv := server.New(server.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Debug:          cfg.DebugLogging,
		RequestTimeout: cfg.RequestTimeout(),
	}, d, a)

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- srv.Run()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error(ctx, "server exited with error", log.Cause(err))
			return err
		}
	case <-ctx.Done():
		log.Info(ctx, "shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown error", log.Cause(err))
		}
	}

	return nil
}

// loadInitialPool loads the token file at startup; a missing file starts
// with an empty pool rather than failing boot, since the Refresher (if
// enabled) or an admin reload can populate it afterward.
func loadInitialPool(ctx context.Context, cfg *config.Config) (*pool.Pool, error) {
	p := pool.New(cfg.MaxTokenFailures)

	tokens, err := tokenstore.Load(cfg.TokensFile)
	if err != nil {
		log.Warn(ctx, "no initial token file found, starting with an empty pool", log.Cause(err))
		return p, nil
	}

	p.Replace(tokens)

	stats := p.Stats()
	log.Info(ctx, "loaded initial token pool",
		log.Int("total", stats.Total), log.Int("active", stats.Active), log.Int("disabled", stats.Disabled))

	return p, nil
}
