// Command loist-mcp is the ingestion service's entrypoint: it wires the
// metadata store, object store, orchestrator, and RPC/HTTP surfaces
// together and serves them on the configured transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loistio/loist-mcp/internal/config"
	"github.com/loistio/loist-mcp/internal/fetch"
	"github.com/loistio/loist-mcp/internal/httpapi"
	"github.com/loistio/loist-mcp/internal/objstore"
	"github.com/loistio/loist-mcp/internal/orchestrator"
	"github.com/loistio/loist-mcp/internal/pool"
	"github.com/loistio/loist-mcp/internal/ratelimit"
	"github.com/loistio/loist-mcp/internal/rpc"
	"github.com/loistio/loist-mcp/internal/store"
	"github.com/loistio/loist-mcp/internal/urlcache"
)

const reclaimInterval = 15 * time.Minute

var rootCmd = &cobra.Command{
	Use:   "loist-mcp",
	Short: "Ingests audio from HTTP(S) sources and serves it over MCP and HTTP",
	RunE:  func(cmd *cobra.Command, args []string) error { return run(cmd.Context()) },
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogger(cfg.Log)

	p, err := pool.New(ctx, pool.Config{
		DSN:      cfg.DB.DSN(),
		MinConns: cfg.DB.MinConns,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer p.Close()
	slog.Info("database pool ready")

	st := store.New(p)
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	slog.Info("schema up to date")

	objects, err := buildObjectStore(ctx, cfg.Object)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	fetcher := fetch.New()
	orch := orchestrator.New(fetcher, objects, st, cfg.Object.Bucket)

	cache := urlcache.New(cfg.Embed.SignedURLTTL)
	limiter := ratelimit.New(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisDB, 60, time.Minute)
	defer limiter.Close()

	go runReclaimLoop(ctx, orch)

	rpcServer := rpc.New(orch, st, cache, limiter, rpc.Auth{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token}, cfg.Server.Transport, cfg.Embed.BaseURL)
	httpServer := httpapi.New(st, objects, cache, cfg.Embed.BaseURL, cfg.Embed.SignedURLTTL, cfg.CORS.AllowedOrigins)

	// The embed/oEmbed HTTP surface (J) and the RPC tool surface (I) are two
	// concurrently-live surfaces over the same running service per spec
	// §1/§2, not alternatives selected by Transport — so both are started
	// unconditionally, each reporting its own exit on errCh.
	errCh := make(chan error, 2)
	go func() { errCh <- serveHTTP(ctx, cfg, httpServer) }()
	go func() { errCh <- serveRPC(ctx, cfg, rpcServer) }()

	// Either surface exiting (cleanly on shutdown, or with an error) ends
	// the process; the other's goroutine is abandoned when main returns,
	// which is harmless since the stdio transport has no listener to leak.
	return <-errCh
}

// serveRPC runs the RPC tool surface on its configured transport: stdio
// blocks on stdin/stdout, http/sse bind cfg.Server.RPCPort — a distinct
// port from the embed/oEmbed HTTP surface's listener so both can be up at
// once.
func serveRPC(ctx context.Context, cfg *config.Config, rpcServer *rpc.Server) error {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.RPCPort)
	if err := rpcServer.Serve(ctx, addr); err != nil {
		return fmt.Errorf("rpc surface: %w", err)
	}
	return nil
}

// serveHTTP runs the embed/oEmbed surface with graceful shutdown, in the
// teacher's services/api/cmd/main.go style. It owns only the embed
// router's lifecycle; the RPC tool surface runs separately via serveRPC.
func serveHTTP(ctx context.Context, cfg *config.Config, httpServer *httpapi.Server) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	slog.Info("listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func buildObjectStore(ctx context.Context, cfg config.ObjectConfig) (objstore.ObjectStore, error) {
	if cfg.Project == "" && cfg.Region == "" {
		return objstore.NewLocalFS("./data/audio", []byte("dev-sign-key-change-in-prod"), "http://localhost:8080/local-objects")
	}
	return objstore.NewS3(ctx, objstore.S3Config{Bucket: cfg.Bucket})
}

// runReclaimLoop periodically sweeps orphaned FAILED/quarantined tracks
// until ctx is cancelled.
func runReclaimLoop(ctx context.Context, orch *orchestrator.Orchestrator) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := orch.Reclaim(ctx); err != nil {
				slog.Warn("reclaim sweep failed", "error", err)
			}
		}
	}
}

func configureLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
