// Command duo-workflow-core runs the workflow-bridge engine: it exposes
// the Host-facing HTTP surface and dials out to the Workflow Service over
// WebSocket and REST.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gaetan-puleo/opencode-duo-workflow/internal/config"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/credentials"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/gateway"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/logging"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/modelcache"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/restclient"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/tokenservice"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/workflowstore"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("duo-workflow-core: configuration error", "component", "main", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("duo-workflow-core: exiting", "component", "main", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authz, err := buildAuthorizer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build authorizer: %w", err)
	}

	restClient := restclient.New(cfg.ServiceBaseURL, authz, cfg.RESTTimeout)
	tokens := tokenservice.New(restClient, cfg.WorkflowDefinition)

	store := workflowstore.Open(cfg.WorkflowStorePath)
	defer store.Close()

	cache := modelcache.Open(cfg.ModelCachePath)
	defer cache.Close()

	gw := gateway.New(gateway.Dependencies{
		Creator:            restClient,
		HTTP:               restClient,
		Tokens:             tokens,
		Store:              store,
		ModelCache:         cache,
		WorkflowDefinition: cfg.WorkflowDefinition,
		Environment:        cfg.Environment,
		ClientVersion:      cfg.ClientVersion,
		WSURL: func(token string) string {
			return cfg.ServiceWSURL + "?token=" + token
		},
		ConnectTimeout:    cfg.ConnectTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		KeepaliveInterval: cfg.KeepaliveInterval,
	})

	mux := http.NewServeMux()
	gw.Routes(mux)

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     gateway.CORSMiddleware(mux, cfg.AllowedOrigins),
		ReadTimeout: cfg.HTTPReadTimeout,
		IdleTimeout: cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("duo-workflow-core: listening", "component", "main", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("duo-workflow-core: shutting down", "component", "main")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildAuthorizer(ctx context.Context, cfg *config.Config) (restclient.Authorizer, error) {
	if cfg.JWKSEndpoint != "" && cfg.StaticToken != "" {
		return credentials.NewJWKSValidating(ctx, cfg.JWKSEndpoint, cfg.StaticToken, cfg.JWTAudience)
	}
	return credentials.Static{Token: cfg.StaticToken}, nil
}
