// Command cloudpaste runs the virtual filesystem engine: the JSON API and
// the WebDAV surface over one set of S3-backed mounts.
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wukibaka/cloudpaste/internal/api"
	"github.com/wukibaka/cloudpaste/internal/cache"
	"github.com/wukibaka/cloudpaste/internal/config"
	"github.com/wukibaka/cloudpaste/internal/metrics"
	"github.com/wukibaka/cloudpaste/internal/mount"
	"github.com/wukibaka/cloudpaste/internal/secret"
	"github.com/wukibaka/cloudpaste/internal/store"
	"github.com/wukibaka/cloudpaste/internal/vfs"
	"github.com/wukibaka/cloudpaste/internal/webdav"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cloudpaste: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	var st *store.Store
	if cfg.Database.InMemory {
		st, err = store.OpenInMemory()
	} else {
		st, err = store.Open(cfg.Database.Directory)
	}
	if err != nil {
		return err
	}
	defer st.Close()

	secrets, err := secret.NewBox(cfg.Security.MasterKey)
	if err != nil {
		return err
	}

	dirCache := cache.NewDirectoryCache(cfg.Cache.MaxEntries)
	searchCache := cache.NewSearchCache(cfg.Cache.SearchTTL)

	registry := mount.NewRegistry(st)
	manager := mount.NewManager(registry, st, secrets, dirCache, st)
	defer manager.Close()
	st.OnConfigChanged(manager.ClearConfigCache)

	var collector *metrics.Collector
	var recorder vfs.OperationRecorder
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
		recorder = collector
		metricsHandler = collector.Handler()
	}

	fs := vfs.New(manager, searchCache, recorder)

	auth := tokenAuthenticator(os.Getenv("CLOUDPASTE_ADMIN_TOKEN"))
	davHandler := webdav.NewHandler(fs, webdav.Authenticator(auth), cfg.WebDAV, cfg.Server)

	server := api.NewServer(cfg.Server, fs, api.Authenticator(auth), api.Options{
		Metrics:      metricsHandler,
		WebDAV:       davHandler,
		WebDAVPrefix: cfg.WebDAV.Prefix,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func setupLogging(cfg config.LoggingConfig) {
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

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// tokenAuthenticator is the built-in single-admin authenticator: a bearer
// token compared in constant time. Deployments embed the engine behind their
// own gateway and replace this.
func tokenAuthenticator(token string) func(r *http.Request) (types.Principal, error) {
	return func(r *http.Request) (types.Principal, error) {
		if token == "" {
			return types.Principal{}, errors.New("no admin token configured")
		}

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == "" {
			if _, password, ok := r.BasicAuth(); ok {
				presented = password
			}
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return types.Principal{}, errors.New("invalid credentials")
		}
		return types.AdminPrincipal("1"), nil
	}
}
