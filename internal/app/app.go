package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"hub/internal/config"
	"hub/internal/httpapi"
	"hub/internal/hub"
	"hub/internal/identity"
	"hub/internal/obs"
	"hub/internal/proxy"
	"hub/pkg/logging"
)

// Application holds the wired hub components between New and Run.
type Application struct {
	cfg      config.Config
	store    identity.Store
	resolver *identity.Resolver
	hub      *hub.Hub
	rec      *proxy.Reconciler
	api      *httpapi.API
	watcher  *config.RoleWatcher
	server   *http.Server
}

// routeSource breaks the construction cycle between the hub and the
// reconciler: the reconciler is the hub's router, and the hub is the
// reconciler's route source.
type routeSource struct {
	hub atomic.Pointer[hub.Hub]
}

func (s *routeSource) ReadyRoutes(ctx context.Context) (map[string]string, error) {
	h := s.hub.Load()
	if h == nil {
		return map[string]string{}, nil
	}
	return h.ReadyRoutes(ctx)
}

// New builds the full application from configuration. version is
// reported on the API info endpoint and the build info metric.
func New(ctx context.Context, cfg config.Config, version, commit string) (*Application, error) {
	logging.Init(parseLogLevel(cfg.LogLevel), os.Stdout, cfg.LogJSON)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := buildStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := identity.EnsureDefaults(ctx, store); err != nil {
		store.Close()
		return nil, fmt.Errorf("seeding default roles: %w", err)
	}

	resolver := identity.NewResolver(store)

	if cfg.RolesDir != "" {
		roles, err := config.LoadRoles(cfg.RolesDir)
		if err != nil {
			store.Close()
			return nil, err
		}
		applyRoles(ctx, store, roles)
		resolver.Invalidate()
	}

	auth, oauth, err := buildAuthenticator(cfg.Auth)
	if err != nil {
		store.Close()
		return nil, err
	}

	sp, err := buildSpawner(cfg.Spawner)
	if err != nil {
		store.Close()
		return nil, err
	}

	client, err := proxy.NewClient(cfg.Proxy.APIURL, cfg.Proxy.Token, cfg.Proxy.RequestTimeout)
	if err != nil {
		store.Close()
		return nil, err
	}
	src := &routeSource{}
	rec := proxy.NewReconciler(client, src, proxy.Config{
		HubTarget:    cfg.PublicURL,
		MaxAttempts:  cfg.Proxy.MaxAttempts,
		SyncInterval: cfg.Proxy.SyncInterval,
	})

	h := hub.New(store, sp, rec, hub.Config{
		PortStart:        cfg.Hub.PortStart,
		PortEnd:          cfg.Hub.PortEnd,
		SpawnTimeout:     cfg.Hub.SpawnTimeout,
		StopTimeout:      cfg.Hub.StopTimeout,
		PollInterval:     cfg.Hub.PollInterval,
		SpawnConcurrency: int64(cfg.Hub.SpawnConcurrency),
	})
	src.hub.Store(h)

	sessionSecret := []byte(cfg.Auth.SessionSecret)
	if len(sessionSecret) == 0 {
		sessionSecret = make([]byte, 32)
		if _, err := rand.Read(sessionSecret); err != nil {
			store.Close()
			return nil, err
		}
		logging.Warn("App", "no session secret configured, sessions will not survive a restart")
	}

	api := httpapi.New(store, resolver, h, auth, oauth, httpapi.Config{
		Version:       version,
		ProxyToken:    cfg.Proxy.Token,
		SessionSecret: sessionSecret,
		SessionTTL:    cfg.Auth.SessionTTL,
		RateBurst:     cfg.API.RateBurst,
		RatePerSecond: cfg.API.RatePerSecond,
		MaxBodyBytes:  cfg.API.MaxBodyBytes,
	})

	a := &Application{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		hub:      h,
		rec:      rec,
		api:      api,
		server: &http.Server{
			Addr:              cfg.BindAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.RolesDir != "" {
		a.watcher = config.NewRoleWatcher(cfg.RolesDir, func(roles []*identity.Role) {
			applyRoles(context.Background(), store, roles)
			resolver.Invalidate()
		})
	}
	return a, nil
}

// Run serves until ctx ends, then shuts down gracefully. Running server
// records survive restarts; only in-flight transitions are drained.
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupted, err := a.hub.Recover(runCtx)
	if err != nil {
		logging.Warn("App", "recovering server records: %v", err)
	}
	if a.cfg.Hub.ResumeOnRestart && len(interrupted) > 0 {
		logging.Info("App", "resuming %d interrupted servers", len(interrupted))
		go func() {
			if err := a.hub.StartServers(runCtx, interrupted); err != nil {
				logging.Warn("App", "resuming interrupted servers: %v", err)
			}
		}()
	}

	if a.watcher != nil {
		if err := a.watcher.Start(runCtx); err != nil {
			return err
		}
	}

	go a.hub.Run(runCtx)
	go a.rec.Run(runCtx)
	go a.purgeTokens(runCtx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("App", "hub API listening on %s", a.cfg.BindAddr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Debug("App", "systemd notify unavailable: %v", err)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	logging.Info("App", "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("App", "HTTP shutdown: %v", err)
	}
	if a.cfg.Hub.StopServersOnShutdown {
		if err := a.hub.StopAll(shutdownCtx); err != nil {
			logging.Warn("App", "stopping servers on shutdown: %v", err)
		}
	}

	cancel()
	a.hub.Drain()
	return a.store.Close()
}

// purgeTokens deletes expired API tokens on an hourly cadence.
func (a *Application) purgeTokens(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.store.PurgeExpiredTokens(ctx, time.Now())
			if err != nil {
				logging.Warn("App", "purging expired tokens: %v", err)
				continue
			}
			if n > 0 {
				logging.Info("App", "purged %d expired tokens", n)
			}
		}
	}
}

func parseLogLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
