package command

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nitesh/story_service/internal/auth"
	"github.com/nitesh/story_service/internal/clients"
	"github.com/nitesh/story_service/internal/config"
	"github.com/nitesh/story_service/internal/connectivity"
	"github.com/nitesh/story_service/internal/notify"
	"github.com/nitesh/story_service/internal/offlinesync"
	"github.com/nitesh/story_service/internal/remote"
	"github.com/nitesh/story_service/internal/service"
	"github.com/nitesh/story_service/internal/store"
	"github.com/nitesh/story_service/internal/worker"
)

// App is the wired process: storage, remote client, sync and worker.
type App struct {
	Cfg     config.Config
	Store   *store.Store
	Session *auth.Session
	Remote  *remote.Client
	Monitor *connectivity.Monitor
	Service *service.Service
	Sync    *offlinesync.Coordinator
	Hub     *clients.Hub
	Worker  *worker.Worker

	rdb *redis.Client
}

func buildApp(ctx context.Context, cmd *cobra.Command) (*App, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	session, err := auth.NewSession(cfg.SessionPath())
	if err != nil {
		st.Close()
		return nil, err
	}

	rc := remote.NewClient(cfg.APIBaseURL, session, nil)
	monitor := connectivity.NewMonitor(cfg.APIBaseURL, nil)
	svc := service.NewService(st, rc, session, monitor)
	svc.SetLogger(log.Printf)
	coord := offlinesync.NewCoordinator(st, svc, session, monitor)

	app := &App{
		Cfg:     cfg,
		Store:   st,
		Session: session,
		Remote:  rc,
		Monitor: monitor,
		Service: svc,
		Sync:    coord,
		Hub:     clients.NewHub(),
	}

	wcfg, err := worker.NewConfig(cfg.CacheVersion, cfg.APIBaseURL, cfg.AppOrigin, cfg.Scope)
	if err != nil {
		app.Close()
		return nil, err
	}
	caches, err := app.cacheStorage(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	var notifiers notify.Multi
	notifiers = append(notifiers, notify.NewWindows(app.Hub))
	if cfg.DesktopNotify {
		notifiers = append(notifiers, notify.NewDesktop())
	}
	app.Worker = worker.New(wcfg, caches, &http.Client{Timeout: 30 * time.Second}, notifiers, app.Hub)
	return app, nil
}

func (a *App) cacheStorage(ctx context.Context) (worker.CacheStorage, error) {
	if a.Cfg.CacheBackend != "redis" {
		return worker.NewMemoryStorage(), nil
	}
	a.rdb = redis.NewClient(&redis.Options{Addr: a.Cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("warning: redis ping failed: %v", err)
	}
	return worker.NewRedisStorage(a.rdb, "story-service"), nil
}

func (a *App) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if err := a.Store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
