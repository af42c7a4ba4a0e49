// Package app wires configuration, bundle storage and the HTTP API into a
// running service.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"

	httpapi "github.com/qrlew/qrlew-go/internal/api/http"
	"github.com/qrlew/qrlew-go/internal/config"
	"github.com/qrlew/qrlew-go/internal/observability"
	"github.com/qrlew/qrlew-go/internal/server"
	"github.com/qrlew/qrlew-go/internal/storage"
)

const (
	statsWindow        = time.Hour
	statsPruneInterval = 5 * time.Minute
)

// App manages the service lifecycle.
type App struct {
	cfg *config.Config

	objects  storage.ObjectStorage
	store    *storage.Store
	loader   *storage.BatchLoader
	stats    *observability.RewriteStats
	shutdown *server.ShutdownManager

	httpServer *server.GracefulHTTPServer
	listener   net.Listener

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App from cfg, which is resolved and validated.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start opens storage, preloads the stored datasets and starts serving.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.abort()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}
	a.preload(ctx)
	a.startStatsPruner(ctx)
	if err := a.startHTTPService(); err != nil {
		a.abort()
		return fmt.Errorf("failed to start http service: %w", err)
	}

	glog.Infof("qrlew started: storage=%s addr=%s", a.cfg.Storage.Type, a.listener.Addr())
	return nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.objects, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.objects, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.store = storage.NewStore(a.objects, a.cfg.Storage.Prefix)
	a.loader = storage.NewBatchLoader(a.store, a.cfg.Storage.LoadConcurrency)
	a.stats = observability.NewRewriteStats(statsWindow)
	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
	})
	a.shutdown.OnShutdownStart(func() {
		if a.cancel != nil {
			a.cancel()
		}
	})
	return nil
}

// preload decodes every stored bundle. A bundle that fails to load is
// logged and served as an error on access.
func (a *App) preload(ctx context.Context) {
	start := time.Now()
	res, err := a.loader.LoadAll(ctx)
	if err != nil {
		glog.Warningf("preload: %v", err)
		return
	}
	for name, err := range res.Errors {
		glog.Warningf("preload: dataset %s: %v", name, err)
	}
	glog.Infof("preload: %d datasets loaded, %d failed in %s", res.Loads, len(res.Errors), time.Since(start))
}

func (a *App) startStatsPruner(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(statsPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.stats.Prune()
			}
		}
	}()
}

func (a *App) startHTTPService() error {
	svc := &httpapi.Service{
		Store:  a.store,
		Loader: a.loader,
		Stats:  a.stats,
		Config: a.cfg,
	}
	handler := server.ShutdownMiddleware(a.shutdown)(httpapi.NewRouter(svc))
	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.listener = ln
	a.httpServer = server.NewGracefulHTTPServer(srv, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.Serve(ln); err != nil {
			glog.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

// Addr is the address the API listens on, once started.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Stop shuts the service down gracefully.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wait()
	glog.Info("qrlew stopped")
	return err
}

// WaitForShutdown blocks until a signal or the end of ctx, then waits for
// the service to stop.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.wait()
	return err
}

func (a *App) wait() {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	timeout := time.NewTimer(a.cfg.HTTP.ShutdownTimeout)
	defer timeout.Stop()
	select {
	case <-done:
	case <-timeout.C:
		glog.Warning("shutdown timeout, some goroutines may not have finished")
	}
}

// abort releases what a failed Start acquired.
func (a *App) abort() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.listener != nil {
		a.listener.Close()
	}
	a.wg.Wait()
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}
