// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/unitlens/internal/api"
	"github.com/starford/unitlens/internal/dom"
	"github.com/starford/unitlens/internal/engine"
	"github.com/starford/unitlens/internal/index"
	"github.com/starford/unitlens/internal/mcpserver"
	"github.com/starford/unitlens/internal/metrics"
	"github.com/starford/unitlens/internal/sse"
	"github.com/starford/unitlens/internal/storage"
	"github.com/starford/unitlens/internal/units"
	"github.com/starford/unitlens/internal/workspace"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// runtime holds the components shared by the serve and mcp commands.
type runtime struct {
	store *storage.FS
	db    *index.DB
	svc   *workspace.Service
}

func (rt *runtime) close() {
	rt.svc.Shutdown()
	_ = rt.db.Close()
	_ = rt.store.Close()
}

func openRuntime(cfg *Config, logger *slog.Logger, pub workspace.Publisher) (*runtime, error) {
	if err := os.MkdirAll(cfg.Documents.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Documents.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	wsOpts := []workspace.Option{
		workspace.WithStorage(store),
		workspace.WithLedger(db),
		workspace.WithLogger(logger),
	}
	if pub != nil {
		wsOpts = append(wsOpts, workspace.WithPublisher(pub))
	}
	svc := workspace.New(units.NewTable(cfg.Engine.UnitOptions()), workspace.Config{
		Engine:          cfg.Engine.Options(),
		DefaultFontSize: cfg.Engine.DefaultFontSize,
		WriteBack:       cfg.Documents.WriteBack,
	}, wsOpts...)

	return &runtime{store: store, db: db, svc: svc}, nil
}

func healthOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// healthReady reports readiness along with the connected event clients.
func healthReady(events *sse.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		clients := 0
		if events != nil {
			clients = events.ClientCount()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "event_clients": clients})
	}
}

// newHTTPHandler builds the root router: health and metrics endpoints
// without auth, everything else under /api. events may be nil.
func newHTTPHandler(cfg *Config, svc *workspace.Service, events *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", healthOK)
	r.Get("/health/ready", healthReady(events))
	r.Handle("/metrics", metrics.Handler())

	var stream http.Handler
	if events != nil {
		stream = events
	}
	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, stream))
	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("documents_path", cfg.Documents.Path),
		slog.Bool("write_back", cfg.Documents.WriteBack),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(cfg.Events.Throttle,
		sse.WithKeepAlive(cfg.Events.KeepAlive),
		sse.WithClientBuffer(cfg.Events.ClientBuffer))
	defer broker.Close()

	rt, err := openRuntime(cfg, logger, broker)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.svc.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newHTTPHandler(cfg, rt.svc, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := rt.svc.Watch(gCtx, cfg.Documents.Path); err != nil {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stop the watcher along with the server.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio until stdin closes or ctx ends.
// The documents directory is synced and watched as in Run.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	rt, err := openRuntime(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.svc.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := rt.svc.Watch(ctx, cfg.Documents.Path); err != nil {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("MCP server starting on stdio", slog.String("version", app.version))
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

// ConvertDocument converts every unit tag in the document read from r and
// writes the resulting markup to w. No storage, ledger or dispatcher is
// involved.
func ConvertDocument(cfg *Config, r io.Reader, w io.Writer) (engine.Result, error) {
	doc, err := dom.Parse(r, dom.WithDefaultFontSize(cfg.Engine.DefaultFontSize))
	if err != nil {
		return engine.Result{}, fmt.Errorf("convert: %w", err)
	}

	conv := engine.NewConverter(units.NewTable(cfg.Engine.UnitOptions()), cfg.Engine.Options())
	scanner := engine.NewScanner(conv, slog.Default())

	var res engine.Result
	_ = doc.Update(func(root dom.Node) error {
		res = scanner.Scan(root)
		return nil
	})

	if _, err := w.Write(doc.Render()); err != nil {
		return res, fmt.Errorf("convert: write: %w", err)
	}
	return res, nil
}
