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

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"github.com/threatwatch/threatwatch/server/internal/alerts"
	"github.com/threatwatch/threatwatch/server/internal/api"
	"github.com/threatwatch/threatwatch/server/internal/cache"
	"github.com/threatwatch/threatwatch/server/internal/config"
	"github.com/threatwatch/threatwatch/server/internal/feed"
	"github.com/threatwatch/threatwatch/server/internal/metrics"
	"github.com/threatwatch/threatwatch/server/internal/ws"
)

// shutdownTimeout bounds how long in-flight HTTP requests get on shutdown.
const shutdownTimeout = 10 * time.Second

// logLevel is shared by the default logger so config reloads can change it.
var logLevel slog.LevelVar

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel})))

	if err := run(os.Args); err != nil {
		slog.Error("threatwatch-server exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "threatwatch-server",
		Usage: "threat intelligence feed: rotational store, cached reads, WebSocket push",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to config file",
			Value:   config.DefaultPath,
			EnvVars: []string{"THREATWATCH_CONFIG"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		seedCmd,
	}

	return app.Run(args)
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the REST API, WebSocket hub and metrics endpoint",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "ui-dir",
			Usage:   "serve the pre-built UI static files from this directory; leave empty to disable",
			EnvVars: []string{"THREATWATCH_UI_DIR"},
		},
	},
	Action: runServe,
}

var seedCmd = &cli.Command{
	Name:   "seed",
	Usage:  "write the seed dataset into the configured store",
	Action: runSeed,
}

// loadConfig reads the config named by --config and applies its log level.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	path := cctx.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logLevel.Set(cfg.Log.SlogLevel())

	slog.Info("config loaded",
		"path", path,
		"http_port", cfg.Server.HTTPPort,
		"store_backend", cfg.Store.Backend,
		"demo", cfg.Store.Demo(),
		"capacity", cfg.Feed.Capacity,
		"cache_ttl", cfg.Feed.CacheTTL,
	)
	return cfg, nil
}

func runServe(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	st, closeStore, err := openStore(ctx, cfg.Store, m)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	data, err := loadSeed(cfg.Seed)
	if err != nil {
		return err
	}

	c := cache.New(cfg.Feed.CacheTTL)
	m.TrackCacheAge(c.Age)

	// Alerts engine evaluates rules on every live refresh of the feed.
	alertEngine := alerts.New(cfg.Alerts)

	svc := feed.New(st, c, feed.Config{
		Capacity:    cfg.Feed.Capacity,
		PageSize:    cfg.Feed.DefaultPageSize,
		DetectLimit: cfg.Feed.DetectLimit,
		Demo:        cfg.Store.Demo(),
		Seed:        data,
		Recorder:    m,
		OnRefresh:   alertEngine.Evaluate,
	})

	go func() {
		err := config.Watch(ctx, cctx.String("config"), func(next *config.Config) {
			alertEngine.SetConfig(next.Alerts)
			logLevel.Set(next.Log.SlogLevel())
			slog.Info("config reloaded",
				"rules", len(next.Alerts.Rules),
				"webhooks", len(next.Alerts.Webhooks),
				"log_level", next.Log.Level,
			)
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	// WebSocket hub pushes the first feed page to UI clients every interval.
	hub := ws.New(svc, cfg.Server.WSInterval, cfg.Feed.DefaultPageSize)
	go hub.Run(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(svc, api.Options{
		Alerts:      alertEngine,
		MaxPageSize: cfg.Feed.MaxPageSize,
	}))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", m.Handler())
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	})

	// Optional: serve the pre-built UI from a local directory.
	// The "/" catch-all serves index.html for any unknown path (SPA routing).
	if uiDir := cctx.String("ui-dir"); uiDir != "" {
		fs := http.FileServer(http.Dir(uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := uiDir + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, uiDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", uiDir)
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      httpMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("threatwatch-server shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	return httpSrv.Shutdown(shutdownCtx)
}

func runSeed(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	if cfg.Store.Backend == config.BackendMemory {
		slog.Warn("seeding the memory backend only lasts for this process")
	}

	st, closeStore, err := openStore(cctx.Context, cfg.Store, nil)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	data, err := loadSeed(cfg.Seed)
	if err != nil {
		return err
	}

	svc := feed.New(st, nil, feed.Config{
		Capacity: cfg.Feed.Capacity,
		Demo:     cfg.Store.Demo(),
		Seed:     data,
	})
	n, err := svc.Preload(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d threats into the %s store\n", n, cfg.Store.Backend)
	return nil
}
