package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/artifact"
	"inferd/internal/backend"
	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/registry"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("INFERD_CONFIG"), "Optional config file (.yaml/.json/.toml)")
	addr := flag.String("addr", "", "HTTP listen address, e.g. :8080")
	rootDir := flag.String("root-dir", "", "Root directory for model artifacts")
	backendMode := flag.String("backend", "", "Backend mode: server|llama")
	serverBin := flag.String("server-bin", "", "Path to llama-server binary")
	allowedOrigins := flag.String("allowed-origins", "", "Comma-separated CORS origins (empty disables CORS)")
	warmStart := flag.Bool("warm-start", false, "Reacquire the last loaded model at startup")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error")
	flag.Parse()

	var cfg config.Config
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	// Env overlay, then explicit flags win.
	overlayEnv(&cfg)
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *rootDir != "" {
		cfg.RootDir = *rootDir
	}
	if *backendMode != "" {
		cfg.Backend = *backendMode
	}
	if *serverBin != "" {
		cfg.ServerBin = *serverBin
	}
	if *allowedOrigins != "" {
		cfg.AllowedOrigins = splitCSV(*allowedOrigins)
	}
	if *warmStart {
		cfg.WarmStart = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	applyDefaults(&cfg)

	root, err := fsutil.ExpandHome(cfg.RootDir)
	if err != nil {
		fatalf("resolve root dir: %v", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		fatalf("create root dir: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store := artifact.New(artifact.Config{
		RootDir:          root,
		HubBaseURL:       cfg.HubBaseURL,
		HubToken:         cfg.HubToken,
		MinArtifactBytes: cfg.MinArtifactBytes,
		Logger:           logger.With().Str("component", "artifact").Logger(),
	})
	backends, err := backend.NewSelector(cfg.Backend,
		backend.ServerConfig{
			Bin:       cfg.ServerBin,
			Host:      cfg.ServerHost,
			PortStart: cfg.ServerPortStart,
			PortEnd:   cfg.ServerPortEnd,
			CtxSize:   cfg.CtxSize,
			NGL:       cfg.NGL,
			Threads:   cfg.Threads,
			Logger:    logger.With().Str("component", "backend").Logger(),
		},
		backend.LlamaConfig{
			CtxSize: cfg.CtxSize,
			Threads: cfg.Threads,
			Logger:  logger.With().Str("component", "backend").Logger(),
		},
	)
	if err != nil {
		fatalf("backend: %v", err)
	}

	feed := manager.NewFanoutPublisher()
	mgr := manager.New(manager.Config{
		Catalog:       registry.Default(),
		Store:         store,
		Backends:      backends,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       time.Duration(cfg.MaxWaitMS) * time.Millisecond,
		DrainTimeout:  time.Duration(cfg.DrainMS) * time.Millisecond,
		StatePath:     filepath.Join(root, "last_model.json"),
		Publisher:     feed,
		Logger:        logger.With().Str("component", "manager").Logger(),
	})

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(logger.With().Str("component", "http").Logger())
	if len(cfg.AllowedOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.AllowedOrigins,
			[]string{"GET", "POST", "DELETE", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Log-Level"})
	}

	if cfg.WarmStart {
		go func() {
			if err := mgr.WarmStart(baseCtx); err != nil {
				logger.Warn().Err(err).Msg("warm start failed")
			}
		}()
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr, feed)}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("root", root).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting, cancel in-flight streams, then
	// release the session.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down")
	baseCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	_ = mgr.Unload(shutdownCtx)
}

func overlayEnv(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("INFERD_ADDR")
	}
	if cfg.RootDir == "" {
		cfg.RootDir = os.Getenv("INFERD_ROOT_DIR")
	}
	if cfg.HubToken == "" {
		cfg.HubToken = os.Getenv("INFERD_HUB_TOKEN")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = os.Getenv("INFERD_LOG_LEVEL")
	}
}

func applyDefaults(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "~/.inferd/models"
	}
	if cfg.Backend == "" {
		cfg.Backend = backend.ModeServer
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	l.Fatal().Msgf(format, args...)
}
