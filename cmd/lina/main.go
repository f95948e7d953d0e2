package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linasec/lina/internal/brain"
	"github.com/linasec/lina/internal/catalog"
	"github.com/linasec/lina/internal/composer"
	"github.com/linasec/lina/internal/config"
	"github.com/linasec/lina/internal/executor"
	"github.com/linasec/lina/internal/history"
	"github.com/linasec/lina/internal/llm"
	"github.com/linasec/lina/internal/logger"
	"github.com/linasec/lina/internal/pidfile"
	"github.com/linasec/lina/internal/risk"
	"github.com/linasec/lina/internal/session"
	"github.com/linasec/lina/internal/web"
)

var (
	configPath = flag.String("config", "", "Path to config file (defaults to the platform config dir)")
	listenAddr = flag.String("listen", "", "Listen address, overrides the config file")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error, none")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Global().Close()
	logger.Info("lina starting, listen=%s provider=%s", cfg.ListenAddr, cfg.Provider.Name)

	if cfg.PidFilePath != "" {
		pf := pidfile.New(cfg.PidFilePath)
		if err := pf.Write(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write pidfile: %v\n", err)
			os.Exit(1)
		}
		defer pf.Remove()
	}

	// model client is optional: without one, composition falls back to
	// templates and unresolved risk gets the fail-closed tier
	var client llm.Client
	if cfg.Provider.APIKey != "" {
		inner, err := llm.NewClient(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.Model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create model client: %v\n", err)
			os.Exit(1)
		}
		client = llm.NewBoundedClient(inner, time.Duration(cfg.InferTimeoutSeconds)*time.Second)
		logger.Info("model provider: %s (%s)", cfg.Provider.Name, client.GetModelName())
	} else {
		logger.Warn("no API key configured; model-dependent features are degraded")
	}

	cat, err := catalog.Load(cfg.ToolRegistryPath, cfg.RegistriesDir,
		time.Duration(cfg.ProbeTTLSeconds)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load tool registry: %v\n", err)
		os.Exit(1)
	}
	defer cat.Close()
	if err := cat.Watch(); err != nil {
		logger.Warn("registry hot reload disabled: %v", err)
	}

	rules, err := risk.LoadRules(cfg.Risk.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load risk rules: %v\n", err)
		os.Exit(1)
	}
	unresolved, _ := risk.ParseTier(cfg.Risk.UnresolvedTier)
	classifier := risk.NewClassifier(rules, client, unresolved)

	comp := composer.New(client, cat)

	orch := executor.New(executor.Options{
		DefaultTimeout:     time.Duration(cfg.Executor.DefaultTimeoutSeconds) * time.Second,
		KillGrace:          time.Duration(cfg.Executor.KillGraceSeconds) * time.Second,
		SessionConcurrency: int64(cfg.Executor.SessionConcurrency),
		Probe:              cat.Installed,
	})
	defer orch.Stop()

	store, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sessions := session.NewManager()
	b := brain.New(client, cat, comp, classifier, orch, sessions, store)

	server := web.NewServer(cfg.ListenAddr, b, sessions, cat, orch)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
			logger.Error("server failed: %v", err)
			os.Exit(1)
		}
	}

	if err := server.Stop(); err != nil {
		logger.Error("shutdown error: %v", err)
	}
	logger.Info("lina stopped")
}
