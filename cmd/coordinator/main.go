package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/crx_host/internal/api"
	"github.com/dgnsrekt/crx_host/internal/browser"
	"github.com/dgnsrekt/crx_host/internal/cdp"
	"github.com/dgnsrekt/crx_host/internal/config"
	"github.com/dgnsrekt/crx_host/internal/coordinator"
	"github.com/dgnsrekt/crx_host/internal/extregistry"
	"github.com/dgnsrekt/crx_host/internal/journal"
	"github.com/dgnsrekt/crx_host/internal/netutil"
	"github.com/dgnsrekt/crx_host/internal/relay"
	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/transport"
	"github.com/dgnsrekt/crx_host/internal/types"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load coordinator config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("coordinator config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"sessions", cfg.Sessions,
		"extensions_dir", cfg.ExtensionsDir,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var launcher *browser.Launcher
	if cfg.BrowserAutoLaunch && cfg.CDPAddress != "" {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
			Headless:   cfg.BrowserHeadless,
		})
		if err := launcher.Launch(rootCtx); err != nil {
			slog.Error("failed to launch browser", "cdp_port", cfg.CDPPort, "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	var platform store.Adapter
	var cdpAdapter *cdp.Adapter
	if cfg.CDPURL() != "" {
		cdpAdapter = cdp.NewAdapter(cfg.CDPURL(), time.Duration(cfg.EvalTimeoutMS)*time.Millisecond)
		if err := cdpAdapter.Connect(rootCtx); err != nil {
			slog.Error("failed to connect browser adapter", "cdp_url", cfg.CDPURL(), "error", err)
			os.Exit(1)
		}
		defer cdpAdapter.Close()
		platform = cdpAdapter.StoreAdapter()
	} else {
		slog.Warn("no CDP address configured, running without a browser backend")
	}

	broker := relay.NewBroker()
	if cfg.JournalDir != "" {
		j := journal.New(cfg.JournalDir, cfg.JournalMaxSizeMB)
		go j.Run(rootCtx, broker)
	}

	coord := coordinator.New(coordinator.Options{
		Adapter:        platform,
		Broker:         broker,
		NotifyEndpoint: cfg.NotifyEndpoint,
	})
	if cdpAdapter != nil {
		cdpAdapter.SetTabEventHook(coord.NotifyTabUpdated)
	}

	for _, sid := range cfg.Sessions {
		coord.Session(types.SessionID(sid))
	}

	if cfg.ExtensionsDir != "" && len(cfg.Sessions) > 0 {
		registry, ok := coord.SessionRegistry(types.SessionID(cfg.Sessions[0]))
		if ok {
			watcher, err := extregistry.NewWatcher(cfg.ExtensionsDir, registry)
			if err != nil {
				slog.Error("failed to watch extensions dir", "dir", cfg.ExtensionsDir, "error", err)
				os.Exit(1)
			}
			go watcher.Run(rootCtx)
		}
	}

	ts := transport.NewServer(coord.Delegate())

	mux := http.NewServeMux()
	mux.Handle("/transport", ts.Handler())
	mux.Handle("/", api.NewServer(coord, broker))

	srv := &http.Server{Addr: bindAddr, Handler: mux}

	go func() {
		slog.Info("coordinator listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("coordinator server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	rootCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("coordinator shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
