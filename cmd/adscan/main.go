// adscan drives browser-based content extraction runs. "run" executes
// one configured run and exits; "serve" exposes runs over the jobs API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/veridia/adscan/audit"
	"github.com/veridia/adscan/browser"
	"github.com/veridia/adscan/cardparse"
	"github.com/veridia/adscan/checkpoint"
	"github.com/veridia/adscan/config"
	"github.com/veridia/adscan/engine"
	"github.com/veridia/adscan/jobs"
	"github.com/veridia/adscan/results"
)

func main() {
	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", env("ADSCAN_CONFIG", "config.yaml"), "run configuration file")
	addr := fs.String("addr", ":"+env("PORT", "8080"), "listen address (serve)")
	fs.Parse(args)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "run":
		cfg, err := config.Load(*configPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
		applyEnv(cfg)
		log := newLogger(cfg.LogLevel)
		slog.SetDefault(log)
		if _, err := runOnce(ctx, cfg, log); err != nil {
			log.Error("run", "error", err)
			os.Exit(1)
		}
	case "serve":
		log := newLogger(env("LOG_LEVEL", "info"))
		slog.SetDefault(log)
		if err := serve(ctx, *addr, log); err != nil {
			log.Error("serve", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "usage: adscan [run|serve] [flags]\n")
		os.Exit(2)
	}
}

// runOnce executes one full run for cfg and logs the report.
func runOnce(ctx context.Context, cfg *config.Config, log *slog.Logger) (*engine.Report, error) {
	sink, err := results.New(cfg.OutputDir, *cfg.AppendResults, log)
	if err != nil {
		return nil, err
	}
	ckpt := checkpoint.Open(cfg.CheckpointFile, cfg.Mode, log)

	trail, err := audit.Open(cfg.AuditDB)
	if err != nil {
		return nil, err
	}
	defer trail.Close()

	bcfg := cfg.Browser
	bcfg.Logger = log
	mgr := browser.NewManager(bcfg)
	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	defer mgr.Close()

	eng := engine.New(cfg, engine.Options{
		Sessions: func(ctx context.Context) (engine.Session, error) {
			return mgr.NewSession(ctx)
		},
		Parser:     cardparse.New(),
		Sink:       sink,
		Checkpoint: ckpt,
		Trail:      trail,
		Log:        log,
	})

	report, err := eng.Run(ctx)
	if report != nil {
		log.Info("run finished",
			"run_id", report.RunID,
			"completed", report.Completed,
			"skipped", report.Skipped,
			"items", report.Items,
			"failures", len(report.Failures))
		for _, f := range report.Failures {
			log.Warn("task failed",
				"region", f.Key.Region, "query", f.Key.Query, "owner", f.Key.Owner,
				"phase", f.Phase, "error", f.Err)
		}
	}
	return report, err
}

// serve runs the jobs API until the context is cancelled.
func serve(ctx context.Context, addr string, log *slog.Logger) error {
	reg := jobs.NewRegistry(ctx, jobs.Options{
		Runner: func(ctx context.Context, cfg *config.Config) (*engine.Report, error) {
			return runOnce(ctx, cfg, newLogger(cfg.LogLevel))
		},
		Log: log,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           reg.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// applyEnv overrides deployment-level settings. Only settings with no
// derived defaults are overridable here.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("ADSCAN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ADSCAN_BROWSER_URL"); v != "" {
		cfg.Browser.RemoteURL = v
	}
	if v := os.Getenv("ADSCAN_PROXY_FILE"); v != "" {
		cfg.Browser.ProxyFile = v
	}
	if v := os.Getenv("ADSCAN_COOKIE_FILE"); v != "" {
		cfg.Browser.CookieFile = v
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
