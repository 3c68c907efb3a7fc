package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/tclemons/salestaxd/internal/catalog"
	"github.com/tclemons/salestaxd/internal/config"
	"github.com/tclemons/salestaxd/internal/devcache"
	"github.com/tclemons/salestaxd/internal/server"
)

type cliArgs struct {
	Config   string `arg:"-c,--config" help:"path to config file"`
	Port     int    `arg:"-p,--port" help:"override listen port"`
	DataDir  string `arg:"--data-dir" help:"override data directory"`
	SheetURL string `arg:"--sheet-url" help:"override remote price sheet URL"`
	NoSync   bool   `arg:"--no-sync" help:"skip the startup sheet sync"`
}

func (cliArgs) Description() string {
	return "salestaxd serves device sales tax calculations backed by a price sheet catalog"
}

// newLogger builds the process logger. Format "auto" picks console
// output on a terminal and JSON otherwise.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	format := cfg.Format
	if format == "" || format == "auto" {
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "console"
		} else {
			format = "json"
		}
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = format
	zapCfg.OutputPaths = []string{"stderr"}
	if format == "console" {
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zapCfg.Build()
}

func run() error {
	var args cliArgs
	arg.MustParse(&args)

	cfg, err := config.Load(args.Config)
	if err != nil {
		return err
	}
	if args.Port != 0 {
		cfg.Server.Port = args.Port
	}
	if args.DataDir != "" {
		cfg.Data.Dir = args.DataDir
	}
	if args.SheetURL != "" {
		cfg.Sheet.URL = args.SheetURL
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := catalog.NewStore(cfg.Data.Dir)
	if err != nil {
		return err
	}
	logger.Info("data directory ready", zap.String("dir", store.Dir()))
	cache, err := devcache.New(cfg.Cache.SearchCacheSize)
	if err != nil {
		return err
	}
	fetcher := catalog.NewHTTPFetcher(cfg.Sheet.URL, cfg.Sheet.ProbeTimeout.Std(), cfg.Sheet.DownloadTimeout.Std())
	manager := catalog.NewManager(store, fetcher, cache, logger, cfg.Sheet.RefreshAfter.Std())

	if err := manager.LoadFromDisk(); err != nil {
		return err
	}

	syncCtx, cancelSync := context.WithCancel(context.Background())
	defer cancelSync()
	if cfg.Sheet.URL != "" && !args.NoSync {
		go manager.StartupSync(syncCtx)
	} else {
		logger.Info("startup sheet sync disabled")
	}

	handlers := server.NewHandlers(manager, cache, logger, cfg.Sheet.MaxUploadBytes)
	srv := server.New(cfg, handlers, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	cancelSync()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
