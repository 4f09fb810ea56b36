package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tuannm99/novapg/internal/config"
	"github.com/tuannm99/novapg/internal/engine"
	"github.com/tuannm99/novapg/internal/pgwire"
)

func main() {
	fs := pflag.NewFlagSet("novapg", pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	eng, err := engine.Open(engine.Options{
		DataDir:  cfg.Storage.DataDir,
		PoolSize: cfg.Storage.PoolSize,
		Logger:   log,
	})
	if err != nil {
		log.Error("engine startup failed", "error", err)
		os.Exit(1)
	}
	if err := eng.Bootstrap(cfg.Bootstrap.User, cfg.Bootstrap.Password, cfg.Bootstrap.Database); err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	srv := pgwire.NewServer(eng, log)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Addr())
	})
	g.Go(func() error {
		<-ctx.Done()
		return eng.Close()
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
