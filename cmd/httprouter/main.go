package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/LeventeLantos/sms-router/internal/config"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	slog.Info("sms router starting",
		"addr", cfg.Server.Address,
		"driver", cfg.Database.Driver,
		"sending", cfg.Router.SendEnabled(),
		"queue", cfg.Queue.Backend,
		"redis", cfg.Redis.Enabled(),
		"apps", cfg.Router.Apps,
	)

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		slog.Error("router stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("sms router stopped")
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
