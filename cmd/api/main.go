package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbsync/internal/app"
	"github.com/markdave123-py/kbsync/internal/config"
	"github.com/markdave123-py/kbsync/internal/core/tasks"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kbsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	zlog.Init(zlog.Options{Level: cfg.LogLevel, JSON: cfg.IsProduction(), File: cfg.LogFile})
	defer zlog.Sync()
	for _, w := range cfg.Warnings {
		zlog.Warn("config value ignored", zap.String("detail", w))
	}

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer application.Close()

	consumer, err := application.NewConsumer()
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return application.Runner.Serve(gctx) })
	g.Go(application.Server.Start)
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx, tasks.NewHandler(application.Runner))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return application.Server.Shutdown(shutdownCtx)
	})

	zlog.Info("kbsync is running", zap.String("port", cfg.Port), zap.Bool("kafka", consumer != nil))
	err = g.Wait()
	if ctx.Err() != nil {
		zlog.Info("shutting down")
		return nil
	}
	return err
}
