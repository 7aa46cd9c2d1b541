package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/pkg/logger"
)

func main() {
	logger.InitBootstrap()
	defer logger.Sync()

	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.L().Fatal("config_load_failed", zap.Error(err))
	}

	if err := logger.Init(logger.InitOptions{
		Level:           cfg.Log.Level,
		Format:          cfg.Log.Format,
		ServiceName:     "policylens",
		Caller:          cfg.Log.Caller,
		StacktraceLevel: cfg.Log.StacktraceLevel,
		Output: logger.OutputOptions{
			ToStdout: cfg.Log.ToStdout,
			ToFile:   cfg.Log.ToFile,
			FilePath: cfg.Log.FilePath,
		},
		Rotation: logger.RotationOptions{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	}); err != nil {
		logger.L().Fatal("logger_init_failed", zap.Error(err))
	}

	app, cleanup, err := initApplication(cfg)
	if err != nil {
		logger.L().Fatal("application_init_failed", zap.Error(err))
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Cleanup.Start(); err != nil {
		logger.L().Fatal("cleanup_start_failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.EnableWorker {
		g.Go(func() error { return app.Worker.Run(gctx) })
	}
	if cfg.Server.EnableAPI {
		g.Go(func() error { return app.Server.Start() })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return app.Server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.L().Error("service_exited_with_error", zap.Error(err))
	}
	app.Cleanup.Stop()
	logger.L().Info("service_stopped")
}
